package electricraspberry

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const loggerContextKey contextKey = "logger"

type contextKey string

// RandomSource supplies uniformly distributed values in [0.0, 1.0). It is
// injected wherever a decision is intentionally randomized, so tests can
// script the outcome.
type RandomSource interface {
	Float64() float64
}

// lockedRand is a RandomSource safe for concurrent use.
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSource returns a concurrency-safe RandomSource. A seed of 0
// seeds from the current time.
func NewRandomSource(seed int64) RandomSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedRand{rng: rand.New(rand.NewSource(seed))}
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

// WithLogger attaches logger to ctx. A nil logger attaches slog.Default().
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		logger = slog.Default()
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// ContextLogger returns the logger attached by WithLogger, if any.
func ContextLogger(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey).(*slog.Logger)
	return logger, ok && logger != nil
}

// contextLoggerOr prefers the context's logger, then fallback, then
// slog.Default().
func contextLoggerOr(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ContextLogger(ctx); ok {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

// structToSlogValue renders a struct as a slog group keyed by each
// field's JSON name. Empty strings, nil pointers and empty collections
// are omitted. A `log` tag replaces the field's value, which is how
// secrets like tokens are kept out of the logs (`log:"[redacted]"`).
func structToSlogValue(v any) slog.Value {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return slog.AnyValue(nil)
		}
		val = val.Elem()
	}
	if !val.IsValid() {
		return slog.AnyValue(nil)
	}
	if val.Kind() != reflect.Struct {
		return slog.AnyValue(v)
	}

	typ := val.Type()
	attrs := make([]slog.Attr, 0, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		key, ok := slogFieldKey(field)
		if !ok {
			continue
		}
		fv := val.Field(i)
		if !fv.CanInterface() {
			continue
		}
		if override := field.Tag.Get("log"); override != "" {
			attrs = append(attrs, slog.String(key, override))
			continue
		}
		if isEmptyValue(fv) {
			continue
		}
		attrs = append(attrs, slog.Attr{Key: key, Value: structToSlogValue(fv.Interface())})
	}
	return slog.GroupValue(attrs...)
}

func slogFieldKey(field reflect.StructField) (string, bool) {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	switch name {
	case "-":
		return "", false
	case "":
		return field.Name, true
	default:
		return name, true
	}
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	case reflect.Map, reflect.Slice:
		return v.Len() == 0
	case reflect.String:
		return v.Len() == 0
	default:
		return false
	}
}

const shortenedSuffix = "\n\n**(output limit reached)**"

// markdown that can go before anything gets cut
var shortenSteps = []*strings.Replacer{
	strings.NewReplacer("\n\n", "\n"),
	strings.NewReplacer("**", ""),
}

// shortenString fits s within limit runes. It first drops blank lines and
// bold markers, then cuts the text and appends shortenedSuffix when
// there's room for it.
func shortenString(s string, limit int) string {
	for _, r := range shortenSteps {
		if utf8.RuneCountInString(s) <= limit {
			return s
		}
		s = r.Replace(s)
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	suffixLen := utf8.RuneCountInString(shortenedSuffix)
	if limit <= suffixLen {
		return strings.TrimSpace(truncate(s, limit))
	}
	return strings.TrimSpace(truncate(s, limit-suffixLen) + shortenedSuffix)
}

// truncate returns at most the first n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
