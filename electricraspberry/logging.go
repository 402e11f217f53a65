package electricraspberry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const loggerNameKey = "logger"

var defaultLogWriter io.Writer = os.Stdout

// newComponentLogger returns a tint-backed logger for a named component,
// honoring the given level (which may be a *slog.LevelVar, so levels can
// be adjusted at runtime).
func newComponentLogger(level slog.Leveler, name string) *slog.Logger {
	if lv, ok := level.(*slog.LevelVar); level == nil || (ok && lv == nil) {
		level = slog.LevelInfo
	}
	return slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     level,
				AddSource: true,
			},
		),
	).With(loggerNameKey, name)
}

// getDiscordgoLogLevel maps discordgo's log levels onto slog's.
func getDiscordgoLogLevel(msgL int) slog.Level {
	switch msgL {
	case discordgo.LogDebug:
		return slog.LevelDebug
	case discordgo.LogWarning:
		return slog.LevelWarn
	case discordgo.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// discordgoLoggerFunc adapts handler to discordgo.Logger.
func discordgoLoggerFunc(ctx context.Context, handler slog.Handler) func(int, int, string, ...any) {
	log := slog.New(handler).With(loggerNameKey, "discordgo")
	return func(msgL int, _ int, format string, args ...any) {
		msg := strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", "")
		log.LogAttrs(ctx, getDiscordgoLogLevel(msgL), msg)
	}
}

// gormStructuredLogger routes gorm's logging through slog. Failed
// statements log at Error, statements slower than SlowThreshold at Warn,
// everything else at Debug. Missing records aren't errors.
type gormStructuredLogger struct {
	logger        *slog.Logger
	SlowThreshold time.Duration
}

func newGORMLogger(handler slog.Handler, slowThreshold time.Duration) *gormStructuredLogger {
	return &gormStructuredLogger{
		logger:        slog.New(handler).With(loggerNameKey, "gorm"),
		SlowThreshold: slowThreshold,
	}
}

// LogMode is a no-op, the handler's level decides what's logged.
func (g gormStructuredLogger) LogMode(logger.LogLevel) logger.Interface {
	return g
}

func (g gormStructuredLogger) Info(ctx context.Context, format string, args ...any) {
	g.logger.InfoContext(ctx, fmt.Sprintf(format, args...))
}

func (g gormStructuredLogger) Warn(ctx context.Context, format string, args ...any) {
	g.logger.WarnContext(ctx, fmt.Sprintf(format, args...))
}

func (g gormStructuredLogger) Error(ctx context.Context, format string, args ...any) {
	g.logger.ErrorContext(ctx, fmt.Sprintf(format, args...))
}

func (g gormStructuredLogger) Trace(
	ctx context.Context,
	begin time.Time,
	fc func() (sql string, rowsAffected int64),
	err error,
) {
	elapsed := time.Since(begin)
	sql, rowsAffected := fc()
	attrs := []slog.Attr{
		slog.Duration("elapsed", elapsed),
		slog.String("sql", sql),
	}
	if rowsAffected >= 0 {
		attrs = append(attrs, slog.Int64("rows", rowsAffected))
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		g.logger.LogAttrs(ctx, slog.LevelError, "sql error", append(attrs, tint.Err(err))...)
	case g.SlowThreshold > 0 && elapsed > g.SlowThreshold:
		attrs = append(attrs, slog.Duration("threshold", g.SlowThreshold))
		g.logger.LogAttrs(ctx, slog.LevelWarn, "slow sql", attrs...)
	default:
		g.logger.LogAttrs(ctx, slog.LevelDebug, "sql completed", attrs...)
	}
}
