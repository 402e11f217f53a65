package electricraspberry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// scriptedRandom returns its values in order, then repeats the last one.
type scriptedRandom struct {
	mu     sync.Mutex
	values []float64
	calls  int
}

func newScriptedRandom(values ...float64) *scriptedRandom {
	return &scriptedRandom{values: values}
}

func (r *scriptedRandom) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if len(r.values) == 0 {
		return 0.5
	}
	v := r.values[0]
	if len(r.values) > 1 {
		r.values = r.values[1:]
	}
	return v
}

func (r *scriptedRandom) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeStamina struct {
	mu       sync.Mutex
	sleeping bool
	stamina  float64
	consumed float64
}

func newFakeStamina(stamina float64) *fakeStamina {
	return &fakeStamina{stamina: stamina}
}

func (s *fakeStamina) IsSleeping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sleeping
}

func (s *fakeStamina) SetSleeping(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeping = v
}

func (s *fakeStamina) GetCurrentStamina() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stamina
}

func (s *fakeStamina) ConsumeStamina(amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumed += amount
	s.stamina -= amount
}

// fakeKnowledge serves relationships from a map.
type fakeKnowledge struct {
	mu            sync.Mutex
	relationships map[string]float64
	err           error
	lookups       int
}

func newFakeKnowledge(strengths map[string]float64) *fakeKnowledge {
	if strengths == nil {
		strengths = map[string]float64{}
	}
	return &fakeKnowledge{relationships: strengths}
}

func (k *fakeKnowledge) GetUserRelationship(_ context.Context, userID string) (*UserRelationship, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.lookups++
	if k.err != nil {
		return nil, k.err
	}
	s, ok := k.relationships[userID]
	if !ok {
		return nil, nil
	}
	return &UserRelationship{UserID: userID, Strength: s}, nil
}

func (k *fakeKnowledge) Lookups() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lookups
}

func (k *fakeKnowledge) resetLookups() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.lookups = 0
}

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) ProcessMessage(
	ctx context.Context,
	e *MessageEvent,
	channelID string,
	isImportant bool,
) error {
	args := m.Called(ctx, e, channelID, isImportant)
	return args.Error(0)
}

// recordingProcessor records processed event IDs, optionally blocking
// on release until the test lets it continue.
type recordingProcessor struct {
	mu        sync.Mutex
	processed []string
	important map[string]bool
	release   chan struct{}
	started   chan string
	err       error
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{important: map[string]bool{}}
}

func (p *recordingProcessor) ProcessMessage(
	ctx context.Context,
	e *MessageEvent,
	_ string,
	isImportant bool,
) error {
	if p.started != nil {
		p.started <- e.ID
	}
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed = append(p.processed, e.ID)
	p.important[e.ID] = isImportant
	return p.err
}

func (p *recordingProcessor) Processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.processed...)
}

type mockCatchupQueue struct {
	mock.Mock
}

func (m *mockCatchupQueue) AddToCatchupQueue(ctx context.Context, e *MessageEvent) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

type mockKnowledgeGraph struct {
	mock.Mock
}

func (m *mockKnowledgeGraph) TopicsForParticipants(
	ctx context.Context,
	userIDs []string,
	limit int,
) ([]string, error) {
	args := m.Called(ctx, userIDs, limit)
	topics, _ := args.Get(0).([]string)
	return topics, args.Error(1)
}

func (m *mockKnowledgeGraph) MemoriesForChannel(
	ctx context.Context,
	channelID string,
	limit int,
) ([]ConversationMemory, error) {
	args := m.Called(ctx, channelID, limit)
	memories, _ := args.Get(0).([]ConversationMemory)
	return memories, args.Error(1)
}

type mockIdlePerformer struct {
	mock.Mock
}

func (m *mockIdlePerformer) PerformIdleBehavior(
	ctx context.Context,
	channelID string,
	behavior IdleBehaviorType,
	hints IdleBehaviorHints,
) error {
	args := m.Called(ctx, channelID, behavior, hints)
	return args.Error(0)
}

var testEventSeq struct {
	sync.Mutex
	n int
}

// newTestEvent returns an unprocessed guild message event.
func newTestEvent(channelID, authorID, content string, ts time.Time) *MessageEvent {
	testEventSeq.Lock()
	testEventSeq.n++
	id := fmt.Sprintf("m%d", testEventSeq.n)
	testEventSeq.Unlock()

	return &MessageEvent{
		ID:        id,
		AuthorID:  authorID,
		ChannelID: channelID,
		GuildID:   "g1",
		Content:   content,
		Timestamp: ts,
	}
}

// gormDB creates a migrated sqlite database in the test's temp dir.
func gormDB(t testing.TB) *gorm.DB {
	t.Helper()
	tmpdir := t.TempDir()
	dbfile := filepath.Join(tmpdir, "test.sqlite3")

	db, err := CreateDB(context.Background(), dbTypeSQLite, dbfile, slog.LevelWarn, 0)
	if err != nil {
		t.Fatalf("error creating db: %v", err)
	}
	t.Cleanup(
		func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		},
	)
	return db
}

// testConfig returns a valid headless config using a temp sqlite database.
func testConfig(t testing.TB) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Database = filepath.Join(t.TempDir(), "bot.sqlite3")
	cfg.Discord.Enabled = false
	cfg.API.Enabled = false
	cfg.Observer.InterEventDelay = 0
	cfg.SelfRegulation.RandomSeed = 1
	cfg.LogLevel.Set(slog.LevelWarn)
	return cfg
}

func TestShortenString(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		limit    int
		expected string
	}{
		{
			name:     "String shorter than limit",
			input:    "Short string",
			limit:    20,
			expected: "Short string",
		},
		{
			name:     "String with double newlines",
			input:    "Line 1\n\nLine 2",
			limit:    13,
			expected: "Line 1\nLine 2",
		},
		{
			name:     "String with bold markdown",
			input:    "Some **bold** text",
			limit:    14,
			expected: "Some bold text",
		},
		{
			name:     "Limit smaller than suffix",
			input:    "abcdefghijklmnopqrstuvwxyz",
			limit:    5,
			expected: "abcde",
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				result := shortenString(tc.input, tc.limit)
				assert.Equal(t, tc.expected, result)
				assert.LessOrEqual(t, len([]rune(result)), tc.limit)
			},
		)
	}

	long := shortenString(string(make([]byte, 3000)), discordMaxMessageLength)
	assert.LessOrEqual(t, len([]rune(long)), discordMaxMessageLength)
	assert.Contains(t, long, "output limit reached")
}

func TestGetDiscordgoLogLevel(t *testing.T) {
	testCases := []struct {
		name     string
		input    int
		expected slog.Level
	}{
		{"Debug level", discordgo.LogDebug, slog.LevelDebug},
		{"Error level", discordgo.LogError, slog.LevelError},
		{"Warning level", discordgo.LogWarning, slog.LevelWarn},
		{"Informational level", discordgo.LogInformational, slog.LevelInfo},
		{"Unknown level", 99, slog.LevelInfo},
	}
	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.Equal(t, tc.expected, getDiscordgoLogLevel(tc.input))
			},
		)
	}
}

func TestContextLogger(t *testing.T) {
	ctx := context.Background()
	_, ok := ContextLogger(ctx)
	assert.False(t, ok)

	fallback := slog.Default().With("fallback", true)
	assert.Same(t, fallback, contextLoggerOr(ctx, fallback))

	logger := slog.Default().With("test", t.Name())
	ctx = WithLogger(ctx, logger)
	got, ok := ContextLogger(ctx)
	require.True(t, ok)
	assert.Same(t, logger, got)
	assert.Same(t, logger, contextLoggerOr(ctx, fallback))
}

func TestStructToSlogValue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discord.Token = "secret"
	cfg.OpenAI.Token = "also-secret"

	v := structToSlogValue(cfg)
	require.Equal(t, slog.KindGroup, v.Kind())

	attrs := map[string]slog.Value{}
	for _, a := range v.Group() {
		attrs[a.Key] = a.Value
	}
	assert.Equal(t, "[redacted]", attrs["database"].String())

	discordAttrs := map[string]string{}
	for _, a := range attrs["discord"].Group() {
		discordAttrs[a.Key] = a.Value.String()
	}
	assert.Equal(t, "[redacted]", discordAttrs["token"])
	assert.NotContains(t, v.String(), "also-secret")
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-1, 0, 1))
	assert.Equal(t, 1.0, clamp(2, 0, 1))
	assert.Equal(t, 0.25, clamp(0.25, 0, 1))
}

func TestNewRandomSource(t *testing.T) {
	a := NewRandomSource(42)
	b := NewRandomSource(42)
	for i := 0; i < 5; i++ {
		x := a.Float64()
		assert.Equal(t, x, b.Float64())
		assert.GreaterOrEqual(t, x, 0.0)
		assert.Less(t, x, 1.0)
	}
}
