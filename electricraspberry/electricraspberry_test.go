package electricraspberry

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Observer.BatchSize = 0
	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNew_Headless(t *testing.T) {
	cfg := testConfig(t)
	bot, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { bot.shutdown(context.Background()) })

	assert.NotNil(t, cfg.HTTPClient)
	assert.Nil(t, bot.api)
	assert.Nil(t, bot.discord.session)
	assert.Nil(t, bot.idle.performer, "headless bots don't perform idle behaviors")
	assert.Same(t, bot.observer, bot.Observer())
	assert.Same(t, bot.observer, bot.discord.observer)
	assert.Same(t, bot.processor, bot.discord.idleMessages)
	assert.Equal(t, "", bot.Observer().BotID())
}

func TestElectricRaspberry_Pipeline(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.GlobalMinInterval = 0
	bot, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { bot.shutdown(context.Background()) })

	processor := newRecordingProcessor()
	bot.observer.processor = processor
	ctx := context.Background()

	_, err = bot.knowledge.RecordInteraction(ctx, "friend", 0.9)
	require.NoError(t, err)

	now := time.Now()
	stranger := newTestEvent("c1", "stranger", "hello", now)
	friend := newTestEvent("c1", "friend", "hey!", now.Add(time.Second))
	require.NoError(t, bot.Observer().ProcessMessageEvent(ctx, stranger, "c1"))
	require.NoError(t, bot.Observer().ProcessMessageEvent(ctx, friend, "c1"))

	assert.Equal(t, []string{stranger.ID, friend.ID}, processor.Processed())
	assert.False(t, processor.important[stranger.ID])
	assert.True(t, processor.important[friend.ID], "strong relationships are high priority")

	activity, ok := bot.regulator.ChannelActivity("c1")
	require.True(t, ok)
	assert.Equal(t, 2, activity.WindowMessageCount)

	// asleep: ordinary messages wait in the catch-up queue
	bot.stamina.Sleep()
	later := newTestEvent("c1", "stranger", "still there?", now.Add(2*time.Second))
	require.NoError(t, bot.Observer().ProcessMessageEvent(ctx, later, "c1"))
	n, err := bot.catchup.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	bot.stamina.Wake()
	require.NoError(t, bot.observer.PerformMaintenance(ctx))
	require.NoError(t, bot.observer.ProcessPrioritizedEvents(ctx))
	assert.Equal(t, []string{stranger.ID, friend.ID, later.ID}, processor.Processed())
}

func TestElectricRaspberry_Run(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.Enabled = true
	cfg.API.Listen = "127.0.0.1:0"
	bot, err := New(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- bot.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run didn't return after cancellation")
	}

	sqlDB, err := bot.db.DB()
	require.NoError(t, err)
	assert.Error(t, sqlDB.Ping(), "database should be closed")
}

func TestElectricRaspberry_RunAlreadyRunning(t *testing.T) {
	cfg := testConfig(t)
	bot, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { bot.shutdown(context.Background()) })

	bot.runMu.Lock()
	defer bot.runMu.Unlock()
	assert.ErrorIs(t, bot.Run(context.Background()), ErrAlreadyRunning)
}

func TestElectricRaspberry_ShutdownPurgesCatchup(t *testing.T) {
	cfg := testConfig(t)
	bot, err := New(context.Background(), cfg)
	require.NoError(t, err)

	old := time.Now().Add(-2 * catchupRetention)
	items := []CatchupItem{
		{ID: "old-processed", Processed: true, ModelUnixTime: ModelUnixTime{CreatedAt: old.UnixMilli()}},
		{ID: "old-pending", ModelUnixTime: ModelUnixTime{CreatedAt: old.UnixMilli()}},
		{ID: "new-processed", Processed: true},
	}
	require.NoError(t, bot.db.Create(&items).Error)

	bot.shutdown(context.Background())

	db, err := CreateDB(context.Background(), cfg.DatabaseType, cfg.Database, slog.LevelWarn, 0)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		},
	)

	var ids []string
	require.NoError(t, db.Model(&CatchupItem{}).Order("id").Pluck("id", &ids).Error)
	assert.Equal(t, []string{"new-processed", "old-pending"}, ids)
}
