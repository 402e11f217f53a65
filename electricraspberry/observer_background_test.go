package electricraspberry

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverBackground_Run(t *testing.T) {
	f := newObserverFixture(t, generousLimit())
	f.config.Observer.ProcessingInterval = 10 * time.Millisecond
	f.config.Observer.MaintenanceInterval = time.Hour

	bg := NewObserverBackground(f.observer, f.config.Observer, nil)
	assert.Equal(t, 10*time.Millisecond, bg.processingInterval)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan error, 1)
	go func() {
		done <- bg.Run(ctx)
	}()

	e := newTestEvent("c1", "stranger", "hello", f.clock.Now())
	f.buffers.AddEvent("c1", e)
	assert.Eventually(t, e.IsProcessed, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("background didn't stop after cancellation")
	}
}

func TestObserverBackground_RunOnce(t *testing.T) {
	bg := NewObserverBackground(nil, nil, nil)
	log := slog.Default()
	ctx := context.Background()

	err := bg.runOnce(ctx, log, func(context.Context) error { return errors.New("transient") })
	assert.NoError(t, err, "iteration errors are logged, not returned")

	err = bg.runOnce(ctx, log, func(context.Context) error { panic("boom") })
	assert.NoError(t, err, "panics are recovered")

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err = bg.runOnce(canceled, log, func(ctx context.Context) error { return ctx.Err() })
	require.ErrorIs(t, err, context.Canceled)
}
