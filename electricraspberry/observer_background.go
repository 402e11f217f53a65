package electricraspberry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

// ObserverBackground drives the observer's periodic work: batch sweeps
// every processing interval, and maintenance every maintenance interval.
type ObserverBackground struct {
	observer            *Observer
	processingInterval  time.Duration
	maintenanceInterval time.Duration
	logger              *slog.Logger
}

func NewObserverBackground(observer *Observer, config *ObserverConfig, logger *slog.Logger) *ObserverBackground {
	if config == nil {
		config = DefaultConfig().Observer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ObserverBackground{
		observer:            observer,
		processingInterval:  config.ProcessingInterval,
		maintenanceInterval: config.MaintenanceInterval,
		logger:              logger.With(loggerNameKey, "observer_background"),
	}
}

// Run blocks until ctx is canceled, or until either loop exits. Errors
// from each iteration are logged and don't stop the loops. It returns
// nil on cancellation.
func (b *ObserverBackground) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(
		func() error {
			defer cancel()
			return b.loop(gctx, "batch", b.processingInterval, b.observer.ProcessPrioritizedEvents)
		},
	)
	g.Go(
		func() error {
			defer cancel()
			return b.loop(gctx, "maintenance", b.maintenanceInterval, b.observer.PerformMaintenance)
		},
	)

	b.logger.InfoContext(
		ctx,
		"observer background started",
		"processing_interval", b.processingInterval,
		"maintenance_interval", b.maintenanceInterval,
	)
	err := g.Wait()
	b.logger.InfoContext(ctx, "observer background stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loop runs fn, then sleeps for interval, until ctx is done.
func (b *ObserverBackground) loop(
	ctx context.Context,
	name string,
	interval time.Duration,
	fn func(context.Context) error,
) error {
	log := b.logger.With("loop", name)
	ctx = WithLogger(ctx, log)

	for {
		if err := b.runOnce(ctx, log, fn); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			log.DebugContext(ctx, "loop stopping")
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// runOnce runs one iteration, logging (rather than returning) anything
// other than cancellation. A panic in fn is recovered and logged.
func (b *ObserverBackground) runOnce(
	ctx context.Context,
	log *slog.Logger,
	fn func(context.Context) error,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "recovered from panic", "panic", r)
			err = nil
		}
	}()

	err = fn(ctx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		log.ErrorContext(ctx, "loop iteration failed", tint.Err(err))
		return nil
	}
}
