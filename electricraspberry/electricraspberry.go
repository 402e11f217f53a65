package electricraspberry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	ErrAlreadyRunning = errors.New("already running")

	// set at build time via -ldflags
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// processed catch-up items are kept this long before being purged on
// shutdown
const catchupRetention = 24 * time.Hour

// ElectricRaspberry wires the observer pipeline to its collaborators,
// Discord, OpenAI, the database and the status API.
//
// Fields:
//   - config: Configuration the bot was created with
//   - logger: Base logger
//   - db: Database for relationships, memories and the catch-up queue
//   - buffers: Per-channel event buffers
//   - rateLimiter: Operation rate limits
//   - concurrency: Named channel locks
//   - prioritizer: Assigns event priorities
//   - regulator: Engagement policy
//   - stamina: Simulated energy
//   - emotion: Simulated emotions
//   - knowledge: Relationships and memories
//   - catchup: Events received while asleep
//   - processor: Generates replies
//   - observer: Inbound event entry point
//   - idle: Idle behavior runner
//   - background: Batch and maintenance loops
//   - discord: Discord gateway connection
//   - api: Status API
type ElectricRaspberry struct {
	config *Config
	logger *slog.Logger
	db     *gorm.DB

	buffers     *ChannelBufferManager
	rateLimiter *RateLimiter
	concurrency *ConcurrencyManager
	prioritizer *EventPrioritizer
	regulator   *SelfRegulator
	stamina     *StaminaTracker
	emotion     *EmotionTracker
	knowledge   *KnowledgeStore
	catchup     *CatchupStore
	processor   *OpenAIProcessor
	observer    *Observer
	idle        *IdleRunner
	background  *ObserverBackground
	discord     *Discord
	api         *API

	runMu sync.Mutex
}

// New validates the config, opens the database and wires every
// component. The returned bot isn't connected to Discord until Run.
func New(ctx context.Context, config *Config) (*ElectricRaspberry, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	b := &ElectricRaspberry{config: config}
	b.logger = newComponentLogger(config.LogLevel, "electricraspberry")
	slog.SetDefault(b.logger)

	startCtx, cancel := context.WithTimeout(ctx, config.StartupTimeout)
	defer cancel()
	db, err := CreateDB(
		startCtx,
		config.DatabaseType,
		config.Database,
		config.DatabaseLogLevel,
		config.DatabaseSlowThreshold,
	)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	b.db = db

	observerLogger := newComponentLogger(config.Observer.LogLevel, "observer")
	rnd := NewRandomSource(config.SelfRegulation.RandomSeed)

	b.knowledge = NewKnowledgeStore(db, b.logger)
	b.catchup = NewCatchupStore(db, b.logger)
	b.stamina = NewStaminaTracker(config.Stamina, b.logger)
	b.emotion = NewEmotionTracker()
	personality := StaticPersonality{Traits: config.Personality}

	b.buffers = NewChannelBufferManager(config.Observer.BufferCapacity)
	b.rateLimiter = NewRateLimiter(config.RateLimit, observerLogger)
	b.concurrency = NewConcurrencyManager(config.Concurrency, observerLogger)
	b.prioritizer = NewEventPrioritizer(config.Prioritization, b.buffers, b.knowledge, observerLogger)
	b.regulator = NewSelfRegulator(
		config.SelfRegulation,
		SelfRegulationServices{
			Stamina:     b.stamina,
			Emotion:     b.emotion,
			Knowledge:   b.knowledge,
			Personality: personality,
			Graph:       b.knowledge,
			Random:      rnd,
		},
		observerLogger,
	)

	config.Discord.httpClient = config.HTTPClient
	b.discord, err = newDiscord(config.Discord, rnd)
	if err != nil {
		return nil, err
	}
	b.discord.regulator = b.regulator

	b.processor = newOpenAIProcessor(
		newOpenAIClient(config.OpenAI, config.HTTPClient),
		config.OpenAI,
		config.Stamina.MessageCost,
	)
	b.processor.regulator = b.regulator
	b.processor.buffers = b.buffers
	b.processor.stamina = b.stamina
	b.processor.personality = personality
	b.processor.recorder = b.knowledge
	b.processor.emotion = b.emotion
	b.processor.responder = b.discord
	b.processor.botID = b.discord.BotID
	b.discord.idleMessages = b.processor

	// headless bots have nothing to perform idle behaviors with
	var performer IdleBehaviorPerformer
	if config.Discord.Enabled {
		performer = b.discord
	}
	b.idle = NewIdleRunner(
		b.regulator,
		b.buffers,
		b.concurrency,
		b.rateLimiter,
		b.stamina,
		b.knowledge,
		performer,
		observerLogger,
	)
	b.observer = NewObserver(
		config.Observer,
		ObserverServices{
			Buffers:       b.buffers,
			Prioritizer:   b.prioritizer,
			RateLimiter:   b.rateLimiter,
			Concurrency:   b.concurrency,
			Regulator:     b.regulator,
			Stamina:       b.stamina,
			Processor:     b.processor,
			Catchup:       b.catchup,
			CatchupSource: b.catchup,
			Idle:          b.idle,
		},
		observerLogger,
	)
	b.observer.SetBotID(config.Discord.ApplicationID)
	b.discord.observer = b.observer
	b.background = NewObserverBackground(b.observer, config.Observer, observerLogger)

	if config.API.Enabled {
		b.api = newAPI(b, config.API)
	}
	return b, nil
}

// Observer returns the bot's observer, for submitting events directly.
func (b *ElectricRaspberry) Observer() *Observer {
	return b.observer
}

// Run connects to Discord, then runs the background loops and the API
// until ctx is canceled or one of them fails. The database is closed
// when Run returns.
func (b *ElectricRaspberry) Run(ctx context.Context) error {
	if !b.runMu.TryLock() {
		return ErrAlreadyRunning
	}
	defer b.runMu.Unlock()

	logger := b.logger
	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))

	defer b.shutdown(ctx)

	if b.config.Discord.Enabled {
		if err := b.connectDiscord(ctx); err != nil {
			return err
		}
	} else {
		logger.WarnContext(ctx, "discord disabled, running headless")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.background.Run(gctx) })

	if b.api != nil {
		g.Go(func() error { return b.api.Serve(gctx) })
		g.Go(
			func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), b.config.ShutdownTimeout)
				defer cancel()
				return b.api.Shutdown(shutdownCtx)
			},
		)
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorContext(ctx, "stopped with error", tint.Err(err))
		return err
	}
	logger.InfoContext(ctx, "stopped")
	return nil
}

// connectDiscord opens the gateway connection, bounded by the startup
// timeout.
func (b *ElectricRaspberry) connectDiscord(ctx context.Context) error {
	startCtx, cancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer cancel()

	connectErr := make(chan error, 1)
	go func() {
		connectErr <- b.discord.Connect(ctx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("discord connection cancelled or timed out: %w", startCtx.Err())
	case err := <-connectErr:
		return err
	}
}

func (b *ElectricRaspberry) shutdown(ctx context.Context) {
	start := time.Now()
	if b.discord != nil {
		if err := b.discord.Close(); err != nil {
			b.logger.ErrorContext(ctx, "error closing discord connection", tint.Err(err))
		}
	}

	// ctx is usually already canceled here
	purgeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.config.ShutdownTimeout)
	defer cancel()
	purged, err := b.catchup.Purge(purgeCtx, time.Now().Add(-catchupRetention))
	if err != nil {
		b.logger.WarnContext(ctx, "error purging catch-up queue", tint.Err(err))
	} else if purged > 0 {
		b.logger.InfoContext(ctx, "purged catch-up items", "count", purged)
	}

	if b.db != nil {
		if sqlDB, err := b.db.DB(); err == nil {
			if err = sqlDB.Close(); err != nil {
				b.logger.ErrorContext(ctx, "error closing database", tint.Err(err))
			}
		}
	}
	b.logger.InfoContext(ctx, "shutdown complete", "elapsed", time.Since(start))
}
