//nolint:lll // struct tags can't be split
package electricraspberry

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
	openai "github.com/sashabaranov/go-openai"
)

const (
	EnvvarSetEnvPrefix    = "ELECTRICRASPBERRY_ENV_PREFIX"
	DefaultEnvPrefix      = "ER"
	DefaultDatabaseType   = "sqlite"
	DefaultDatabase       = "electricraspberry.sqlite3"
	DefaultLogLevel       = slog.LevelInfo
	DefaultStartupTimeout = 30 * time.Second

	DefaultShutdownTimeout       = 30 * time.Second
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelWarn

	DefaultObserverBatchSize             = 25
	DefaultObserverInterEventDelay       = 250 * time.Millisecond
	DefaultObserverInactiveBufferTimeout = 60 * time.Minute
	DefaultObserverBufferCapacity        = 100
	DefaultObserverProcessingInterval    = time.Second
	DefaultObserverMaintenanceInterval   = 60 * time.Second
	DefaultObserverCatchupBatchSize      = 50
	DefaultObserverLogLevel              = slog.LevelInfo

	DefaultLockTimeout          = 5 * time.Second
	DefaultStaleResourceTimeout = 5 * time.Minute

	DefaultRateLimitGlobalMinInterval    = 250 * time.Millisecond
	DefaultRateLimitChannelWindow        = 60 * time.Second
	DefaultRateLimitChannelMaxOperations = 5

	DefaultHighPriorityRelationshipThreshold = 0.7

	DefaultBaseEngagementProbability = 0.5
	DefaultMinResponseDelay          = time.Second
	DefaultMaxResponseDelay          = 5 * time.Second
	DefaultMinInitiationDelay        = 15 * time.Minute
	DefaultMaxInitiationDelay        = 60 * time.Minute
	DefaultIdleBehaviorInterval      = 30 * time.Minute
	DefaultIdleBehaviorProbability   = 0.3
	DefaultEngagementTimeout         = 30 * time.Minute
	DefaultActivityRetention         = 24 * time.Hour
	DefaultActivityThresholdLow      = 0.5
	DefaultActivityThresholdModerate = 2.0
	DefaultActivityThresholdHigh     = 5.0

	DefaultStageAcquaintance = 0.2
	DefaultStageCasual       = 0.4
	DefaultStageFriend       = 0.6
	DefaultStageCloseFriend  = 0.8

	DefaultStaminaMax                 = 100.0
	DefaultStaminaRegenPerMinute      = 0.5
	DefaultStaminaSleepRegenPerMinute = 2.0
	DefaultStaminaSleepThreshold      = 10.0
	DefaultStaminaWakeThreshold       = 60.0
	DefaultStaminaMessageCost         = 1.0

	DefaultDiscordLogLevel      = slog.LevelWarn
	DefaultDiscordgoLogLevel    = slog.LevelWarn
	DefaultDiscordGatewayIntent = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMessageReactions
	DefaultDiscordCustomStatus = "watching the channels"
	discordMaxMessageLength    = 2000

	DefaultOpenAIModel                = openai.GPT4oMini
	DefaultOpenAIMaxRequestsPerSecond = 1.0
	DefaultOpenAIMaxTokens            = 400
	DefaultOpenAIRequestTimeout       = 60 * time.Second
	DefaultOpenAILogLevel             = slog.LevelInfo
	DefaultOpenAISystemPrompt         = "You are ElectricRaspberry, a friendly regular in this Discord server. Keep replies short and conversational."

	DefaultAPIListen               = "127.0.0.1:5080"
	DefaultAPILogLevel             = slog.LevelInfo
	DefaultReadTimeout             = 5 * time.Second
	DefaultReadHeaderTimeout       = 5 * time.Second
	DefaultWriteTimeout            = 10 * time.Second
	DefaultIdleTimeout             = 30 * time.Second
	defaultListenNetwork           = "tcp"
	DefaultAPICORSAllowCredentials = false
	DefaultCORSMaxAge              = 12 * time.Hour
)

var (
	ErrInvalidConfig = errors.New("invalid config")

	structValidator = validator.New()

	DefaultDiscordIdleEmojis = []string{"👀", "🙂", "✨", "🍓"}

	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
)

//nolint:gochecknoinits // validator tag name
func init() {
	structValidator.SetTagName("binding")
}

type Config struct {
	// Database connection string, or sqlite file path
	Database string `yaml:"database" mapstructure:"database" json:"database" log:"[redacted]"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout limits the time allowed to open the database and
	// connect to the Discord gateway.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout" binding:"min=1s"`

	// ShutdownTimeout is the time to allow for a graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout" binding:"min=1s"`

	Observer       *ObserverConfig       `yaml:"observer" mapstructure:"observer" json:"observer" binding:"required"`
	Concurrency    *ConcurrencyConfig    `yaml:"concurrency" mapstructure:"concurrency" json:"concurrency" binding:"required"`
	RateLimit      *RateLimitConfig      `yaml:"rate_limit" mapstructure:"rate_limit" json:"rate_limit" binding:"required"`
	Prioritization *PrioritizationConfig `yaml:"prioritization" mapstructure:"prioritization" json:"prioritization" binding:"required"`
	SelfRegulation *SelfRegulationConfig `yaml:"self_regulation" mapstructure:"self_regulation" json:"self_regulation" binding:"required"`
	Stamina        *StaminaConfig        `yaml:"stamina" mapstructure:"stamina" json:"stamina" binding:"required"`
	Personality    PersonalityTraits     `yaml:"personality" mapstructure:"personality" json:"personality"`
	Discord        *DiscordConfig        `yaml:"discord" mapstructure:"discord" json:"discord" binding:"required"`
	OpenAI         *OpenAIConfig         `yaml:"openai" mapstructure:"openai" json:"openai" binding:"required"`
	API            *APIConfig            `yaml:"api" mapstructure:"api" json:"api" binding:"required"`

	HTTPClient *http.Client `yaml:"-" mapstructure:"-" json:"-"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// Validate checks struct tags, then the cross-field constraints that
// tags can't express.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	var errs []error
	if err := c.SelfRegulation.validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Stamina.validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.RateLimit.validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Discord.Enabled && c.OpenAI.Token == "" {
		errs = append(errs, errors.New("openai.token is required when discord is enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ObserverConfig configures the observer pipeline and its background loops.
type ObserverConfig struct {
	// Maximum number of events handled per prioritized batch sweep
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" json:"batch_size" binding:"min=1"`

	// Delay between events within a batch sweep. 0 disables the delay.
	InterEventDelay time.Duration `yaml:"inter_event_delay" mapstructure:"inter_event_delay" json:"inter_event_delay" binding:"min=0"`

	// Channel buffers with no events for this long are evicted during maintenance
	InactiveBufferTimeout time.Duration `yaml:"inactive_buffer_timeout" mapstructure:"inactive_buffer_timeout" json:"inactive_buffer_timeout" binding:"min=1s"`

	// Maximum number of events held per channel buffer
	BufferCapacity int `yaml:"buffer_capacity" mapstructure:"buffer_capacity" json:"buffer_capacity" binding:"min=1"`

	// Sleep between batch sweeps
	ProcessingInterval time.Duration `yaml:"processing_interval" mapstructure:"processing_interval" json:"processing_interval" binding:"min=10ms"`

	// Sleep between maintenance passes
	MaintenanceInterval time.Duration `yaml:"maintenance_interval" mapstructure:"maintenance_interval" json:"maintenance_interval" binding:"min=1s"`

	// Maximum number of catch-up items re-buffered per maintenance pass
	CatchupBatchSize int `yaml:"catchup_batch_size" mapstructure:"catchup_batch_size" json:"catchup_batch_size" binding:"min=1"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// ConcurrencyConfig configures named resource locks.
type ConcurrencyConfig struct {
	// Maximum time to wait for a named lock
	LockTimeout time.Duration `yaml:"lock_timeout" mapstructure:"lock_timeout" json:"lock_timeout" binding:"min=1ms"`

	// Unheld locks not accessed for this long are reclaimed
	StaleResourceTimeout time.Duration `yaml:"stale_resource_timeout" mapstructure:"stale_resource_timeout" json:"stale_resource_timeout" binding:"min=1s"`
}

// OperationLimit is the budget for one operation type.
type OperationLimit struct {
	// Minimum time between two invocations of the operation across all
	// channels. 0 disables the global check.
	GlobalMinInterval time.Duration `yaml:"global_min_interval" mapstructure:"global_min_interval" json:"global_min_interval" binding:"min=0"`

	// Width of the per-channel window
	ChannelWindow time.Duration `yaml:"channel_window" mapstructure:"channel_window" json:"channel_window" binding:"min=1ms"`

	// Operations allowed per channel per window
	ChannelMaxOperations int `yaml:"channel_max_operations" mapstructure:"channel_max_operations" json:"channel_max_operations" binding:"min=1"`
}

// RateLimitConfig sets the default OperationLimit, with optional
// per-operation overrides keyed by operation name (ex: "ProcessMessage").
type RateLimitConfig struct {
	OperationLimit `yaml:",inline" mapstructure:",squash" json:",inline"`

	Operations map[string]OperationLimit `yaml:"operations" mapstructure:"operations" json:"operations"`
}

func (r *RateLimitConfig) validate() error {
	var errs []error
	for op, limit := range r.Operations {
		if err := structValidator.Struct(limit); err != nil {
			errs = append(errs, fmt.Errorf("rate_limit.operations.%s: %w", op, err))
		}
	}
	return errors.Join(errs...)
}

// LimitFor returns the limit configured for the given operation.
func (r *RateLimitConfig) LimitFor(operation string) OperationLimit {
	if limit, ok := r.Operations[operation]; ok {
		return limit
	}
	return r.OperationLimit
}

type PrioritizationConfig struct {
	// Authors with a relationship strength at or above this are High priority
	HighPriorityRelationshipThreshold float64 `yaml:"high_priority_relationship_threshold" mapstructure:"high_priority_relationship_threshold" json:"high_priority_relationship_threshold" binding:"min=0,max=1"`
}

// ActivityThresholds are messages-per-minute boundaries for ActivityLevel.
// VeryHigh starts at 1.5x High.
type ActivityThresholds struct {
	Low      float64 `yaml:"low" mapstructure:"low" json:"low" binding:"min=0"`
	Moderate float64 `yaml:"moderate" mapstructure:"moderate" json:"moderate" binding:"min=0"`
	High     float64 `yaml:"high" mapstructure:"high" json:"high" binding:"min=0"`
}

// VeryHigh returns the derived VeryHigh threshold.
func (a ActivityThresholds) VeryHigh() float64 {
	return a.High * 1.5
}

// RelationshipStageThresholds are the minimum relationship strengths
// for each stage above Stranger.
type RelationshipStageThresholds struct {
	Acquaintance float64 `yaml:"acquaintance" mapstructure:"acquaintance" json:"acquaintance" binding:"min=0,max=1"`
	Casual       float64 `yaml:"casual" mapstructure:"casual" json:"casual" binding:"min=0,max=1"`
	Friend       float64 `yaml:"friend" mapstructure:"friend" json:"friend" binding:"min=0,max=1"`
	CloseFriend  float64 `yaml:"close_friend" mapstructure:"close_friend" json:"close_friend" binding:"min=0,max=1"`
}

// SelfRegulationConfig configures the engagement policy.
type SelfRegulationConfig struct {
	BaseEngagementProbability float64 `yaml:"base_engagement_probability" mapstructure:"base_engagement_probability" json:"base_engagement_probability" binding:"min=0,max=1"`

	MinResponseDelay time.Duration `yaml:"min_response_delay" mapstructure:"min_response_delay" json:"min_response_delay" binding:"min=0"`
	MaxResponseDelay time.Duration `yaml:"max_response_delay" mapstructure:"max_response_delay" json:"max_response_delay" binding:"min=0"`

	MinInitiationDelay time.Duration `yaml:"min_initiation_delay" mapstructure:"min_initiation_delay" json:"min_initiation_delay" binding:"min=0"`
	MaxInitiationDelay time.Duration `yaml:"max_initiation_delay" mapstructure:"max_initiation_delay" json:"max_initiation_delay" binding:"min=0"`

	// Minimum time between idle behaviors in a channel
	IdleBehaviorInterval time.Duration `yaml:"idle_behavior_interval" mapstructure:"idle_behavior_interval" json:"idle_behavior_interval" binding:"min=0"`

	// Chance an eligible channel gets an idle behavior on a given check
	IdleBehaviorProbability float64 `yaml:"idle_behavior_probability" mapstructure:"idle_behavior_probability" json:"idle_behavior_probability" binding:"min=0,max=1"`

	// Engagement in a channel lapses this long after it started
	EngagementTimeout time.Duration `yaml:"engagement_timeout" mapstructure:"engagement_timeout" json:"engagement_timeout" binding:"min=1s"`

	// Channel activity entries idle for this long (and not engaged) are evicted
	ActivityRetention time.Duration `yaml:"activity_retention" mapstructure:"activity_retention" json:"activity_retention" binding:"min=1m"`

	ActivityThresholds ActivityThresholds          `yaml:"activity_thresholds" mapstructure:"activity_thresholds" json:"activity_thresholds"`
	RelationshipStages RelationshipStageThresholds `yaml:"relationship_stages" mapstructure:"relationship_stages" json:"relationship_stages"`

	// Seed for engagement rolls. 0 seeds from the clock.
	RandomSeed int64 `yaml:"random_seed" mapstructure:"random_seed" json:"random_seed"`
}

func (s *SelfRegulationConfig) validate() error {
	var errs []error
	if s.MinResponseDelay > s.MaxResponseDelay {
		errs = append(errs, errors.New("self_regulation.min_response_delay must be <= max_response_delay"))
	}
	if s.MinInitiationDelay > s.MaxInitiationDelay {
		errs = append(errs, errors.New("self_regulation.min_initiation_delay must be <= max_initiation_delay"))
	}
	t := s.ActivityThresholds
	if !(t.Low <= t.Moderate && t.Moderate <= t.High) {
		errs = append(errs, errors.New("self_regulation.activity_thresholds must be ascending (low <= moderate <= high)"))
	}
	r := s.RelationshipStages
	if !(r.Acquaintance <= r.Casual && r.Casual <= r.Friend && r.Friend <= r.CloseFriend) {
		errs = append(errs, errors.New("self_regulation.relationship_stages must be ascending"))
	}
	return errors.Join(errs...)
}

// StaminaConfig configures the simulated energy model.
type StaminaConfig struct {
	Max                 float64 `yaml:"max" mapstructure:"max" json:"max" binding:"gt=0"`
	RegenPerMinute      float64 `yaml:"regen_per_minute" mapstructure:"regen_per_minute" json:"regen_per_minute" binding:"min=0"`
	SleepRegenPerMinute float64 `yaml:"sleep_regen_per_minute" mapstructure:"sleep_regen_per_minute" json:"sleep_regen_per_minute" binding:"min=0"`
	SleepThreshold      float64 `yaml:"sleep_threshold" mapstructure:"sleep_threshold" json:"sleep_threshold" binding:"min=0"`
	WakeThreshold       float64 `yaml:"wake_threshold" mapstructure:"wake_threshold" json:"wake_threshold" binding:"min=0"`
	MessageCost         float64 `yaml:"message_cost" mapstructure:"message_cost" json:"message_cost" binding:"min=0"`
}

func (s *StaminaConfig) validate() error {
	if s.SleepThreshold >= s.WakeThreshold {
		return errors.New("stamina.sleep_threshold must be < wake_threshold")
	}
	if s.WakeThreshold > s.Max {
		return errors.New("stamina.wake_threshold must be <= max")
	}
	return nil
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Connect to the Discord gateway. When false, the bot runs headless
	// (useful for exercising the API and background loops).
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required_if=Enabled true"`

	// Discord application ID, which is also the bot's user ID
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required_if=Enabled true"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// Custom status set on connect, and restored after idle status changes
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// Emojis drawn from for idle reactions
	IdleEmojis []string `yaml:"idle_emojis" mapstructure:"idle_emojis" json:"idle_emojis"`

	httpClient *http.Client
}

// OpenAIConfig configures chat completion requests.
type OpenAIConfig struct {
	// OpenAI API token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`

	// Optional base URL, for OpenAI-compatible endpoints
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url"`

	Model                string        `yaml:"model" mapstructure:"model" json:"model" binding:"required"`
	MaxTokens            int           `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens" binding:"min=1"`
	MaxRequestsPerSecond float64       `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" binding:"gt=0"`
	RequestTimeout       time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout" binding:"min=1s"`
	SystemPrompt         string        `yaml:"system_prompt" mapstructure:"system_prompt" json:"system_prompt"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// APIConfig configures the status API server
type APIConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5080").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Bearer token required on /api routes. Empty disables auth.
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`

	// Enables pprof routes and disables panic recovery
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     append([]string{}, DefaultCORSAllowMethods...),
		AllowHeaders:     append([]string{}, DefaultCORSAllowHeaders...),
		ExposeHeaders:    append([]string{}, DefaultCORSExposeHeaders...),
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	newLevel := func(l slog.Level) *slog.LevelVar {
		v := &slog.LevelVar{}
		v.Set(l)
		return v
	}

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      newLevel(DefaultDatabaseLogLevel),
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              newLevel(DefaultLogLevel),
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Observer: &ObserverConfig{
			BatchSize:             DefaultObserverBatchSize,
			InterEventDelay:       DefaultObserverInterEventDelay,
			InactiveBufferTimeout: DefaultObserverInactiveBufferTimeout,
			BufferCapacity:        DefaultObserverBufferCapacity,
			ProcessingInterval:    DefaultObserverProcessingInterval,
			MaintenanceInterval:   DefaultObserverMaintenanceInterval,
			CatchupBatchSize:      DefaultObserverCatchupBatchSize,
			LogLevel:              newLevel(DefaultObserverLogLevel),
		},
		Concurrency: &ConcurrencyConfig{
			LockTimeout:          DefaultLockTimeout,
			StaleResourceTimeout: DefaultStaleResourceTimeout,
		},
		RateLimit: &RateLimitConfig{
			OperationLimit: OperationLimit{
				GlobalMinInterval:    DefaultRateLimitGlobalMinInterval,
				ChannelWindow:        DefaultRateLimitChannelWindow,
				ChannelMaxOperations: DefaultRateLimitChannelMaxOperations,
			},
			Operations: map[string]OperationLimit{},
		},
		Prioritization: &PrioritizationConfig{
			HighPriorityRelationshipThreshold: DefaultHighPriorityRelationshipThreshold,
		},
		SelfRegulation: &SelfRegulationConfig{
			BaseEngagementProbability: DefaultBaseEngagementProbability,
			MinResponseDelay:          DefaultMinResponseDelay,
			MaxResponseDelay:          DefaultMaxResponseDelay,
			MinInitiationDelay:        DefaultMinInitiationDelay,
			MaxInitiationDelay:        DefaultMaxInitiationDelay,
			IdleBehaviorInterval:      DefaultIdleBehaviorInterval,
			IdleBehaviorProbability:   DefaultIdleBehaviorProbability,
			EngagementTimeout:         DefaultEngagementTimeout,
			ActivityRetention:         DefaultActivityRetention,
			ActivityThresholds: ActivityThresholds{
				Low:      DefaultActivityThresholdLow,
				Moderate: DefaultActivityThresholdModerate,
				High:     DefaultActivityThresholdHigh,
			},
			RelationshipStages: RelationshipStageThresholds{
				Acquaintance: DefaultStageAcquaintance,
				Casual:       DefaultStageCasual,
				Friend:       DefaultStageFriend,
				CloseFriend:  DefaultStageCloseFriend,
			},
		},
		Stamina: &StaminaConfig{
			Max:                 DefaultStaminaMax,
			RegenPerMinute:      DefaultStaminaRegenPerMinute,
			SleepRegenPerMinute: DefaultStaminaSleepRegenPerMinute,
			SleepThreshold:      DefaultStaminaSleepThreshold,
			WakeThreshold:       DefaultStaminaWakeThreshold,
			MessageCost:         DefaultStaminaMessageCost,
		},
		Personality: DefaultPersonalityTraits(),
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          newLevel(DefaultDiscordLogLevel),
			DiscordGoLogLevel: newLevel(DefaultDiscordgoLogLevel),
			CustomStatus:      DefaultDiscordCustomStatus,
			IdleEmojis:        append([]string{}, DefaultDiscordIdleEmojis...),
		},
		OpenAI: &OpenAIConfig{
			Model:                DefaultOpenAIModel,
			MaxTokens:            DefaultOpenAIMaxTokens,
			MaxRequestsPerSecond: DefaultOpenAIMaxRequestsPerSecond,
			RequestTimeout:       DefaultOpenAIRequestTimeout,
			SystemPrompt:         DefaultOpenAISystemPrompt,
			LogLevel:             newLevel(DefaultOpenAILogLevel),
		},
		API: &APIConfig{
			Enabled:           true,
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          newLevel(DefaultAPILogLevel),
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
