package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/BoundlessStudio/ElectricRaspberry-sub001/electricraspberry"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = electricraspberry.DefaultConfig()
	configFile string
)

// levelKeys are config keys holding a *slog.LevelVar
var levelKeys = []string{
	"log_level",
	"database_log_level",
	"observer.log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"openai.log_level",
	"api.log_level",
}

// sliceKeys are config keys read from whitespace-separated env vars
var sliceKeys = []string{
	"discord.idle_emojis",
	"api.cors.allow_origins",
	"api.cors.allow_methods",
	"api.cors.allow_headers",
	"api.cors.expose_headers",
}

var rootCmd = &cobra.Command{
	Use:   "electricraspberry [flags]",
	Short: "A Discord companion bot that paces its own engagement",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := viper.Unmarshal(cfg, decodeHook()); err != nil {
			log.Fatalln(err)
		}
	},
}

func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			LevelToStringHookFunc(),
		),
	)
}

func getLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes level names ("DEBUG", "warn", ...) into
// *slog.LevelVar fields
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}
		if t.Elem() != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, err
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

// Execute runs the root command, canceling its context on SIGINT,
// SIGTERM or SIGHUP
func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setDefaults() {
	viper.SetDefault("database", electricraspberry.DefaultDatabase)
	viper.SetDefault("database_type", electricraspberry.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		electricraspberry.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		electricraspberry.DefaultDatabaseLogLevel.String(),
	)
	viper.SetDefault("log_level", electricraspberry.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", electricraspberry.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", electricraspberry.DefaultShutdownTimeout)

	// Observer
	viper.SetDefault("observer.batch_size", electricraspberry.DefaultObserverBatchSize)
	viper.SetDefault(
		"observer.inter_event_delay",
		electricraspberry.DefaultObserverInterEventDelay,
	)
	viper.SetDefault(
		"observer.inactive_buffer_timeout",
		electricraspberry.DefaultObserverInactiveBufferTimeout,
	)
	viper.SetDefault(
		"observer.buffer_capacity",
		electricraspberry.DefaultObserverBufferCapacity,
	)
	viper.SetDefault(
		"observer.processing_interval",
		electricraspberry.DefaultObserverProcessingInterval,
	)
	viper.SetDefault(
		"observer.maintenance_interval",
		electricraspberry.DefaultObserverMaintenanceInterval,
	)
	viper.SetDefault(
		"observer.catchup_batch_size",
		electricraspberry.DefaultObserverCatchupBatchSize,
	)
	viper.SetDefault(
		"observer.log_level",
		electricraspberry.DefaultObserverLogLevel.String(),
	)

	viper.SetDefault("concurrency.lock_timeout", electricraspberry.DefaultLockTimeout)
	viper.SetDefault(
		"concurrency.stale_resource_timeout",
		electricraspberry.DefaultStaleResourceTimeout,
	)

	viper.SetDefault(
		"rate_limit.global_min_interval",
		electricraspberry.DefaultRateLimitGlobalMinInterval,
	)
	viper.SetDefault(
		"rate_limit.channel_window",
		electricraspberry.DefaultRateLimitChannelWindow,
	)
	viper.SetDefault(
		"rate_limit.channel_max_operations",
		electricraspberry.DefaultRateLimitChannelMaxOperations,
	)

	viper.SetDefault(
		"prioritization.high_priority_relationship_threshold",
		electricraspberry.DefaultHighPriorityRelationshipThreshold,
	)

	// Self-regulation
	viper.SetDefault(
		"self_regulation.base_engagement_probability",
		electricraspberry.DefaultBaseEngagementProbability,
	)
	viper.SetDefault(
		"self_regulation.min_response_delay",
		electricraspberry.DefaultMinResponseDelay,
	)
	viper.SetDefault(
		"self_regulation.max_response_delay",
		electricraspberry.DefaultMaxResponseDelay,
	)
	viper.SetDefault(
		"self_regulation.min_initiation_delay",
		electricraspberry.DefaultMinInitiationDelay,
	)
	viper.SetDefault(
		"self_regulation.max_initiation_delay",
		electricraspberry.DefaultMaxInitiationDelay,
	)
	viper.SetDefault(
		"self_regulation.idle_behavior_interval",
		electricraspberry.DefaultIdleBehaviorInterval,
	)
	viper.SetDefault(
		"self_regulation.idle_behavior_probability",
		electricraspberry.DefaultIdleBehaviorProbability,
	)
	viper.SetDefault(
		"self_regulation.engagement_timeout",
		electricraspberry.DefaultEngagementTimeout,
	)
	viper.SetDefault(
		"self_regulation.activity_retention",
		electricraspberry.DefaultActivityRetention,
	)
	viper.SetDefault(
		"self_regulation.activity_thresholds.low",
		electricraspberry.DefaultActivityThresholdLow,
	)
	viper.SetDefault(
		"self_regulation.activity_thresholds.moderate",
		electricraspberry.DefaultActivityThresholdModerate,
	)
	viper.SetDefault(
		"self_regulation.activity_thresholds.high",
		electricraspberry.DefaultActivityThresholdHigh,
	)
	viper.SetDefault(
		"self_regulation.relationship_stages.acquaintance",
		electricraspberry.DefaultStageAcquaintance,
	)
	viper.SetDefault(
		"self_regulation.relationship_stages.casual",
		electricraspberry.DefaultStageCasual,
	)
	viper.SetDefault(
		"self_regulation.relationship_stages.friend",
		electricraspberry.DefaultStageFriend,
	)
	viper.SetDefault(
		"self_regulation.relationship_stages.close_friend",
		electricraspberry.DefaultStageCloseFriend,
	)
	viper.SetDefault("self_regulation.random_seed", 0)

	// Stamina
	viper.SetDefault("stamina.max", electricraspberry.DefaultStaminaMax)
	viper.SetDefault(
		"stamina.regen_per_minute",
		electricraspberry.DefaultStaminaRegenPerMinute,
	)
	viper.SetDefault(
		"stamina.sleep_regen_per_minute",
		electricraspberry.DefaultStaminaSleepRegenPerMinute,
	)
	viper.SetDefault(
		"stamina.sleep_threshold",
		electricraspberry.DefaultStaminaSleepThreshold,
	)
	viper.SetDefault(
		"stamina.wake_threshold",
		electricraspberry.DefaultStaminaWakeThreshold,
	)
	viper.SetDefault("stamina.message_cost", electricraspberry.DefaultStaminaMessageCost)

	personality := electricraspberry.DefaultPersonalityTraits()
	viper.SetDefault("personality.extraversion", personality.Extraversion)
	viper.SetDefault("personality.reserve", personality.Reserve)
	viper.SetDefault("personality.impulsivity", personality.Impulsivity)
	viper.SetDefault("personality.thoughtfulness", personality.Thoughtfulness)
	viper.SetDefault("personality.curiosity", personality.Curiosity)
	viper.SetDefault("personality.playfulness", personality.Playfulness)

	// Discord
	viper.SetDefault("discord.enabled", false)
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault(
		"discord.log_level",
		electricraspberry.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		electricraspberry.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		int(electricraspberry.DefaultDiscordGatewayIntent),
	)
	viper.SetDefault("discord.custom_status", electricraspberry.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.idle_emojis", electricraspberry.DefaultDiscordIdleEmojis)

	// OpenAI
	viper.SetDefault("openai.token", "")
	viper.SetDefault("openai.base_url", "")
	viper.SetDefault("openai.model", electricraspberry.DefaultOpenAIModel)
	viper.SetDefault("openai.max_tokens", electricraspberry.DefaultOpenAIMaxTokens)
	viper.SetDefault(
		"openai.max_requests_per_second",
		electricraspberry.DefaultOpenAIMaxRequestsPerSecond,
	)
	viper.SetDefault(
		"openai.request_timeout",
		electricraspberry.DefaultOpenAIRequestTimeout,
	)
	viper.SetDefault("openai.system_prompt", electricraspberry.DefaultOpenAISystemPrompt)
	viper.SetDefault(
		"openai.log_level",
		electricraspberry.DefaultOpenAILogLevel.String(),
	)

	// API
	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen", electricraspberry.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.token", "")
	viper.SetDefault("api.log_level", electricraspberry.DefaultAPILogLevel.String())
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.read_timeout", electricraspberry.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		electricraspberry.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", electricraspberry.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", electricraspberry.DefaultIdleTimeout)

	viper.SetDefault(
		"api.cors.allow_headers",
		electricraspberry.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		electricraspberry.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.expose_headers",
		electricraspberry.DefaultCORSExposeHeaders,
	)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", electricraspberry.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		electricraspberry.DefaultAPICORSAllowCredentials,
	)
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		log.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Fatalf("error loading %s: %v", configFile, err)
		}
	}

	setDefaults()

	envPrefix := os.Getenv(electricraspberry.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = electricraspberry.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	for _, key := range sliceKeys {
		viper.Set(key, viper.GetStringSlice(key))
	}

	for _, key := range levelKeys {
		lvl, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, lvl)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"env file to load configuration from",
	)
}
