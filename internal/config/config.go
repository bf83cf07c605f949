package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Resolve   ResolveConfig   `yaml:"resolve" mapstructure:"resolve"`
	Tier      TierConfig      `yaml:"tier" mapstructure:"tier"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the review API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ExtractConfig configures the obligation candidate extractor.
type ExtractConfig struct {
	// Provider selects the extractor implementation: "rules" or "llm".
	Provider string `yaml:"provider" mapstructure:"provider"`
	// SourceTimeoutSecs bounds extraction of a single source; one slow or
	// failing source never blocks the rest of the case.
	SourceTimeoutSecs int `yaml:"source_timeout_secs" mapstructure:"source_timeout_secs"`
	// MaxConcurrentSources bounds per-case extraction parallelism.
	MaxConcurrentSources int `yaml:"max_concurrent_sources" mapstructure:"max_concurrent_sources"`
}

// AnthropicConfig holds Anthropic API settings for the LLM extractor.
type AnthropicConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	Model             string `yaml:"model" mapstructure:"model"`
	MaxTokens         int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// ResolveConfig configures conflict-detection tolerances. The tolerance table
// is an explicit policy object, loaded once at startup and never mutated.
type ResolveConfig struct {
	// AmountRelTolerance is the relative difference above which two amounts
	// from different sources are treated as conflicting (0.01 = 1%).
	AmountRelTolerance float64 `yaml:"amount_rel_tolerance" mapstructure:"amount_rel_tolerance"`
	// DayCountTolerance is the allowed difference between "within N days"
	// counts. Zero means any difference conflicts.
	DayCountTolerance int `yaml:"day_count_tolerance" mapstructure:"day_count_tolerance"`
	// DueDateToleranceDays is the window within which due dates from
	// different sources are considered the same.
	DueDateToleranceDays int `yaml:"due_date_tolerance_days" mapstructure:"due_date_tolerance_days"`
	// PolicyFile optionally points at a YAML file overriding the above.
	PolicyFile string `yaml:"policy_file" mapstructure:"policy_file"`
}

// TierConfig configures proposal tiering thresholds.
type TierConfig struct {
	// MinConfidence below which an obligation yields a missing_data proposal.
	MinConfidence float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
	// MaterialityThreshold is the amount at or above which a proposal is
	// high risk regardless of type.
	MaterialityThreshold float64 `yaml:"materiality_threshold" mapstructure:"materiality_threshold"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OBLIGATIONS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "obligations.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("extract.provider", "rules")
	v.SetDefault("extract.source_timeout_secs", 60)
	v.SetDefault("extract.max_concurrent_sources", 4)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.requests_per_minute", 30)
	v.SetDefault("resolve.amount_rel_tolerance", 0.01)
	v.SetDefault("resolve.day_count_tolerance", 0)
	v.SetDefault("resolve.due_date_tolerance_days", 3)
	v.SetDefault("tier.min_confidence", 0.55)
	v.SetDefault("tier.materiality_threshold", 5000000)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
