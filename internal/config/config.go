package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Models     ModelsConfig     `yaml:"models" mapstructure:"models"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Learning   LearningConfig   `yaml:"learning" mapstructure:"learning"`
	Router     RouterConfig     `yaml:"router" mapstructure:"router"`
	Executor   ExecutorConfig   `yaml:"executor" mapstructure:"executor"`
	Merger     MergerConfig     `yaml:"merger" mapstructure:"merger"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Feedback   FeedbackConfig   `yaml:"feedback" mapstructure:"feedback"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the history persistence backend.
type StoreConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"`
	DataDir       string `yaml:"data_dir" mapstructure:"data_dir"`
	RetentionDays int    `yaml:"retention_days" mapstructure:"retention_days"`
}

// ModelsConfig locates the model registry file.
type ModelsConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// ClassifierConfig configures task classification.
type ClassifierConfig struct {
	DefaultTaskType        string  `yaml:"default_task_type" mapstructure:"default_task_type"`
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold" mapstructure:"low_confidence_threshold"`
}

// LearningConfig configures the confidence engine.
type LearningConfig struct {
	DecayFactor float64 `yaml:"decay_factor" mapstructure:"decay_factor"`
	Smoothing   float64 `yaml:"smoothing" mapstructure:"smoothing"`
	MinSamples  int     `yaml:"min_samples" mapstructure:"min_samples"`
}

// RouterConfig configures model selection.
type RouterConfig struct {
	EstimatedTokens int `yaml:"estimated_tokens" mapstructure:"estimated_tokens"`
}

// ExecutorConfig configures concurrent invocation.
type ExecutorConfig struct {
	PerModelTimeoutSecs int                `yaml:"per_model_timeout_secs" mapstructure:"per_model_timeout_secs"`
	MinResponses        int                `yaml:"min_responses" mapstructure:"min_responses"`
	RateLimits          map[string]float64 `yaml:"rate_limits" mapstructure:"rate_limits"`
	Retry               RetryConfig        `yaml:"retry" mapstructure:"retry"`
	Breaker             BreakerConfig      `yaml:"breaker" mapstructure:"breaker"`
}

// RetryConfig configures transient-error retries.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// BreakerConfig configures per-model circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// MergerConfig configures response merging.
type MergerConfig struct {
	StructuredRatio        float64 `yaml:"structured_ratio" mapstructure:"structured_ratio"`
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold" mapstructure:"low_confidence_threshold"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	MaxEntries        int `yaml:"max_entries" mapstructure:"max_entries"`
	TTLSecs           int `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	SweepIntervalSecs int `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
}

// FeedbackConfig configures the feedback loop.
type FeedbackConfig struct {
	RingSize         int     `yaml:"ring_size" mapstructure:"ring_size"`
	CorrectionWeight float64 `yaml:"correction_weight" mapstructure:"correction_weight"`
	NumericTolerance float64 `yaml:"numeric_tolerance" mapstructure:"numeric_tolerance"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// BatchConfig configures batch submission.
type BatchConfig struct {
	MaxConcurrentRequests int `yaml:"max_concurrent_requests" mapstructure:"max_concurrent_requests"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// PerModelTimeout converts the configured seconds to a duration.
func (c ExecutorConfig) PerModelTimeout() time.Duration {
	return time.Duration(c.PerModelTimeoutSecs) * time.Second
}

// TTL converts the configured seconds to a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// SweepInterval converts the configured seconds to a duration.
func (c CacheConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecs) * time.Second
}

// Retention converts the configured days to a duration.
func (c StoreConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MODELMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.data_dir", "./data")
	v.SetDefault("store.retention_days", 30)
	v.SetDefault("models.file", "models.yaml")
	v.SetDefault("classifier.default_task_type", "simple_query")
	v.SetDefault("classifier.low_confidence_threshold", 0.5)
	v.SetDefault("learning.decay_factor", 0.95)
	v.SetDefault("learning.smoothing", 0.3)
	v.SetDefault("learning.min_samples", 10)
	v.SetDefault("router.estimated_tokens", 2000)
	v.SetDefault("executor.per_model_timeout_secs", 30)
	v.SetDefault("executor.min_responses", 2)
	v.SetDefault("executor.retry.max_attempts", 2)
	v.SetDefault("executor.retry.initial_backoff_ms", 250)
	v.SetDefault("executor.retry.max_backoff_ms", 5000)
	v.SetDefault("executor.breaker.failure_threshold", 5)
	v.SetDefault("executor.breaker.reset_timeout_secs", 30)
	v.SetDefault("merger.structured_ratio", 0.5)
	v.SetDefault("merger.low_confidence_threshold", 0.4)
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.ttl_secs", 300)
	v.SetDefault("cache.sweep_interval_secs", 60)
	v.SetDefault("feedback.ring_size", 1000)
	v.SetDefault("feedback.correction_weight", 2.0)
	v.SetDefault("feedback.numeric_tolerance", 0.01)
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("batch.max_concurrent_requests", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the configuration for the given run mode. Modes gate
// which credentials are required; bounds checks apply to all modes.
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Store.Driver != "file" && c.Store.Driver != "sqlite" {
		problems = append(problems, "store.driver must be file or sqlite")
	}
	if c.Batch.MaxConcurrentRequests < 1 || c.Batch.MaxConcurrentRequests > 50 {
		problems = append(problems, "batch.max_concurrent_requests must be between 1 and 50")
	}
	if c.Merger.StructuredRatio < 0 || c.Merger.StructuredRatio > 1 {
		problems = append(problems, "merger.structured_ratio must be in [0,1]")
	}
	if c.Merger.LowConfidenceThreshold < 0 || c.Merger.LowConfidenceThreshold > 1 {
		problems = append(problems, "merger.low_confidence_threshold must be in [0,1]")
	}
	if c.Classifier.LowConfidenceThreshold < 0 || c.Classifier.LowConfidenceThreshold > 1 {
		problems = append(problems, "classifier.low_confidence_threshold must be in [0,1]")
	}
	if c.Learning.DecayFactor <= 0 || c.Learning.DecayFactor > 1 {
		problems = append(problems, "learning.decay_factor must be in (0,1]")
	}
	if c.Learning.Smoothing <= 0 || c.Learning.Smoothing > 1 {
		problems = append(problems, "learning.smoothing must be in (0,1]")
	}

	switch mode {
	case "run", "batch":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
	case "serve":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "stats", "models":
		// Read-only modes need no credentials.
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
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
