package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/dynamic-mcp/dmcp"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Planner  PlannerConfig  `mapstructure:"planner"`
	Provider ProviderConfig `mapstructure:"provider"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Store    StoreConfig    `mapstructure:"store"`
	Engine   EngineConfig   `mapstructure:"engine"`
}

// PlannerConfig controls plan selection.
type PlannerConfig struct {
	// "remote" tries the provider first and degrades to the rules; "deterministic" uses the rules only.
	Backend         string        `mapstructure:"backend" validate:"oneof=remote deterministic"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ConfidenceFloor float64       `mapstructure:"confidence_floor" validate:"gte=0,lte=1"` // remote plans below this are rejected

	// Plan cache
	CacheEnabled    bool `mapstructure:"cache_enabled"`
	CacheCapacity   int  `mapstructure:"cache_capacity" validate:"gte=0"`
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds" validate:"gte=0"`

	// Remote call rate limiting
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity" validate:"gte=0"`
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"`

	// Deterministic rules
	RulesFile  string `mapstructure:"rules_file"`  // empty uses the embedded rules
	WatchRules bool   `mapstructure:"watch_rules"` // reload rules_file on change

	DomainHints []string `mapstructure:"domain_hints"`
	FlowStages  []string `mapstructure:"flow_stages"`
}

// ProviderConfig selects the remote planning backend.
type ProviderConfig struct {
	Kind        string  `mapstructure:"kind" validate:"oneof=none anthropic chat llama"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	MaxTokens   int     `mapstructure:"max_tokens" validate:"gte=0"`
	Temperature float32 `mapstructure:"temperature"`
	TopP        float32 `mapstructure:"top_p"`

	// llama.cpp (build tag "llama")
	LlamaModelPath   string `mapstructure:"llama_model_path"`
	LlamaContextSize int    `mapstructure:"llama_context_size"`
	LlamaGPULayers   int    `mapstructure:"llama_gpu_layers"`
	LlamaPoolSize    int    `mapstructure:"llama_pool_size"`
}

// ExecutorConfig controls chain execution.
type ExecutorConfig struct {
	ToolTimeout  time.Duration     `mapstructure:"tool_timeout"`
	MaxSteps     int               `mapstructure:"max_steps" validate:"gte=0"`
	ParamAliases map[string]string `mapstructure:"param_aliases"` // alias -> canonical parameter name
}

// StoreConfig controls the session-scoped execution record store.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// EngineConfig controls the request boundary.
type EngineConfig struct {
	BatchConcurrency int  `mapstructure:"batch_concurrency" validate:"gte=1"`
	HistoryLimit     int  `mapstructure:"history_limit" validate:"gte=0"` // per-session in-memory history, 0 = unbounded
	EnableTracing    bool `mapstructure:"enable_tracing"`
	EnablePolicy     bool `mapstructure:"enable_policy"`
}

var AppConfig Config

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	// A .env next to the binary is optional.
	_ = godotenv.Load()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. provider.api_key becomes PROVIDER_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	AppConfig = cfg
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Planner
	v.SetDefault("planner.backend", internal.DefaultPlannerBackend)
	v.SetDefault("planner.timeout", "10s")
	v.SetDefault("planner.confidence_floor", 0.0)
	v.SetDefault("planner.cache_enabled", true)
	v.SetDefault("planner.cache_capacity", 256)
	v.SetDefault("planner.cache_ttl_seconds", 600)
	v.SetDefault("planner.rate_limit_enabled", true)
	v.SetDefault("planner.rate_limit_capacity", 10)
	v.SetDefault("planner.rate_limit_refill_rate", "1s")
	v.SetDefault("planner.rules_file", "")
	v.SetDefault("planner.watch_rules", false)
	v.SetDefault("planner.domain_hints", []string{})
	v.SetDefault("planner.flow_stages", []string{"pr", "po", "gr", "movement", "inspection", "invoice", "payment"})

	// Provider
	v.SetDefault("provider.kind", internal.DefaultProviderKind)
	v.SetDefault("provider.model", "claude-3-7-sonnet-20250219")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.max_tokens", 1024)
	v.SetDefault("provider.temperature", 0.1)
	v.SetDefault("provider.top_p", 0.9)
	v.SetDefault("provider.llama_model_path", "")
	v.SetDefault("provider.llama_context_size", 4096)
	v.SetDefault("provider.llama_gpu_layers", 0)
	v.SetDefault("provider.llama_pool_size", 1)

	// Executor
	v.SetDefault("executor.tool_timeout", "30s")
	v.SetDefault("executor.max_steps", 10)
	v.SetDefault("executor.param_aliases", map[string]string{
		"receipt_number": "receipt_no",
		"receipt_id":     "receipt_no",
	})

	// Store
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.dsn", internal.DefaultRecordDSN)

	// Engine
	v.SetDefault("engine.batch_concurrency", 4)
	v.SetDefault("engine.history_limit", 50)
	v.SetDefault("engine.enable_tracing", true)
	v.SetDefault("engine.enable_policy", true)
}
