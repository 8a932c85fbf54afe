package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hyperai/phoenix/go/orchestrator/internal/agents"
	"github.com/hyperai/phoenix/go/orchestrator/internal/dispatch"
	"github.com/hyperai/phoenix/go/orchestrator/internal/llm"
)

// Config is the full orchestrator configuration, loaded from YAML with
// PHOENIX_-prefixed environment overrides.
type Config struct {
	Environment string            `mapstructure:"environment"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Server      ServerConfig      `mapstructure:"server"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Dispatcher  dispatch.Config   `mapstructure:"dispatcher"`
	Council     CouncilConfig     `mapstructure:"council"`
	Intent      IntentConfig      `mapstructure:"intent"`
	Agents      AgentsConfig      `mapstructure:"agents"`
	LLM         llm.Config        `mapstructure:"llm"`
	Search      SearchConfig      `mapstructure:"search"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

type ServerConfig struct {
	APIPort   int `mapstructure:"api_port"`
	AdminPort int `mapstructure:"admin_port"`
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	StreamKey string `mapstructure:"stream_key"`
}

type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type CoordinatorConfig struct {
	SnapshotPath        string        `mapstructure:"snapshot_path"`
	IdleTimeout         time.Duration `mapstructure:"idle_timeout"`
	ExecutionTimeout    time.Duration `mapstructure:"execution_timeout"`
	ErrorBackoff        time.Duration `mapstructure:"error_backoff"`
	MaxConsecutiveFails int           `mapstructure:"max_consecutive_fails"`
	AlignmentBypass     float64       `mapstructure:"alignment_bypass"`
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
	ResultBuffer        int           `mapstructure:"result_buffer"`
	MessageBuffer       int           `mapstructure:"message_buffer"`
	DirectiveBuffer     int           `mapstructure:"directive_buffer"`
}

type SchedulerConfig struct {
	ServiceCost   float64          `mapstructure:"service_cost"`
	MaxQueueDepth int              `mapstructure:"max_queue_depth"`
	Adaptation    AdaptationConfig `mapstructure:"adaptation"`
}

type AdaptationConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	LearningRate float64 `mapstructure:"learning_rate"`
	Floor        float64 `mapstructure:"floor"`
	Ceiling      float64 `mapstructure:"ceiling"`
	WindowSize   int     `mapstructure:"window_size"`
	MinSamples   int     `mapstructure:"min_samples"`
	HighWater    float64 `mapstructure:"high_water"`
	LowWater     float64 `mapstructure:"low_water"`
}

type CouncilConfig struct {
	ConfigPath string `mapstructure:"config_path"`
	HotReload  bool   `mapstructure:"hot_reload"`
}

type IntentConfig struct {
	TrustedSources     []string `mapstructure:"trusted_sources"`
	EscalationKeywords []string `mapstructure:"escalation_keywords"`
}

type AgentsConfig struct {
	AnalyzerWeight float64                   `mapstructure:"analyzer_weight"`
	ProposerWeight float64                   `mapstructure:"proposer_weight"`
	DialogueWeight float64                   `mapstructure:"dialogue_weight"`
	Analyzer       agents.AnalyzerThresholds `mapstructure:"analyzer"`
}

type SearchConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// Load reads configuration from the given file (optional) plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PHOENIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.admin_port", 8081)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.stream_key", "phoenix:events")

	v.SetDefault("database.enabled", false)

	v.SetDefault("coordinator.snapshot_path", "data/coordinator.json")
	v.SetDefault("coordinator.idle_timeout", "1s")
	v.SetDefault("coordinator.execution_timeout", "60s")
	v.SetDefault("coordinator.error_backoff", "2s")
	v.SetDefault("coordinator.max_consecutive_fails", 5)
	v.SetDefault("coordinator.alignment_bypass", 0.8)
	v.SetDefault("coordinator.maintenance_interval", "10m")
	v.SetDefault("coordinator.result_buffer", 128)
	v.SetDefault("coordinator.message_buffer", 64)
	v.SetDefault("coordinator.directive_buffer", 256)

	v.SetDefault("scheduler.service_cost", 1.0)
	v.SetDefault("scheduler.max_queue_depth", 256)
	v.SetDefault("scheduler.adaptation.enabled", true)
	v.SetDefault("scheduler.adaptation.learning_rate", 0.3)
	v.SetDefault("scheduler.adaptation.floor", 0.5)
	v.SetDefault("scheduler.adaptation.ceiling", 2.0)
	v.SetDefault("scheduler.adaptation.window_size", 20)
	v.SetDefault("scheduler.adaptation.min_samples", 5)
	v.SetDefault("scheduler.adaptation.high_water", 0.8)
	v.SetDefault("scheduler.adaptation.low_water", 0.6)

	v.SetDefault("dispatcher.alignment_threshold", 0.8)
	v.SetDefault("dispatcher.result_buffer", 128)
	v.SetDefault("dispatcher.idle_wait", "100ms")
	v.SetDefault("dispatcher.risky_task_types",
		[]string{"system_modification", "delete_data", "execute_code"})

	v.SetDefault("council.config_path", "config/council.yaml")
	v.SetDefault("council.hot_reload", true)

	v.SetDefault("intent.trusted_sources", []string{"operator", "admin_console"})
	v.SetDefault("intent.escalation_keywords", []string{"emergency", "critical", "urgent"})

	v.SetDefault("agents.analyzer_weight", 0.8)
	v.SetDefault("agents.proposer_weight", 0.6)
	v.SetDefault("agents.dialogue_weight", 0.4)
	v.SetDefault("agents.analyzer.max_avg_duration", "20s")
	v.SetDefault("agents.analyzer.max_error_rate", 0.05)
	v.SetDefault("agents.analyzer.min_alignment", 0.8)

	v.SetDefault("llm.timeout", "30s")
	v.SetDefault("llm.rate_per_sec", 2.0)
	v.SetDefault("llm.burst", 4)
	v.SetDefault("llm.model", "phoenix-core")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.7)

	v.SetDefault("search.enabled", false)
	v.SetDefault("search.timeout", "10s")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_rate", 0.1)
}

// CoordinatorDefaults returns the coordinator section with zero values
// replaced by safe defaults.
func (c *Config) CoordinatorDefaults() CoordinatorConfig {
	out := c.Coordinator
	if out.IdleTimeout <= 0 {
		out.IdleTimeout = time.Second
	}
	if out.ExecutionTimeout <= 0 {
		out.ExecutionTimeout = 60 * time.Second
	}
	if out.ErrorBackoff <= 0 {
		out.ErrorBackoff = 2 * time.Second
	}
	if out.MaxConsecutiveFails <= 0 {
		out.MaxConsecutiveFails = 5
	}
	return out
}
