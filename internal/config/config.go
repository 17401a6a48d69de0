// Package config loads service configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// StageConfig selects the default model for one pipeline stage. Effort is
// an advisory hint passed through to the model service; it never changes
// orchestration behavior.
type StageConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	Effort   string `mapstructure:"effort"`
}

// ResearchConfig carries the orchestration loop knobs.
type ResearchConfig struct {
	MaxResearchLoops   int           `mapstructure:"max_research_loops"`
	InitialQueryCount  int           `mapstructure:"initial_query_count"`
	WorkerPoolSize     int           `mapstructure:"worker_pool_size"`
	QueryTimeout       time.Duration `mapstructure:"query_timeout"`
	CallTimeout        time.Duration `mapstructure:"call_timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay"`
	SearchRatePerSec   float64       `mapstructure:"search_rate_per_sec"`
	SearchRateBurst    int           `mapstructure:"search_rate_burst"`
	SynthesisGraceTime time.Duration `mapstructure:"synthesis_grace_time"`
}

// StreamingConfig configures the progress event fan-out.
type StreamingConfig struct {
	RingCapacity int    `mapstructure:"ring_capacity"`
	RedisURL     string `mapstructure:"redis_url"`
}

// TracingConfig configures OTLP tracing.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Config is the full service configuration.
type Config struct {
	Server struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
	LLMServiceURL    string                 `mapstructure:"llm_service_url"`
	SearchServiceURL string                 `mapstructure:"search_service_url"`
	ModelsConfigPath string                 `mapstructure:"models_config_path"`
	Research         ResearchConfig         `mapstructure:"research"`
	Stages           map[string]StageConfig `mapstructure:"stages"`
	Streaming        StreamingConfig        `mapstructure:"streaming"`
	Tracing          TracingConfig          `mapstructure:"tracing"`
}

// Load reads configuration from CONFIG_PATH (default
// config/orchestrator.yaml). A missing file is not an error; defaults and
// environment overrides still apply.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/orchestrator.yaml"
	}
	if _, err := os.Stat(cfgPath); err == nil {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyEnvOverrides(&c)
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8081)
	v.SetDefault("logging.level", "info")
	v.SetDefault("llm_service_url", "http://llm-service:8000")
	v.SetDefault("search_service_url", "http://search-service:8090")
	v.SetDefault("research.max_research_loops", 2)
	v.SetDefault("research.initial_query_count", 3)
	v.SetDefault("research.worker_pool_size", 4)
	v.SetDefault("research.query_timeout", 45*time.Second)
	v.SetDefault("research.call_timeout", 60*time.Second)
	v.SetDefault("research.max_retries", 2)
	v.SetDefault("research.retry_base_delay", 500*time.Millisecond)
	v.SetDefault("research.search_rate_per_sec", 8.0)
	v.SetDefault("research.search_rate_burst", 4)
	v.SetDefault("research.synthesis_grace_time", 30*time.Second)
	v.SetDefault("streaming.ring_capacity", 256)
	v.SetDefault("tracing.service_name", "prosearch-orchestrator")
}

func applyEnvOverrides(c *Config) {
	if u := os.Getenv("LLM_SERVICE_URL"); u != "" {
		c.LLMServiceURL = u
	}
	if u := os.Getenv("SEARCH_SERVICE_URL"); u != "" {
		c.SearchServiceURL = u
	}
	if u := os.Getenv("REDIS_URL"); u != "" {
		c.Streaming.RedisURL = u
	}
	if p := os.Getenv("MODELS_CONFIG_PATH"); p != "" {
		c.ModelsConfigPath = p
	}
	if p := os.Getenv("PORT"); p != "" {
		var port int
		if _, err := fmt.Sscanf(p, "%d", &port); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
}
