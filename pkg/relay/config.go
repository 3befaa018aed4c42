package relay

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Upstream      UpstreamConfig      `mapstructure:"upstream"`
	Actions       ActionsConfig       `mapstructure:"actions"`
	Transports    TransportsConfig    `mapstructure:"transports"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// UpstreamConfig configures the OpenAI Realtime connection opened for
// each session.
type UpstreamConfig struct {
	URL              string   `mapstructure:"url"`
	APIKey           string   `mapstructure:"api_key"`
	Voice            string   `mapstructure:"voice"`
	Modalities       []string `mapstructure:"modalities"`
	ConnectTimeoutMS int      `mapstructure:"connect_timeout_ms"`
	PollIntervalMS   int      `mapstructure:"poll_interval_ms"`
	WriteTimeoutMS   int      `mapstructure:"write_timeout_ms"`
}

// ActionsConfig configures webhook delivery of clinical actions.
type ActionsConfig struct {
	WebhookURL     string `mapstructure:"webhook_url"`
	TimeoutMS      int    `mapstructure:"timeout_ms"`
	Retries        int    `mapstructure:"retries"`
	RetryBackoffMS int    `mapstructure:"retry_backoff_ms"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type ObservabilityConfig struct {
	EventBuffer int `mapstructure:"event_buffer"`
}

const defaultUpstreamURL = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview"

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("upstream.url", defaultUpstreamURL)
	v.SetDefault("upstream.voice", "alloy")
	v.SetDefault("upstream.modalities", []string{"text"})
	v.SetDefault("upstream.connect_timeout_ms", 3000)
	v.SetDefault("upstream.poll_interval_ms", 100)
	v.SetDefault("upstream.write_timeout_ms", 5000)
	v.SetDefault("actions.timeout_ms", 5000)
	v.SetDefault("actions.retries", 0)
	v.SetDefault("actions.retry_backoff_ms", 200)
	v.SetDefault("transports.provider", "ws")
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("observability.event_buffer", 2048)

	_ = v.BindEnv("upstream.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("actions.webhook_url", "WEBHOOK_URL")

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Upstream.APIKey) == "" {
		return fmt.Errorf("upstream.api_key is required (set OPENAI_API_KEY)")
	}
	if strings.TrimSpace(c.Transports.Provider) == "" {
		return fmt.Errorf("transports.provider is required")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	cfg.Upstream.URL = os.ExpandEnv(cfg.Upstream.URL)
	cfg.Upstream.APIKey = os.ExpandEnv(cfg.Upstream.APIKey)
	cfg.Actions.WebhookURL = os.ExpandEnv(cfg.Actions.WebhookURL)
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}
