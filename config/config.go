package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Settings holds process-level configuration: everything needed to boot the
// service. Distribution behaviour (attempt limits, offer timeouts) is NOT
// configured here; it lives in the distribution_settings table so admins can
// change it without a redeploy.
type Settings struct {
	DatabaseURL    string        `mapstructure:"database_url" validate:"required"`
	HTTPAddr       string        `mapstructure:"http_addr" validate:"required"`
	ReaperInterval time.Duration `mapstructure:"reaper_interval" validate:"required,gt=0"`
	RelayInterval  time.Duration `mapstructure:"relay_interval" validate:"required,gt=0"`
	Gateway        Gateway       `mapstructure:"gateway"`
	Observability  Observability `mapstructure:"observability"`
}

// Gateway configures the outbound messaging transport.
type Gateway struct {
	// Kind selects the adapter: "amqp" or "log".
	Kind     string `mapstructure:"kind" validate:"required,oneof=amqp log"`
	URL      string `mapstructure:"url" validate:"required_if=Kind amqp"`
	Exchange string `mapstructure:"exchange"`
}

// Observability configures the OTLP trace exporter. Tracing is disabled when
// the endpoint is empty.
type Observability struct {
	ServiceName string `mapstructure:"service_name"`
	TracingURL  string `mapstructure:"tracing_url"`
}

func (s *Settings) Validate() error {
	return validator.New().Struct(s)
}

// Load reads leadcast.yaml from the given path (and the working directory),
// then applies LEADCAST_-prefixed environment overrides.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("leadcast")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("reaper_interval", time.Minute)
	v.SetDefault("relay_interval", 5*time.Second)
	v.SetDefault("gateway.kind", "log")
	v.SetDefault("gateway.exchange", "leadcast.outbound")
	v.SetDefault("observability.service_name", "leadcast")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		// No file is fine; env and defaults carry the rest.
	}

	v.SetEnvPrefix("LEADCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"database_url",
		"http_addr",
		"reaper_interval",
		"relay_interval",
		"gateway.kind",
		"gateway.url",
		"gateway.exchange",
		"observability.service_name",
		"observability.tracing_url",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind env %s: %w", key, err)
		}
	}

	cfg := &Settings{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}
