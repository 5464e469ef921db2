// Package config loads the OSD client's configuration through a
// layered viper/mapstructure stack: env > file > defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the client's full runtime configuration.
type Config struct {
	// OsdTimeout is the one formal tunable the spec requires: the
	// timeout worker's sweep cadence and per-request resend deadline.
	OsdTimeout time.Duration `mapstructure:"osd_timeout"`

	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
}

// LoggingConfig configures internal/logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig holds Prometheus metrics settings. It is loaded but not
// read by any component of this module.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// TracingConfig holds OpenTelemetry span export settings. It is loaded
// but not read by any component of this module.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// ProfilingConfig toggles continuous profiling via internal/telemetry.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	ServiceName  string   `mapstructure:"service_name"`
	Endpoint     string   `mapstructure:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types"`
}

// Default returns the configuration used when nothing is supplied.
func Default() Config {
	return Config{
		OsdTimeout: 30 * time.Second,
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9100",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "osdc",
		},
		Profiling: ProfilingConfig{
			Enabled:      false,
			ServiceName:  "osdc",
			Endpoint:     "http://localhost:4040",
			ProfileTypes: []string{"cpu", "alloc_objects", "goroutines"},
		},
	}
}

// Load reads configuration from path (if non-empty) and OSDC_-prefixed
// environment variables (via viper's standard layering), falling back
// to Default for anything unset. No command-line flags are bound.
func Load(path string) (Config, error) {
	v := viper.New()
	d := Default()
	v.SetDefault("osd_timeout", d.OsdTimeout)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("profiling.enabled", d.Profiling.Enabled)
	v.SetDefault("profiling.service_name", d.Profiling.ServiceName)
	v.SetDefault("profiling.endpoint", d.Profiling.Endpoint)
	v.SetDefault("profiling.profile_types", d.Profiling.ProfileTypes)

	v.SetEnvPrefix("OSDC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding: %w", err)
	}
	if cfg.OsdTimeout <= 0 {
		return Config{}, fmt.Errorf("config: osd_timeout must be positive, got %s", cfg.OsdTimeout)
	}
	return cfg, nil
}
