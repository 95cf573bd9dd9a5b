// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

// Package config loads runtime configuration from defaults, an optional
// YAML file, PLUGRT_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/zhangyu-521/my-doc-sub002/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PLUGRT_"

// Config is the complete runtime configuration.
type Config struct {
	Log     LogConfig     `koanf:"log"`
	Plugins PluginsConfig `koanf:"plugins"`
	Runtime RuntimeConfig `koanf:"runtime"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// PluginsConfig locates plugin manifests.
type PluginsConfig struct {
	Dir string `koanf:"dir"`
}

// RuntimeConfig tunes the plugin runtime.
type RuntimeConfig struct {
	RetryAttempts      int           `koanf:"retry_attempts"`
	RetryBaseDelay     time.Duration `koanf:"retry_base_delay"`
	StoreSweepInterval time.Duration `koanf:"store_sweep_interval"`
	QueueHistory       int           `koanf:"queue_history"`
	AsyncHookTimeout   time.Duration `koanf:"async_hook_timeout"`
}

// MetricsConfig controls the observability server. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// Default values.
const (
	DefaultLogFormat          = "json"
	DefaultLogLevel           = "info"
	DefaultPluginsDir         = "plugins"
	DefaultRetryAttempts      = 3
	DefaultRetryBaseDelay     = 100 * time.Millisecond
	DefaultStoreSweepInterval = time.Minute
	DefaultQueueHistory       = 100
	DefaultAsyncHookTimeout   = 30 * time.Second
	DefaultMetricsAddr        = "127.0.0.1:9100"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log:     LogConfig{Format: DefaultLogFormat, Level: DefaultLogLevel},
		Plugins: PluginsConfig{Dir: DefaultPluginsDir},
		Runtime: RuntimeConfig{
			RetryAttempts:      DefaultRetryAttempts,
			RetryBaseDelay:     DefaultRetryBaseDelay,
			StoreSweepInterval: DefaultStoreSweepInterval,
			QueueHistory:       DefaultQueueHistory,
			AsyncHookTimeout:   DefaultAsyncHookTimeout,
		},
		Metrics: MetricsConfig{Addr: DefaultMetricsAddr},
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"log-format":           "log.format",
	"log-level":            "log.level",
	"plugins-dir":          "plugins.dir",
	"retry-attempts":       "runtime.retry_attempts",
	"retry-base-delay":     "runtime.retry_base_delay",
	"store-sweep-interval": "runtime.store_sweep_interval",
	"queue-history":        "runtime.queue_history",
	"async-hook-timeout":   "runtime.async_hook_timeout",
	"metrics-addr":         "metrics.addr",
}

// BindFlags registers the configuration flags on fs, plus --config for
// the YAML file path.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to a YAML configuration file")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("plugins-dir", d.Plugins.Dir, "directory containing plugin manifests")
	fs.Int("retry-attempts", d.Runtime.RetryAttempts, "initialize attempts per plugin")
	fs.Duration("retry-base-delay", d.Runtime.RetryBaseDelay, "initial backoff between initialize attempts")
	fs.Duration("store-sweep-interval", d.Runtime.StoreSweepInterval, "shared store expiry sweep interval (0 = lazy expiry only)")
	fs.Int("queue-history", d.Runtime.QueueHistory, "messages retained per queue topic")
	fs.Duration("async-hook-timeout", d.Runtime.AsyncHookTimeout, "timeout for startup and shutdown hooks (0 = none)")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
}

// Load builds a Config from the process environment. path may be empty;
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	return LoadEnv(path, flags, os.Environ())
}

// LoadEnv is Load with an explicit environment, as KEY=VALUE pairs.
func LoadEnv(path string, flags *pflag.FlagSet, environ []string) (*Config, error) {
	k := koanf.New(".")

	if err := setDefaults(k); err != nil {
		return nil, err
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.In("config").With("path", path).Wrapf(err, "load config file")
		}
	}

	if err := k.Load(envProvider(environ), nil); err != nil {
		return nil, oops.In("config").Wrapf(err, "load environment")
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.In("config").Wrapf(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) error {
	d := Default()
	defaults := map[string]any{
		"log.format":                   d.Log.Format,
		"log.level":                    d.Log.Level,
		"plugins.dir":                  d.Plugins.Dir,
		"runtime.retry_attempts":       d.Runtime.RetryAttempts,
		"runtime.retry_base_delay":     d.Runtime.RetryBaseDelay,
		"runtime.store_sweep_interval": d.Runtime.StoreSweepInterval,
		"runtime.queue_history":        d.Runtime.QueueHistory,
		"runtime.async_hook_timeout":   d.Runtime.AsyncHookTimeout,
		"metrics.addr":                 d.Metrics.Addr,
	}
	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return oops.In("config").With("key", key).Wrapf(err, "set default")
		}
	}
	return nil
}

// envProvider reads PLUGRT_<SECTION>_<FIELD> overrides. Only known keys
// are honoured, so field names containing underscores map unambiguously.
func envProvider(environ []string) *env.Env {
	known := make(map[string]string, len(flagKeys))
	for _, key := range flagKeys {
		known[EnvPrefix+strings.ToUpper(strings.ReplaceAll(key, ".", "_"))] = key
	}
	return env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(name, value string) (string, any) {
			return known[name], value
		},
		EnvironFunc: func() []string { return environ },
	})
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	errb := oops.In("config")
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return errb.With("log.format", c.Log.Format).Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return errb.Wrapf(err, "log.level")
	}
	if c.Plugins.Dir == "" {
		return errb.Errorf("plugins.dir is required")
	}
	if c.Runtime.RetryAttempts < 1 {
		return errb.With("runtime.retry_attempts", c.Runtime.RetryAttempts).Errorf("runtime.retry_attempts must be at least 1")
	}
	if c.Runtime.RetryBaseDelay < 0 {
		return errb.Errorf("runtime.retry_base_delay cannot be negative")
	}
	if c.Runtime.StoreSweepInterval < 0 {
		return errb.Errorf("runtime.store_sweep_interval cannot be negative")
	}
	if c.Runtime.QueueHistory < 0 {
		return errb.Errorf("runtime.queue_history cannot be negative")
	}
	if c.Runtime.AsyncHookTimeout < 0 {
		return errb.Errorf("runtime.async_hook_timeout cannot be negative")
	}
	return nil
}
