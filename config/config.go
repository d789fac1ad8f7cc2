// Package config loads service settings from an optional YAML file and VISAFLOW_*
// environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

const EnvPrefix = "VISAFLOW"

type Config struct {
	Server struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		MaxUpload    int64         `mapstructure:"max_upload"`
	} `mapstructure:"server"`
	Definitions struct {
		// Dir adds definitions on top of the bundled ones; empty loads only the bundled set.
		Dir string `mapstructure:"dir"`
	} `mapstructure:"definitions"`
	Session struct {
		TTL           time.Duration `mapstructure:"ttl"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"session"`
	Oracle struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"oracle"`
	LLM struct {
		APIKey  string `mapstructure:"api_key"`
		BaseURL string `mapstructure:"base_url"`
		Model   string `mapstructure:"model"`
	} `mapstructure:"llm"`
	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.max_upload", 10<<20)
	v.SetDefault("definitions.dir", "")
	v.SetDefault("session.ttl", 30*time.Minute)
	v.SetDefault("session.sweep_interval", time.Minute)
	v.SetDefault("oracle.timeout", 30*time.Second)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("database.url", "")
	v.SetDefault("log.level", "info")
}

// Load reads path when it is set, then applies environment overrides such as
// VISAFLOW_SERVER_ADDR.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s failed: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config failed: %w", err)
	}
	cfg.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.LLM.BaseURL), "/")
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every setting. A zero session TTL keeps sessions forever.
func (c *Config) Validate() error {
	positive := []validation.Rule{validation.Required, validation.Min(time.Duration(1))}
	return validation.Errors{
		"server.addr":            validation.Validate(c.Server.Addr, validation.Required),
		"server.read_timeout":    validation.Validate(c.Server.ReadTimeout, positive...),
		"server.write_timeout":   validation.Validate(c.Server.WriteTimeout, positive...),
		"server.max_upload":      validation.Validate(c.Server.MaxUpload, validation.Required, validation.Min(int64(1))),
		"session.ttl":            validation.Validate(c.Session.TTL, validation.Min(time.Duration(0))),
		"session.sweep_interval": validation.Validate(c.Session.SweepInterval, positive...),
		"oracle.timeout":         validation.Validate(c.Oracle.Timeout, positive...),
		"log.level":              validation.Validate(c.Log.Level, validation.In("debug", "info", "warn", "error")),
	}.Filter()
}

// HasLLM reports whether an LLM backend is configured.
func (c *Config) HasLLM() bool {
	return c.LLM.APIKey != ""
}

func (c *Config) LogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
