// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/guregu/null"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/auth"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/data"
)

const envPrefix = "TELEMETRY"

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Source SourceConfig `mapstructure:"source"`
	Engine EngineConfig `mapstructure:"engine"`
	Alerts AlertsConfig `mapstructure:"alerts"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Port      int      `mapstructure:"port"`
	JWTSecret string   `mapstructure:"jwt_secret"`
	APIKeys   []string `mapstructure:"api_keys"`
}

// Auth returns the subset the auth middleware needs.
func (s ServerConfig) Auth() auth.Config {
	return auth.Config{JWTSecret: s.JWTSecret, APIKeys: s.APIKeys}
}

type SourceConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type EngineConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxLivePoints int           `mapstructure:"max_live_points"`
	Retention     time.Duration `mapstructure:"retention"`
	Scope         ScopeConfig   `mapstructure:"scope"`
}

// ScopeConfig narrows the sensor listing. Zero means unset.
type ScopeConfig struct {
	LotID    int64 `mapstructure:"lot_id"`
	SubLotID int64 `mapstructure:"sub_lot_id"`
}

func (s ScopeConfig) Filter() data.Filter {
	var f data.Filter
	if s.LotID > 0 {
		f.LotID = null.IntFrom(s.LotID)
	}
	if s.SubLotID > 0 {
		f.SubLotID = null.IntFrom(s.SubLotID)
	}
	return f
}

type AlertsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	History  int           `mapstructure:"history"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RegisterFlags declares the command-line overrides on flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", ".", "directory containing config.yaml and .env.local")
	flags.Int("port", 8081, "dashboard HTTP port")
	flags.String("source-url", "http://localhost:3000", "farm backend base URL")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

var flagKeys = map[string]string{
	"port":       "server.port",
	"source-url": "source.base_url",
	"log-level":  "log.level",
}

// Load reads configuration from, in increasing priority: defaults,
// config.yaml, .env.local and the environment, and flags that were set.
// flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	dir := "."
	if flags != nil {
		if f := flags.Lookup("config"); f != nil {
			dir = f.Value.String()
		}
	}

	if err := godotenv.Load(filepath.Join(dir, ".env.local")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env.local: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.api_keys", []string{})
	v.SetDefault("source.base_url", "http://localhost:3000")
	v.SetDefault("source.timeout", 10*time.Second)
	v.SetDefault("engine.poll_interval", 15*time.Second)
	v.SetDefault("engine.max_live_points", 50)
	v.SetDefault("engine.retention", 24*time.Hour)
	v.SetDefault("engine.scope.lot_id", 0)
	v.SetDefault("engine.scope.sub_lot_id", 0)
	v.SetDefault("alerts.interval", 30*time.Second)
	v.SetDefault("alerts.history", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	u, err := url.Parse(c.Source.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("source.base_url %q is not an http(s) URL", c.Source.BaseURL)
	}
	positive := map[string]time.Duration{
		"source.timeout":       c.Source.Timeout,
		"engine.poll_interval": c.Engine.PollInterval,
		"engine.retention":     c.Engine.Retention,
		"alerts.interval":      c.Alerts.Interval,
	}
	for key, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	if c.Engine.MaxLivePoints <= 0 {
		return fmt.Errorf("engine.max_live_points must be positive, got %d", c.Engine.MaxLivePoints)
	}
	if c.Alerts.History <= 0 {
		return fmt.Errorf("alerts.history must be positive, got %d", c.Alerts.History)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}
