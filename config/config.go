package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ramory-l/gopusher/apps"
)

// Config is the gateway configuration
type Config struct {
	Debug       bool              `yaml:"debug"`
	Server      ServerConfig      `yaml:"server"`
	Adapter     AdapterConfig     `yaml:"adapter"`
	AppManager  AppManagerConfig  `yaml:"app_manager"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
	CORS        CORSConfig        `yaml:"cors"`
	Limits      apps.Limits       `yaml:"limits"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ActivityTimeout time.Duration `yaml:"activity_timeout"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	MaxRequestSize  int64         `yaml:"max_request_size"`
	SendBuffer      int           `yaml:"send_buffer"`
	ShutdownGrace   time.Duration `yaml:"shutdown_grace"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type AdapterConfig struct {
	// Driver is "local" or "redis"
	Driver         string        `yaml:"driver"`
	Redis          RedisConfig   `yaml:"redis"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type AppManagerConfig struct {
	// Driver is "array", "bolt" or "postgres"
	Driver   string         `yaml:"driver"`
	Apps     []apps.App     `yaml:"apps"`
	Bolt     BoltConfig     `yaml:"bolt"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type BoltConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

type RateLimiterConfig struct {
	// Driver is "local" or "redis"; redis reuses the adapter connection
	Driver string `yaml:"driver"`
}

type CORSConfig struct {
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
	Headers []string `yaml:"headers"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            6001,
			ActivityTimeout: 120 * time.Second,
			PongTimeout:     30 * time.Second,
			MaxMessageSize:  100 * 1024,
			MaxRequestSize:  100 * 1024,
			SendBuffer:      256,
			ShutdownGrace:   10 * time.Second,
		},
		Adapter: AdapterConfig{
			Driver:         "local",
			Redis:          RedisConfig{Addr: "127.0.0.1:6379", Prefix: "gopusher"},
			RequestTimeout: 5 * time.Second,
		},
		AppManager: AppManagerConfig{
			Driver: "array",
			Apps: []apps.App{{
				ID:      "app-id",
				Key:     "app-key",
				Secret:  "app-secret",
				Enabled: true,
			}},
			Bolt:     BoltConfig{Path: "gopusher.db"},
			Postgres: PostgresConfig{Table: "apps"},
		},
		RateLimiter: RateLimiterConfig{Driver: "local"},
		CORS: CORSConfig{
			Origins: []string{"*"},
			Methods: []string{"GET", "POST", "OPTIONS"},
			Headers: []string{"Origin", "Content-Type", "X-Auth-Token", "X-Requested-With", "Accept", "Authorization"},
		},
		Limits:  apps.DefaultLimits(),
		Log:     LogConfig{Level: "info", JSON: true},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("GOPUSHER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("GOPUSHER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid GOPUSHER_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("GOPUSHER_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid GOPUSHER_DEBUG: %w", err)
		}
		c.Debug = debug
	}
	if v := os.Getenv("GOPUSHER_ADAPTER_DRIVER"); v != "" {
		c.Adapter.Driver = v
	}
	if v := os.Getenv("GOPUSHER_REDIS_ADDR"); v != "" {
		c.Adapter.Redis.Addr = v
	}
	if v := os.Getenv("GOPUSHER_APP_MANAGER_DRIVER"); v != "" {
		c.AppManager.Driver = v
	}

	id, key, secret := os.Getenv("GOPUSHER_DEFAULT_APP_ID"), os.Getenv("GOPUSHER_DEFAULT_APP_KEY"), os.Getenv("GOPUSHER_DEFAULT_APP_SECRET")
	if id != "" || key != "" || secret != "" {
		if len(c.AppManager.Apps) == 0 {
			c.AppManager.Apps = append(c.AppManager.Apps, apps.App{Enabled: true})
		}
		app := &c.AppManager.Apps[0]
		if id != "" {
			app.ID = id
		}
		if key != "" {
			app.Key = key
		}
		if secret != "" {
			app.Secret = secret
		}
	}
	return nil
}

// Validate checks driver names and required settings
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}

	switch c.Adapter.Driver {
	case "local", "redis":
	default:
		return fmt.Errorf("unknown adapter driver %q", c.Adapter.Driver)
	}

	switch c.RateLimiter.Driver {
	case "local", "redis":
	default:
		return fmt.Errorf("unknown rate limiter driver %q", c.RateLimiter.Driver)
	}

	switch c.AppManager.Driver {
	case "array":
		for i, app := range c.AppManager.Apps {
			if app.ID == "" || app.Key == "" || app.Secret == "" {
				return fmt.Errorf("app %d: id, key and secret are required", i)
			}
		}
	case "bolt":
		if c.AppManager.Bolt.Path == "" {
			return fmt.Errorf("bolt app manager needs a path")
		}
	case "postgres":
		if c.AppManager.Postgres.DSN == "" {
			return fmt.Errorf("postgres app manager needs a dsn")
		}
	default:
		return fmt.Errorf("unknown app manager driver %q", c.AppManager.Driver)
	}
	return nil
}
