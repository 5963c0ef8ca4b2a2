package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const envPrefix = "MATCHBOOK_"

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds every setting of the server. Values come from Default, then the
// yaml file, then the environment (MATCHBOOK_ prefixed, .env supported).
type Config struct {
	Server ServerConfig `yaml:"server" envPrefix:"SERVER_"`
	Engine EngineConfig `yaml:"engine" envPrefix:"ENGINE_"`
	Market MarketConfig `yaml:"market" envPrefix:"MARKET_"`
	Log    LogConfig    `yaml:"log" envPrefix:"LOG_"`
}

type ServerConfig struct {
	Address      string        `yaml:"address" env:"ADDRESS"`
	Port         int           `yaml:"port" env:"PORT"`
	Workers      int           `yaml:"workers" env:"WORKERS"`
	MaxSessions  int           `yaml:"max_sessions" env:"MAX_SESSIONS"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

type EngineConfig struct {
	InboxSize int `yaml:"inbox_size" env:"INBOX_SIZE"`
}

// MarketConfig describes the one instrument the book trades. Prices on the
// wire are ticks of 10^-PriceScale currency units.
type MarketConfig struct {
	Ticker     string `yaml:"ticker" env:"TICKER"`
	PriceScale int32  `yaml:"price_scale" env:"PRICE_SCALE"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Pretty bool   `yaml:"pretty" env:"PRETTY"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:      "0.0.0.0",
			Port:         9001,
			Workers:      10,
			MaxSessions:  100,
			ReadTimeout:  50 * time.Millisecond,
			WriteTimeout: time.Second,
		},
		Engine: EngineConfig{
			InboxSize: 1024,
		},
		Market: MarketConfig{
			Ticker:     "AAPL",
			PriceScale: 2,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply. A missing .env file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks configuration validity.
func (c Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidConfig, c.Server.Port)
	}
	if c.Server.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	if c.Server.MaxSessions <= 0 {
		return fmt.Errorf("%w: max_sessions must be positive", ErrInvalidConfig)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.Engine.InboxSize <= 0 {
		return fmt.Errorf("%w: inbox_size must be positive", ErrInvalidConfig)
	}
	if c.Market.PriceScale < 0 || c.Market.PriceScale > 9 {
		return fmt.Errorf("%w: price_scale %d out of range", ErrInvalidConfig, c.Market.PriceScale)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.Log.Level)
	}
	return nil
}
