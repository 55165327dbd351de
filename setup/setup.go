// Package setup loads engine configuration: a YAML file for economics and
// server tuning, environment variables (optionally from .env) for secrets
// and connection strings.
package setup

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EconomicConfig holds the trading and rating policy knobs every room
// inherits unless it overrides them.
type EconomicConfig struct {
	InitialBalance        float64 `yaml:"initialBalance"`
	InitialClout          float64 `yaml:"initialClout"`
	CloutK                float64 `yaml:"cloutK"`
	Supermajority         float64 `yaml:"supermajority"`
	DefaultLiquidityB     float64 `yaml:"defaultLiquidityB"`
	DefaultMinBet         float64 `yaml:"defaultMinBet"`
	DefaultMaxBet         float64 `yaml:"defaultMaxBet"`
	ResolutionWindowHours int     `yaml:"resolutionWindowHours"`
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	Port           int     `yaml:"port"`
	RateLimitRPS   float64 `yaml:"rateLimitRPS"`
	RateLimitBurst int     `yaml:"rateLimitBurst"`
}

// SchedulerConfig tunes the lifecycle tick loop.
type SchedulerConfig struct {
	TickSeconds int `yaml:"tickSeconds"`
}

// Config is the full runtime configuration.
type Config struct {
	Economics EconomicConfig  `yaml:"economics"`
	Server    ServerConfig    `yaml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// From environment, never from YAML.
	DatabaseURL string `yaml:"-"`
	JWTSecret   string `yaml:"-"`
	LogLevel    string `yaml:"-"`
}

// Defaults returns a config usable without any setup.yaml, matching the
// shipped file.
func Defaults() Config {
	return Config{
		Economics: EconomicConfig{
			InitialBalance:        1000,
			InitialClout:          1000,
			CloutK:                32,
			Supermajority:         0.75,
			DefaultLiquidityB:     100,
			DefaultMinBet:         10,
			DefaultMaxBet:         500,
			ResolutionWindowHours: 24,
		},
		Server: ServerConfig{
			Port:           8080,
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Scheduler: SchedulerConfig{TickSeconds: 5},
	}
}

// Load reads the YAML file at path (falling back to defaults when path is
// empty or missing) and overlays environment variables. A .env file in the
// working directory is honored when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load() // optional

	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	e := c.Economics
	if e.Supermajority <= 0.5 || e.Supermajority > 1 {
		return fmt.Errorf("setup: supermajority %.2f outside (0.5, 1]", e.Supermajority)
	}
	if e.DefaultLiquidityB <= 0 {
		return fmt.Errorf("setup: defaultLiquidityB must be positive, got %.2f", e.DefaultLiquidityB)
	}
	if e.DefaultMinBet <= 0 || e.DefaultMaxBet < e.DefaultMinBet {
		return fmt.Errorf("setup: bet limits [%.2f, %.2f] invalid", e.DefaultMinBet, e.DefaultMaxBet)
	}
	if e.ResolutionWindowHours <= 0 {
		return fmt.Errorf("setup: resolutionWindowHours must be positive, got %d", e.ResolutionWindowHours)
	}
	if e.CloutK <= 0 {
		return fmt.Errorf("setup: cloutK must be positive, got %.2f", e.CloutK)
	}
	if c.Scheduler.TickSeconds <= 0 {
		return fmt.Errorf("setup: tickSeconds must be positive, got %d", c.Scheduler.TickSeconds)
	}
	return nil
}

// TickInterval is the scheduler poll interval as a duration.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickSeconds) * time.Second
}
