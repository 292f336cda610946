package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"currency-conversion-service/internal/domain/model"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Source     SourceConfig     `mapstructure:"source"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Conversion ConversionConfig `mapstructure:"conversion"`
	Currencies CurrenciesConfig `mapstructure:"currencies"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// SourceConfig selects and tunes the upstream rate provider.
type SourceConfig struct {
	Name              string             `mapstructure:"name"`
	BaseURL           string             `mapstructure:"base_url"`
	APIKey            string             `mapstructure:"api_key"`
	Timeout           time.Duration      `mapstructure:"timeout"`
	MaxRetries        uint               `mapstructure:"max_retries"`
	RequestsPerSecond float64            `mapstructure:"requests_per_second"`
	Burst             int                `mapstructure:"burst"`
	BreakerFailures   uint32             `mapstructure:"breaker_failures"`
	BreakerCooldown   time.Duration      `mapstructure:"breaker_cooldown"`
	MockRates         map[string]float64 `mapstructure:"mock_rates"`
	MockLatency       time.Duration      `mapstructure:"mock_latency"`
}

type CacheConfig struct {
	FreshnessWindowSeconds int           `mapstructure:"freshness_window_seconds"`
	FetchTimeout           time.Duration `mapstructure:"fetch_timeout"`
	StalePolicy            string        `mapstructure:"stale_policy"`
	WarmPairs              []string      `mapstructure:"warm_pairs"`
}

func (c CacheConfig) FreshnessWindow() time.Duration {
	return time.Duration(c.FreshnessWindowSeconds) * time.Second
}

type ConversionConfig struct {
	DefaultMinorUnits int32            `mapstructure:"default_minor_units"`
	MinorUnits        map[string]int32 `mapstructure:"minor_units"`
}

type CurrenciesConfig struct {
	Supported []string `mapstructure:"supported"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// LoadConfig reads defaults, then the YAML file named by CONFIG_PATH (or
// configs/$DEPLOY_ENV.yaml), then environment variables. SERVER_PORT
// overrides server.port, CACHE_FRESHNESS_WINDOW_SECONDS overrides
// cache.freshness_window_seconds, and so on.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		deployEnv := os.Getenv("DEPLOY_ENV")
		if deployEnv == "" {
			deployEnv = "dev"
		}
		path = filepath.Join("configs", deployEnv+".yaml")
	}

	return Load(path)
}

// Load is LoadConfig with an explicit file path. A missing file is not an
// error; defaults and environment still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	v.SetDefault("source.name", "coindesk")
	v.SetDefault("source.base_url", "https://api.coindesk.com/v1/bpi/currentprice.json")
	v.SetDefault("source.api_key", "")
	v.SetDefault("source.timeout", 10*time.Second)
	v.SetDefault("source.max_retries", 3)
	v.SetDefault("source.requests_per_second", 5.0)
	v.SetDefault("source.burst", 5)
	v.SetDefault("source.breaker_failures", 5)
	v.SetDefault("source.breaker_cooldown", 30*time.Second)
	v.SetDefault("source.mock_latency", time.Duration(0))

	v.SetDefault("cache.freshness_window_seconds", 3600)
	v.SetDefault("cache.fetch_timeout", 10*time.Second)
	v.SetDefault("cache.stale_policy", model.StalePolicyServeStale.String())
	v.SetDefault("cache.warm_pairs", []string{})

	v.SetDefault("conversion.default_minor_units", 2)

	v.SetDefault("currencies.supported", []string{"USD", "EUR", "GBP", "INR", "JPY"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "logs/app.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)
}

// normalize upper-cases currency keys; viper lower-cases map keys.
func (c *Config) normalize() {
	c.Source.Name = strings.ToLower(strings.TrimSpace(c.Source.Name))
	c.Cache.StalePolicy = strings.ToLower(strings.TrimSpace(c.Cache.StalePolicy))

	if len(c.Source.MockRates) > 0 {
		rates := make(map[string]float64, len(c.Source.MockRates))
		for k, v := range c.Source.MockRates {
			rates[strings.ToUpper(k)] = v
		}
		c.Source.MockRates = rates
	}
	if len(c.Conversion.MinorUnits) > 0 {
		units := make(map[string]int32, len(c.Conversion.MinorUnits))
		for k, v := range c.Conversion.MinorUnits {
			units[strings.ToUpper(k)] = v
		}
		c.Conversion.MinorUnits = units
	}
	for i, code := range c.Currencies.Supported {
		c.Currencies.Supported[i] = strings.ToUpper(strings.TrimSpace(code))
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Cache.FreshnessWindowSeconds <= 0 {
		return fmt.Errorf("cache.freshness_window_seconds must be positive, got %d", c.Cache.FreshnessWindowSeconds)
	}
	if c.Cache.FetchTimeout <= 0 {
		return fmt.Errorf("cache.fetch_timeout must be positive, got %s", c.Cache.FetchTimeout)
	}
	if _, err := model.ParseStalePolicy(c.Cache.StalePolicy); err != nil {
		return fmt.Errorf("invalid cache.stale_policy: %w", err)
	}
	switch c.Source.Name {
	case "coindesk", "exchangerate":
		if c.Source.BaseURL == "" {
			return fmt.Errorf("source.base_url is required for source %q", c.Source.Name)
		}
	case "mock":
	default:
		return fmt.Errorf("unknown source.name %q", c.Source.Name)
	}
	if c.Conversion.DefaultMinorUnits < 0 {
		return fmt.Errorf("conversion.default_minor_units must not be negative")
	}
	if len(c.Currencies.Supported) == 0 {
		return fmt.Errorf("currencies.supported must not be empty")
	}
	return nil
}
