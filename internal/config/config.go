package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apperrors "trendlab/internal/errors"
	"trendlab/internal/logger"
	"trendlab/internal/market"
	"trendlab/internal/strategy/backtest"
	"trendlab/internal/strategy/optimizer"
	"trendlab/internal/strategy/trend"
)

// Config represents the application configuration
type Config struct {
	App      AppConfig        `yaml:"app"`
	Logging  logger.Config    `yaml:"logging"`
	Data     DataConfig       `yaml:"data"`
	Broker   backtest.Config  `yaml:"broker"`
	Strategy trend.Params     `yaml:"strategy"`
	Study    optimizer.Config `yaml:"study"`
	Database DatabaseConfig   `yaml:"database"`
	Redis    RedisConfig      `yaml:"redis"`
	Server   ServerConfig     `yaml:"server"`
	Schedule ScheduleConfig   `yaml:"schedule"`
}

// AppConfig represents application configuration
type AppConfig struct {
	Name    string `yaml:"name" default:"trendlab"`
	Version string `yaml:"version" default:"0.1.0"`
	Env     string `yaml:"env" default:"development" validate:"oneof=development test production"`
}

// Data sources.
const (
	SourceCSV      = "csv"
	SourcePostgres = "postgres"
)

// DataConfig selects where bars come from and the window to load.
type DataConfig struct {
	Source     string `yaml:"source" default:"csv" validate:"oneof=csv postgres"`
	Path       string `yaml:"path"`
	TimeLayout string `yaml:"time_layout" default:"2006-01-02 15:04:05"`
	Symbol     string `yaml:"symbol"`
	Interval   string `yaml:"interval" default:"4h"`
	From       string `yaml:"from"`
	To         string `yaml:"to"`
}

// dateLayouts are accepted for the from/to bounds.
var dateLayouts = []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339}

// ParseDate parses a from/to bound. An empty string is an open bound.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// Range returns the configured window.
func (d DataConfig) Range() (market.Range, error) {
	from, err := ParseDate(d.From)
	if err != nil {
		return market.Range{}, err
	}
	to, err := ParseDate(d.To)
	if err != nil {
		return market.Range{}, err
	}
	// 日期形式的截止时间包含当天全部K线
	if !to.IsZero() && len(strings.TrimSpace(d.To)) == len("2006-01-02") {
		to = to.Add(24*time.Hour - time.Nanosecond)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return market.Range{}, fmt.Errorf("to %s is before from %s", d.To, d.From)
	}
	return market.Range{From: from, To: to}, nil
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host" default:"localhost"`
	Port     int           `yaml:"port" default:"5432" validate:"min=1,max=65535"`
	User     string        `yaml:"user" default:"postgres"`
	Password string        `yaml:"password"`
	DBName   string        `yaml:"dbname" default:"trendlab"`
	SSLMode  string        `yaml:"sslmode" default:"disable" validate:"oneof=disable require verify-ca verify-full"`
	MaxOpen  int           `yaml:"max_open" default:"10" validate:"min=1"`
	MaxIdle  int           `yaml:"max_idle" default:"5" validate:"min=0"`
	Timeout  time.Duration `yaml:"timeout" default:"5s"`
	Migrate  bool          `yaml:"migrate" default:"true"`
}

// DSN returns the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode, int(d.Timeout.Seconds()))
}

// URL returns the connection string in URL form, as golang-migrate expects.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr" default:"localhost:6379"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"min=0"`
	PoolSize int           `yaml:"pool_size" default:"10" validate:"min=1"`
	TTL      time.Duration `yaml:"ttl" default:"168h"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string          `yaml:"host" default:"0.0.0.0"`
	Port         int             `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration   `yaml:"read_timeout" default:"15s"`
	WriteTimeout time.Duration   `yaml:"write_timeout" default:"15s"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RateLimitConfig represents rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" default:"true"`
	RequestsPerSecond float64 `yaml:"requests_per_second" default:"20" validate:"gt=0"`
	Burst             int     `yaml:"burst" default:"40" validate:"min=1"`
}

// ScheduleConfig re-runs the study on a cron expression.
type ScheduleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron" default:"0 0 * * *"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		// tags are static, this only fails on a programming error
		panic(err)
	}
	return &cfg
}

// Load loads configuration: .env first (if present), then defaults, the
// YAML file (if filename is not empty), TRENDLAB_* environment overrides,
// and finally validation.
func Load(filename string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfig, "failed to load .env")
	}

	var data []byte
	if filename != "" {
		var err error
		data, err = os.ReadFile(filename)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfig, "failed to read config file").
				WithContext("path", filename)
		}
	}
	return Parse(data)
}

// Parse builds a configuration from YAML content.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfig, "failed to parse config file")
		}
	}

	if err := NewEnvManager(EnvPrefix).Apply(cfg); err != nil {
		return nil, err
	}
	if err := NewValidator(cfg).Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
