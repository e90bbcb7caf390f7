package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "trendlab/internal/errors"
	"trendlab/internal/logger"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRENDLAB_"

// EnvManager manages environment variable configuration
type EnvManager struct {
	prefix string
	errs   []string
}

// NewEnvManager creates a new environment variable manager
func NewEnvManager(prefix string) *EnvManager {
	if prefix == "" {
		prefix = EnvPrefix
	}
	return &EnvManager{prefix: prefix}
}

func (em *EnvManager) lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(em.prefix + strings.ToUpper(key))
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func (em *EnvManager) fail(key, value string) {
	em.errs = append(em.errs, em.prefix+strings.ToUpper(key)+"="+value)
}

// String overrides *dst when the variable is set.
func (em *EnvManager) String(key string, dst *string) {
	if value, ok := em.lookup(key); ok {
		*dst = value
	}
}

// Int overrides *dst when the variable is set.
func (em *EnvManager) Int(key string, dst *int) {
	value, ok := em.lookup(key)
	if !ok {
		return
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		em.fail(key, value)
		return
	}
	*dst = v
}

// Int64 overrides *dst when the variable is set.
func (em *EnvManager) Int64(key string, dst *int64) {
	value, ok := em.lookup(key)
	if !ok {
		return
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		em.fail(key, value)
		return
	}
	*dst = v
}

// Float overrides *dst when the variable is set.
func (em *EnvManager) Float(key string, dst *float64) {
	value, ok := em.lookup(key)
	if !ok {
		return
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		em.fail(key, value)
		return
	}
	*dst = v
}

// Bool overrides *dst when the variable is set.
func (em *EnvManager) Bool(key string, dst *bool) {
	value, ok := em.lookup(key)
	if !ok {
		return
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		em.fail(key, value)
		return
	}
	*dst = v
}

// Duration overrides *dst when the variable is set.
func (em *EnvManager) Duration(key string, dst *time.Duration) {
	value, ok := em.lookup(key)
	if !ok {
		return
	}
	v, err := time.ParseDuration(value)
	if err != nil {
		em.fail(key, value)
		return
	}
	*dst = v
}

// Apply applies every supported override to cfg. Malformed values are
// reported together.
func (em *EnvManager) Apply(cfg *Config) error {
	em.errs = nil

	em.String("APP_ENV", &cfg.App.Env)

	var level, format string
	em.String("LOG_LEVEL", &level)
	em.String("LOG_FORMAT", &format)
	if level != "" {
		cfg.Logging.Level = logger.LogLevel(strings.ToLower(level))
	}
	if format != "" {
		cfg.Logging.Format = logger.LogFormat(strings.ToLower(format))
	}
	em.String("LOG_OUTPUT", &cfg.Logging.Output)
	em.String("LOG_FILENAME", &cfg.Logging.Filename)

	em.String("DATA_SOURCE", &cfg.Data.Source)
	em.String("DATA_PATH", &cfg.Data.Path)
	em.String("DATA_SYMBOL", &cfg.Data.Symbol)
	em.String("DATA_INTERVAL", &cfg.Data.Interval)
	em.String("DATA_FROM", &cfg.Data.From)
	em.String("DATA_TO", &cfg.Data.To)

	em.Float("BROKER_CASH", &cfg.Broker.Cash)
	em.Float("BROKER_COMMISSION", &cfg.Broker.Commission)
	em.Float("BROKER_LEVERAGE", &cfg.Broker.Leverage)

	em.Int("STUDY_TRIALS", &cfg.Study.Trials)
	em.Int("STUDY_WORKERS", &cfg.Study.Workers)
	em.Duration("STUDY_TIMEOUT", &cfg.Study.Timeout)
	var sampler string
	em.String("STUDY_SAMPLER", &sampler)
	if sampler != "" {
		cfg.Study.Sampler.Name = sampler
	}
	em.Int64("STUDY_SEED", &cfg.Study.Sampler.Seed)

	em.Bool("DATABASE_ENABLED", &cfg.Database.Enabled)
	em.String("DATABASE_HOST", &cfg.Database.Host)
	em.Int("DATABASE_PORT", &cfg.Database.Port)
	em.String("DATABASE_USER", &cfg.Database.User)
	em.String("DATABASE_PASSWORD", &cfg.Database.Password)
	em.String("DATABASE_NAME", &cfg.Database.DBName)
	em.String("DATABASE_SSLMODE", &cfg.Database.SSLMode)

	em.Bool("REDIS_ENABLED", &cfg.Redis.Enabled)
	em.String("REDIS_ADDR", &cfg.Redis.Addr)
	em.String("REDIS_PASSWORD", &cfg.Redis.Password)
	em.Int("REDIS_DB", &cfg.Redis.DB)

	em.String("SERVER_HOST", &cfg.Server.Host)
	em.Int("SERVER_PORT", &cfg.Server.Port)

	em.Bool("SCHEDULE_ENABLED", &cfg.Schedule.Enabled)
	em.String("SCHEDULE_CRON", &cfg.Schedule.Cron)

	if len(em.errs) > 0 {
		return apperrors.New(apperrors.ErrCodeConfig, "malformed environment override").
			WithDetails(strings.Join(em.errs, ", "))
	}
	return nil
}
