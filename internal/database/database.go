package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	apperrors "trendlab/internal/errors"
	"trendlab/internal/logger"
)

// DB represents the database connection
type DB struct {
	*sql.DB
	config Config
}

// Config represents database configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpen         int
	MaxIdle         int
	Timeout         time.Duration
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN returns the lib/pq keyword connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

func (c *Config) setDefaults() {
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxOpen <= 0 {
		c.MaxOpen = 10 // 默认最大连接数
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = 5 // 默认空闲连接数
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second // 默认连接超时
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = 15 * time.Minute
	}
}

// Connect opens the pool and pings it, retrying with a growing delay.
func Connect(ctx context.Context, cfg Config) (*DB, error) {
	cfg.setDefaults()
	log := logger.WithFields(map[string]interface{}{
		"host":   cfg.Host,
		"dbname": cfg.DBName,
	})

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBConnection, "failed to open database")
	}

	db.SetMaxOpenConns(cfg.MaxOpen)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	const maxRetries = 3
	var pingErr error
	for i := 0; i < maxRetries; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		pingErr = db.PingContext(pingCtx)
		cancel()
		if pingErr == nil {
			break
		}

		log.Warn("Database ping failed", "attempt", i+1, "max", maxRetries, "error", pingErr)
		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				db.Close()
				return nil, apperrors.Wrap(ctx.Err(), apperrors.ErrCodeDBConnection, "database connect interrupted")
			case <-time.After(time.Second * time.Duration(i+1)): // 递增延迟
			}
		}
	}

	if pingErr != nil {
		db.Close()
		return nil, apperrors.Wrap(pingErr, apperrors.ErrCodeDBConnection, "failed to ping database").
			WithContext("attempts", maxRetries).
			WithContext("dbname", cfg.DBName)
	}

	log.Info("Database connection established",
		"max_open", cfg.MaxOpen,
		"max_idle", cfg.MaxIdle,
		"max_lifetime", cfg.ConnMaxLifetime)

	return &DB{DB: db, config: cfg}, nil
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Config returns the database configuration
func (db *DB) Config() Config {
	return db.config
}

// HealthStatus returns the pool statistics with a ping result.
func (db *DB) HealthStatus(ctx context.Context) map[string]interface{} {
	stats := db.Stats()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pingErr := db.PingContext(ctx)

	status := map[string]interface{}{
		"healthy":              pingErr == nil,
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration":        stats.WaitDuration.String(),
	}
	if pingErr != nil {
		status["error"] = pingErr.Error()
	}
	return status
}
