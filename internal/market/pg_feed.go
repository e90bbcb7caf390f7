package market

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "trendlab/internal/errors"
)

// PostgresConfig represents Postgres feed configuration
type PostgresConfig struct {
	Symbol   string
	Interval string
	Range    Range
}

// PostgresFeed loads bars from the market_data table.
type PostgresFeed struct {
	db     *sql.DB
	config PostgresConfig
}

// NewPostgresFeed creates a new database data feed
func NewPostgresFeed(db *sql.DB, config PostgresConfig) (*PostgresFeed, error) {
	if err := validatePostgresConfig(db, config); err != nil {
		return nil, err
	}
	return &PostgresFeed{db: db, config: config}, nil
}

func validatePostgresConfig(db *sql.DB, config PostgresConfig) error {
	if db == nil {
		return apperrors.New(apperrors.ErrCodeConfig, "database handle is nil")
	}
	if config.Symbol == "" {
		return apperrors.New(apperrors.ErrCodeConfig, "symbol is required")
	}
	if config.Interval == "" {
		return apperrors.New(apperrors.ErrCodeConfig, "interval is required")
	}
	if !config.Range.From.IsZero() && !config.Range.To.IsZero() && config.Range.To.Before(config.Range.From) {
		return apperrors.New(apperrors.ErrCodeConfig, "todate before fromdate")
	}
	return nil
}

// Load loads historical klines in ascending time order
func (f *PostgresFeed) Load(ctx context.Context) ([]Bar, error) {
	query := `
		SELECT timestamp, open, high, low, close, volume
		FROM market_data
		WHERE symbol = $1 AND "interval" = $2
			AND ($3::timestamptz IS NULL OR timestamp >= $3)
			AND ($4::timestamptz IS NULL OR timestamp <= $4)
		ORDER BY timestamp ASC
	`

	rows, err := f.db.QueryContext(ctx, query,
		f.config.Symbol,
		f.config.Interval,
		nullTime(f.config.Range.From),
		nullTime(f.config.Range.To),
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "query market_data")
	}
	defer rows.Close()

	var bars []Bar
	for rows.Next() {
		var b Bar
		if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "scan market_data")
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "iterate market_data")
	}

	return bars, nil
}

// String identifies the feed in logs.
func (f *PostgresFeed) String() string {
	return fmt.Sprintf("postgres:%s/%s", f.config.Symbol, f.config.Interval)
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
