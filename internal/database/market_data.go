package database

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	apperrors "trendlab/internal/errors"
	"trendlab/internal/market"
)

// MarketDataRepository writes bars into the market_data table read by
// market.PostgresFeed.
type MarketDataRepository struct {
	db *sql.DB
}

// NewMarketDataRepository creates a new repository
func NewMarketDataRepository(db *sql.DB) *MarketDataRepository {
	return &MarketDataRepository{db: db}
}

// Import bulk-loads bars for symbol/interval with COPY through a staging
// table, skipping bars already present. It returns the number of new rows.
func (r *MarketDataRepository) Import(ctx context.Context, symbol, interval string, bars []market.Bar) (int64, error) {
	if err := market.Validate(bars); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeDBConnection, "failed to begin import")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		CREATE TEMP TABLE market_data_import (LIKE market_data INCLUDING DEFAULTS) ON COMMIT DROP`); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to create staging table")
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("market_data_import",
		"symbol", "interval", "timestamp", "open", "high", "low", "close", "volume"))
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to prepare copy")
	}
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, interval, b.Time, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			stmt.Close()
			return 0, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to copy bar").WithContext("time", b.Time)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return 0, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to flush copy")
	}
	if err := stmt.Close(); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to close copy")
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO market_data
		SELECT * FROM market_data_import
		ON CONFLICT (symbol, "interval", timestamp) DO NOTHING`)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to merge bars")
	}
	inserted, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to commit import")
	}
	return inserted, nil
}

// Count returns how many bars are stored for symbol/interval.
func (r *MarketDataRepository) Count(ctx context.Context, symbol, interval string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM market_data WHERE symbol = $1 AND "interval" = $2`, symbol, interval).Scan(&n)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to count bars")
	}
	return n, nil
}
