package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "trendlab/internal/errors"
	"trendlab/internal/market"
	"trendlab/internal/strategy/optimizer"
	"trendlab/internal/testutils"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "trendlab"}
	cfg.setDefaults()

	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, 10, cfg.MaxOpen)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=trendlab sslmode=disable", cfg.DSN())
}

func TestEmbeddedMigrations(t *testing.T) {
	src, err := iofs.New(migrationFiles, "migrations")
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	next, err := src.Next(first)
	require.NoError(t, err)
	assert.Equal(t, uint(2), next)

	r, _, err := src.ReadUp(first)
	require.NoError(t, err)
	defer r.Close()
	buf := make([]byte, 64)
	n, _ := r.Read(buf)
	assert.Contains(t, string(buf[:n]), "CREATE TABLE")
}

func TestNullHelpers(t *testing.T) {
	assert.Nil(t, nullTime(time.Time{}))
	now := time.Now()
	assert.Equal(t, now, nullTime(now))
	assert.Nil(t, nullJSON(nil))
	assert.Equal(t, `{"a":1}`, nullJSON([]byte(`{"a":1}`)))
}

// TestRepositories needs a live Postgres, e.g.
// TRENDLAB_TEST_DATABASE_HOST=localhost TRENDLAB_TEST_DATABASE_PASSWORD=secret
func TestRepositories(t *testing.T) {
	host := os.Getenv("TRENDLAB_TEST_DATABASE_HOST")
	if host == "" {
		t.Skip("TRENDLAB_TEST_DATABASE_HOST not set")
	}

	ctx := context.Background()
	db, err := Connect(ctx, Config{
		Host:     host,
		Port:     5432,
		User:     envOr("TRENDLAB_TEST_DATABASE_USER", "postgres"),
		Password: os.Getenv("TRENDLAB_TEST_DATABASE_PASSWORD"),
		DBName:   envOr("TRENDLAB_TEST_DATABASE_NAME", "trendlab_test"),
	})
	require.NoError(t, err)
	defer db.Close()

	migrator, err := NewMigrator(db)
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	version, err := migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	t.Run("trials", func(t *testing.T) {
		repo := NewTrialRepository(db.DB)
		info := optimizer.StudyInfo{
			ID: uuid.NewString(), Name: "it", Sampler: "tpe", Metric: optimizer.MetricSQN,
			Trials: 3, Workers: 1, CreatedAt: time.Now().UTC().Truncate(time.Second),
		}
		require.NoError(t, repo.SaveStudy(ctx, info))

		for n := 0; n < 3; n++ {
			trial := optimizer.Trial{
				ID: uuid.NewString(), Number: n, State: optimizer.TrialComplete,
				Params:    optimizer.ParameterSet{"ewmac1": float64(n + 1)},
				Objective: float64(n), Feasible: n != 2,
				StartedAt: time.Now(), FinishedAt: time.Now(),
			}
			require.NoError(t, repo.SaveTrial(ctx, info.ID, trial))
		}

		trials, err := repo.LoadTrials(ctx, info.ID)
		require.NoError(t, err)
		require.Len(t, trials, 3)
		assert.Equal(t, 2.0, trials[1].Params["ewmac1"])

		best, err := repo.BestTrial(ctx, info.ID)
		require.NoError(t, err)
		require.NotNil(t, best)
		assert.Equal(t, 1, best.Number)

		err = repo.SaveTrial(ctx, uuid.NewString(), optimizer.Trial{ID: uuid.NewString(), Params: optimizer.ParameterSet{}})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
	})

	t.Run("market data", func(t *testing.T) {
		repo := NewMarketDataRepository(db.DB)
		symbol := "TEST" + uuid.NewString()[:8]
		bars := testutils.TrendingBars(50, 100, 1)

		n, err := repo.Import(ctx, symbol, "4h", bars)
		require.NoError(t, err)
		assert.Equal(t, int64(50), n)

		// 重复导入不会产生重复数据
		n, err = repo.Import(ctx, symbol, "4h", bars)
		require.NoError(t, err)
		assert.Zero(t, n)

		feed, err := market.NewPostgresFeed(db.DB, market.PostgresConfig{Symbol: symbol, Interval: "4h"})
		require.NoError(t, err)
		loaded, err := feed.Load(ctx)
		require.NoError(t, err)
		require.Len(t, loaded, 50)
		assert.InDelta(t, bars[10].Close, loaded[10].Close, 1e-9)
		assert.True(t, bars[10].Time.Equal(loaded[10].Time))
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
