package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "trendlab/internal/errors"
	"trendlab/internal/strategy/optimizer"
)

// flakyStore fails every call while down is set.
type flakyStore struct {
	*optimizer.MemoryStore
	mu    sync.Mutex
	down  bool
	calls int
}

func (f *flakyStore) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.down {
		return errors.New("connection refused")
	}
	return nil
}

func (f *flakyStore) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *flakyStore) SaveStudy(ctx context.Context, s optimizer.StudyInfo) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.MemoryStore.SaveStudy(ctx, s)
}

func (f *flakyStore) SaveTrial(ctx context.Context, id string, t optimizer.Trial) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.MemoryStore.SaveTrial(ctx, id, t)
}

func (f *flakyStore) LoadTrials(ctx context.Context, id string) ([]optimizer.Trial, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.MemoryStore.LoadTrials(ctx, id)
}

func (f *flakyStore) HealthCheck(context.Context) error { return f.err() }

func study() optimizer.StudyInfo {
	return optimizer.StudyInfo{ID: uuid.NewString(), Name: "test", Sampler: "random", CreatedAt: time.Now()}
}

func trial(n int) optimizer.Trial {
	return optimizer.Trial{
		ID:        uuid.NewString(),
		Number:    n,
		Params:    optimizer.ParameterSet{"ewmac1": float64(n)},
		State:     optimizer.TrialComplete,
		Objective: float64(n) / 10,
		Feasible:  true,
	}
}

func TestFallbackStoreWritesThrough(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{MemoryStore: optimizer.NewMemoryStore()}
	store := NewFallbackStore(primary, DefaultFallbackConfig())

	s := study()
	require.NoError(t, store.SaveStudy(ctx, s))
	require.NoError(t, store.SaveTrial(ctx, s.ID, trial(0)))
	require.NoError(t, store.SaveTrial(ctx, s.ID, trial(1)))

	fromPrimary, err := primary.MemoryStore.LoadTrials(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, fromPrimary, 2)

	loaded, err := store.LoadTrials(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
	assert.False(t, store.InFallback())
}

func TestFallbackStoreSwitchesAndRecovers(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{MemoryStore: optimizer.NewMemoryStore()}
	config := DefaultFallbackConfig()
	config.FailureThreshold = 2
	config.RecoveryThreshold = 2
	store := NewFallbackStore(primary, config)

	s := study()
	require.NoError(t, store.SaveStudy(ctx, s))

	primary.setDown(true)
	// 主存储故障时写入仍然成功
	require.NoError(t, store.SaveTrial(ctx, s.ID, trial(0)))
	assert.False(t, store.InFallback())
	require.NoError(t, store.SaveTrial(ctx, s.ID, trial(1)))
	assert.True(t, store.InFallback())

	calls := primary.calls
	require.NoError(t, store.SaveTrial(ctx, s.ID, trial(2)))
	assert.Equal(t, calls, primary.calls, "primary bypassed in fallback mode")

	loaded, err := store.LoadTrials(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, loaded, 3)

	primary.setDown(false)
	store.CheckHealth(ctx)
	assert.True(t, store.InFallback())
	store.CheckHealth(ctx)
	assert.False(t, store.InFallback())
}

func TestFallbackStoreUnknownStudy(t *testing.T) {
	store := NewFallbackStore(&flakyStore{MemoryStore: optimizer.NewMemoryStore()}, DefaultFallbackConfig())

	_, err := store.LoadTrials(context.Background(), "missing")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
	assert.False(t, store.InFallback())

	err = store.SaveTrial(context.Background(), "missing", trial(0))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestStudyUsesFallbackStore(t *testing.T) {
	primary := &flakyStore{MemoryStore: optimizer.NewMemoryStore()}
	store := NewFallbackStore(primary, DefaultFallbackConfig())

	config := optimizer.Config{
		Name:        "fallback",
		Trials:      5,
		Workers:     1,
		Sampler:     optimizer.SamplerConfig{Name: "random", Seed: 1},
		Constraints: optimizer.DefaultConstraints(),
	}
	space := optimizer.Space{{Name: "x", Kind: optimizer.KindInt, Low: 0, High: 9, Step: 1}}
	sampler, err := optimizer.NewSampler(config.Sampler)
	require.NoError(t, err)
	eval := optimizer.EvaluatorFunc(func(_ context.Context, p optimizer.ParameterSet) (*optimizer.TrialResult, error) {
		return &optimizer.TrialResult{Objective: p["x"], Feasible: true}, nil
	})

	study, err := optimizer.NewStudy(config, space, sampler, eval, optimizer.WithStore(store))
	require.NoError(t, err)
	_, err = study.Run(context.Background())
	require.NoError(t, err)

	trials, err := primary.MemoryStore.LoadTrials(context.Background(), study.Info().ID)
	require.NoError(t, err)
	assert.Len(t, trials, 5)
}

// TestRedisTrialStore needs a live server, e.g.
// TRENDLAB_TEST_REDIS_ADDR=localhost:6379 go test ./internal/cache/
func TestRedisTrialStore(t *testing.T) {
	addr := os.Getenv("TRENDLAB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TRENDLAB_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	client, err := NewRedisClient(ctx, Config{Addr: addr, PoolSize: 2})
	require.NoError(t, err)
	defer client.Close()

	prefix := "trendlab_test_" + uuid.NewString()
	store := NewRedisTrialStore(client, prefix, time.Minute)
	require.NoError(t, store.HealthCheck(ctx))

	s := study()
	require.NoError(t, store.SaveStudy(ctx, s))
	for _, n := range []int{2, 0, 1} {
		require.NoError(t, store.SaveTrial(ctx, s.ID, trial(n)))
	}

	info, err := store.LoadStudy(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Name, info.Name)

	trials, err := store.LoadTrials(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, trials, 3)
	for i, tr := range trials {
		assert.Equal(t, i, tr.Number)
		assert.Equal(t, float64(i), tr.Params["ewmac1"])
	}

	ids, err := store.RecentStudies(ctx, 10)
	require.NoError(t, err)
	assert.Contains(t, ids, s.ID)

	_, err = store.LoadTrials(ctx, "missing")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
	err = store.SaveTrial(ctx, "missing", trial(0))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))

	client.Del(ctx, store.studyKey(s.ID), store.trialsKey(s.ID), store.indexKey())
}
