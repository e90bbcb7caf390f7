package cache

import (
	"context"
	"sync"
	"time"

	apperrors "trendlab/internal/errors"
	"trendlab/internal/logger"
	"trendlab/internal/strategy/optimizer"
)

// Pinger reports whether a backend is reachable.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// FallbackConfig defines fallback configuration
type FallbackConfig struct {
	FailureThreshold    int           `json:"failure_threshold"`
	RecoveryThreshold   int           `json:"recovery_threshold"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	HealthCheckTimeout  time.Duration `json:"health_check_timeout"`
}

// DefaultFallbackConfig returns default fallback configuration
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		FailureThreshold:    3,
		RecoveryThreshold:   2,
		HealthCheckInterval: 30 * time.Second,
		HealthCheckTimeout:  5 * time.Second,
	}
}

// FallbackStore writes every trial to an in-memory store and to a primary
// store (normally Redis). After FailureThreshold consecutive primary
// failures it stops using the primary until RecoveryThreshold consecutive
// health checks succeed. Reads come from memory while in fallback mode.
type FallbackStore struct {
	primary optimizer.TrialStore
	memory  *optimizer.MemoryStore
	config  FallbackConfig
	logger  logger.Logger

	mu        sync.RWMutex
	fallback  bool
	failures  int
	successes int
}

// NewFallbackStore creates a new store with fallback support
func NewFallbackStore(primary optimizer.TrialStore, config FallbackConfig) *FallbackStore {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.RecoveryThreshold <= 0 {
		config.RecoveryThreshold = 1
	}
	if config.HealthCheckTimeout <= 0 {
		config.HealthCheckTimeout = DefaultFallbackConfig().HealthCheckTimeout
	}
	return &FallbackStore{
		primary: primary,
		memory:  optimizer.NewMemoryStore(),
		config:  config,
		logger:  logger.WithField("component", "trial_store"),
	}
}

// InFallback reports whether the primary is currently bypassed.
func (f *FallbackStore) InFallback() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fallback
}

// SaveStudy implements optimizer.TrialStore.
func (f *FallbackStore) SaveStudy(ctx context.Context, study optimizer.StudyInfo) error {
	if err := f.memory.SaveStudy(ctx, study); err != nil {
		return err
	}
	f.tryPrimary("save_study", func() error { return f.primary.SaveStudy(ctx, study) })
	return nil
}

// SaveTrial implements optimizer.TrialStore.
func (f *FallbackStore) SaveTrial(ctx context.Context, studyID string, trial optimizer.Trial) error {
	if err := f.memory.SaveTrial(ctx, studyID, trial); err != nil {
		return err
	}
	f.tryPrimary("save_trial", func() error { return f.primary.SaveTrial(ctx, studyID, trial) })
	return nil
}

// LoadTrials implements optimizer.TrialStore. A study unknown to memory is
// looked up in the primary, which is how a restarted process resumes.
func (f *FallbackStore) LoadTrials(ctx context.Context, studyID string) ([]optimizer.Trial, error) {
	if !f.InFallback() {
		trials, err := f.primary.LoadTrials(ctx, studyID)
		if err == nil {
			f.recordSuccess()
			return trials, nil
		}
		if !apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
			f.recordFailure("load_trials", err)
		}
	}
	return f.memory.LoadTrials(ctx, studyID)
}

func (f *FallbackStore) tryPrimary(op string, call func() error) {
	if f.InFallback() {
		return
	}
	if err := call(); err != nil {
		f.recordFailure(op, err)
		return
	}
	f.recordSuccess()
}

func (f *FallbackStore) recordFailure(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures++
	f.successes = 0
	f.logger.Warn("Primary trial store failed", "op", op, "error", err, "failures", f.failures)
	if !f.fallback && f.failures >= f.config.FailureThreshold {
		f.fallback = true
		f.logger.Warn("Trial store fallback enabled", "reason", op)
	}
}

func (f *FallbackStore) recordSuccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = 0
}

// CheckHealth pings the primary once and updates the fallback state.
func (f *FallbackStore) CheckHealth(ctx context.Context) {
	pinger, ok := f.primary.(Pinger)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, f.config.HealthCheckTimeout)
	defer cancel()

	if err := pinger.HealthCheck(ctx); err != nil {
		f.recordFailure("health_check", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = 0
	if !f.fallback {
		return
	}
	f.successes++
	if f.successes >= f.config.RecoveryThreshold {
		f.fallback = false
		f.successes = 0
		f.logger.Info("Trial store fallback disabled", "reason", "health_check_recovery")
	}
}

// StartHealthMonitoring runs CheckHealth on an interval until ctx is done.
func (f *FallbackStore) StartHealthMonitoring(ctx context.Context) {
	interval := f.config.HealthCheckInterval
	if interval <= 0 {
		interval = DefaultFallbackConfig().HealthCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.CheckHealth(ctx)
		}
	}
}
