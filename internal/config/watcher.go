package config

import (
	"context"
	"os"
	"sync"
	"time"

	apperrors "trendlab/internal/errors"
	"trendlab/internal/logger"
)

// ConfigUpdateCallback receives a freshly loaded and validated configuration
type ConfigUpdateCallback func(*Config) error

// ConfigWatcher polls the configuration file and reloads it when its
// modification time moves forward. An invalid file is logged and skipped;
// callbacks only ever see valid configurations.
type ConfigWatcher struct {
	configPath    string
	checkInterval time.Duration
	lastModTime   time.Time
	callbacks     []ConfigUpdateCallback
	logger        logger.Logger
	mu            sync.RWMutex
	running       bool
}

// NewConfigWatcher creates a new configuration watcher
func NewConfigWatcher(configPath string, checkInterval time.Duration) *ConfigWatcher {
	if checkInterval <= 0 {
		checkInterval = 10 * time.Second
	}
	w := &ConfigWatcher{
		configPath:    configPath,
		checkInterval: checkInterval,
		logger:        logger.WithField("config", configPath),
	}
	if stat, err := os.Stat(configPath); err == nil {
		w.lastModTime = stat.ModTime()
	}
	return w
}

// AddCallback adds a callback for configuration updates
func (w *ConfigWatcher) AddCallback(callback ConfigUpdateCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start blocks, polling until ctx is done.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("Starting configuration watcher", "interval", w.checkInterval)

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			w.logger.Info("Configuration watcher stopped")
			return ctx.Err()

		case <-ticker.C:
			if _, err := w.CheckAndReload(); err != nil {
				w.logger.Warn("Error checking configuration", "error", err)
			}
		}
	}
}

// CheckAndReload reloads the file if it changed and reports whether the
// callbacks ran.
func (w *ConfigWatcher) CheckAndReload() (bool, error) {
	stat, err := os.Stat(w.configPath)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeConfig, "failed to stat config file")
	}

	modTime := stat.ModTime()
	if !modTime.After(w.lastModTime) {
		return false, nil
	}

	newConfig, err := Load(w.configPath)
	// 无论成功与否都记录修改时间, 避免重复报错
	w.lastModTime = modTime
	if err != nil {
		return false, err
	}

	w.mu.RLock()
	callbacks := make([]ConfigUpdateCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, callback := range callbacks {
		if err := callback(newConfig); err != nil {
			w.logger.Warn("Configuration update callback error", "error", err)
		}
	}

	w.logger.Info("Configuration reloaded")
	return true, nil
}

// IsRunning returns whether the watcher is currently running
func (w *ConfigWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
