package optimizer

import (
	"context"
	"sort"
	"sync"

	apperrors "trendlab/internal/errors"
)

// TrialStore persists studies and their trials.
type TrialStore interface {
	SaveStudy(ctx context.Context, study StudyInfo) error
	SaveTrial(ctx context.Context, studyID string, trial Trial) error
	LoadTrials(ctx context.Context, studyID string) ([]Trial, error)
}

// MemoryStore keeps trials in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	studies map[string]StudyInfo
	trials  map[string]map[int]Trial
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		studies: make(map[string]StudyInfo),
		trials:  make(map[string]map[int]Trial),
	}
}

// SaveStudy stores the study description.
func (m *MemoryStore) SaveStudy(_ context.Context, study StudyInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.studies[study.ID] = study
	if _, ok := m.trials[study.ID]; !ok {
		m.trials[study.ID] = make(map[int]Trial)
	}
	return nil
}

// SaveTrial stores or replaces a trial by number.
func (m *MemoryStore) SaveTrial(_ context.Context, studyID string, trial Trial) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	trials, ok := m.trials[studyID]
	if !ok {
		return apperrors.New(apperrors.ErrCodeNotFound, "study not found").WithContext("study_id", studyID)
	}
	trial.Params = trial.Params.Clone()
	trials[trial.Number] = trial
	return nil
}

// LoadTrials returns the trials ordered by number.
func (m *MemoryStore) LoadTrials(_ context.Context, studyID string) ([]Trial, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	trials, ok := m.trials[studyID]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "study not found").WithContext("study_id", studyID)
	}

	out := make([]Trial, 0, len(trials))
	for _, t := range trials {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// Study returns a stored study description.
func (m *MemoryStore) Study(id string) (StudyInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.studies[id]
	return info, ok
}
