package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "trendlab/internal/errors"
	"trendlab/internal/logger"
)

// Listener is notified after every finished trial. Calls happen outside the
// study lock, possibly from several workers at once.
type Listener interface {
	OnTrial(study StudyInfo, trial Trial, best *Trial)
}

// Config represents study configuration
type Config struct {
	Name        string        `yaml:"name" json:"name" default:"multi_trend"`
	Trials      int           `yaml:"trials" json:"trials" default:"100" validate:"min=1"`
	Workers     int           `yaml:"workers" json:"workers" default:"1" validate:"min=1"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	Sampler     SamplerConfig `yaml:"sampler" json:"sampler"`
	Constraints Constraints   `yaml:"constraints" json:"constraints"`
}

// Study drives one parameter search.
type Study struct {
	info      StudyInfo
	config    Config
	space     Space
	sampler   Sampler
	evaluator Evaluator
	store     TrialStore
	listeners []Listener
	logger    logger.Logger
	perf      *logger.PerformanceLogger

	mu      sync.Mutex
	history []Trial
	best    *Trial
	next    int
	started time.Time
	done    time.Time
	stopped bool
}

// Option configures a Study.
type Option func(*Study)

// WithStore persists the study and each trial.
func WithStore(store TrialStore) Option {
	return func(s *Study) { s.store = store }
}

// WithListener registers a trial listener.
func WithListener(l Listener) Option {
	return func(s *Study) { s.listeners = append(s.listeners, l) }
}

// WithLogger sets the study logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Study) { s.logger = l }
}

// WithHistory seeds the study with trials from an earlier run. Numbering
// continues after the highest seeded trial.
func WithHistory(trials []Trial) Option {
	return func(s *Study) {
		for _, t := range trials {
			s.history = append(s.history, t)
			if t.Number >= s.next {
				s.next = t.Number + 1
			}
			s.updateBest(t)
		}
	}
}

// NewStudy creates a new study
func NewStudy(config Config, space Space, sampler Sampler, evaluator Evaluator, opts ...Option) (*Study, error) {
	if err := space.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeParameterInvalid, "invalid search space")
	}
	if sampler == nil || evaluator == nil {
		return nil, apperrors.New(apperrors.ErrCodeConfig, "study needs a sampler and an evaluator")
	}
	if config.Trials < 1 {
		return nil, apperrors.Newf(apperrors.ErrCodeConfig, "trials must be positive, got %d", config.Trials)
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.Name == "" {
		config.Name = "study"
	}

	s := &Study{
		info: StudyInfo{
			ID:        uuid.New().String(),
			Name:      config.Name,
			Sampler:   sampler.Name(),
			Metric:    config.Constraints.Metric,
			Trials:    config.Trials,
			Workers:   config.Workers,
			CreatedAt: time.Now(),
		},
		config:    config,
		space:     space,
		sampler:   sampler,
		evaluator: evaluator,
		logger:    logger.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("study_id", s.info.ID)
	s.perf = logger.NewPerformanceLogger(s.logger, time.Minute)

	return s, nil
}

// Info returns the study description.
func (s *Study) Info() StudyInfo { return s.info }

// Run evaluates trials on the configured number of workers until the trial
// budget is spent or ctx is done. Failed trials are recorded and the study
// continues; only sampler errors abort the run.
func (s *Study) Run(ctx context.Context) (*Summary, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}
	ctx = context.WithValue(ctx, logger.StudyIDKey, s.info.ID)

	if s.store != nil {
		if err := s.store.SaveStudy(ctx, s.info); err != nil {
			s.logger.Warn("Failed to persist study", "error", err)
		}
	}

	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()

	s.logger.Info("Study started",
		"name", s.info.Name,
		"sampler", s.info.Sampler,
		"trials", s.config.Trials,
		"workers", s.config.Workers,
	)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < s.config.Workers; w++ {
		g.Go(func() error {
			return s.work(gctx)
		})
	}
	err := g.Wait()

	s.mu.Lock()
	s.done = time.Now()
	s.stopped = ctx.Err() != nil && s.next < s.config.Trials
	s.mu.Unlock()

	summary := s.Summary()
	if err != nil {
		return summary, err
	}

	fields := []interface{}{"completed", summary.Completed, "failed", summary.Failed}
	if summary.Best != nil {
		fields = append(fields, "best_trial", summary.Best.Number, "best_value", summary.Best.Objective)
	}
	s.logger.Info("Study finished", fields...)
	return summary, nil
}

func (s *Study) work(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		number, params, err := s.claim()
		if err != nil {
			return err
		}
		if params == nil {
			return nil
		}

		trial := s.evaluate(ctx, number, params)
		best := s.record(trial)
		s.persist(ctx, trial)
		for _, l := range s.listeners {
			l.OnTrial(s.info, trial, best)
		}
	}
}

// claim reserves the next trial number and asks the sampler for its
// parameters. A nil set means the budget is spent.
func (s *Study) claim() (int, ParameterSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= s.config.Trials {
		return 0, nil, nil
	}
	number := s.next
	s.next++

	params, err := s.sampler.Suggest(s.space, s.completedLocked(), number)
	if err != nil {
		return 0, nil, apperrors.Wrap(err, apperrors.ErrCodeOptimizationFailed, "sampler failed").
			WithContext("trial", number)
	}
	for _, p := range s.space {
		params[p.Name] = p.Snap(params[p.Name])
	}
	return number, params, nil
}

func (s *Study) evaluate(ctx context.Context, number int, params ParameterSet) Trial {
	trial := Trial{
		ID:        uuid.New().String(),
		Number:    number,
		Params:    params,
		State:     TrialRunning,
		StartedAt: time.Now(),
	}

	tctx := context.WithValue(ctx, logger.TrialKey, number)
	result, err := s.evaluator.Evaluate(tctx, params.Clone())
	trial.FinishedAt = time.Now()

	log := s.logger.WithContext(tctx)
	switch {
	case err != nil:
		trial.State = TrialFailed
		trial.Error = err.Error()
		log.Warn("Trial failed", "error", err)
	case result == nil:
		trial.State = TrialFailed
		trial.Error = "evaluator returned no result"
		log.Warn("Trial failed", "error", trial.Error)
	default:
		trial.State = TrialComplete
		trial.Objective = result.Objective
		trial.Feasible = result.Feasible
		trial.Reason = result.Reason
		trial.Diagnostics = result.Diagnostics
		if !result.Feasible {
			log.Warn("Trial infeasible", "reason", result.Reason)
		}
		log.Debug("Trial finished", "objective", result.Objective, "params", params)
	}

	s.perf.LogPerformance("trial", trial.Duration(), map[string]interface{}{"trial": number})
	return trial
}

// record appends the trial to the history and returns the current best.
func (s *Study) record(trial Trial) *Trial {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, trial)
	s.updateBest(trial)
	return s.bestLocked()
}

func (s *Study) updateBest(trial Trial) {
	if trial.State != TrialComplete || !trial.Feasible {
		return
	}
	if s.best == nil || trial.Objective > s.best.Objective {
		t := trial
		s.best = &t
	}
}

func (s *Study) persist(ctx context.Context, trial Trial) {
	if s.store == nil {
		return
	}
	// 取消后仍然落盘已完成的试验
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.SaveTrial(pctx, s.info.ID, trial); err != nil {
		s.logger.Warn("Failed to persist trial", "trial", trial.Number, "error", err)
	}
}

func (s *Study) completedLocked() []Trial {
	out := make([]Trial, 0, len(s.history))
	for _, t := range s.history {
		if t.State == TrialComplete {
			out = append(out, t)
		}
	}
	return out
}

func (s *Study) bestLocked() *Trial {
	if s.best == nil {
		return nil
	}
	b := *s.best
	return &b
}

// Best returns the best feasible trial so far.
func (s *Study) Best() (*Trial, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bestLocked()
	return b, b != nil
}

// Trials returns a copy of the history in completion order.
func (s *Study) Trials() []Trial {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Trial, len(s.history))
	copy(out, s.history)
	return out
}

// Summary reports the study's current state.
func (s *Study) Summary() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := &Summary{
		Study:       s.info,
		Best:        s.bestLocked(),
		StartedAt:   s.started,
		FinishedAt:  s.done,
		Interrupted: s.stopped,
	}
	for _, t := range s.history {
		switch {
		case t.State == TrialFailed:
			summary.Failed++
		case t.State == TrialComplete:
			summary.Completed++
			if !t.Feasible {
				summary.Infeasible++
			}
		}
	}
	return summary
}

// ErrNoFeasibleTrial is returned by BestParams when nothing was feasible.
var ErrNoFeasibleTrial = errors.New("no feasible trial")

// BestParams returns the best parameter set.
func (s *Study) BestParams() (ParameterSet, error) {
	best, ok := s.Best()
	if !ok {
		return nil, fmt.Errorf("study %s: %w", s.info.ID, ErrNoFeasibleTrial)
	}
	return best.Params, nil
}
