// Package optimizer runs constrained black-box parameter searches: a
// sampler proposes parameter sets, an evaluator runs one backtest per set,
// and the study keeps the append-only history and the best feasible trial.
package optimizer

import (
	"context"
	"sort"
	"time"
)

// ParameterSet maps parameter names to values.
type ParameterSet map[string]float64

// Clone returns a copy of the set.
func (p ParameterSet) Clone() ParameterSet {
	out := make(ParameterSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Names returns the parameter names in sorted order.
func (p ParameterSet) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// TrialResult represents the outcome of one evaluation
type TrialResult struct {
	Objective   float64            `json:"objective"`
	Feasible    bool               `json:"feasible"`
	Reason      string             `json:"reason,omitempty"`
	Diagnostics map[string]float64 `json:"diagnostics,omitempty"`
}

// Evaluator runs one complete backtest for a parameter set.
type Evaluator interface {
	Evaluate(ctx context.Context, params ParameterSet) (*TrialResult, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, params ParameterSet) (*TrialResult, error)

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(ctx context.Context, params ParameterSet) (*TrialResult, error) {
	return f(ctx, params)
}

// TrialState represents the trial lifecycle state
type TrialState string

const (
	TrialRunning  TrialState = "running"
	TrialComplete TrialState = "complete"
	TrialFailed   TrialState = "failed"
)

// Trial represents one evaluated parameter set
type Trial struct {
	ID          string             `json:"id"`
	Number      int                `json:"number"`
	Params      ParameterSet       `json:"params"`
	State       TrialState         `json:"state"`
	Objective   float64            `json:"objective"`
	Feasible    bool               `json:"feasible"`
	Reason      string             `json:"reason,omitempty"`
	Diagnostics map[string]float64 `json:"diagnostics,omitempty"`
	Error       string             `json:"error,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
}

// Duration returns how long the evaluation took.
func (t Trial) Duration() time.Duration {
	if t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

// StudyInfo describes a study for storage and reporting
type StudyInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Sampler   string    `json:"sampler"`
	Metric    Metric    `json:"metric"`
	Trials    int       `json:"trials"`
	Workers   int       `json:"workers"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary represents the state of a study after (or during) a run
type Summary struct {
	Study       StudyInfo `json:"study"`
	Completed   int       `json:"completed"`
	Failed      int       `json:"failed"`
	Infeasible  int       `json:"infeasible"`
	Best        *Trial    `json:"best,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	Interrupted bool      `json:"interrupted"`
}
