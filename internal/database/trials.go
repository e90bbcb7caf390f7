package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	apperrors "trendlab/internal/errors"
	"trendlab/internal/strategy/optimizer"
)

// TrialRepository persists studies and trials in Postgres.
type TrialRepository struct {
	db *sql.DB
}

// NewTrialRepository creates a new repository
func NewTrialRepository(db *sql.DB) *TrialRepository {
	return &TrialRepository{db: db}
}

// SaveStudy implements optimizer.TrialStore.
func (r *TrialRepository) SaveStudy(ctx context.Context, study optimizer.StudyInfo) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO studies (id, name, sampler, metric, trials, workers, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			sampler = EXCLUDED.sampler,
			metric = EXCLUDED.metric,
			trials = EXCLUDED.trials,
			workers = EXCLUDED.workers`,
		study.ID, study.Name, study.Sampler, string(study.Metric), study.Trials, study.Workers, study.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to save study").WithContext("study_id", study.ID)
	}
	return nil
}

// SaveTrial implements optimizer.TrialStore. Saving the same trial number
// again replaces the row.
func (r *TrialRepository) SaveTrial(ctx context.Context, studyID string, trial optimizer.Trial) error {
	params, err := json.Marshal(trial.Params)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to encode params")
	}
	var diagnostics []byte
	if trial.Diagnostics != nil {
		if diagnostics, err = json.Marshal(trial.Diagnostics); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to encode diagnostics")
		}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO trials (study_id, number, id, params, state, objective, feasible, reason,
			diagnostics, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (study_id, number) DO UPDATE SET
			id = EXCLUDED.id,
			params = EXCLUDED.params,
			state = EXCLUDED.state,
			objective = EXCLUDED.objective,
			feasible = EXCLUDED.feasible,
			reason = EXCLUDED.reason,
			diagnostics = EXCLUDED.diagnostics,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at`,
		studyID, trial.Number, trial.ID, string(params), string(trial.State), trial.Objective, trial.Feasible,
		trial.Reason, nullJSON(diagnostics), trial.Error, nullTime(trial.StartedAt), nullTime(trial.FinishedAt))
	if err != nil {
		var pqErr *pq.Error
		// 23503: foreign_key_violation
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return apperrors.New(apperrors.ErrCodeNotFound, "study not found").WithContext("study_id", studyID)
		}
		return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to save trial").
			WithContext("study_id", studyID).
			WithContext("trial", trial.Number)
	}
	return nil
}

// LoadTrials implements optimizer.TrialStore.
func (r *TrialRepository) LoadTrials(ctx context.Context, studyID string) ([]optimizer.Trial, error) {
	if _, err := r.LoadStudy(ctx, studyID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT number, id, params, state, objective, feasible, reason, diagnostics, error,
			started_at, finished_at
		FROM trials
		WHERE study_id = $1
		ORDER BY number ASC`, studyID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to query trials")
	}
	defer rows.Close()

	var trials []optimizer.Trial
	for rows.Next() {
		var (
			t                 optimizer.Trial
			params, diag      []byte
			state             string
			started, finished sql.NullTime
		)
		if err := rows.Scan(&t.Number, &t.ID, &params, &state, &t.Objective, &t.Feasible, &t.Reason,
			&diag, &t.Error, &started, &finished); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to scan trial")
		}
		if err := json.Unmarshal(params, &t.Params); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "corrupt trial params").WithContext("trial", t.Number)
		}
		if len(diag) > 0 {
			if err := json.Unmarshal(diag, &t.Diagnostics); err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "corrupt trial diagnostics").WithContext("trial", t.Number)
			}
		}
		t.State = optimizer.TrialState(state)
		t.StartedAt = started.Time
		t.FinishedAt = finished.Time
		trials = append(trials, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to iterate trials")
	}
	return trials, nil
}

// LoadStudy returns the stored study description.
func (r *TrialRepository) LoadStudy(ctx context.Context, studyID string) (optimizer.StudyInfo, error) {
	var (
		info   optimizer.StudyInfo
		metric string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, sampler, metric, trials, workers, created_at
		FROM studies WHERE id = $1`, studyID).
		Scan(&info.ID, &info.Name, &info.Sampler, &metric, &info.Trials, &info.Workers, &info.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return info, apperrors.New(apperrors.ErrCodeNotFound, "study not found").WithContext("study_id", studyID)
	}
	if err != nil {
		return info, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to load study")
	}
	info.Metric = optimizer.Metric(metric)
	return info, nil
}

// BestTrial returns the highest-objective feasible completed trial.
func (r *TrialRepository) BestTrial(ctx context.Context, studyID string) (*optimizer.Trial, error) {
	trials, err := r.LoadTrials(ctx, studyID)
	if err != nil {
		return nil, err
	}
	var best *optimizer.Trial
	for i := range trials {
		t := &trials[i]
		if t.State != optimizer.TrialComplete || !t.Feasible {
			continue
		}
		if best == nil || t.Objective > best.Objective {
			best = t
		}
	}
	return best, nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
