package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "trendlab/internal/errors"
	"trendlab/internal/logger"
	"trendlab/internal/strategy/optimizer"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "trendlab"

// Config represents Redis configuration
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	TTL      time.Duration
	Prefix   string
}

// NewRedisClient opens a client and checks the connection.
func NewRedisClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrCodeCacheConnection, "failed to connect to Redis").
			WithContext("addr", cfg.Addr)
	}

	logger.Info("Redis connection established", "addr", cfg.Addr, "db", cfg.DB)
	return client, nil
}

// RedisTrialStore keeps study history in Redis: one JSON string per study
// and one hash per study mapping trial number to the JSON trial.
type RedisTrialStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisTrialStore creates a store over client. A zero ttl keeps keys
// forever.
func NewRedisTrialStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisTrialStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisTrialStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisTrialStore) studyKey(id string) string {
	return r.prefix + ":study:" + id
}

func (r *RedisTrialStore) trialsKey(id string) string {
	return r.prefix + ":study:" + id + ":trials"
}

func (r *RedisTrialStore) indexKey() string {
	return r.prefix + ":studies"
}

// SaveStudy implements optimizer.TrialStore.
func (r *RedisTrialStore) SaveStudy(ctx context.Context, study optimizer.StudyInfo) error {
	data, err := json.Marshal(study)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to encode study")
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.studyKey(study.ID), data, r.ttl)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(study.CreatedAt.Unix()), Member: study.ID})
		return nil
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeCacheOperation, "failed to save study").
			WithContext("study_id", study.ID)
	}
	return nil
}

// SaveTrial implements optimizer.TrialStore. Saving a trial number again
// replaces it.
func (r *RedisTrialStore) SaveTrial(ctx context.Context, studyID string, trial optimizer.Trial) error {
	exists, err := r.client.Exists(ctx, r.studyKey(studyID)).Result()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeCacheOperation, "failed to check study")
	}
	if exists == 0 {
		return apperrors.New(apperrors.ErrCodeNotFound, "study not found").WithContext("study_id", studyID)
	}

	data, err := json.Marshal(trial)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to encode trial")
	}

	key := r.trialsKey(studyID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, strconv.Itoa(trial.Number), data)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeCacheOperation, "failed to save trial").
			WithContext("study_id", studyID).
			WithContext("trial", trial.Number)
	}
	return nil
}

// LoadTrials implements optimizer.TrialStore.
func (r *RedisTrialStore) LoadTrials(ctx context.Context, studyID string) ([]optimizer.Trial, error) {
	if _, err := r.LoadStudy(ctx, studyID); err != nil {
		return nil, err
	}

	fields, err := r.client.HGetAll(ctx, r.trialsKey(studyID)).Result()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeCacheOperation, "failed to load trials")
	}

	trials := make([]optimizer.Trial, 0, len(fields))
	for field, raw := range fields {
		var trial optimizer.Trial
		if err := json.Unmarshal([]byte(raw), &trial); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeCacheOperation, "corrupt trial").
				WithContext("study_id", studyID).
				WithContext("field", field)
		}
		trials = append(trials, trial)
	}
	sort.Slice(trials, func(i, j int) bool { return trials[i].Number < trials[j].Number })
	return trials, nil
}

// LoadStudy returns the stored study description.
func (r *RedisTrialStore) LoadStudy(ctx context.Context, studyID string) (optimizer.StudyInfo, error) {
	var info optimizer.StudyInfo

	raw, err := r.client.Get(ctx, r.studyKey(studyID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return info, apperrors.New(apperrors.ErrCodeNotFound, "study not found").WithContext("study_id", studyID)
	}
	if err != nil {
		return info, apperrors.Wrap(err, apperrors.ErrCodeCacheOperation, "failed to load study")
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return info, apperrors.Wrap(err, apperrors.ErrCodeCacheOperation, "corrupt study").WithContext("study_id", studyID)
	}
	return info, nil
}

// RecentStudies returns up to n study IDs, newest first.
func (r *RedisTrialStore) RecentStudies(ctx context.Context, n int64) ([]string, error) {
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, n-1).Result()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeCacheOperation, "failed to list studies")
	}
	return ids, nil
}

// HealthCheck performs a health check on Redis
func (r *RedisTrialStore) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
