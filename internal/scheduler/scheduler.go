package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	apperrors "trendlab/internal/errors"
	"trendlab/internal/logger"
)

// Job is the work a task runs, typically one optimisation study.
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context) error

// Run calls f.
func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

// TaskStatus represents the status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task represents a scheduled task
type Task struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Schedule    string        `json:"schedule"`
	Status      TaskStatus    `json:"status"`
	Runs        int           `json:"runs"`
	LastRunTime time.Time     `json:"last_run_time,omitempty"`
	LastElapsed time.Duration `json:"last_elapsed,omitempty"`
	NextRunTime time.Time     `json:"next_run_time,omitempty"`
	Error       string        `json:"error,omitempty"`
}

type entry struct {
	task    Task
	job     Job
	cronID  cron.EntryID
	running bool
}

// ErrTaskRunning is returned by Trigger while the task is still running.
var ErrTaskRunning = errors.New("task is already running")

// Scheduler runs jobs on standard five-field cron expressions. A task never
// overlaps itself: a tick that arrives while the previous run is still
// going is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger logger.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a new scheduler
func NewScheduler() *Scheduler {
	log := logger.GetGlobalLogger().WithField("component", "scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cronLogger{log}), cron.WithChain(cron.Recover(cronLogger{log}))),
		logger:  log,
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddTask registers job under name on schedule and returns the task ID.
func (s *Scheduler) AddTask(name, schedule string, job Job) (string, error) {
	if job == nil {
		return "", apperrors.New(apperrors.ErrCodeConfig, "task needs a job")
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeConfig, "invalid cron expression").
			WithContext("schedule", schedule)
	}

	e := &entry{
		task: Task{
			ID:       uuid.NewString(),
			Name:     name,
			Schedule: schedule,
			Status:   TaskStatusPending,
		},
		job: job,
	}

	// 加锁后再注册, 保证回调能看到完整的 entry
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.cron.AddFunc(schedule, func() { s.run(e) })
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeConfig, "failed to add cron job")
	}
	e.cronID = id
	s.entries[e.task.ID] = e

	s.logger.Info("Task scheduled", "task", name, "schedule", schedule)
	return e.task.ID, nil
}

// Trigger runs the task now in the background.
func (s *Scheduler) Trigger(id string) error {
	s.mu.RLock()
	e, ok := s.entries[id]
	running := ok && e.running
	s.mu.RUnlock()

	if !ok {
		return apperrors.New(apperrors.ErrCodeNotFound, "task not found").WithContext("task_id", id)
	}
	if running {
		return apperrors.Wrap(ErrTaskRunning, apperrors.ErrCodeRateLimit, "cannot trigger task").WithContext("task_id", id)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(e)
	}()
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.ErrCodeTimeout, "scheduler did not stop in time")
	}
}

// run executes a task unless it is already running.
func (s *Scheduler) run(e *entry) {
	s.mu.Lock()
	if e.running {
		s.mu.Unlock()
		s.logger.Warn("Skipping tick, previous run still going", "task", e.task.Name)
		return
	}
	e.running = true
	e.task.Status = TaskStatusRunning
	e.task.LastRunTime = time.Now()
	s.mu.Unlock()

	start := time.Now()
	err := e.job.Run(s.ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	e.running = false
	e.task.Runs++
	e.task.LastElapsed = elapsed
	if err != nil {
		e.task.Status = TaskStatusFailed
		e.task.Error = err.Error()
		s.logger.Error("Task failed", "task", e.task.Name, "elapsed", elapsed, "error", err)
		return
	}
	e.task.Status = TaskStatusCompleted
	e.task.Error = ""
	s.logger.Info("Task completed", "task", e.task.Name, "elapsed", elapsed)
}

// GetTask gets a task by ID
func (s *Scheduler) GetTask(id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return Task{}, apperrors.New(apperrors.ErrCodeNotFound, "task not found").WithContext("task_id", id)
	}
	return s.snapshot(e), nil
}

// ListTasks lists all tasks by name
func (s *Scheduler) ListTasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]Task, 0, len(s.entries))
	for _, e := range s.entries {
		tasks = append(tasks, s.snapshot(e))
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks
}

// snapshot expects s.mu held.
func (s *Scheduler) snapshot(e *entry) Task {
	t := e.task
	t.NextRunTime = s.cron.Entry(e.cronID).Next
	return t
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(fmt.Sprintf("cron: %s", msg), append(keysAndValues, "error", err)...)
}
