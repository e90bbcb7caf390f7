package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "trendlab/internal/errors"
	"trendlab/internal/testutils"
)

func TestAddTaskValidation(t *testing.T) {
	s := NewScheduler()
	defer s.Stop(context.Background())

	_, err := s.AddTask("bad", "not a cron", JobFunc(func(context.Context) error { return nil }))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfig))

	_, err = s.AddTask("nil", "@daily", nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfig))

	_, err = s.AddTask("seconds", "*/5 * * * * *", JobFunc(func(context.Context) error { return nil }))
	assert.Error(t, err, "six-field expressions are not accepted")
}

func TestTriggerRunsJob(t *testing.T) {
	s := NewScheduler()
	s.Start()
	defer s.Stop(context.Background())

	var runs int32
	id, err := s.AddTask("study", "0 0 * * *", JobFunc(func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}))
	require.NoError(t, err)

	task, err := s.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusPending, task.Status)
	assert.False(t, task.NextRunTime.IsZero())

	require.NoError(t, s.Trigger(id))
	testutils.WaitForCondition(t, func() bool {
		task, _ := s.GetTask(id)
		return task.Status == TaskStatusCompleted
	}, 2*time.Second, "task should complete")

	task, _ = s.GetTask(id)
	assert.Equal(t, 1, task.Runs)
	assert.EqualValues(t, 1, atomic.LoadInt32(&runs))
	assert.Empty(t, task.Error)
}

func TestTriggerWhileRunning(t *testing.T) {
	s := NewScheduler()

	release := make(chan struct{})
	started := make(chan struct{})
	id, err := s.AddTask("slow", "@hourly", JobFunc(func(ctx context.Context) error {
		close(started)
		<-release
		return errors.New("boom")
	}))
	require.NoError(t, err)

	require.NoError(t, s.Trigger(id))
	<-started

	err = s.Trigger(id)
	assert.ErrorIs(t, err, ErrTaskRunning)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRateLimit))

	close(release)
	testutils.WaitForCondition(t, func() bool {
		task, _ := s.GetTask(id)
		return task.Status == TaskStatusFailed
	}, 2*time.Second, "task should fail")

	task, _ := s.GetTask(id)
	assert.Equal(t, "boom", task.Error)
	require.NoError(t, s.Stop(context.Background()))
}

func TestStopCancelsJobs(t *testing.T) {
	s := NewScheduler()
	s.Start()

	started := make(chan struct{})
	id, err := s.AddTask("study", "@daily", JobFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, err)
	require.NoError(t, s.Trigger(id))
	<-started

	ctx, cancel := testutils.TimeoutContext(2 * time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	task, _ := s.GetTask(id)
	assert.Equal(t, TaskStatusFailed, task.Status)
	assert.Contains(t, task.Error, "context canceled")
}

func TestUnknownTask(t *testing.T) {
	s := NewScheduler()
	_, err := s.GetTask("nope")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
	assert.True(t, apperrors.IsCode(s.Trigger("nope"), apperrors.ErrCodeNotFound))
}

func TestListTasksSorted(t *testing.T) {
	s := NewScheduler()
	noop := JobFunc(func(context.Context) error { return nil })
	_, err := s.AddTask("b", "@daily", noop)
	require.NoError(t, err)
	_, err = s.AddTask("a", "@weekly", noop)
	require.NoError(t, err)

	tasks := s.ListTasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "a", tasks[0].Name)
	assert.Equal(t, "b", tasks[1].Name)
}
