package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countJob struct {
	runs  atomic.Int32
	block chan struct{}
	err   error
}

func (j *countJob) Name() string {
	return "count"
}

func (j *countJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		<-j.block
	}
	return j.err
}

func TestTriggerRunsScheduledJob(t *testing.T) {
	s := NewCronScheduler()
	job := &countJob{}
	require.NoError(t, s.AddJob(job, "0 3 * * *"))
	require.NoError(t, s.Trigger(context.Background(), "count"))
	require.Equal(t, int32(1), job.runs.Load())
	require.Error(t, s.Trigger(context.Background(), "missing"))

	s.Start(context.Background())
	defer s.Stop()
	next, ok := s.Next("count")
	require.True(t, ok)
	require.False(t, next.IsZero())
}

func TestAddJobRejectsBadSpec(t *testing.T) {
	s := NewCronScheduler()
	require.Error(t, s.AddJob(&countJob{}, "not a spec"))
}

func TestJobDoesNotOverlap(t *testing.T) {
	s := NewCronScheduler()
	job := &countJob{block: make(chan struct{})}
	require.NoError(t, s.AddJob(job, "*/5 * * * *"))

	done := make(chan error)
	go func() {
		done <- s.Trigger(context.Background(), "count")
	}()
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)
	require.ErrorIs(t, s.Trigger(context.Background(), "count"), errSkipped)
	close(job.block)
	require.NoError(t, <-done)
}

func TestTriggerReturnsJobError(t *testing.T) {
	s := NewCronScheduler()
	job := &countJob{err: errors.New("boom")}
	require.NoError(t, s.AddJob(job, "0 * * * *"))
	require.EqualError(t, s.Trigger(context.Background(), "count"), "boom")
}
