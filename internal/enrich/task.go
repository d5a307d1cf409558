package enrich

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const (
	TaskRunning   = "running"
	TaskFinished  = "finished"
	TaskCancelled = "cancelled"
)

// Task is a background enrichment run for one owner. Ids submitted while
// it runs are queued and handled by the same task.
type Task struct {
	ID      string
	OwnerID string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	queue      []string
	queued     map[string]struct{}
	state      string
	passes     int
	analyzed   int
	startedAt  int64
	finishedAt int64
}

type TaskStatus struct {
	ID         string `json:"id"`
	OwnerID    string `json:"owner_id"`
	State      string `json:"state"`
	Passes     int    `json:"passes"`
	Analyzed   int    `json:"analyzed"`
	Queued     int    `json:"queued"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at,omitempty"`
}

func (t *Task) Cancel() {
	t.cancel()
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TaskStatus{
		ID:         t.ID,
		OwnerID:    t.OwnerID,
		State:      t.state,
		Passes:     t.passes,
		Analyzed:   t.analyzed,
		Queued:     len(t.queue),
		StartedAt:  t.startedAt,
		FinishedAt: t.finishedAt,
	}
}

func (t *Task) enqueue(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if _, ok := t.queued[id]; ok {
			continue
		}
		t.queued[id] = struct{}{}
		t.queue = append(t.queue, id)
	}
}

func (t *Task) take() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := t.queue
	t.queue = nil
	t.queued = make(map[string]struct{})
	return ids
}

// Start runs a background pass for ownerID over ids. When a pass is
// already running for the owner, ids are queued on it and the running
// task is returned with started=false. A task that was cancelled but has
// not exited yet takes no new ids; a fresh task replaces it.
func (s *Scheduler) Start(ownerID string, ids []string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.running[ownerID]; ok && t.ctx.Err() == nil {
		t.enqueue(ids)
		return t, false
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	t := &Task{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		queued:    make(map[string]struct{}),
		state:     TaskRunning,
		startedAt: s.now().Unix(),
	}
	t.enqueue(ids)
	s.running[ownerID] = t
	s.last[ownerID] = t
	s.wg.Add(1)
	go s.runTask(ctx, t)
	return t, true
}

func (s *Scheduler) runTask(ctx context.Context, t *Task) {
	defer s.wg.Done()
	defer close(t.done)
	defer t.cancel()
	logger := logutil.GetLogger(ctx).With(zap.String("owner_id", t.OwnerID), zap.String("task_id", t.ID))
	for {
		ids := t.take()
		if len(ids) > 0 && ctx.Err() == nil {
			n, err := s.Run(ctx, t.OwnerID, ids)
			if err != nil {
				logger.Warn("enrichment pass aborted", zap.Error(err))
			}
			t.mu.Lock()
			t.passes++
			t.analyzed += n
			t.mu.Unlock()
			continue
		}
		s.mu.Lock()
		t.mu.Lock()
		if len(t.queue) > 0 && ctx.Err() == nil {
			t.mu.Unlock()
			s.mu.Unlock()
			continue
		}
		t.state = TaskFinished
		if ctx.Err() != nil {
			t.state = TaskCancelled
		}
		t.finishedAt = s.now().Unix()
		t.mu.Unlock()
		if s.running[t.OwnerID] == t {
			delete(s.running, t.OwnerID)
		}
		s.mu.Unlock()
		logger.Info("enrichment task exited", zap.String("state", t.state))
		return
	}
}

// Task returns the running or most recent task of ownerID.
func (s *Scheduler) Task(ownerID string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.last[ownerID]
	return t, ok
}

func (s *Scheduler) Cancel(ownerID string) bool {
	s.mu.Lock()
	t, ok := s.running[ownerID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	t.Cancel()
	return true
}

// Forget drops the task history of ownerID, cancelling a running task.
func (s *Scheduler) Forget(ownerID string) {
	s.mu.Lock()
	t, ok := s.running[ownerID]
	delete(s.last, ownerID)
	s.mu.Unlock()
	if ok {
		t.Cancel()
	}
}

// Shutdown cancels every running task and waits for them to exit.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.baseCancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
