package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result describes how a task ended.
type Result struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Panicked bool          `json:"panicked,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Task is a unit of side-effecting work.
type Task func(ctx context.Context) error

// Supervisor runs named tasks in their own goroutines. A panicking task is
// recovered and reported as a failure.
type Supervisor struct {
	ctx    context.Context
	logger *slog.Logger

	wg sync.WaitGroup

	mu      sync.Mutex
	running map[string]string // id -> name
	hooks   []func(Result)
}

// NewSupervisor creates a supervisor whose tasks inherit ctx.
func NewSupervisor(ctx context.Context, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		ctx:     ctx,
		running: make(map[string]string),
		logger:  logger.With("component", "dispatch.supervisor"),
	}
}

// OnResult registers fn to receive every task that finishes after the
// call. Hooks run in registration order on the task's goroutine.
func (s *Supervisor) OnResult(fn func(Result)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Go starts task and returns its id.
func (s *Supervisor) Go(name string, task Task) string {
	id := uuid.NewString()[:8]

	s.mu.Lock()
	s.running[id] = name
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(id, name, task)
	return id
}

func (s *Supervisor) run(id, name string, task Task) {
	defer s.wg.Done()
	start := time.Now()
	res := Result{ID: id, Name: name}

	func() {
		defer func() {
			if r := recover(); r != nil {
				res.Panicked = true
				res.Err = fmt.Errorf("panic: %v", r)
				s.logger.Error("task panicked", "task", name, "id", id, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		res.Err = task(s.ctx)
	}()

	res.Duration = time.Since(start)
	if res.Err != nil {
		res.Error = res.Err.Error()
	}

	s.mu.Lock()
	delete(s.running, id)
	hooks := s.hooks
	s.mu.Unlock()

	if res.Err == nil {
		s.logger.Debug("task done", "task", name, "id", id, "duration", res.Duration)
	}
	for _, fn := range hooks {
		fn(res)
	}
}

// Running returns the names of unfinished tasks.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.running))
	for _, n := range s.running {
		names = append(names, n)
	}
	return names
}

// Wait blocks until every task has finished or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d tasks still running: %w", len(s.Running()), ctx.Err())
	}
}
