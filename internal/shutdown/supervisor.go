// Package shutdown implements the structured-concurrency supervisor:
// a typed task registry sharing one cancellation signal and a join
// barrier, generalized from the teacher's worker-registry idiom
// (distributed-queue's App.workers / Run / Stop) into the
// spawn/spawn_guarded/cancel/shutdown contract the spec calls for.
package shutdown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// JoinDeadline bounds how long Shutdown waits for any one task before
// abandoning it.
const JoinDeadline = 10 * time.Second

// GuardedFunc is the shape of a task that receives the shared
// cancellation context.
type GuardedFunc func(ctx context.Context) error

// PlainFunc is the shape of a task with no cancellation awareness of
// its own; it is expected to exit on its own terms (or never, in which
// case Shutdown abandons it at the join deadline).
type PlainFunc func() error

// Result is the outcome of one spawned task, reported once Shutdown
// has finished joining.
type Result struct {
	Name      string
	Err       error
	Abandoned bool
}

// Supervisor owns every task's handle and the single cancellation
// signal shared across them. The zero value is not usable; construct
// with New.
type Supervisor struct {
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	wg          sync.WaitGroup
	results     []Result
	shutdownSet bool
	joinStarted bool
}

// New creates a Supervisor ready to accept spawned tasks.
func New(logger *zap.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Spawn starts body as a tracked goroutine with no cancellation token
// of its own.
func (s *Supervisor) Spawn(name string, body PlainFunc) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.runGuarded(name, func() error { return body() })
		s.record(Result{Name: name, Err: err})
	}()
}

// SpawnGuarded starts body(ctx) as a tracked goroutine, handing it the
// supervisor's shared cancellation context. Every spawn_guarded task
// observes the same context, so a single Cancel unblocks all of them.
func (s *Supervisor) SpawnGuarded(name string, body GuardedFunc) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.runGuarded(name, func() error { return body(s.ctx) })
		s.record(Result{Name: name, Err: err})
	}()
}

// runGuarded recovers a panicking task body and turns it into an error
// so that sibling tasks are unaffected.
func (s *Supervisor) runGuarded(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", name, r)
			if s.logger != nil {
				s.logger.Error("task panicked", zap.String("task", name), zap.Any("recover", r))
			}
		}
	}()
	return fn()
}

func (s *Supervisor) record(r Result) {
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()

	if r.Err != nil && s.logger != nil {
		s.logger.Warn("task exited with error", zap.String("task", r.Name), zap.Error(r.Err))
	}
}

// Cancel fires the shared cancellation signal exactly once. Safe to
// call multiple times or concurrently.
func (s *Supervisor) Cancel() {
	s.mu.Lock()
	alreadyShutdown := s.shutdownSet
	s.shutdownSet = true
	s.mu.Unlock()

	if !alreadyShutdown {
		s.cancel()
	}
}

// IsShutdown reports whether Cancel has fired.
func (s *Supervisor) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdownSet
}

// Context returns the shared cancellation context, for callers that
// need to observe it outside of a spawned task body (e.g. bootstrap
// wiring signal capture).
func (s *Supervisor) Context() context.Context {
	return s.ctx
}

// Shutdown fires cancellation, then waits for every spawned task to
// resolve, each bounded by JoinDeadline; tasks that exceed it are
// abandoned and logged at warn. Safe to call exactly once; later calls
// are no-ops.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	if s.joinStarted {
		s.mu.Unlock()
		return nil
	}
	s.joinStarted = true
	s.mu.Unlock()

	s.Cancel()

	joined := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(joined)
	}()

	select {
	case <-joined:
	case <-time.After(JoinDeadline):
		if s.logger != nil {
			s.logger.Warn("supervisor join deadline exceeded; abandoning remaining tasks")
		}
		s.mu.Lock()
		s.results = append(s.results, Result{Name: "<unresolved>", Abandoned: true})
		s.mu.Unlock()
	}

	return s.joinedError()
}

func (s *Supervisor) joinedError() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for _, r := range s.results {
		if r.Err != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", r.Name, r.Err))
		}
	}
	return err
}

// Results returns a snapshot of every task outcome recorded so far.
func (s *Supervisor) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, len(s.results))
	copy(out, s.results)
	return out
}
