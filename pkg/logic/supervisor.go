// Package logic supervises the user-authored conversation task of one chat:
// it starts it on its own goroutine, cancels it cooperatively with a bounded
// grace period, and decides whether it may be restarted after it stopped.
package logic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/chatlogic/pkg/waiter"
)

type State int

const (
	Idle State = iota
	Running
	StoppedNormal
	StoppedError
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case StoppedNormal:
		return "stopped"
	case StoppedError:
		return "stopped-error"
	default:
		return "unknown"
	}
}

// Task is the conversation logic. It should return promptly once ctx is done.
type Task func(ctx context.Context, params string) error

// Policy controls restarts after the task stopped.
type Policy struct {
	RestartOnError bool
	// ErrorCeiling caps restarts after failures; -1 is unlimited.
	ErrorCeiling  int
	RestartOnExit bool
	// ExitCeiling caps restarts after normal exits; -1 is unlimited.
	ExitCeiling int
	// Delay is applied before a restart; negative disables it.
	Delay time.Duration
}

// DefaultPolicy mirrors the default chat options.
func DefaultPolicy() Policy {
	return Policy{
		RestartOnError: false,
		ErrorCeiling:   5,
		RestartOnExit:  true,
		ExitCeiling:    -1,
		Delay:          5 * time.Second,
	}
}

type Hooks struct {
	// OnFailure reports an error or panic of the task to the conversation.
	OnFailure func(ctx context.Context, err error)
	// AfterExit runs when the task returned normally, before the terminal
	// transition. Cancelled tasks skip it.
	AfterExit func(ctx context.Context)
	// OnExit runs after every terminal transition.
	OnExit func(state State)
}

// CancelError is the cancellation cause handed to the task context. It
// matches context.Canceled.
type CancelError struct {
	Reason string
}

func (e *CancelError) Error() string        { return "logic cancelled: " + e.Reason }
func (e *CancelError) Is(target error) bool { return target == context.Canceled }

// PanicError wraps a value the task panicked with.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("logic panicked: %v", e.Value) }

type outcome int

const (
	outcomeNormal outcome = iota
	outcomeError
	outcomeCancelled
)

// Supervisor owns the lifecycle of one conversation task.
type Supervisor struct {
	task  Task
	reg   *waiter.Registry
	hooks Hooks
	log   zerolog.Logger

	mu            sync.Mutex
	policy        Policy
	state         State
	errorRestarts int
	exitRestarts  int
	overruns      int
	lastErr       error
	lastReason    string

	// gen identifies the current run; a run whose gen is stale was detached.
	gen    uint64
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func NewSupervisor(task Task, policy Policy, reg *waiter.Registry, hooks Hooks, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		task:   task,
		reg:    reg,
		hooks:  hooks,
		log:    log.With().Str("component", "logic").Logger(),
		policy: policy,
		state:  Idle,
	}
}

func (s *Supervisor) SetPolicy(p Policy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

func (s *Supervisor) Policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

func (s *Supervisor) State() State {
	if s == nil {
		return Idle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) Running() bool { return s.State() == Running }

// Restarts is the total number of terminal transitions since the last
// forced start, including refused attempts past a ceiling.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorRestarts + s.exitRestarts
}

func (s *Supervisor) ErrorRestarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorRestarts
}

func (s *Supervisor) ExitRestarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitRestarts
}

// ErrorStopped reports whether the last run ended with an error or panic.
func (s *Supervisor) ErrorStopped() bool { return s.State() == StoppedError }

// LastError is the error the last run failed with, or nil.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// LastStopReason describes how the last run ended.
func (s *Supervisor) LastStopReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReason
}

// Overruns counts cancellations that exceeded their grace period.
func (s *Supervisor) Overruns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overruns
}

// Start runs the task unless it is already running or the restart policy
// refuses. force bypasses the policy and resets the restart counters. The
// task context derives from ctx. Start reports whether the task is running.
func (s *Supervisor) Start(ctx context.Context, force bool, params string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Running {
		return true
	}
	if force {
		s.errorRestarts = 0
		s.exitRestarts = 0
	} else if !s.admitLocked() {
		return false
	}

	var delay time.Duration
	if s.errorRestarts+s.exitRestarts > 0 && s.policy.Delay > 0 {
		delay = s.policy.Delay
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	s.gen++
	s.state = Running
	s.cancel = cancel
	s.done = make(chan struct{})
	s.lastErr = nil

	s.log.Info().Uint64("run", s.gen).Bool("force", force).Str("params", params).Dur("delay", delay).Msg("starting logic")
	go s.run(runCtx, cancel, s.gen, params, delay, s.done)
	return true
}

// admitLocked applies the restart policy to a stopped task.
func (s *Supervisor) admitLocked() bool {
	var (
		enabled bool
		ceiling int
		counter *int
	)
	switch s.state {
	case StoppedError:
		enabled, ceiling, counter = s.policy.RestartOnError, s.policy.ErrorCeiling, &s.errorRestarts
	case StoppedNormal:
		enabled, ceiling, counter = s.policy.RestartOnExit, s.policy.ExitCeiling, &s.exitRestarts
	default:
		return true
	}
	if !enabled {
		return false
	}
	if ceiling >= 0 && *counter >= ceiling {
		if *counter == ceiling {
			s.log.Error().Int("ceiling", ceiling).Str("last_state", s.state.String()).Msg("max logic restart attempts reached")
		}
		*counter++
		return false
	}
	return true
}

func (s *Supervisor) run(ctx context.Context, cancel context.CancelCauseFunc, gen uint64, params string, delay time.Duration, done chan struct{}) {
	defer close(done)
	defer cancel(nil)

	err := s.invoke(ctx, params, delay)

	kind := outcomeNormal
	switch {
	case ctx.Err() != nil:
		kind = outcomeCancelled
	case err != nil:
		kind = outcomeError
	}

	if !s.isCurrent(gen) {
		s.log.Warn().Uint64("run", gen).Err(err).Msg("detached logic run finished late, ignoring")
		return
	}

	hookCtx := context.WithoutCancel(ctx)
	switch kind {
	case outcomeNormal:
		if s.hooks.AfterExit != nil {
			s.safeHook("AfterExit", func() { s.hooks.AfterExit(hookCtx) })
		}
	case outcomeError:
		s.log.Error().Err(err).Uint64("run", gen).Msg("logic terminated by error")
		if s.hooks.OnFailure != nil {
			s.safeHook("OnFailure", func() { s.hooks.OnFailure(hookCtx, err) })
		}
	case outcomeCancelled:
	}

	reason := ""
	if kind == outcomeCancelled {
		reason = "cancelled"
		if cause := context.Cause(ctx); cause != nil {
			reason = cause.Error()
		}
	}
	s.terminate(gen, kind, err, reason)
}

// safeHook runs a hook on the logic goroutine; a panic is logged and the
// run still terminates normally.
func (s *Supervisor) safeHook(name string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Interface("panic", rec).Str("hook", name).Msg("supervisor hook panicked")
		}
	}()
	fn()
}

func (s *Supervisor) invoke(ctx context.Context, params string, delay time.Duration) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec}
		}
	}()
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return context.Cause(ctx)
		}
	}
	if s.task == nil {
		return errors.New("logic: no task")
	}
	return s.task(ctx, params)
}

func (s *Supervisor) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.state == Running
}

// terminate applies the terminal transition of run gen once. It reports false
// when the run was already detached.
func (s *Supervisor) terminate(gen uint64, kind outcome, err error, reason string) bool {
	s.mu.Lock()
	if s.gen != gen || s.state != Running {
		s.mu.Unlock()
		return false
	}
	switch kind {
	case outcomeError:
		s.state = StoppedError
		s.errorRestarts++
		s.lastErr = err
		s.lastReason = "error: " + err.Error()
	case outcomeCancelled:
		s.state = StoppedNormal
		s.exitRestarts++
		s.lastReason = reason
	default:
		s.state = StoppedNormal
		s.exitRestarts++
		s.lastReason = "exit"
	}
	s.cancel = nil
	state := s.state
	restarts := s.errorRestarts + s.exitRestarts
	s.mu.Unlock()

	s.reg.Clear()
	s.log.Info().Uint64("run", gen).Str("state", state.String()).Int("restarts", restarts).Msg("logic stopped")
	if s.hooks.OnExit != nil {
		s.safeHook("OnExit", func() { s.hooks.OnExit(state) })
	}
	return true
}

// Cancel asks the running task to stop and waits up to grace for it. A task
// that outlives grace is detached: the overrun is recorded and the terminal
// transition applied right away. Cancel reports whether the task ended
// within grace.
func (s *Supervisor) Cancel(reason string, grace time.Duration) bool {
	s.mu.Lock()
	if s.state != Running || s.cancel == nil {
		s.mu.Unlock()
		return true
	}
	gen, cancel, done := s.gen, s.cancel, s.done
	s.mu.Unlock()

	cancel(&CancelError{Reason: reason})

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
	}

	s.log.Error().Uint64("run", gen).Dur("grace", grace).Str("reason", reason).Msg("logic cancellation took too long")
	s.mu.Lock()
	if s.gen == gen && s.state == Running {
		s.overruns++
	}
	s.mu.Unlock()
	s.terminate(gen, outcomeCancelled, nil, "overrun: "+reason)
	return false
}

// Wait blocks until the current run finished or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	running := s.state == Running
	s.mu.Unlock()
	// a detached run no longer counts as current
	if done == nil || !running {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
