package waiter

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-go-golems/chatlogic/pkg/chat"
)

// Registry is the per-conversation ordered collection of active waiters.
// It is the only structure shared by the dispatch path and the logic
// goroutine; every mutation happens under mu. dispatchMu serializes scans.
type Registry struct {
	mu      sync.Mutex
	waiters []*Waiter

	dispatchMu sync.Mutex

	log zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		log: log.With().Str("component", "waiters").Logger(),
	}
}

// Add registers w unless it is already registered and returns it.
func (r *Registry) Add(w *Waiter) *Waiter {
	if r == nil || w == nil {
		return w
	}
	r.mu.Lock()
	if !slices.Contains(r.waiters, w) {
		r.waiters = append(r.waiters, w)
	}
	n := len(r.waiters)
	r.mu.Unlock()
	r.log.Trace().Str("waiter", w.ID()).Bool("modal", w.IsModal()).Int("count", n).Msg("waiter added")
	return w
}

// Remove deregisters w. No-op when absent.
func (r *Registry) Remove(w *Waiter) {
	if r == nil || w == nil {
		return
	}
	r.mu.Lock()
	r.waiters = slices.DeleteFunc(r.waiters, func(x *Waiter) bool { return x == w })
	r.mu.Unlock()
}

// RemoveByID deregisters the waiter with the given id.
func (r *Registry) RemoveByID(id string) {
	if r == nil || id == "" {
		return
	}
	r.mu.Lock()
	r.waiters = slices.DeleteFunc(r.waiters, func(x *Waiter) bool { return x.ID() == id })
	r.mu.Unlock()
}

// RemoveByMessage deregisters every waiter bound to message id.
func (r *Registry) RemoveByMessage(id chat.MessageID) {
	if r == nil || id == chat.NoMessageID {
		return
	}
	r.mu.Lock()
	r.waiters = slices.DeleteFunc(r.waiters, func(x *Waiter) bool { return x.MessageID() == id })
	r.mu.Unlock()
}

// Clear drops every waiter.
func (r *Registry) Clear() {
	if r == nil {
		return
	}
	r.mu.Lock()
	n := len(r.waiters)
	r.waiters = nil
	r.mu.Unlock()
	if n > 0 {
		r.log.Debug().Int("dropped", n).Msg("waiters cleared")
	}
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// Contains reports whether w is registered.
func (r *Registry) Contains(w *Waiter) bool {
	if r == nil || w == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.waiters, w)
}

func (r *Registry) snapshot() []*Waiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.waiters)
}

// Dispatch offers ev to the registered waiters, newest first, and reports
// whether one of them claimed it.
//
// A claiming waiter is signalled; a modal claimant is also removed. An
// unmatched modal waiter ends the scan without claiming, so older waiters
// never observe events while a modal exchange is pending.
//
// Matchers run without mu held, so they may add or remove waiters. Waiters
// removed while the scan is in progress are skipped, and so is a waiter whose
// Wait gave up while its matcher was running.
func (r *Registry) Dispatch(ctx context.Context, ev chat.Event) bool {
	if r == nil || ev.IsZero() {
		return false
	}
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	ws := r.snapshot()
	for i := len(ws) - 1; i >= 0; i-- {
		w := ws[i]
		if !r.Contains(w) {
			continue
		}
		claimed := r.evaluate(ctx, w, ev)
		if claimed {
			if !w.claim() {
				// its Wait timed out or was cancelled while the matcher ran
				r.log.Trace().Str("waiter", w.ID()).Msg("abandoned waiter skipped")
				continue
			}
			if w.IsModal() {
				r.Remove(w)
			}
			r.log.Trace().Str("waiter", w.ID()).Bool("modal", w.IsModal()).Msg("event claimed")
			return true
		}
		if w.IsModal() {
			r.log.Trace().Str("waiter", w.ID()).Msg("event stopped at modal waiter")
			return false
		}
	}
	return false
}

func (r *Registry) evaluate(ctx context.Context, w *Waiter, ev chat.Event) (claimed bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Str("waiter", w.ID()).Msg("waiter matcher panicked")
			claimed = false
		}
	}()
	return Evaluate(ctx, w.Matcher(), ev)
}

// Wait blocks until w completes, timeout elapses or ctx is cancelled. A
// timeout or cancellation deregisters w and reports false; from then on w can
// no longer claim an event. A completion that races the deadline wins. timeout <= 0 waits
// without a deadline.
func (r *Registry) Wait(ctx context.Context, w *Waiter, timeout time.Duration) (bool, error) {
	if w == nil {
		return false, nil
	}
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-w.Done():
		return true, nil
	case <-expired:
		if !w.abandon() {
			return true, nil
		}
		r.Remove(w)
		return false, nil
	case <-ctx.Done():
		if !w.abandon() {
			return true, nil
		}
		r.Remove(w)
		return false, context.Cause(ctx)
	}
}
