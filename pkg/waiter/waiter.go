// Package waiter routes inbound chat events to pending conversational steps.
//
// A Waiter is a provisional subscription: a Matcher plus a completion signal.
// Waiters live in a per-conversation Registry. Dispatch offers each event to
// the registered waiters from the most recently added to the oldest and stops
// at the first claimant. Modal waiters are exclusive: an unmatched modal waiter
// still stops the scan, so nothing registered before it sees the event.
//
// Example:
//
//	w := reg.Add(waiter.New(waiter.TextPredicate(func(_ context.Context, m *chat.Message) bool {
//	    return m.Text == "yes"
//	}), waiter.Modal()))
//	ok, err := reg.Wait(ctx, w, 30*time.Second)
package waiter

import (
	"sync"

	"github.com/google/uuid"

	"github.com/go-go-golems/chatlogic/pkg/chat"
)

// Waiter is a single pending condition over inbound events.
type Waiter struct {
	id      string
	matcher Matcher
	modal   bool

	mu        sync.Mutex
	messageID chat.MessageID
	result    chat.Result
	abandoned bool

	done chan struct{}
	once sync.Once
}

// Option configures a Waiter at construction.
type Option func(*Waiter)

// Modal makes the waiter exclusive. It can not be changed afterwards.
func Modal() Option {
	return func(w *Waiter) { w.modal = true }
}

// ForMessage binds the waiter to an outgoing message.
func ForMessage(id chat.MessageID) Option {
	return func(w *Waiter) { w.messageID = id }
}

// New creates an unregistered waiter.
func New(m Matcher, opts ...Option) *Waiter {
	w := &Waiter{
		id:      uuid.NewString(),
		matcher: m,
		result:  chat.NoResult,
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Waiter) ID() string       { return w.id }
func (w *Waiter) IsModal() bool    { return w.modal }
func (w *Waiter) Matcher() Matcher { return w.matcher }

// MessageID is the bound message, or chat.NoMessageID.
func (w *Waiter) MessageID() chat.MessageID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.messageID
}

// Bind attaches the waiter to a message once its id is known.
func (w *Waiter) Bind(id chat.MessageID) {
	w.mu.Lock()
	w.messageID = id
	w.mu.Unlock()
}

// Done is closed once the waiter completes.
func (w *Waiter) Done() <-chan struct{} { return w.done }

// Completed reports whether the completion signal fired.
func (w *Waiter) Completed() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Complete fires the completion signal. Safe to call more than once.
func (w *Waiter) Complete() {
	w.once.Do(func() { close(w.done) })
}

// claim completes w unless the caller of Wait already gave up on it.
func (w *Waiter) claim() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.abandoned {
		return false
	}
	w.Complete()
	return true
}

// abandon marks w as given up unless it completed first, and reports whether
// it did.
func (w *Waiter) abandon() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Completed() {
		return false
	}
	w.abandoned = true
	return true
}

// StoreResult records the result the dispatch path resolved for this waiter.
func (w *Waiter) StoreResult(r chat.Result) {
	w.mu.Lock()
	w.result = r
	w.mu.Unlock()
}

// TakeResult returns the stored result and resets it to chat.NoResult.
func (w *Waiter) TakeResult() chat.Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.result
	w.result = chat.NoResult
	return r
}
