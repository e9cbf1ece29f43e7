// Package fake provides an in-memory Transport that records every call.
// It backs the package tests and the offline console demo.
package fake

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatlogic/pkg/chat"
	"github.com/go-go-golems/chatlogic/pkg/transport"
)

var ErrUnknownMessage = errors.New("fake: unknown message")

type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpLeave  Op = "leave"
	OpAnswer Op = "answer"
)

// Call is one recorded transport call.
type Call struct {
	Op        Op
	ChatID    chat.ChatID
	MessageID chat.MessageID
	Content   transport.Content
	Callback  string
}

// Transport keeps the live messages per chat and a journal of calls.
type Transport struct {
	mu     sync.Mutex
	nextID chat.MessageID
	live   map[chat.ChatID]map[chat.MessageID]transport.Content
	calls  []Call

	// Fail, when set, is consulted before each call; a non-nil error aborts it.
	Fail func(op Op, chatID chat.ChatID, id chat.MessageID) error
	// OnCall, when set, observes every successful call. It runs under the
	// transport lock and must not call back into the transport.
	OnCall func(Call)
	// NoJournal stops recording calls, for long running demos.
	NoJournal bool
}

var (
	_ transport.Transport        = (*Transport)(nil)
	_ transport.Leaver           = (*Transport)(nil)
	_ transport.CallbackAnswerer = (*Transport)(nil)
)

func New() *Transport {
	return &Transport{
		nextID: 100,
		live:   map[chat.ChatID]map[chat.MessageID]transport.Content{},
	}
}

func (t *Transport) failLocked(op Op, chatID chat.ChatID, id chat.MessageID) error {
	if t.Fail == nil {
		return nil
	}
	return t.Fail(op, chatID, id)
}

func (t *Transport) recordLocked(c Call) {
	if !t.NoJournal {
		t.calls = append(t.calls, c)
	}
	if t.OnCall != nil {
		t.OnCall(c)
	}
}

func (t *Transport) CreateMessage(_ context.Context, chatID chat.ChatID, c transport.Content) (chat.MessageID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failLocked(OpCreate, chatID, chat.NoMessageID); err != nil {
		return chat.NoMessageID, err
	}
	t.nextID++
	id := t.nextID
	if t.live[chatID] == nil {
		t.live[chatID] = map[chat.MessageID]transport.Content{}
	}
	t.live[chatID][id] = c
	t.recordLocked(Call{Op: OpCreate, ChatID: chatID, MessageID: id, Content: c})
	return id, nil
}

func (t *Transport) UpdateMessage(_ context.Context, chatID chat.ChatID, id chat.MessageID, c transport.Content) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failLocked(OpUpdate, chatID, id); err != nil {
		return err
	}
	if _, ok := t.live[chatID][id]; !ok {
		return errors.Wrapf(ErrUnknownMessage, "update %d", id)
	}
	if !c.Changes.Any() {
		return transport.ErrNotModified
	}
	t.live[chatID][id] = c
	t.recordLocked(Call{Op: OpUpdate, ChatID: chatID, MessageID: id, Content: c})
	return nil
}

// DeleteMessage removes a live message. Inbound message ids that were never
// created here are accepted too, so user messages can be "deleted".
func (t *Transport) DeleteMessage(_ context.Context, chatID chat.ChatID, id chat.MessageID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failLocked(OpDelete, chatID, id); err != nil {
		return err
	}
	delete(t.live[chatID], id)
	t.recordLocked(Call{Op: OpDelete, ChatID: chatID, MessageID: id})
	return nil
}

func (t *Transport) LeaveChat(_ context.Context, chatID chat.ChatID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failLocked(OpLeave, chatID, chat.NoMessageID); err != nil {
		return err
	}
	delete(t.live, chatID)
	t.recordLocked(Call{Op: OpLeave, ChatID: chatID})
	return nil
}

func (t *Transport) AnswerCallback(_ context.Context, callbackID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordLocked(Call{Op: OpAnswer, Callback: callbackID})
	return nil
}

// Calls returns a copy of the journal.
func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

// Count returns how many calls of op touched message id. chat.NoMessageID
// counts every call of op.
func (t *Transport) Count(op Op, id chat.MessageID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.calls {
		if c.Op == op && (id == chat.NoMessageID || c.MessageID == id) {
			n++
		}
	}
	return n
}

// Live returns the currently displayed content of a message.
func (t *Transport) Live(chatID chat.ChatID, id chat.MessageID) (transport.Content, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.live[chatID][id]
	return c, ok
}

// LiveIDs lists the displayed messages of a chat in ascending order.
func (t *Transport) LiveIDs(chatID chat.ChatID) []chat.MessageID {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]chat.MessageID, 0, len(t.live[chatID]))
	for id := range t.live[chatID] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// LiveCount returns how many messages are displayed in a chat.
func (t *Transport) LiveCount(chatID chat.ChatID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live[chatID])
}

// Last returns the most recent call, if any.
func (t *Transport) Last() (Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.calls) == 0 {
		return Call{}, false
	}
	return t.calls[len(t.calls)-1], true
}
