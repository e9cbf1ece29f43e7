// Package message implements the display lifecycle of one outgoing chat
// message: create, edit in place or recreate, delete, and the modal popup
// exchange that blocks until the user picks one of the message buttons.
//
// A Message belongs to the goroutine that built it. The dispatch path never
// touches it directly; matchers registered on its behalf work on keyboard
// snapshots and hand results back through the waiter result slot.
package message

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/chatlogic/pkg/chat"
	"github.com/go-go-golems/chatlogic/pkg/keyboard"
	"github.com/go-go-golems/chatlogic/pkg/transport"
	"github.com/go-go-golems/chatlogic/pkg/waiter"
)

var ErrNotInteractive = errors.New("message: can not popup without an inline or reply keyboard")

// Host is the conversation a message is displayed in.
type Host interface {
	ChatID() chat.ChatID
	Transport() transport.Transport
	Waiters() *waiter.Registry
	// MaskErrors turns transport failures into logged boolean results.
	MaskErrors() bool
	Logger() zerolog.Logger
}

// MessageHook observes inbound text offered to the message keyboard. For a
// known button its return value decides whether the text is claimed.
type MessageHook func(ctx context.Context, msg *chat.Message, r chat.Result) bool

// CallbackHook observes button presses offered to the message keyboard. For a
// known button cb.Data is the payload without the keyboard prefix.
type CallbackHook func(ctx context.Context, cb *chat.Callback, r chat.Result) bool

// ApplyHook runs right before every display attempt.
type ApplyHook func(m *Message)

type State int

const (
	StateUnsent State = iota
	StateShown
	StatePopped
)

func (s State) String() string {
	switch s {
	case StateUnsent:
		return "unsent"
	case StateShown:
		return "shown"
	case StatePopped:
		return "popped"
	default:
		return "unknown"
	}
}

// Message is a change-tracked outgoing message.
type Message struct {
	host Host
	log  zerolog.Logger

	id    chat.MessageID
	modal bool

	text       string
	textDirty  bool
	media      string
	mediaDirty bool
	kb         *keyboard.Keyboard

	replyTo      chat.MessageID
	removeUnused bool
	timeout      time.Duration

	onMessage  MessageHook
	onCallback CallbackHook
	onApply    ApplyHook

	plain  *waiter.Waiter
	result chat.Result
}

type Option func(*Message)

func WithText(text string) Option {
	return func(m *Message) { m.SetText(text) }
}

// WithMedia attaches a photo, given as URL or transport file reference.
func WithMedia(media string) Option {
	return func(m *Message) { m.SetMedia(media) }
}

func WithInline(buttons [][]keyboard.Button) Option {
	return func(m *Message) { m.kb.SetInline(buttons) }
}

func WithReply(buttons [][]keyboard.Button, placeholder string) Option {
	return func(m *Message) { m.kb.SetReply(buttons, placeholder) }
}

// WithKeyboard sets the keyboard type and buttons in one go.
func WithKeyboard(kind keyboard.Type, buttons [][]keyboard.Button) Option {
	return func(m *Message) {
		m.kb.SetButtons(buttons)
		if kind != keyboard.None {
			m.kb.SetType(kind)
		}
	}
}

func WithRemoveKeyboard() Option {
	return func(m *Message) { m.kb.SetRemove() }
}

func WithPlaceholder(p string) Option {
	return func(m *Message) { m.kb.SetPlaceholder(p) }
}

func WithReplyTo(id chat.MessageID) Option {
	return func(m *Message) { m.replyTo = id }
}

// WithRemoveUnused deletes inbound text that does not match a button while
// the message waits for input.
func WithRemoveUnused(v bool) Option {
	return func(m *Message) { m.removeUnused = v }
}

// WithTimeout bounds Popup. Zero waits forever.
func WithTimeout(d time.Duration) Option {
	return func(m *Message) { m.timeout = d }
}

func OnMessage(h MessageHook) Option {
	return func(m *Message) { m.onMessage = h }
}

func OnCallback(h CallbackHook) Option {
	return func(m *Message) { m.onCallback = h }
}

func OnApply(h ApplyHook) Option {
	return func(m *Message) { m.onApply = h }
}

// New builds an unsent message.
func New(host Host, opts ...Option) *Message {
	m := &Message{
		host:   host,
		log:    host.Logger().With().Str("component", "message").Logger(),
		kb:     keyboard.New(keyboard.None, nil, ""),
		result: chat.NoResult,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Apply runs opts against an existing message, e.g. before re-showing it.
func (m *Message) Apply(opts ...Option) *Message {
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Message) ID() chat.MessageID           { return m.id }
func (m *Message) IsModal() bool                { return m.modal }
func (m *Message) Text() string                 { return m.text }
func (m *Message) Media() string                { return m.media }
func (m *Message) Keyboard() *keyboard.Keyboard { return m.kb }
func (m *Message) ReplyTo() chat.MessageID      { return m.replyTo }

func (m *Message) State() State {
	switch {
	case m.id == chat.NoMessageID:
		return StateUnsent
	case m.modal:
		return StatePopped
	default:
		return StateShown
	}
}

func (m *Message) SetText(text string) {
	if m.text == text {
		return
	}
	m.text = text
	m.textDirty = true
}

func (m *Message) SetMedia(media string) {
	if m.media == media {
		return
	}
	m.media = media
	m.mediaDirty = true
}

// Changed reports whether anything changed since the last display.
func (m *Message) Changed() bool {
	return m.textDirty || m.mediaDirty || m.kb.Changed()
}

func (m *Message) unchange() {
	m.textDirty = false
	m.mediaDirty = false
	m.kb.Unchange()
}

// Result returns the last button the user picked and resets it, so a second
// read without a new event yields chat.NoResult. A message in the middle of
// a popup always reads chat.NoResult.
func (m *Message) Result() chat.Result {
	if m.modal {
		return chat.NoResult
	}
	r := m.result
	m.result = chat.NoResult
	if r.IsNone() && m.plain != nil {
		r = m.plain.TakeResult()
	}
	return r
}

func (m *Message) content(ch transport.Changes) transport.Content {
	return transport.Content{
		Text:     m.text,
		Media:    m.media,
		Keyboard: m.kb.Layout(),
		ReplyTo:  m.replyTo,
		Changes:  ch,
	}
}

// fail wraps a transport error, or logs it and returns nil when the host
// masks transport errors.
func (m *Message) fail(err error, op string) error {
	err = errors.Wrapf(err, "%s message %d in chat %d", op, m.id, m.host.ChatID())
	if m.host.MaskErrors() {
		m.log.Warn().Err(err).Str("chat_id", m.host.ChatID().String()).Msg("transport error masked")
		return nil
	}
	return err
}

// Show displays the message: creates it when unsent, edits it in place when it
// changed, or deletes and recreates it when the keyboard can not be swapped in
// place. Interactive keyboards of shown messages get a plain waiter so button
// presses and matching text are claimed and readable through Result.
func (m *Message) Show(ctx context.Context) error {
	m.applyHook()
	return m.display(ctx)
}

// ShowFor shows the message and then pauses for delay.
func (m *Message) ShowFor(ctx context.Context, delay time.Duration) error {
	if err := m.Show(ctx); err != nil {
		return err
	}
	if delay <= 0 || m.id == chat.NoMessageID {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (m *Message) applyHook() {
	if m.onApply != nil {
		m.onApply(m)
	}
}

func (m *Message) display(ctx context.Context) error {
	if m.id != chat.NoMessageID && !m.Changed() {
		return nil
	}
	if err := m.kb.Validate(); err != nil {
		return err
	}
	if m.id != chat.NoMessageID && !m.kb.Replaceable() {
		m.log.Debug().Int64("message_id", int64(m.id)).
			Str("from", m.kb.CommittedType().String()).Str("to", m.kb.Type().String()).
			Msg("keyboard not replaceable, recreating")
		ok, err := m.Delete(ctx)
		if err != nil {
			return err
		}
		if !ok {
			// still shown with the old keyboard; the next Show retries
			return nil
		}
	}

	kbChanged := m.kb.Changed()
	defer m.unchange()

	tr := m.host.Transport()
	if m.id == chat.NoMessageID {
		id, err := tr.CreateMessage(ctx, m.host.ChatID(), m.content(transport.Changes{Text: true, Media: m.media != "", Keyboard: true}))
		if err != nil {
			return m.fail(err, "create")
		}
		m.id = id
		m.result = chat.NoResult
		m.dropPlainWaiter()
		if !m.modal {
			m.armPlainWaiter(true)
		}
		return nil
	}

	ch := transport.Changes{Text: m.textDirty, Media: m.mediaDirty, Keyboard: kbChanged}
	if err := tr.UpdateMessage(ctx, m.host.ChatID(), m.id, m.content(ch)); err != nil && !transport.IsNotModified(err) {
		return m.fail(err, "update")
	}
	if !m.modal {
		m.armPlainWaiter(kbChanged)
	}
	return nil
}

// Delete removes the message from the chat. Deleting an unsent message is a
// no-op that succeeds. On success every waiter bound to the message is
// dropped and the message reads as unsent again.
func (m *Message) Delete(ctx context.Context) (bool, error) {
	if m.id == chat.NoMessageID {
		return true, nil
	}
	if err := m.host.Transport().DeleteMessage(ctx, m.host.ChatID(), m.id); err != nil {
		return false, m.fail(err, "delete")
	}
	m.host.Waiters().RemoveByMessage(m.id)
	m.plain = nil
	m.id = chat.NoMessageID
	return true, nil
}

func (m *Message) dropPlainWaiter() {
	if m.plain == nil {
		return
	}
	m.host.Waiters().Remove(m.plain)
	m.plain = nil
}

// armPlainWaiter keeps a plain waiter registered for interactive keyboards.
// rebuild replaces an existing waiter so it matches the current buttons.
func (m *Message) armPlainWaiter(rebuild bool) {
	if !m.kb.Interactive() {
		m.dropPlainWaiter()
		return
	}
	if m.plain != nil && !rebuild {
		return
	}
	m.dropPlainWaiter()

	var w *waiter.Waiter
	w = waiter.New(m.matcher(false, func(r chat.Result) { w.StoreResult(r) }), waiter.ForMessage(m.id))
	m.plain = m.host.Waiters().Add(w)
}
