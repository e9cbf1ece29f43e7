package session

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatlogic/pkg/chat"
	"github.com/go-go-golems/chatlogic/pkg/keyboard"
	"github.com/go-go-golems/chatlogic/pkg/message"
	"github.com/go-go-golems/chatlogic/pkg/transport"
	"github.com/go-go-golems/chatlogic/pkg/waiter"
)

var ErrYesNoButtons = errors.New("session: yes/no question needs at least two button captions")

// Option configures Say and the popup helpers.
type Option func(*sendConfig)

type sendConfig struct {
	msg          []message.Option
	removeSource bool
	replace      bool
	replaceID    chat.MessageID
	wait         time.Duration
}

// Msg passes message options through.
func Msg(opts ...message.Option) Option {
	return func(c *sendConfig) { c.msg = append(c.msg, opts...) }
}

// RemoveSource deletes the last inbound message first, unless the new
// message replies to it.
func RemoveSource() Option {
	return func(c *sendConfig) { c.removeSource = true }
}

// Replace deletes the previously said message first.
func Replace() Option {
	return func(c *sendConfig) { c.replace = true }
}

// ReplaceID deletes message id first.
func ReplaceID(id chat.MessageID) Option {
	return func(c *sendConfig) {
		c.replace = true
		c.replaceID = id
	}
}

// WaitDelay pauses after the message was shown.
func WaitDelay(d time.Duration) Option {
	return func(c *sendConfig) { c.wait = d }
}

func buildConfig(opts []Option) sendConfig {
	var c sendConfig
	for _, o := range opts {
		o(&c)
	}
	return c
}

// Build creates an unsent message in this chat.
func (s *Session) Build(text string, opts ...message.Option) *message.Message {
	return message.New(s, append([]message.Option{message.WithText(text)}, opts...)...)
}

// prepare builds the message and runs the remove-source and replace steps.
func (s *Session) prepare(ctx context.Context, text string, c sendConfig) (*message.Message, error) {
	if !s.Alive() {
		return nil, ErrClosed
	}
	m := s.Build(text, c.msg...)
	if c.removeSource && m.ReplyTo() != s.LastID() {
		if _, err := s.Delete(ctx, chat.NoMessageID); err != nil {
			return nil, err
		}
	}
	if c.replace {
		if c.replaceID != chat.NoMessageID {
			if _, err := s.Delete(ctx, c.replaceID); err != nil {
				return nil, err
			}
		} else if prev := s.previous(); prev != nil {
			if _, err := prev.Delete(ctx); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (s *Session) previous() *message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSent
}

// Say shows a non-modal message and remembers it for Replace.
func (s *Session) Say(ctx context.Context, text string, opts ...Option) (*message.Message, error) {
	c := buildConfig(opts)
	m, err := s.prepare(ctx, text, c)
	if err != nil {
		return nil, err
	}
	if err := m.ShowFor(ctx, c.wait); err != nil {
		return m, err
	}
	if m.ID() != chat.NoMessageID {
		s.mu.Lock()
		s.lastSent = m
		s.mu.Unlock()
	}
	return m, nil
}

// Reply is Say answering the last inbound message unless a reply target was
// given.
func (s *Session) Reply(ctx context.Context, text string, opts ...Option) (*message.Message, error) {
	opts = append([]Option{Msg(message.WithReplyTo(s.LastID()))}, opts...)
	return s.Say(ctx, text, opts...)
}

// Popup shows a modal message and blocks until a button is picked, the
// message timeout elapses or ctx is done. The message is deleted afterwards.
func (s *Session) Popup(ctx context.Context, text string, kind keyboard.Type, buttons [][]keyboard.Button, opts ...Option) (chat.Result, error) {
	opts = append([]Option{Msg(message.WithKeyboard(kind, buttons))}, opts...)
	m, err := s.prepare(ctx, text, buildConfig(opts))
	if err != nil {
		return chat.NoResult, err
	}
	return m.Popup(ctx)
}

// Menu is a popup with an inline keyboard.
func (s *Session) Menu(ctx context.Context, text string, buttons [][]keyboard.Button, opts ...Option) (chat.Result, error) {
	return s.Popup(ctx, text, keyboard.Inline, buttons, opts...)
}

// Ask is a popup with a reply keyboard. It returns the picked button index,
// or -1 on timeout.
func (s *Session) Ask(ctx context.Context, text string, buttons [][]keyboard.Button, opts ...Option) (int, error) {
	r, err := s.Popup(ctx, text, keyboard.Reply, buttons, opts...)
	if err != nil || !r.Known {
		return -1, err
	}
	return r.Index, nil
}

// AskYesNo asks with two reply buttons, YES and NO unless captions are
// given. Only the first two captions are used.
func (s *Session) AskYesNo(ctx context.Context, text string, captions []string, opts ...Option) (int, error) {
	switch {
	case len(captions) == 0:
		captions = []string{"YES", "NO"}
	case len(captions) < 2:
		return -1, ErrYesNoButtons
	}
	return s.Ask(ctx, text, [][]keyboard.Button{keyboard.Row(captions[0], captions[1])}, opts...)
}

// WaitMessage blocks until any text message arrives, timeout elapses or ctx
// is done. The waiter is modal, so no other step sees that message. Read it
// with Last.
func (s *Session) WaitMessage(ctx context.Context, timeout time.Duration) (bool, error) {
	if !s.Alive() {
		return false, ErrClosed
	}
	w := s.reg.Add(waiter.New(waiter.TextPredicate(func(context.Context, *chat.Message) bool {
		return true
	}), waiter.Modal()))
	return s.reg.Wait(ctx, w, timeout)
}

// Delete removes a message from the chat, the last inbound one when id is
// chat.NoMessageID. Waiters bound to it are dropped. Failures are masked
// when the chat masks errors.
func (s *Session) Delete(ctx context.Context, id chat.MessageID) (bool, error) {
	if !s.Alive() {
		return false, ErrClosed
	}
	if id == chat.NoMessageID {
		id = s.LastID()
	}
	if id == chat.NoMessageID {
		return true, nil
	}
	if err := s.tr.DeleteMessage(ctx, s.id, id); err != nil {
		return false, s.fail(err, "delete message "+id.String())
	}
	s.mu.Lock()
	if s.last != nil && s.last.ID == id {
		s.last.ID = chat.NoMessageID
	}
	s.mu.Unlock()
	s.reg.RemoveByMessage(id)
	return true, nil
}

// Leave leaves the chat through the transport and ends the session. It
// reports false when the transport can not leave chats or refused.
func (s *Session) Leave(ctx context.Context) bool {
	if !s.Alive() {
		return true
	}
	lv, ok := s.tr.(transport.Leaver)
	if !ok {
		s.log.Debug().Msg("transport can not leave chats")
		return false
	}
	s.log.Info().Msg("leaving chat")
	if err := lv.LeaveChat(ctx, s.id); err != nil {
		s.log.Warn().Err(err).Msg("failed to leave chat")
		return false
	}
	s.markDead()
	return true
}
