package message

import (
	"context"

	"github.com/go-go-golems/chatlogic/pkg/chat"
	"github.com/go-go-golems/chatlogic/pkg/keyboard"
	"github.com/go-go-golems/chatlogic/pkg/waiter"
)

// Popup shows the message modally and blocks until a button is picked, the
// message timeout elapses or ctx is cancelled. The message is deleted on every
// path. The picked result is returned and also kept for Result; timeouts
// yield chat.NoResult.
func (m *Message) Popup(ctx context.Context) (res chat.Result, err error) {
	m.applyHook()
	if !m.kb.Interactive() {
		return chat.NoResult, ErrNotInteractive
	}

	reg := m.host.Waiters()
	m.dropPlainWaiter()
	m.result = chat.NoResult
	m.modal = true

	var w *waiter.Waiter
	w = waiter.New(m.matcher(true, func(r chat.Result) { w.StoreResult(r) }), waiter.Modal())
	reg.Add(w)

	defer func() {
		m.modal = false
		reg.Remove(w)
		// the delete must happen even when ctx is already cancelled
		if _, derr := m.Delete(context.WithoutCancel(ctx)); derr != nil && err == nil {
			err = derr
		}
	}()

	if err := m.display(ctx); err != nil {
		return chat.NoResult, err
	}
	if m.id == chat.NoMessageID {
		return chat.NoResult, nil
	}
	w.Bind(m.id)

	m.log.Debug().Str("chat_id", m.host.ChatID().String()).Int64("message_id", int64(m.id)).Dur("timeout", m.timeout).Msg("popup waiting")
	ok, err := reg.Wait(ctx, w, m.timeout)
	if err != nil {
		return chat.NoResult, err
	}
	if !ok {
		return chat.NoResult, nil
	}
	res = w.TakeResult()
	m.result = res
	return res, nil
}

// matcher builds the waiter condition for the current keyboard. Modal
// matchers see both text and callbacks; plain ones only the kind the keyboard
// produces. Hooks and buttons are captured at build time.
func (m *Message) matcher(modal bool, store func(chat.Result)) waiter.Matcher {
	km := keyMatch{
		kb:           m.kb.Clone(),
		onMessage:    m.onMessage,
		onCallback:   m.onCallback,
		removeUnused: m.removeUnused,
		host:         m.host,
		store:        store,
	}
	text := waiter.TextPredicate(km.text)
	cb := waiter.CallbackPredicate(km.callback)
	switch {
	case modal:
		return waiter.AnyOf{cb, text}
	case km.kb.Type() == keyboard.Reply:
		return text
	default:
		return cb
	}
}

type keyMatch struct {
	kb           *keyboard.Keyboard
	onMessage    MessageHook
	onCallback   CallbackHook
	removeUnused bool
	host         Host
	store        func(chat.Result)
}

func (km keyMatch) text(ctx context.Context, msg *chat.Message) bool {
	r := km.kb.Known(chat.MessageEvent(msg))
	if r.Known {
		if km.onMessage == nil || km.onMessage(ctx, msg, r) {
			km.store(r)
			return true
		}
	} else if km.onMessage != nil {
		km.onMessage(ctx, msg, r)
	}
	if km.removeUnused {
		km.deleteInbound(ctx, msg)
	}
	return false
}

func (km keyMatch) callback(ctx context.Context, cb *chat.Callback) bool {
	r := km.kb.Known(chat.CallbackEvent(cb))
	if !r.Known {
		if km.onCallback != nil {
			km.onCallback(ctx, cb, r)
		}
		return false
	}
	if km.onCallback != nil {
		stripped := *cb
		stripped.Data = r.Data
		if !km.onCallback(ctx, &stripped, r) {
			return false
		}
	}
	km.store(r)
	return true
}

func (km keyMatch) deleteInbound(ctx context.Context, msg *chat.Message) {
	if err := km.host.Transport().DeleteMessage(ctx, km.host.ChatID(), msg.ID); err != nil {
		log := km.host.Logger()
		log.Warn().Err(err).Str("chat_id", km.host.ChatID().String()).Int64("message_id", int64(msg.ID)).Msg("failed to remove unused message")
	}
}
