package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/chatlogic/pkg/chat"
	"github.com/go-go-golems/chatlogic/pkg/transport"
)

const (
	cmdStart   = "start"
	cmdRestart = "restart"
)

// Enqueue hands ev to the session inbox. Events are handled in order on the
// inbox goroutine.
func (s *Session) Enqueue(ctx context.Context, ev chat.Event) error {
	if !s.Alive() {
		return ErrClosed
	}
	select {
	case s.inbox <- ev:
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.inbox:
			if err := s.HandleEvent(s.ctx, ev); err != nil {
				s.log.Warn().Err(err).Msg("failed to handle event")
			}
		}
	}
}

// HandleEvent processes one inbound event synchronously: interceptor,
// lifecycle commands, down policy, then waiter dispatch. Calls are
// serialised.
func (s *Session) HandleEvent(ctx context.Context, ev chat.Event) error {
	if ev.IsZero() {
		return nil
	}
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	if !s.Alive() {
		return nil
	}
	s.handling.Store(true)
	defer s.handling.Store(false)

	if ev.Callback != nil {
		defer s.answer(ctx, ev.Callback)
	}
	s.touch(ev)

	if s.intercept(ctx, ev) {
		return nil
	}

	if ev.Message != nil {
		if cmd, params, ok := lifecycleCommand(ev.Message.Text); ok {
			s.runCommand(ctx, cmd, params)
			return nil
		}
	}

	if !s.sup.Running() {
		if !s.decideRestart(ctx, ev) {
			return s.notifyDown(ctx)
		}
		if !s.sup.Start(s.ctx, false, "") {
			return nil
		}
	}

	claimed := s.reg.Dispatch(ctx, ev)
	s.log.Debug().Bool("claimed", claimed).Int("waiters", s.reg.Len()).Msg("event dispatched")
	return nil
}

func (s *Session) touch(ev chat.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
	switch {
	case ev.Message != nil:
		m := *ev.Message
		s.last = &m
	case ev.Callback != nil:
		cb := ev.Callback
		s.last = &chat.Message{ID: cb.MessageID, ChatID: cb.ChatID, From: cb.From}
	}
}

func (s *Session) intercept(ctx context.Context, ev chat.Event) (consumed bool) {
	if s.interceptor == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Interface("panic", rec).Msg("interceptor panicked")
			consumed = false
		}
	}()
	if ev.Message != nil {
		return s.interceptor.InterceptMessage(ctx, s, ev.Message)
	}
	return s.interceptor.InterceptCallback(ctx, s, ev.Callback)
}

// lifecycleCommand recognises /start, /restart and their "@params" forms.
func lifecycleCommand(text string) (cmd string, params string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	name, params, _ := strings.Cut(text[1:], "@")
	if name != cmdStart && name != cmdRestart {
		return "", "", false
	}
	return name, params, true
}

func (s *Session) runCommand(ctx context.Context, cmd string, params string) {
	s.log.Info().Str("cmd", cmd).Str("params", params).Msg("lifecycle command")
	if _, err := s.Delete(ctx, chat.NoMessageID); err != nil {
		s.log.Warn().Err(err).Msg("failed to delete command message")
	}
	if cmd == cmdRestart {
		s.sup.Cancel("restart requested", s.grace)
	}
	if !s.sup.Start(s.ctx, true, params) {
		s.log.Warn().Str("cmd", cmd).Msg("logic did not start")
	}
}

func (s *Session) decideRestart(ctx context.Context, ev chat.Event) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Interface("panic", rec).Msg("OnDownDecide panicked")
			ok = false
		}
	}()
	return s.logic.OnDownDecide(ctx, s, ev)
}

// DownNotice is the text sent when an event arrives while the logic is down
// and the logic declined to restart.
func (s *Session) DownNotice() string {
	reason := s.sup.LastStopReason()
	if reason == "" {
		reason = "none"
	}
	return fmt.Sprintf("%s\nRestarted %d times\nLast run with error: %t\nLast stop: %s",
		s.opts.BotDownMessage, s.sup.Restarts(), s.sup.ErrorStopped(), reason)
}

func (s *Session) notifyDown(ctx context.Context) error {
	_, err := s.tr.CreateMessage(ctx, s.id, transport.Content{
		Text:    s.DownNotice(),
		ReplyTo: s.LastID(),
		Changes: transport.Changes{Text: true, Keyboard: true},
	})
	return s.fail(err, "send down notice")
}

func (s *Session) answer(ctx context.Context, cb *chat.Callback) {
	a, ok := s.tr.(transport.CallbackAnswerer)
	if !ok || cb.ID == "" {
		return
	}
	if err := a.AnswerCallback(ctx, cb.ID); err != nil {
		s.log.Debug().Err(err).Str("callback_id", cb.ID).Msg("failed to answer callback")
	}
}
