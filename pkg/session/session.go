// Package session runs one chat: it serialises inbound events, handles the
// /start and /restart lifecycle commands, applies the down policy and routes
// everything else to the waiter registry. It also carries the conversation
// API the logic is written against (Say, Popup, Ask, ...).
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/chatlogic/pkg/chat"
	"github.com/go-go-golems/chatlogic/pkg/logic"
	"github.com/go-go-golems/chatlogic/pkg/message"
	"github.com/go-go-golems/chatlogic/pkg/settings"
	"github.com/go-go-golems/chatlogic/pkg/transport"
	"github.com/go-go-golems/chatlogic/pkg/waiter"
)

var ErrClosed = errors.New("session: chat is closed")

const (
	defaultInboxSize   = 64
	defaultCancelGrace = 5 * time.Second
)

type Options struct {
	ChatID    chat.ChatID
	Transport transport.Transport
	Logic     LogicFactory
	// Settings is the root tree; the chat reads chats.<id>. Nil uses an
	// in-memory tree.
	Settings *settings.Tree
	// Users defaults to a cache over the "users" branch of Settings.
	Users       *Users
	Interceptor Interceptor
	Logger      zerolog.Logger
	// BaseCtx bounds the session lifetime. Defaults to context.Background.
	BaseCtx     context.Context
	InboxSize   int
	CancelGrace time.Duration
	// OnDone is called once when the chat was left.
	OnDone func(*Session)
}

// Session is the state of one chat.
type Session struct {
	id          chat.ChatID
	tr          transport.Transport
	reg         *waiter.Registry
	sup         *logic.Supervisor
	logic       Logic
	opts        settings.ChatOptions
	cfg         *settings.Tree
	users       *Users
	interceptor Interceptor
	grace       time.Duration
	onDone      func(*Session)
	log         zerolog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	inbox    chan chat.Event
	loopDone chan struct{}
	handleMu sync.Mutex
	handling atomic.Bool

	mu           sync.Mutex
	alive        bool
	closed       bool
	last         *chat.Message
	lastSent     *message.Message
	lastActivity time.Time
	doneOnce     sync.Once
}

var _ message.Host = (*Session)(nil)

func New(opts Options) (*Session, error) {
	if opts.ChatID == chat.NoChatID {
		return nil, errors.New("session: chat id is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("session: transport is required")
	}
	if opts.Logic == nil {
		return nil, errors.New("session: logic factory is required")
	}
	root := opts.Settings
	if root == nil {
		root = settings.NewTree()
	}
	users := opts.Users
	if users == nil {
		users = NewUsers(root.Sub("users"))
	}
	base := opts.BaseCtx
	if base == nil {
		base = context.Background()
	}
	inboxSize := opts.InboxSize
	if inboxSize <= 0 {
		inboxSize = defaultInboxSize
	}
	grace := opts.CancelGrace
	if grace <= 0 {
		grace = defaultCancelGrace
	}

	cfg := root.Sub(settings.ChatPath(opts.ChatID.String()))
	ctx, cancel := context.WithCancel(base)
	s := &Session{
		id:           opts.ChatID,
		tr:           opts.Transport,
		opts:         settings.LoadChatOptions(cfg),
		cfg:          cfg,
		users:        users,
		interceptor:  opts.Interceptor,
		grace:        grace,
		onDone:       opts.OnDone,
		log:          opts.Logger.With().Str("component", "session").Str("chat_id", opts.ChatID.String()).Logger(),
		ctx:          ctx,
		cancel:       cancel,
		inbox:        make(chan chat.Event, inboxSize),
		loopDone:     make(chan struct{}),
		alive:        true,
		lastActivity: time.Now(),
	}
	s.reg = waiter.NewRegistry(s.log)
	s.sup = logic.NewSupervisor(s.runLogic, PolicyFor(s.opts), s.reg, logic.Hooks{
		OnFailure: s.reportFailure,
		AfterExit: s.afterExit,
		OnExit:    s.logicExited,
	}, s.log)
	s.logic = opts.Logic(s)
	if s.logic == nil {
		cancel()
		return nil, errors.New("session: logic factory returned nil")
	}

	go s.loop()
	return s, nil
}

// PolicyFor maps the chat options onto the supervisor restart policy.
func PolicyFor(o settings.ChatOptions) logic.Policy {
	return logic.Policy{
		RestartOnError: o.RestartOnException,
		ErrorCeiling:   o.ErrorRestartCount,
		RestartOnExit:  o.RestartOnExit,
		ExitCeiling:    o.RestartCount,
		Delay:          o.RestartDelay,
	}
}

func (s *Session) ChatID() chat.ChatID            { return s.id }
func (s *Session) Transport() transport.Transport { return s.tr }
func (s *Session) Waiters() *waiter.Registry      { return s.reg }
func (s *Session) MaskErrors() bool               { return s.opts.MaskExceptions }
func (s *Session) Logger() zerolog.Logger         { return s.log }

// Supervisor exposes the logic supervisor, mostly for state inspection.
func (s *Session) Supervisor() *logic.Supervisor { return s.sup }

// Options returns the chat options read at construction.
func (s *Session) Options() settings.ChatOptions { return s.opts }

// Settings is the chat branch of the settings tree.
func (s *Session) Settings() *settings.Tree { return s.cfg }

// LogicSettings is the branch reserved for options defined by the logic.
func (s *Session) LogicSettings() *settings.Tree { return s.cfg.Sub("logic") }

func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// Last returns a copy of the last inbound message. For button presses it is
// the message carrying the keyboard. The zero Message is returned before any
// event.
func (s *Session) Last() chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return chat.Message{ChatID: s.id}
	}
	return *s.last
}

func (s *Session) LastID() chat.MessageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return chat.NoMessageID
	}
	return s.last.ID
}

// LastActivity is the time of the last inbound event.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// User returns the author of msg, or of the last inbound message when msg is
// nil. It returns nil when there is no message yet.
func (s *Session) User(msg *chat.Message) *User {
	if msg == nil {
		s.mu.Lock()
		msg = s.last
		s.mu.Unlock()
	}
	if msg == nil {
		return nil
	}
	return s.users.User(msg.From)
}

// Busy reports whether events are queued or being handled, or the logic runs.
func (s *Session) Busy() bool {
	return s.handling.Load() || len(s.inbox) > 0 || s.sup.Running()
}

// Close stops the logic, drops every waiter and stops the inbox. It must
// not be called from Main; the logic ends a chat with Leave.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.alive = false
	s.mu.Unlock()

	s.sup.Cancel("chat is stopped", s.grace)
	s.cancel()
	s.reg.Clear()
	s.log.Debug().Msg("session closed")

	select {
	case <-s.loopDone:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// markDead ends the session after the chat was left.
func (s *Session) markDead() {
	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()
	s.cancel()
	s.doneOnce.Do(func() {
		if s.onDone != nil {
			s.onDone(s)
		}
	})
}

func (s *Session) runLogic(ctx context.Context, params string) error {
	return s.logic.Main(ctx, s, params)
}

func (s *Session) reportFailure(ctx context.Context, err error) {
	if !s.Alive() {
		return
	}
	text := "Bot exception!\n" + err.Error() +
		"\n\nBot will be terminated.\nPlease send situation and error description to developer"
	if _, cerr := s.tr.CreateMessage(ctx, s.id, transport.Content{Text: text, Changes: transport.Changes{Text: true, Keyboard: true}}); cerr != nil {
		s.log.Warn().Err(cerr).Msg("failed to report logic failure")
	}
}

func (s *Session) afterExit(ctx context.Context) {
	if s.opts.LeaveAfterExit {
		s.Leave(ctx)
	}
}

func (s *Session) logicExited(state logic.State) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Interface("panic", rec).Msg("logic OnExit panicked")
		}
	}()
	s.logic.OnExit(s, s.Alive())
}

// fail wraps err, or logs it and returns nil when the chat masks errors.
func (s *Session) fail(err error, what string) error {
	if err == nil {
		return nil
	}
	err = errors.Wrapf(err, "%s in chat %d", what, s.id)
	if s.opts.MaskExceptions {
		s.log.Warn().Err(err).Msg("transport error masked")
		return nil
	}
	return err
}
