package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chatlogic/pkg/chat"
	"github.com/go-go-golems/chatlogic/pkg/settings"
	"github.com/go-go-golems/chatlogic/pkg/transport"
)

// Source delivers inbound events in order. Consume returns when ctx is done
// or the source is exhausted.
type Source interface {
	Consume(ctx context.Context, handle func(ctx context.Context, ev chat.Event) error) error
}

type ManagerOptions struct {
	BaseCtx     context.Context
	Transport   transport.Transport
	Logic       LogicFactory
	Settings    *settings.Tree
	Interceptor Interceptor
	Logger      zerolog.Logger
	InboxSize   int
	CancelGrace time.Duration
	// CloseTimeout bounds closing all sessions when Run returns.
	CloseTimeout time.Duration
}

// Manager owns the sessions of every chat the bot has seen since start.
type Manager struct {
	mu       sync.Mutex
	sessions map[chat.ChatID]*Session

	baseCtx      context.Context
	tr           transport.Transport
	logic        LogicFactory
	settings     *settings.Tree
	users        *Users
	interceptor  Interceptor
	inboxSize    int
	grace        time.Duration
	closeTimeout time.Duration
	baseLog      zerolog.Logger
	log          zerolog.Logger

	evictIdle     time.Duration
	evictInterval time.Duration
	evictRunning  bool
}

func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Transport == nil {
		return nil, errors.New("session manager: transport is required")
	}
	if opts.Logic == nil {
		return nil, errors.New("session manager: logic factory is required")
	}
	base := opts.BaseCtx
	if base == nil {
		base = context.Background()
	}
	root := opts.Settings
	if root == nil {
		root = settings.NewTree()
	}
	closeTimeout := opts.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = 10 * time.Second
	}
	return &Manager{
		sessions:     map[chat.ChatID]*Session{},
		baseCtx:      base,
		tr:           opts.Transport,
		logic:        opts.Logic,
		settings:     root,
		users:        NewUsers(root.Sub("users")),
		interceptor:  opts.Interceptor,
		inboxSize:    opts.InboxSize,
		grace:        opts.CancelGrace,
		closeTimeout: closeTimeout,
		baseLog:      opts.Logger,
		log:          opts.Logger.With().Str("component", "session_manager").Logger(),
	}, nil
}

// Settings is the root settings tree shared by every session.
func (m *Manager) Settings() *settings.Tree { return m.settings }

// Users is the user cache shared by every session.
func (m *Manager) Users() *Users { return m.users }

// Session returns the session of id, creating it on first use.
func (m *Manager) Session(id chat.ChatID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	s, err := New(Options{
		ChatID:      id,
		Transport:   m.tr,
		Logic:       m.logic,
		Settings:    m.settings,
		Users:       m.users,
		Interceptor: m.interceptor,
		Logger:      m.baseLog,
		BaseCtx:     m.baseCtx,
		InboxSize:   m.inboxSize,
		CancelGrace: m.grace,
		OnDone:      m.ChatDone,
	})
	if err != nil {
		return nil, err
	}
	m.sessions[id] = s
	m.log.Debug().Str("chat_id", id.String()).Msg("session created")
	return s, nil
}

// Lookup returns the live session of id without creating one.
func (m *Manager) Lookup(id chat.ChatID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ChatIDs lists the live sessions in ascending order.
func (m *Manager) ChatIDs() []chat.ChatID {
	m.mu.Lock()
	ids := make([]chat.ChatID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Dispatch routes ev to the inbox of its chat. A chat that was left in the
// meantime gets a fresh session.
func (m *Manager) Dispatch(ctx context.Context, ev chat.Event) error {
	id := ev.ChatID()
	if id == chat.NoChatID {
		m.log.Warn().Msg("dropping event without chat id")
		return nil
	}
	for attempt := 0; attempt < 2; attempt++ {
		s, err := m.Session(id)
		if err != nil {
			return err
		}
		err = s.Enqueue(ctx, ev)
		if !errors.Is(err, ErrClosed) {
			return err
		}
		m.forget(s)
	}
	return ErrClosed
}

// ChatDone forgets s after its chat was left. The next event of that chat
// starts a new session.
func (m *Manager) ChatDone(s *Session) {
	if m.forget(s) {
		m.log.Info().Str("chat_id", s.ChatID().String()).Msg("chat done")
	}
}

func (m *Manager) forget(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[s.ChatID()]
	if !ok || current != s {
		return false
	}
	delete(m.sessions, s.ChatID())
	return true
}

// Run consumes src until it is exhausted or ctx is done, then closes every
// session.
func (m *Manager) Run(ctx context.Context, src Source) error {
	if src == nil {
		return errors.New("session manager: source is required")
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	m.StartEvictionLoop(gctx)
	g.Go(func() error {
		defer cancel()
		return src.Consume(gctx, m.Dispatch)
	})
	g.Go(func() error {
		<-gctx.Done()
		closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(gctx), m.closeTimeout)
		defer closeCancel()
		return m.Close(closeCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close closes every session concurrently.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = map[chat.ChatID]*Session{}
	m.mu.Unlock()

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error { return s.Close(ctx) })
	}
	return g.Wait()
}
