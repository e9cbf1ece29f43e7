package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatlogic/pkg/chat"
	"github.com/go-go-golems/chatlogic/pkg/settings"
	"github.com/go-go-golems/chatlogic/pkg/transport/fake"
)

type sliceSource struct {
	events []chat.Event
	// after runs once every event was handed over
	after func(ctx context.Context)
}

func (s sliceSource) Consume(ctx context.Context, handle func(context.Context, chat.Event) error) error {
	for _, ev := range s.events {
		if err := handle(ctx, ev); err != nil {
			return err
		}
	}
	if s.after != nil {
		s.after(ctx)
	}
	return nil
}

type chatRecorder struct {
	mu    sync.Mutex
	texts map[chat.ChatID][]string
}

func (r *chatRecorder) interceptor() Interceptor {
	return InterceptorFuncs{Message: func(_ context.Context, s *Session, m *chat.Message) bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.texts[s.ChatID()] = append(r.texts[s.ChatID()], m.Text)
		return true
	}}
}

func (r *chatRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.texts {
		n += len(t)
	}
	return n
}

func chatMsg(id chat.ChatID, text string) chat.Event {
	return chat.MessageEvent(&chat.Message{ID: 1, ChatID: id, Text: text})
}

func newTestManager(t *testing.T, factory LogicFactory, mod func(*ManagerOptions)) (*Manager, *fake.Transport) {
	t.Helper()
	tr := fake.New()
	root := settings.NewTree()
	for _, id := range []string{"1", "2", "3"} {
		root.Set(settings.ChatPath(id)+"."+settings.KeyRestartDelay, 0)
	}
	opts := ManagerOptions{
		Transport:   tr,
		Logic:       factory,
		Settings:    root,
		Logger:      zerolog.Nop(),
		CancelGrace: time.Second,
	}
	if mod != nil {
		mod(&opts)
	}
	m, err := NewManager(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, tr
}

func blockingFactory(*Session) Logic { return LogicFunc(blockUntilDone) }

func TestManager_SessionPerChat(t *testing.T) {
	m, _ := newTestManager(t, blockingFactory, nil)

	a, err := m.Session(1)
	require.NoError(t, err)
	again, err := m.Session(1)
	require.NoError(t, err)
	require.Same(t, a, again)

	_, err = m.Session(2)
	require.NoError(t, err)
	require.Equal(t, 2, m.Len())
	require.Equal(t, []chat.ChatID{1, 2}, m.ChatIDs())

	_, ok := m.Lookup(3)
	require.False(t, ok)
}

func TestManager_DispatchRoutesByChat(t *testing.T) {
	rec := &chatRecorder{texts: map[chat.ChatID][]string{}}
	m, _ := newTestManager(t, blockingFactory, func(o *ManagerOptions) {
		o.Interceptor = rec.interceptor()
	})
	ctx := context.Background()

	require.NoError(t, m.Dispatch(ctx, chatMsg(1, "a")))
	require.NoError(t, m.Dispatch(ctx, chatMsg(2, "b")))
	require.NoError(t, m.Dispatch(ctx, chatMsg(1, "c")))
	require.NoError(t, m.Dispatch(ctx, chat.Event{}))

	require.Eventually(t, func() bool { return rec.total() == 3 }, 2*time.Second, time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, []string{"a", "c"}, rec.texts[1])
	require.Equal(t, []string{"b"}, rec.texts[2])
}

func TestManager_LeftChatGetsFreshSession(t *testing.T) {
	exits := LogicFunc(func(context.Context, *Session, string) error { return nil })
	m, tr := newTestManager(t, func(*Session) Logic { return exits }, nil)
	ctx := context.Background()

	require.NoError(t, m.Dispatch(ctx, chatMsg(1, "/start")))
	require.Eventually(t, func() bool {
		return m.Len() == 0 && tr.Count(fake.OpLeave, chat.NoMessageID) == 1
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, m.Dispatch(ctx, chatMsg(1, "hello")))
	require.Eventually(t, func() bool {
		return tr.Count(fake.OpLeave, chat.NoMessageID) == 2
	}, 2*time.Second, time.Millisecond)
}

func TestManager_RunConsumesSourceAndCloses(t *testing.T) {
	rec := &chatRecorder{texts: map[chat.ChatID][]string{}}
	m, _ := newTestManager(t, blockingFactory, func(o *ManagerOptions) {
		o.Interceptor = rec.interceptor()
	})

	src := sliceSource{
		events: []chat.Event{chatMsg(1, "a"), chatMsg(2, "b"), chatMsg(3, "c")},
		after: func(ctx context.Context) {
			deadline := time.Now().Add(2 * time.Second)
			for rec.total() < 3 && time.Now().Before(deadline) && ctx.Err() == nil {
				time.Sleep(time.Millisecond)
			}
		},
	}
	require.NoError(t, m.Run(context.Background(), src))
	require.Equal(t, 3, rec.total())
	require.Equal(t, 0, m.Len())
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	m, _ := newTestManager(t, blockingFactory, nil)
	s, err := m.Session(1)
	require.NoError(t, err)
	require.NoError(t, s.HandleEvent(context.Background(), chatMsg(1, "/start")))
	require.True(t, s.Supervisor().Running())

	ctx, cancel := context.WithCancel(context.Background())
	src := sliceSource{after: func(ctx context.Context) { <-ctx.Done() }}
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx, src) }()

	cancel()
	require.NoError(t, recv(t, errCh))
	require.False(t, s.Alive())
	require.False(t, s.Supervisor().Running())
}

func TestManager_EvictIdleOnce(t *testing.T) {
	m, _ := newTestManager(t, blockingFactory, nil)
	ctx := context.Background()
	m.SetEvictionConfig(time.Minute, time.Second)

	idle, err := m.Session(1)
	require.NoError(t, err)
	running, err := m.Session(2)
	require.NoError(t, err)
	require.NoError(t, running.HandleEvent(ctx, chatMsg(2, "/start")))
	_, err = m.Session(3)
	require.NoError(t, err)

	old := time.Now().Add(-time.Hour)
	for _, s := range []*Session{idle, running} {
		s.mu.Lock()
		s.lastActivity = old
		s.mu.Unlock()
	}

	require.Equal(t, 1, m.evictIdleOnce(ctx, time.Now()))
	_, ok := m.Lookup(1)
	require.False(t, ok)
	require.False(t, idle.Alive())
	_, ok = m.Lookup(2)
	require.True(t, ok)
	_, ok = m.Lookup(3)
	require.True(t, ok)

	m.SetEvictionConfig(0, 0)
	require.Equal(t, 0, m.evictIdleOnce(ctx, time.Now()))
}

func TestNewManager_Validates(t *testing.T) {
	_, err := NewManager(ManagerOptions{Logic: blockingFactory})
	require.Error(t, err)
	_, err = NewManager(ManagerOptions{Transport: fake.New()})
	require.Error(t, err)
}
