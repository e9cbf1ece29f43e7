package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatlogic/pkg/chat"
	"github.com/go-go-golems/chatlogic/pkg/keyboard"
	"github.com/go-go-golems/chatlogic/pkg/logic"
	"github.com/go-go-golems/chatlogic/pkg/message"
	"github.com/go-go-golems/chatlogic/pkg/settings"
	"github.com/go-go-golems/chatlogic/pkg/transport/fake"
)

const testChat chat.ChatID = 7

type recLogic struct {
	main func(ctx context.Context, s *Session, params string) error
	down func() bool

	mu    sync.Mutex
	exits []bool
}

func (l *recLogic) Main(ctx context.Context, s *Session, params string) error {
	return l.main(ctx, s, params)
}

func (l *recLogic) OnExit(_ *Session, alive bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exits = append(l.exits, alive)
}

func (l *recLogic) OnDownDecide(context.Context, *Session, chat.Event) bool {
	return l.down == nil || l.down()
}

func (l *recLogic) exitList() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.exits...)
}

func blockUntilDone(ctx context.Context, _ *Session, _ string) error {
	<-ctx.Done()
	return nil
}

func newTestSession(t *testing.T, l Logic, tweak func(cfg *settings.Tree), mods ...func(*Options)) (*Session, *fake.Transport) {
	t.Helper()
	tr := fake.New()
	root := settings.NewTree()
	cfg := root.Sub(settings.ChatPath(testChat.String()))
	cfg.Set(settings.KeyRestartDelay, 0)
	cfg.Set(settings.KeyLeaveAfterExit, false)
	if tweak != nil {
		tweak(cfg)
	}
	opts := Options{
		ChatID:      testChat,
		Transport:   tr,
		Logic:       func(*Session) Logic { return l },
		Settings:    root,
		Logger:      zerolog.Nop(),
		CancelGrace: time.Second,
	}
	for _, m := range mods {
		m(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, tr
}

func msg(id chat.MessageID, text string) chat.Event {
	return chat.MessageEvent(&chat.Message{
		ID: id, ChatID: testChat, Text: text,
		From: chat.User{ID: 5, Username: "ann"},
	})
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for value")
	}
	var zero T
	return zero
}

func createdTexts(tr *fake.Transport) []string {
	var ret []string
	for _, c := range tr.Calls() {
		if c.Op == fake.OpCreate {
			ret = append(ret, c.Content.Text)
		}
	}
	return ret
}

func TestLifecycleCommand(t *testing.T) {
	cases := []struct {
		text   string
		cmd    string
		params string
		ok     bool
	}{
		{"/start", "start", "", true},
		{"/start@p q", "start", "p q", true},
		{"/restart@", "restart", "", true},
		{" /restart ", "restart", "", true},
		{"/started", "", "", false},
		{"start", "", "", false},
		{"/stop", "", "", false},
	}
	for _, c := range cases {
		cmd, params, ok := lifecycleCommand(c.text)
		require.Equal(t, c.ok, ok, c.text)
		require.Equal(t, c.cmd, cmd, c.text)
		require.Equal(t, c.params, params, c.text)
	}
}

func TestStartCommand_DeletesTriggerAndPassesParams(t *testing.T) {
	params := make(chan string, 4)
	l := &recLogic{main: func(ctx context.Context, _ *Session, p string) error {
		params <- p
		<-ctx.Done()
		return nil
	}}
	s, tr := newTestSession(t, l, nil)
	ctx := context.Background()

	require.NoError(t, s.HandleEvent(ctx, msg(10, "/start@abc")))
	require.Equal(t, "abc", recv(t, params))
	require.Equal(t, 1, tr.Count(fake.OpDelete, 10))
	require.Equal(t, chat.NoMessageID, s.LastID())
	require.True(t, s.Supervisor().Running())

	require.NoError(t, s.HandleEvent(ctx, msg(11, "/restart@xyz")))
	require.Equal(t, "xyz", recv(t, params))
	require.Equal(t, 1, tr.Count(fake.OpDelete, 11))
	require.Equal(t, []bool{true}, l.exitList())
	// forced start resets the counters
	require.Equal(t, 0, s.Supervisor().Restarts())
}

func TestDownNotice_WhenLogicDeclines(t *testing.T) {
	l := &recLogic{main: blockUntilDone, down: func() bool { return false }}
	s, tr := newTestSession(t, l, nil)

	require.NoError(t, s.HandleEvent(context.Background(), msg(20, "hello")))

	c, ok := tr.Last()
	require.True(t, ok)
	require.Equal(t, fake.OpCreate, c.Op)
	require.Equal(t, settings.DefaultBotDownMessage+"\nRestarted 0 times\nLast run with error: false\nLast stop: none", c.Content.Text)
	require.Equal(t, chat.MessageID(20), c.Content.ReplyTo)
	require.Equal(t, logic.Idle, s.Supervisor().State())
}

func TestDownNotice_CarriesLastStopReason(t *testing.T) {
	l := &recLogic{
		main: func(context.Context, *Session, string) error { return errors.New("boom") },
		down: func() bool { return false },
	}
	s, tr := newTestSession(t, l, func(cfg *settings.Tree) {
		cfg.Set(settings.KeyRestartOnException, false)
	})
	ctx := context.Background()

	require.NoError(t, s.HandleEvent(ctx, msg(10, "/start")))
	require.Eventually(t, func() bool {
		return s.Supervisor().State() == logic.StoppedError
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, s.HandleEvent(ctx, msg(11, "hello")))
	texts := createdTexts(tr)
	require.NotEmpty(t, texts)
	require.Contains(t, texts[len(texts)-1], "Last run with error: true\nLast stop: error: boom")
}

func TestCallbackRecordsCarrierAndIsAnswered(t *testing.T) {
	l := &recLogic{main: blockUntilDone, down: func() bool { return false }}
	s, tr := newTestSession(t, l, nil)

	ev := chat.CallbackEvent(&chat.Callback{ID: "cb", ChatID: testChat, MessageID: 90, Data: "x"})
	require.NoError(t, s.HandleEvent(context.Background(), ev))

	require.Equal(t, chat.MessageID(90), s.LastID())
	require.Equal(t, 1, tr.Count(fake.OpAnswer, chat.NoMessageID))
	require.Equal(t, 1, tr.Count(fake.OpCreate, chat.NoMessageID))
}

func TestDownDecide_StartsLogicAndDispatches(t *testing.T) {
	got := make(chan string, 1)
	l := &recLogic{main: func(ctx context.Context, s *Session, _ string) error {
		if _, err := s.Say(ctx, "ready"); err != nil {
			return err
		}
		ok, err := s.WaitMessage(ctx, 0)
		if err != nil || !ok {
			return err
		}
		got <- s.Last().Text
		<-ctx.Done()
		return nil
	}}
	s, tr := newTestSession(t, l, nil)
	ctx := context.Background()

	require.NoError(t, s.HandleEvent(ctx, msg(30, "wake")))
	require.Eventually(t, func() bool { return s.Waiters().Len() == 1 }, 2*time.Second, time.Millisecond)
	require.Equal(t, []string{"ready"}, createdTexts(tr))

	require.NoError(t, s.HandleEvent(ctx, msg(31, "ping")))
	require.Equal(t, "ping", recv(t, got))
	require.Equal(t, 0, s.Waiters().Len())
}

func TestFailureIsReportedAndRestartRefused(t *testing.T) {
	l := &recLogic{main: func(context.Context, *Session, string) error { return errors.New("boom") }}
	s, tr := newTestSession(t, l, nil)
	ctx := context.Background()

	require.NoError(t, s.HandleEvent(ctx, msg(40, "/start")))
	require.Eventually(t, s.Supervisor().ErrorStopped, 2*time.Second, time.Millisecond)
	require.Equal(t, []string{
		"Bot exception!\nboom\n\nBot will be terminated.\nPlease send situation and error description to developer",
	}, createdTexts(tr))

	// restarts after errors are disabled by default
	require.NoError(t, s.HandleEvent(ctx, msg(41, "again")))
	require.True(t, s.Supervisor().ErrorStopped())
	require.Len(t, createdTexts(tr), 1)
}

func TestRestartOnException_HonoursCeiling(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	l := &recLogic{main: func(context.Context, *Session, string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("boom")
	}}
	s, _ := newTestSession(t, l, func(cfg *settings.Tree) {
		cfg.Set(settings.KeyRestartOnException, true)
		cfg.Set(settings.KeyErrorRestartCount, 2)
		cfg.Set(settings.KeyMaskExceptions, true)
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}
	ctx := context.Background()

	require.NoError(t, s.HandleEvent(ctx, msg(1, "/start")))
	require.Eventually(t, func() bool { return count() == 1 && s.Supervisor().ErrorStopped() }, 2*time.Second, time.Millisecond)

	require.NoError(t, s.HandleEvent(ctx, msg(2, "one")))
	require.Eventually(t, func() bool { return count() == 2 && s.Supervisor().ErrorStopped() }, 2*time.Second, time.Millisecond)

	require.NoError(t, s.HandleEvent(ctx, msg(3, "two")))
	require.Equal(t, 2, count())
	require.Equal(t, 3, s.Supervisor().ErrorRestarts())
}

func TestNormalExitLeavesChat(t *testing.T) {
	done := make(chan *Session, 1)
	l := &recLogic{main: func(context.Context, *Session, string) error { return nil }}
	s, tr := newTestSession(t, l, func(cfg *settings.Tree) {
		cfg.Set(settings.KeyLeaveAfterExit, true)
	}, func(o *Options) {
		o.OnDone = func(s *Session) { done <- s }
	})
	ctx := context.Background()

	require.NoError(t, s.HandleEvent(ctx, msg(50, "/start")))
	require.Same(t, s, recv(t, done))
	require.False(t, s.Alive())
	require.Equal(t, 1, tr.Count(fake.OpLeave, chat.NoMessageID))
	require.Eventually(t, func() bool { return len(l.exitList()) == 1 }, 2*time.Second, time.Millisecond)
	require.Equal(t, []bool{false}, l.exitList())

	require.ErrorIs(t, s.Enqueue(ctx, msg(51, "x")), ErrClosed)
	_, err := s.Say(ctx, "x")
	require.ErrorIs(t, err, ErrClosed)
}

func TestMenuRoundTrip(t *testing.T) {
	res := make(chan chat.Result, 1)
	l := &recLogic{main: func(ctx context.Context, s *Session, _ string) error {
		r, err := s.Menu(ctx, "pick", [][]keyboard.Button{keyboard.Row("a", "b")})
		if err != nil {
			return err
		}
		res <- r
		<-ctx.Done()
		return nil
	}}
	s, tr := newTestSession(t, l, nil)
	ctx := context.Background()

	require.NoError(t, s.HandleEvent(ctx, msg(60, "/start")))

	var created fake.Call
	require.Eventually(t, func() bool {
		for _, c := range tr.Calls() {
			if c.Op == fake.OpCreate {
				created = c
				return s.Waiters().Len() == 1
			}
		}
		return false
	}, 2*time.Second, time.Millisecond)
	require.Equal(t, keyboard.Inline, created.Content.Keyboard.Type)

	data := created.Content.Keyboard.Rows[0][1].CallbackData
	require.NoError(t, s.HandleEvent(ctx, chat.CallbackEvent(&chat.Callback{
		ID: "cb1", ChatID: testChat, MessageID: created.MessageID, Data: data,
	})))

	r := recv(t, res)
	require.Equal(t, chat.Result{Known: true, Data: "b", Index: 1}, r)
	require.Equal(t, 1, tr.Count(fake.OpDelete, created.MessageID))
	require.Equal(t, 1, tr.Count(fake.OpAnswer, chat.NoMessageID))
	require.Equal(t, 0, tr.LiveCount(testChat))
}

func TestAsk_TimeoutAndIndex(t *testing.T) {
	s, tr := newTestSession(t, &recLogic{main: blockUntilDone}, nil)
	ctx := context.Background()

	idx, err := s.Ask(ctx, "q", [][]keyboard.Button{keyboard.Row("x", "y")}, Msg(message.WithTimeout(20*time.Millisecond)))
	require.NoError(t, err)
	require.Equal(t, -1, idx)
	require.Equal(t, 0, tr.LiveCount(testChat))

	_, err = s.AskYesNo(ctx, "q", []string{"only"})
	require.ErrorIs(t, err, ErrYesNoButtons)
	require.Equal(t, 1, tr.Count(fake.OpCreate, chat.NoMessageID))

	out := make(chan int, 1)
	go func() {
		i, _ := s.AskYesNo(ctx, "sure?", nil)
		out <- i
	}()
	require.Eventually(t, func() bool {
		return tr.Count(fake.OpCreate, chat.NoMessageID) == 2 && s.Waiters().Len() == 1
	}, 2*time.Second, time.Millisecond)

	require.True(t, s.Waiters().Dispatch(ctx, msg(70, "NO")))
	require.Equal(t, 1, recv(t, out))

	c, ok := tr.Last()
	require.True(t, ok)
	require.Equal(t, fake.OpDelete, c.Op)
}

func TestSay_ReplaceAndRemoveSource(t *testing.T) {
	s, tr := newTestSession(t, &recLogic{main: blockUntilDone}, nil)
	ctx := context.Background()
	s.touch(msg(60, "src"))

	m1, err := s.Say(ctx, "one")
	require.NoError(t, err)
	id1 := m1.ID()
	_, err = s.Say(ctx, "two", Replace())
	require.NoError(t, err)
	require.Equal(t, 1, tr.Count(fake.OpDelete, id1))
	require.Equal(t, 1, tr.LiveCount(testChat))

	_, err = s.Say(ctx, "three", RemoveSource())
	require.NoError(t, err)
	require.Equal(t, 1, tr.Count(fake.OpDelete, 60))
	require.Equal(t, chat.NoMessageID, s.LastID())

	// a reply keeps the message it answers
	s.touch(msg(61, "src2"))
	m4, err := s.Reply(ctx, "four", RemoveSource())
	require.NoError(t, err)
	require.Equal(t, chat.MessageID(61), m4.ReplyTo())
	require.Equal(t, 0, tr.Count(fake.OpDelete, 61))

	_, err = s.Say(ctx, "five", ReplaceID(61))
	require.NoError(t, err)
	require.Equal(t, 1, tr.Count(fake.OpDelete, 61))
}

func TestSay_WaitDelay(t *testing.T) {
	s, _ := newTestSession(t, &recLogic{main: blockUntilDone}, nil)
	start := time.Now()
	_, err := s.Say(context.Background(), "slow", WaitDelay(30*time.Millisecond))
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestDelete_MaskedAndUnmasked(t *testing.T) {
	failDelete := func(op fake.Op, _ chat.ChatID, _ chat.MessageID) error {
		if op == fake.OpDelete {
			return errors.New("gone")
		}
		return nil
	}
	ctx := context.Background()

	s, tr := newTestSession(t, &recLogic{main: blockUntilDone}, nil)
	ok, err := s.Delete(ctx, chat.NoMessageID)
	require.NoError(t, err)
	require.True(t, ok)

	tr.Fail = failDelete
	s.touch(msg(70, "x"))
	ok, err = s.Delete(ctx, chat.NoMessageID)
	require.Error(t, err)
	require.False(t, ok)
	require.Equal(t, chat.MessageID(70), s.LastID())

	masked, mtr := newTestSession(t, &recLogic{main: blockUntilDone}, func(cfg *settings.Tree) {
		cfg.Set(settings.KeyMaskExceptions, true)
	})
	mtr.Fail = failDelete
	ok, err = masked.Delete(ctx, 71)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInterceptorSeesEventsInOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	icpt := InterceptorFuncs{Message: func(_ context.Context, _ *Session, m *chat.Message) bool {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, m.Text)
		return m.Text != "/start"
	}}
	s, _ := newTestSession(t, &recLogic{main: blockUntilDone}, nil, func(o *Options) {
		o.Interceptor = icpt
	})
	ctx := context.Background()

	for i, text := range []string{"a", "b", "c", "/start"} {
		require.NoError(t, s.Enqueue(ctx, msg(chat.MessageID(i+1), text)))
	}
	require.Eventually(t, s.Supervisor().Running, 2*time.Second, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"a", "b", "c", "/start"}, seen)
}

func TestUsersAreBackedBySettings(t *testing.T) {
	root := settings.NewTree()
	s, _ := newTestSession(t, &recLogic{main: blockUntilDone}, nil, func(o *Options) {
		o.Settings = root
	})
	require.Nil(t, s.User(nil))

	s.touch(msg(80, "hi"))
	u := s.User(nil)
	require.NotNil(t, u)
	require.Equal(t, chat.UserID(5), u.ID)
	require.Equal(t, "ann", u.Username)
	require.Equal(t, "", u.Name())

	u.SetName("Ann")
	require.Equal(t, "Ann", root.String("users.5.name", ""))
	require.Same(t, u, s.User(&chat.Message{From: chat.User{ID: 5}}))
}

func TestClose_StopsLogic(t *testing.T) {
	l := &recLogic{main: blockUntilDone}
	s, _ := newTestSession(t, l, nil)
	ctx := context.Background()

	require.NoError(t, s.HandleEvent(ctx, msg(1, "/start")))
	require.True(t, s.Supervisor().Running())

	require.NoError(t, s.Close(ctx))
	require.False(t, s.Supervisor().Running())
	require.False(t, s.Alive())
	require.Equal(t, []bool{false}, l.exitList())
	require.ErrorIs(t, s.Enqueue(ctx, msg(2, "x")), ErrClosed)
	require.NoError(t, s.Close(ctx))
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Options{ChatID: testChat})
	require.Error(t, err)
	_, err = New(Options{Transport: fake.New(), Logic: func(*Session) Logic { return LogicFunc(blockUntilDone) }})
	require.Error(t, err)
}
