package waiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatlogic/pkg/chat"
)

type visitLog struct {
	mu    sync.Mutex
	order []string
}

func (v *visitLog) add(name string) {
	v.mu.Lock()
	v.order = append(v.order, name)
	v.mu.Unlock()
}

func (v *visitLog) get() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.order...)
}

func textWaiter(log *visitLog, name string, claim bool, opts ...Option) *Waiter {
	return New(TextPredicate(func(_ context.Context, _ *chat.Message) bool {
		log.add(name)
		return claim
	}), opts...)
}

func msgEvent(text string) chat.Event {
	return chat.MessageEvent(&chat.Message{ID: 10, ChatID: 1, Text: text})
}

func TestDispatch_VisitsNewestFirstAndStopsAtClaimant(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	v := &visitLog{}
	reg.Add(textWaiter(v, "a", false))
	b := reg.Add(textWaiter(v, "b", true))
	reg.Add(textWaiter(v, "c", false))
	reg.Add(textWaiter(v, "d", false))

	handled := reg.Dispatch(context.Background(), msgEvent("hi"))
	require.True(t, handled)
	require.Equal(t, []string{"d", "c", "b"}, v.get())
	require.True(t, b.Completed())
	// non-modal claimants stay registered
	require.Equal(t, 4, reg.Len())
}

func TestDispatch_UnmatchedModalIsABarrier(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	v := &visitLog{}
	older := reg.Add(textWaiter(v, "older", true))
	modal := reg.Add(textWaiter(v, "modal", false, Modal()))
	reg.Add(textWaiter(v, "newer", false))

	handled := reg.Dispatch(context.Background(), msgEvent("hi"))
	require.False(t, handled)
	require.Equal(t, []string{"newer", "modal"}, v.get())
	require.False(t, older.Completed())
	require.False(t, modal.Completed())
	require.True(t, reg.Contains(modal))
}

func TestDispatch_MatchedModalIsRemovedAndSignalled(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	v := &visitLog{}
	reg.Add(textWaiter(v, "older", true))
	modal := reg.Add(textWaiter(v, "modal", true, Modal()))

	require.True(t, reg.Dispatch(context.Background(), msgEvent("hi")))
	require.Equal(t, []string{"modal"}, v.get())
	require.True(t, modal.Completed())
	require.False(t, reg.Contains(modal))
	require.Equal(t, 1, reg.Len())
}

func TestDispatch_CallbackOnlyReachesCallbackMatchers(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	v := &visitLog{}
	cbw := reg.Add(New(CallbackPredicate(func(_ context.Context, cb *chat.Callback) bool {
		v.add("cb:" + cb.Data)
		return true
	})))
	reg.Add(textWaiter(v, "text", true))

	handled := reg.Dispatch(context.Background(), chat.CallbackEvent(&chat.Callback{ID: "q", ChatID: 1, Data: "x"}))
	require.True(t, handled)
	require.Equal(t, []string{"cb:x"}, v.get())
	require.True(t, cbw.Completed())
}

func TestDispatch_MatcherMayMutateRegistry(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	v := &visitLog{}
	victim := reg.Add(textWaiter(v, "victim", true))
	reg.Add(New(TextPredicate(func(_ context.Context, _ *chat.Message) bool {
		v.add("remover")
		reg.Remove(victim)
		return false
	})))

	require.False(t, reg.Dispatch(context.Background(), msgEvent("hi")))
	require.Equal(t, []string{"remover"}, v.get())
	require.False(t, victim.Completed())
}

func TestDispatch_PanickingMatcherDoesNotClaim(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	v := &visitLog{}
	older := reg.Add(textWaiter(v, "older", true))
	reg.Add(New(TextPredicate(func(_ context.Context, _ *chat.Message) bool {
		panic("boom")
	})))

	require.True(t, reg.Dispatch(context.Background(), msgEvent("hi")))
	require.True(t, older.Completed())
}

func TestAdd_IsIdempotent(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	w := New(TextPredicate(nil))
	reg.Add(w)
	reg.Add(w)
	require.Equal(t, 1, reg.Len())

	reg.Remove(w)
	reg.Remove(w)
	require.Equal(t, 0, reg.Len())
}

func TestRemoveByMessageAndID(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	a := reg.Add(New(TextPredicate(nil), ForMessage(5)))
	b := reg.Add(New(TextPredicate(nil), ForMessage(5)))
	c := reg.Add(New(TextPredicate(nil)))

	reg.RemoveByMessage(chat.NoMessageID)
	require.Equal(t, 3, reg.Len())

	reg.RemoveByMessage(5)
	require.False(t, reg.Contains(a))
	require.False(t, reg.Contains(b))
	require.True(t, reg.Contains(c))

	reg.RemoveByID(c.ID())
	require.Equal(t, 0, reg.Len())
	reg.Clear()
}

func TestWait_CompletesOnDispatch(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	w := reg.Add(New(TextPredicate(func(_ context.Context, m *chat.Message) bool {
		return m.Text == "go"
	}), Modal()))

	go func() {
		time.Sleep(10 * time.Millisecond)
		reg.Dispatch(context.Background(), msgEvent("go"))
	}()

	ok, err := reg.Wait(context.Background(), w, 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWait_TimeoutDeregisters(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	w := reg.Add(New(TextPredicate(nil), Modal()))

	ok, err := reg.Wait(context.Background(), w, 20*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, reg.Contains(w))
}

func TestWait_CancellationDeregisters(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	w := reg.Add(New(TextPredicate(nil)))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	ok, err := reg.Wait(ctx, w, 0)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, ok)
	require.False(t, reg.Contains(w))
}

func TestWait_TimedOutWaiterCanNotClaim(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	v := &visitLog{}
	older := reg.Add(textWaiter(v, "older", true))

	entered := make(chan struct{})
	release := make(chan struct{})
	slow := reg.Add(New(TextPredicate(func(_ context.Context, _ *chat.Message) bool {
		close(entered)
		<-release
		return true
	}), Modal()))

	handled := make(chan bool, 1)
	go func() { handled <- reg.Dispatch(context.Background(), msgEvent("hi")) }()
	<-entered

	ok, err := reg.Wait(context.Background(), slow, 10*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
	close(release)

	// the event goes on to the next waiter instead of being swallowed
	require.True(t, <-handled)
	require.False(t, slow.Completed())
	require.True(t, older.Completed())
	require.Equal(t, []string{"older"}, v.get())
	require.False(t, reg.Contains(slow))
}

func TestWait_CompletionBeforeDeadlineWins(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	w := reg.Add(New(TextPredicate(func(_ context.Context, _ *chat.Message) bool { return true }), Modal()))
	require.True(t, reg.Dispatch(context.Background(), msgEvent("hi")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := reg.Wait(ctx, w, time.Nanosecond)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWaiterResultIsConsumedOnce(t *testing.T) {
	w := New(TextPredicate(nil))
	require.Equal(t, chat.NoResult, w.TakeResult())
	w.StoreResult(chat.Result{Known: true, Data: "x", Index: 2})
	require.Equal(t, chat.Result{Known: true, Data: "x", Index: 2}, w.TakeResult())
	require.Equal(t, chat.NoResult, w.TakeResult())
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		text   string
		cmd    string
		params string
		ok     bool
	}{
		{"/start", "start", "", true},
		{"/go  far away ", "go", "far away", true},
		{"/", "", "", false},
		{"hello", "", "", false},
		{"/ x", "", "", false},
	}
	for _, c := range cases {
		cmd, params, ok := ParseCommand(c.text)
		require.Equal(t, c.ok, ok, c.text)
		require.Equal(t, c.cmd, cmd, c.text)
		require.Equal(t, c.params, params, c.text)
	}
}

func TestCommandSet(t *testing.T) {
	var got []string
	handler := func(_ context.Context, cmd, params string) bool {
		got = append(got, cmd+"|"+params)
		return cmd != "refuse"
	}
	ctx := context.Background()

	listed := CommandSet{Commands: []string{"help", "refuse"}, Handler: handler}
	require.True(t, Evaluate(ctx, listed, msgEvent("/help me")))
	require.False(t, Evaluate(ctx, listed, msgEvent("/other")))
	require.False(t, Evaluate(ctx, listed, msgEvent("/refuse")))
	require.False(t, Evaluate(ctx, listed, msgEvent("plain text")))

	open := CommandSet{Handler: handler}
	require.True(t, Evaluate(ctx, open, msgEvent("/anything")))

	require.Equal(t, []string{"help|me", "refuse|", "anything|"}, got)

	require.False(t, Evaluate(ctx, CommandSet{}, msgEvent("/x")))
}

func TestAnyOf(t *testing.T) {
	ctx := context.Background()
	m := AnyOf{
		CallbackPredicate(func(_ context.Context, _ *chat.Callback) bool { return true }),
		TextPredicate(func(_ context.Context, m *chat.Message) bool { return m.Text == "ok" }),
	}
	require.True(t, Evaluate(ctx, m, msgEvent("ok")))
	require.False(t, Evaluate(ctx, m, msgEvent("no")))
	require.True(t, Evaluate(ctx, m, chat.CallbackEvent(&chat.Callback{Data: "x"})))
}
