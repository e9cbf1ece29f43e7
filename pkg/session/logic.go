package session

import (
	"context"

	"github.com/go-go-golems/chatlogic/pkg/chat"
)

// Logic is the user-authored conversation of one chat. Every chat gets its
// own Logic value from the LogicFactory.
type Logic interface {
	// Main runs the conversation. It is started by /start, /restart or the
	// down policy and should return promptly once ctx is done. params is the
	// text after "@" in "/start@params".
	Main(ctx context.Context, s *Session, params string) error
	// OnExit is called after every stop of Main. alive is false once the
	// chat was left or closed.
	OnExit(s *Session, alive bool)
	// OnDownDecide is asked when an event arrives while Main is not running.
	// Returning true restarts Main subject to the restart policy; false
	// answers with the bot down notice.
	OnDownDecide(ctx context.Context, s *Session, ev chat.Event) bool
}

// LogicFactory builds the logic for a new session.
type LogicFactory func(s *Session) Logic

// BaseLogic provides the default OnExit and OnDownDecide. Embed it and
// implement Main.
type BaseLogic struct{}

func (BaseLogic) OnExit(*Session, bool) {}

func (BaseLogic) OnDownDecide(context.Context, *Session, chat.Event) bool { return true }

// LogicFunc adapts a plain function to Logic with the BaseLogic defaults.
type LogicFunc func(ctx context.Context, s *Session, params string) error

func (f LogicFunc) Main(ctx context.Context, s *Session, params string) error {
	return f(ctx, s, params)
}

func (LogicFunc) OnExit(*Session, bool) {}

func (LogicFunc) OnDownDecide(context.Context, *Session, chat.Event) bool { return true }

// Interceptor sees every inbound event of every chat before the session
// does. Returning true consumes the event.
type Interceptor interface {
	InterceptMessage(ctx context.Context, s *Session, m *chat.Message) bool
	InterceptCallback(ctx context.Context, s *Session, cb *chat.Callback) bool
}

// InterceptorFuncs builds an Interceptor from optional functions.
type InterceptorFuncs struct {
	Message  func(ctx context.Context, s *Session, m *chat.Message) bool
	Callback func(ctx context.Context, s *Session, cb *chat.Callback) bool
}

func (f InterceptorFuncs) InterceptMessage(ctx context.Context, s *Session, m *chat.Message) bool {
	return f.Message != nil && f.Message(ctx, s, m)
}

func (f InterceptorFuncs) InterceptCallback(ctx context.Context, s *Session, cb *chat.Callback) bool {
	return f.Callback != nil && f.Callback(ctx, s, cb)
}
