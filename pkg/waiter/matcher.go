package waiter

import (
	"context"
	"slices"
	"strings"

	"github.com/go-go-golems/chatlogic/pkg/chat"
)

// Matcher is the condition a Waiter evaluates against inbound events. It is a
// closed set of variants: TextPredicate, CallbackPredicate, CommandSet and
// AnyOf. Evaluate switches over them explicitly.
type Matcher interface {
	matcher()
}

// TextPredicate claims inbound text messages.
type TextPredicate func(ctx context.Context, m *chat.Message) bool

// CallbackPredicate claims inbound button presses.
type CallbackPredicate func(ctx context.Context, cb *chat.Callback) bool

// CommandHandler processes a "/cmd params" message and reports whether it was handled.
type CommandHandler func(ctx context.Context, cmd string, params string) bool

// CommandSet claims messages of the form "/name params". When Commands is nil
// every command goes to Handler; otherwise only listed names are considered,
// and Handler (if set) gets the final word.
type CommandSet struct {
	Commands []string
	Handler  CommandHandler
}

// AnyOf evaluates its members in order; the first claimant wins.
type AnyOf []Matcher

func (TextPredicate) matcher()     {}
func (CallbackPredicate) matcher() {}
func (CommandSet) matcher()        {}
func (AnyOf) matcher()             {}

const commandTrim = " \r\n\t\b"

// ParseCommand splits "/cmd params" into its parts. ok is false when text is
// not a command.
func ParseCommand(text string) (cmd string, params string, ok bool) {
	if len(text) < 2 || text[0] != '/' {
		return "", "", false
	}
	rest := text[1:]
	if i := strings.IndexByte(rest, ' '); i >= 0 {
		cmd, params = rest[:i], rest[i+1:]
	} else {
		cmd = rest
	}
	cmd = strings.Trim(cmd, commandTrim)
	if cmd == "" {
		return "", "", false
	}
	return cmd, strings.Trim(params, commandTrim), true
}

func (cs CommandSet) match(ctx context.Context, m *chat.Message) bool {
	cmd, params, ok := ParseCommand(m.Text)
	if !ok {
		return false
	}
	if cs.Commands != nil {
		if !slices.Contains(cs.Commands, cmd) {
			return false
		}
		return cs.Handler == nil || cs.Handler(ctx, cmd, params)
	}
	return cs.Handler != nil && cs.Handler(ctx, cmd, params)
}

// Evaluate reports whether m claims ev.
func Evaluate(ctx context.Context, m Matcher, ev chat.Event) bool {
	switch mt := m.(type) {
	case TextPredicate:
		return ev.Message != nil && mt != nil && mt(ctx, ev.Message)
	case CallbackPredicate:
		return ev.Callback != nil && mt != nil && mt(ctx, ev.Callback)
	case CommandSet:
		return ev.Message != nil && mt.match(ctx, ev.Message)
	case AnyOf:
		for _, sub := range mt {
			if Evaluate(ctx, sub, ev) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
