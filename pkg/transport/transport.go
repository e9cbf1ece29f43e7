// Package transport declares the outbound side of a chat connection: the
// narrow set of calls the message lifecycle needs to create, edit and delete
// messages. Implementations live in subpackages.
package transport

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatlogic/pkg/chat"
	"github.com/go-go-golems/chatlogic/pkg/keyboard"
)

// ErrNotModified is returned by UpdateMessage when the message is already in
// the requested state. Callers swallow it.
var ErrNotModified = errors.New("transport: message is not modified")

// Changes tells UpdateMessage which parts of Content differ from what is
// currently shown.
type Changes struct {
	Text     bool
	Media    bool
	Keyboard bool
}

func (c Changes) Any() bool { return c.Text || c.Media || c.Keyboard }

// Content is the displayable state of one outgoing message.
type Content struct {
	Text     string
	Media    string
	Keyboard keyboard.Layout

	// ReplyTo quotes an inbound message when set.
	ReplyTo chat.MessageID
	Changes Changes
}

// HasMedia reports whether the message carries a photo.
func (c Content) HasMedia() bool { return strings.TrimSpace(c.Media) != "" }

// Transport is the outbound chat API.
type Transport interface {
	CreateMessage(ctx context.Context, chatID chat.ChatID, c Content) (chat.MessageID, error)
	UpdateMessage(ctx context.Context, chatID chat.ChatID, id chat.MessageID, c Content) error
	DeleteMessage(ctx context.Context, chatID chat.ChatID, id chat.MessageID) error
}

// Leaver is implemented by transports that can make the bot leave a chat.
type Leaver interface {
	LeaveChat(ctx context.Context, chatID chat.ChatID) error
}

// CallbackAnswerer is implemented by transports that must acknowledge button
// presses so the client stops its progress indicator.
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID string) error
}

// IsNotModified reports whether err means the edit was a no-op.
func IsNotModified(err error) bool {
	return errors.Is(err, ErrNotModified)
}
