// Package chat defines the inbound event model shared by the waiter registry,
// the message lifecycle and the chat session.
package chat

import (
	"strconv"
	"time"
)

// ChatID identifies a conversation on the transport side.
type ChatID int64

// MessageID identifies a message inside a chat.
type MessageID int64

// UserID identifies the author of an inbound event.
type UserID int64

const (
	// NoChatID is the zero chat id.
	NoChatID ChatID = 0
	// NoMessageID marks a message that was never sent or was deleted ("unsent").
	NoMessageID MessageID = 0
	// NoUserID is the zero user id.
	NoUserID UserID = 0
)

func (id ChatID) String() string    { return strconv.FormatInt(int64(id), 10) }
func (id MessageID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id UserID) String() string    { return strconv.FormatInt(int64(id), 10) }

// User is the sender of a message or callback.
type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Message is an inbound text message.
type Message struct {
	ID     MessageID `json:"id"`
	ChatID ChatID    `json:"chat_id"`
	From   User      `json:"from"`
	Text   string    `json:"text"`
	Date   time.Time `json:"date,omitempty"`
}

// Callback is an inbound button press on an inline keyboard.
type Callback struct {
	ID        string    `json:"id"`
	ChatID    ChatID    `json:"chat_id"`
	MessageID MessageID `json:"message_id"`
	From      User      `json:"from"`
	Data      string    `json:"data"`
}

// Event carries exactly one of Message or Callback.
type Event struct {
	Message  *Message  `json:"message,omitempty"`
	Callback *Callback `json:"callback,omitempty"`
}

// MessageEvent wraps m into an Event.
func MessageEvent(m *Message) Event { return Event{Message: m} }

// CallbackEvent wraps cb into an Event.
func CallbackEvent(cb *Callback) Event { return Event{Callback: cb} }

// IsZero reports whether the event carries nothing.
func (e Event) IsZero() bool { return e.Message == nil && e.Callback == nil }

// ChatID returns the conversation the event belongs to.
func (e Event) ChatID() ChatID {
	switch {
	case e.Message != nil:
		return e.Message.ChatID
	case e.Callback != nil:
		return e.Callback.ChatID
	default:
		return NoChatID
	}
}

// From returns the event author.
func (e Event) From() User {
	switch {
	case e.Message != nil:
		return e.Message.From
	case e.Callback != nil:
		return e.Callback.From
	default:
		return User{}
	}
}
