// Package keyboard holds the button layout attached to an outgoing message.
//
// A Keyboard tracks which of its fields changed since the last time the owning
// message was shown, so the message lifecycle can decide between an in-place
// edit and a delete-then-recreate. Rendering into transport specific markup is
// left to the transport; this package only describes the layout and resolves
// inbound events back to buttons.
package keyboard

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatlogic/pkg/chat"
)

// Type is the kind of keyboard attached to a message.
type Type int

const (
	// None means no keyboard.
	None Type = iota
	// Reply is the tactile reply keyboard that replaces the user's input keyboard.
	Reply
	// Inline is a keyboard attached to the message itself; presses arrive as callbacks.
	Inline
	// Remove asks the client to hide a previously shown reply keyboard.
	Remove
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Reply:
		return "reply"
	case Inline:
		return "inline"
	case Remove:
		return "remove"
	default:
		return "unknown"
	}
}

var (
	ErrNoButtons   = errors.New("keyboard: buttons are not set")
	ErrEmptyButton = errors.New("keyboard: button text can not be empty")
)

// Button is a single key. Data is only used by inline keyboards; when empty the
// text is used as data.
type Button struct {
	Text string
	Data string
}

// Btn is shorthand for a button whose data equals its text.
func Btn(text string) Button { return Button{Text: text} }

// Row is shorthand for a row of text buttons.
func Row(texts ...string) []Button {
	ret := make([]Button, 0, len(texts))
	for _, t := range texts {
		ret = append(ret, Btn(t))
	}
	return ret
}

// Keyboard is a change-tracked keyboard description.
type Keyboard struct {
	prefix string

	kind          Type
	committedKind Type
	kindDirty     bool

	buttons      [][]Button
	buttonsDirty bool

	placeholder      string
	placeholderDirty bool
}

// New builds a keyboard. Passing buttons with kind None selects Inline.
func New(kind Type, buttons [][]Button, placeholder string) *Keyboard {
	k := &Keyboard{
		prefix: newPrefix(),
	}
	k.kind = kind
	k.buttons = buttons
	k.placeholder = placeholder
	if len(buttons) > 0 && kind == None {
		k.kind = Inline
	}
	// a fresh keyboard is dirty relative to "nothing shown"
	k.kindDirty = k.kind != None
	k.buttonsDirty = len(buttons) > 0
	k.placeholderDirty = placeholder != ""
	return k
}

func newPrefix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8] + ":"
}

// Prefix is the identity prefix put in front of inline callback data.
func (k *Keyboard) Prefix() string { return k.prefix }

func (k *Keyboard) Type() Type               { return k.kind }
func (k *Keyboard) Buttons() [][]Button      { return k.buttons }
func (k *Keyboard) Placeholder() string      { return k.placeholder }
func (k *Keyboard) CommittedType() Type      { return k.committedKind }
func (k *Keyboard) TypeChanged() bool        { return k.kindDirty }
func (k *Keyboard) ButtonsChanged() bool     { return k.buttonsDirty }
func (k *Keyboard) PlaceholderChanged() bool { return k.placeholderDirty }

// SetType changes the keyboard type without touching the buttons.
func (k *Keyboard) SetType(t Type) {
	if k.kind == t {
		return
	}
	k.kind = t
	k.kindDirty = true
}

// SetButtons replaces the buttons. Empty buttons select None, buttons on a None
// keyboard select Inline.
func (k *Keyboard) SetButtons(buttons [][]Button) {
	if len(buttons) == 0 {
		k.SetType(None)
	} else if k.kind == None {
		k.SetType(Inline)
	}
	k.buttons = buttons
	k.buttonsDirty = true
}

func (k *Keyboard) SetPlaceholder(p string) {
	if k.placeholder == p {
		return
	}
	k.placeholder = p
	k.placeholderDirty = true
}

// SetInline switches to an inline keyboard with the given buttons.
func (k *Keyboard) SetInline(buttons [][]Button) {
	k.SetType(Inline)
	if buttons != nil {
		k.SetButtons(buttons)
	}
}

// SetReply switches to a reply keyboard with the given buttons.
func (k *Keyboard) SetReply(buttons [][]Button, placeholder string) {
	k.SetType(Reply)
	if buttons != nil {
		k.SetButtons(buttons)
	}
	k.SetPlaceholder(placeholder)
}

func (k *Keyboard) SetRemove() { k.SetType(Remove) }
func (k *Keyboard) SetNone()   { k.SetType(None) }

// Changed reports whether anything changed since the last Unchange.
func (k *Keyboard) Changed() bool {
	return k.kindDirty || k.buttonsDirty || k.placeholderDirty
}

// Unchange marks the current state as shown.
func (k *Keyboard) Unchange() {
	k.committedKind = k.kind
	k.kindDirty = false
	k.buttonsDirty = false
	k.placeholderDirty = false
}

// Interactive reports whether the keyboard can produce a selection.
func (k *Keyboard) Interactive() bool {
	return k.kind == Inline || k.kind == Reply
}

// Replaceable reports whether the message can be edited in place. Moving into
// or out of a reply keyboard requires the message to be recreated.
func (k *Keyboard) Replaceable() bool {
	if k.committedKind == k.kind {
		return true
	}
	return k.committedKind != Reply && k.kind != Reply
}

// Validate checks the buttons of interactive keyboards.
func (k *Keyboard) Validate() error {
	if !k.Interactive() {
		return nil
	}
	if len(k.buttons) == 0 {
		return ErrNoButtons
	}
	for _, row := range k.buttons {
		for _, b := range row {
			if strings.TrimSpace(b.Text) == "" {
				return ErrEmptyButton
			}
		}
	}
	return nil
}

// Width is the length of the longest row.
func (k *Keyboard) Width() int {
	w := 0
	for _, row := range k.buttons {
		if len(row) > w {
			w = len(row)
		}
	}
	return w
}

// CallbackData is the prefixed data sent by an inline button.
func (k *Keyboard) CallbackData(b Button) string {
	data := b.Data
	if data == "" {
		data = b.Text
	}
	return k.prefix + data
}

// Known resolves an inbound event to one of the keyboard buttons. Inline
// keyboards only match callbacks carrying this keyboard's prefix, reply
// keyboards only match messages whose text equals a button text.
func (k *Keyboard) Known(ev chat.Event) chat.Result {
	switch k.kind {
	case Inline:
		if ev.Callback == nil {
			return chat.NoResult
		}
		return k.locateCallback(ev.Callback.Data)
	case Reply:
		if ev.Message == nil {
			return chat.NoResult
		}
		return k.locateText(ev.Message.Text)
	default:
		return chat.NoResult
	}
}

func (k *Keyboard) locateCallback(data string) chat.Result {
	if !strings.HasPrefix(data, k.prefix) {
		return chat.NoResult
	}
	width := k.Width()
	for r, row := range k.buttons {
		for c, b := range row {
			if k.CallbackData(b) == data {
				return chat.Result{Known: true, Data: strings.TrimPrefix(data, k.prefix), Index: r*width + c}
			}
		}
	}
	return chat.NoResult
}

func (k *Keyboard) locateText(text string) chat.Result {
	width := k.Width()
	for r, row := range k.buttons {
		for c, b := range row {
			if b.Text == text {
				return chat.Result{Known: true, Data: text, Index: r*width + c}
			}
		}
	}
	return chat.NoResult
}

// Clone returns a deep copy sharing the identity prefix. Matchers evaluated on
// the dispatch path hold a clone so the owner can keep editing the original.
func (k *Keyboard) Clone() *Keyboard {
	c := *k
	c.buttons = make([][]Button, len(k.buttons))
	for i, row := range k.buttons {
		c.buttons[i] = append([]Button(nil), row...)
	}
	return &c
}

// Layout is a rendered snapshot handed to transports.
type Layout struct {
	Type        Type
	Rows        [][]LayoutButton
	Placeholder string
}

// LayoutButton is a button with its callback data resolved.
type LayoutButton struct {
	Text         string
	CallbackData string
}

// Layout snapshots the keyboard for a transport call.
func (k *Keyboard) Layout() Layout {
	l := Layout{Type: k.kind, Placeholder: k.placeholder}
	if !k.Interactive() {
		return l
	}
	l.Rows = make([][]LayoutButton, 0, len(k.buttons))
	for _, row := range k.buttons {
		lr := make([]LayoutButton, 0, len(row))
		for _, b := range row {
			lb := LayoutButton{Text: b.Text}
			if k.kind == Inline {
				lb.CallbackData = k.CallbackData(b)
			}
			lr = append(lr, lb)
		}
		l.Rows = append(l.Rows, lr)
	}
	return l
}
