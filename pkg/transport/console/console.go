// Package console runs a single chat on a terminal: bot messages are printed
// to a writer and typed lines become inbound events. Lines starting with "!"
// press the inline button with that caption.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/chatlogic/pkg/chat"
	"github.com/go-go-golems/chatlogic/pkg/keyboard"
	"github.com/go-go-golems/chatlogic/pkg/transport"
	"github.com/go-go-golems/chatlogic/pkg/transport/fake"
)

// ChatID is the conversation the console plays.
const ChatID chat.ChatID = 1

const pressPrefix = "!"

// Transport keeps message state in memory and renders every change.
type Transport struct {
	*fake.Transport
	out io.Writer
}

var _ transport.Transport = (*Transport)(nil)

func NewTransport(out io.Writer) *Transport {
	t := &Transport{Transport: fake.New(), out: out}
	t.NoJournal = true
	t.OnCall = t.render
	return t
}

func (t *Transport) render(c fake.Call) {
	var b strings.Builder
	switch c.Op {
	case fake.OpCreate:
		fmt.Fprintf(&b, "#%d", c.MessageID)
		if c.Content.ReplyTo != chat.NoMessageID {
			fmt.Fprintf(&b, " (reply to #%d)", c.Content.ReplyTo)
		}
		b.WriteString("\n")
		writeContent(&b, c.Content)
	case fake.OpUpdate:
		fmt.Fprintf(&b, "#%d (edited)\n", c.MessageID)
		writeContent(&b, c.Content)
	case fake.OpDelete:
		fmt.Fprintf(&b, "#%d deleted\n", c.MessageID)
	case fake.OpLeave:
		b.WriteString("bot left the chat\n")
	default:
		return
	}
	_, _ = io.WriteString(t.out, b.String())
}

func writeContent(b *strings.Builder, c transport.Content) {
	if c.HasMedia() {
		fmt.Fprintf(b, "  [photo %s]\n", c.Media)
	}
	for _, line := range strings.Split(c.Text, "\n") {
		fmt.Fprintf(b, "  %s\n", line)
	}
	kb := c.Keyboard
	switch kb.Type {
	case keyboard.Inline:
		for _, row := range kb.Rows {
			b.WriteString("  ")
			for _, btn := range row {
				fmt.Fprintf(b, "[%s] ", btn.Text)
			}
			b.WriteString("\n")
		}
	case keyboard.Reply:
		for _, row := range kb.Rows {
			texts := make([]string, 0, len(row))
			for _, btn := range row {
				texts = append(texts, btn.Text)
			}
			fmt.Fprintf(b, "  < %s >\n", strings.Join(texts, " | "))
		}
		if kb.Placeholder != "" {
			fmt.Fprintf(b, "  (%s)\n", kb.Placeholder)
		}
	case keyboard.Remove:
		b.WriteString("  (keyboard removed)\n")
	case keyboard.None:
	}
}

// Press resolves the newest displayed inline button captioned text.
func (t *Transport) Press(text string) (*chat.Callback, bool) {
	ids := t.LiveIDs(ChatID)
	for i := len(ids) - 1; i >= 0; i-- {
		c, ok := t.Live(ChatID, ids[i])
		if !ok || c.Keyboard.Type != keyboard.Inline {
			continue
		}
		for _, row := range c.Keyboard.Rows {
			for _, btn := range row {
				if btn.Text == text {
					return &chat.Callback{
						ID:        uuid.NewString(),
						ChatID:    ChatID,
						MessageID: ids[i],
						Data:      btn.CallbackData,
					}, true
				}
			}
		}
	}
	return nil, false
}

// Publisher accepts inbound events, e.g. a bus.
type Publisher interface {
	Publish(ctx context.Context, ev chat.Event) error
}

// Reader turns input lines into events.
type Reader struct {
	in   io.Reader
	tr   *Transport
	pub  Publisher
	user chat.User
	log  zerolog.Logger
	// inbound ids live far above the bot's own ids
	nextID atomic.Int64
}

func NewReader(in io.Reader, tr *Transport, pub Publisher, user chat.User, log zerolog.Logger) *Reader {
	r := &Reader{
		in:   in,
		tr:   tr,
		pub:  pub,
		user: user,
		log:  log.With().Str("component", "console_reader").Logger(),
	}
	r.nextID.Store(1_000_000)
	return r
}

// Event converts one input line. ok is false for blank lines and presses of
// unknown buttons.
func (r *Reader) Event(line string) (chat.Event, bool) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return chat.Event{}, false
	}
	if caption, ok := strings.CutPrefix(line, pressPrefix); ok {
		cb, found := r.tr.Press(strings.TrimSpace(caption))
		if !found {
			_, _ = fmt.Fprintf(r.tr.out, "no button %q on screen\n", caption)
			return chat.Event{}, false
		}
		cb.From = r.user
		return chat.CallbackEvent(cb), true
	}
	return chat.MessageEvent(&chat.Message{
		ID:     chat.MessageID(r.nextID.Add(1)),
		ChatID: ChatID,
		From:   r.user,
		Text:   line,
		Date:   time.Now(),
	}), true
}

// Run publishes every line until input ends or ctx is done. The blocking
// read happens on its own goroutine so ctx stays in charge.
func (r *Reader) Run(ctx context.Context) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			r.log.Debug().Msg("input closed")
			return errors.Wrap(err, "console: read input")
		case line := <-lines:
			ev, ok := r.Event(line)
			if !ok {
				continue
			}
			if err := r.pub.Publish(ctx, ev); err != nil {
				return err
			}
		}
	}
}
