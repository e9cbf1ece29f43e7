package telegram

import (
	"context"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/chatlogic/pkg/chat"
)

// Logger routes telego's logs through zerolog.
type Logger struct {
	log zerolog.Logger
}

var _ telego.Logger = Logger{}

func NewLogger(l zerolog.Logger) Logger {
	return Logger{log: l.With().Str("component", "telego").Logger()}
}

func (l Logger) Debugf(format string, args ...any) { l.log.Trace().Msgf(format, args...) }
func (l Logger) Errorf(format string, args ...any) { l.log.Error().Msgf(format, args...) }

type updatesAPI interface {
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, options ...telego.LongPollingOption) (<-chan telego.Update, error)
}

var _ updatesAPI = (*telego.Bot)(nil)

// Publisher accepts inbound events.
type Publisher interface {
	Publish(ctx context.Context, ev chat.Event) error
}

// Poller long-polls updates and publishes the ones carrying a text message
// or a button press.
type Poller struct {
	bot     updatesAPI
	pub     Publisher
	timeout time.Duration
	log     zerolog.Logger
}

func NewPoller(bot *telego.Bot, pub Publisher, timeout time.Duration, log zerolog.Logger) *Poller {
	return newPoller(bot, pub, timeout, log)
}

func newPoller(bot updatesAPI, pub Publisher, timeout time.Duration, log zerolog.Logger) *Poller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Poller{
		bot:     bot,
		pub:     pub,
		timeout: timeout,
		log:     log.With().Str("component", "telegram_poller").Logger(),
	}
}

// Run polls until ctx is done. A publish failure stops polling.
func (p *Poller) Run(ctx context.Context) error {
	updates, err := p.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        int(p.timeout / time.Second),
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		return errors.Wrap(err, "telegram: start long polling")
	}
	p.log.Info().Msg("polling started")
	defer p.log.Info().Msg("polling stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			ev, ok := EventFromUpdate(u)
			if !ok {
				p.log.Debug().Int("update_id", u.UpdateID).Msg("ignoring update")
				continue
			}
			if err := p.pub.Publish(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return errors.Wrap(err, "telegram: publish update")
			}
		}
	}
}

// EventFromUpdate converts an update. ok is false for updates other than
// text messages and callbacks on reachable messages.
func EventFromUpdate(u telego.Update) (chat.Event, bool) {
	switch {
	case u.Message != nil:
		m := u.Message
		text := m.Text
		if text == "" {
			text = m.Caption
		}
		if text == "" {
			return chat.Event{}, false
		}
		var from chat.User
		if m.From != nil {
			from = user(*m.From)
		}
		return chat.MessageEvent(&chat.Message{
			ID:     chat.MessageID(m.MessageID),
			ChatID: chat.ChatID(m.Chat.ID),
			From:   from,
			Text:   text,
			Date:   time.Unix(m.Date, 0),
		}), true
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		if q.Message == nil {
			return chat.Event{}, false
		}
		return chat.CallbackEvent(&chat.Callback{
			ID:        q.ID,
			ChatID:    chat.ChatID(q.Message.GetChat().ID),
			MessageID: chat.MessageID(q.Message.GetMessageID()),
			From:      user(q.From),
			Data:      q.Data,
		}), true
	default:
		return chat.Event{}, false
	}
}

func user(u telego.User) chat.User {
	return chat.User{
		ID:       chat.UserID(u.ID),
		Username: u.Username,
		Name:     strings.TrimSpace(u.FirstName + " " + u.LastName),
	}
}
