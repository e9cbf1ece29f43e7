// Package telegram implements the chat transport on the Telegram Bot API.
package telegram

import (
	"context"
	"os"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/chatlogic/pkg/chat"
	"github.com/go-go-golems/chatlogic/pkg/keyboard"
	"github.com/go-go-golems/chatlogic/pkg/transport"
)

// botAPI is the subset of *telego.Bot the transport calls.
type botAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error)
	EditMessageText(ctx context.Context, params *telego.EditMessageTextParams) (*telego.Message, error)
	EditMessageCaption(ctx context.Context, params *telego.EditMessageCaptionParams) (*telego.Message, error)
	EditMessageMedia(ctx context.Context, params *telego.EditMessageMediaParams) (*telego.Message, error)
	EditMessageReplyMarkup(ctx context.Context, params *telego.EditMessageReplyMarkupParams) (*telego.Message, error)
	DeleteMessage(ctx context.Context, params *telego.DeleteMessageParams) error
	LeaveChat(ctx context.Context, params *telego.LeaveChatParams) error
	AnswerCallbackQuery(ctx context.Context, params *telego.AnswerCallbackQueryParams) error
}

var _ botAPI = (*telego.Bot)(nil)

// Transport sends and edits messages through a Telegram bot.
type Transport struct {
	bot botAPI
	log zerolog.Logger
}

var (
	_ transport.Transport        = (*Transport)(nil)
	_ transport.Leaver           = (*Transport)(nil)
	_ transport.CallbackAnswerer = (*Transport)(nil)
)

// NewBot creates a bot client that logs through log.
func NewBot(token string, log zerolog.Logger) (*telego.Bot, error) {
	bot, err := telego.NewBot(token, telego.WithLogger(NewLogger(log)))
	if err != nil {
		return nil, errors.Wrap(err, "telegram: create bot")
	}
	return bot, nil
}

func New(bot *telego.Bot, log zerolog.Logger) *Transport {
	return newTransport(bot, log)
}

func newTransport(bot botAPI, log zerolog.Logger) *Transport {
	return &Transport{bot: bot, log: log.With().Str("component", "telegram").Logger()}
}

func (t *Transport) CreateMessage(ctx context.Context, chatID chat.ChatID, c transport.Content) (chat.MessageID, error) {
	var reply *telego.ReplyParameters
	if c.ReplyTo != chat.NoMessageID {
		reply = &telego.ReplyParameters{MessageID: int(c.ReplyTo), AllowSendingWithoutReply: true}
	}
	markup := replyMarkup(c.Keyboard)

	var (
		msg *telego.Message
		err error
	)
	if c.HasMedia() {
		file, closeFile, ferr := inputFile(c.Media)
		if ferr != nil {
			return chat.NoMessageID, ferr
		}
		defer closeFile()
		msg, err = t.bot.SendPhoto(ctx, &telego.SendPhotoParams{
			ChatID:          tu.ID(int64(chatID)),
			Photo:           file,
			Caption:         c.Text,
			ReplyParameters: reply,
			ReplyMarkup:     markup,
		})
	} else {
		msg, err = t.bot.SendMessage(ctx, &telego.SendMessageParams{
			ChatID:          tu.ID(int64(chatID)),
			Text:            c.Text,
			ReplyParameters: reply,
			ReplyMarkup:     markup,
		})
	}
	if err != nil {
		return chat.NoMessageID, errors.Wrap(err, "telegram: send message")
	}
	t.log.Debug().Str("chat_id", chatID.String()).Int("message_id", msg.MessageID).Msg("message sent")
	return chat.MessageID(msg.MessageID), nil
}

// UpdateMessage edits the parts named in c.Changes. Media edits carry the
// caption; text edits of a photo go to its caption. The inline keyboard is
// always resent since Telegram drops it on edits that omit it.
func (t *Transport) UpdateMessage(ctx context.Context, chatID chat.ChatID, id chat.MessageID, c transport.Content) error {
	if !c.Changes.Any() {
		return transport.ErrNotModified
	}
	cid := tu.ID(int64(chatID))
	mid := int(id)
	markup := inlineMarkup(c.Keyboard)

	var err error
	switch {
	case c.Changes.Media && !c.HasMedia():
		return errors.New("telegram: a photo cannot be removed from a sent message")
	case c.Changes.Media:
		file, closeFile, ferr := inputFile(c.Media)
		if ferr != nil {
			return ferr
		}
		defer closeFile()
		photo := tu.MediaPhoto(file).WithCaption(c.Text)
		_, err = t.bot.EditMessageMedia(ctx, &telego.EditMessageMediaParams{
			ChatID:      cid,
			MessageID:   mid,
			Media:       photo,
			ReplyMarkup: markup,
		})
	case c.Changes.Text && c.HasMedia():
		_, err = t.bot.EditMessageCaption(ctx, &telego.EditMessageCaptionParams{
			ChatID:      cid,
			MessageID:   mid,
			Caption:     c.Text,
			ReplyMarkup: markup,
		})
	case c.Changes.Text:
		_, err = t.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
			ChatID:      cid,
			MessageID:   mid,
			Text:        c.Text,
			ReplyMarkup: markup,
		})
	default:
		_, err = t.bot.EditMessageReplyMarkup(ctx, &telego.EditMessageReplyMarkupParams{
			ChatID:      cid,
			MessageID:   mid,
			ReplyMarkup: markup,
		})
	}
	if err != nil {
		if isNotModified(err) {
			return transport.ErrNotModified
		}
		return errors.Wrapf(err, "telegram: edit message %d", id)
	}
	return nil
}

func (t *Transport) DeleteMessage(ctx context.Context, chatID chat.ChatID, id chat.MessageID) error {
	err := t.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{ChatID: tu.ID(int64(chatID)), MessageID: int(id)})
	return errors.Wrapf(err, "telegram: delete message %d", id)
}

func (t *Transport) LeaveChat(ctx context.Context, chatID chat.ChatID) error {
	err := t.bot.LeaveChat(ctx, &telego.LeaveChatParams{ChatID: tu.ID(int64(chatID))})
	return errors.Wrapf(err, "telegram: leave chat %d", chatID)
}

func (t *Transport) AnswerCallback(ctx context.Context, callbackID string) error {
	err := t.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{CallbackQueryID: callbackID})
	return errors.Wrap(err, "telegram: answer callback")
}

func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}

// replyMarkup maps a layout for a new message. It returns a nil interface
// when the message carries no keyboard.
func replyMarkup(l keyboard.Layout) telego.ReplyMarkup {
	switch l.Type {
	case keyboard.Inline:
		return inlineMarkup(l)
	case keyboard.Reply:
		rows := make([][]telego.KeyboardButton, 0, len(l.Rows))
		for _, row := range l.Rows {
			r := make([]telego.KeyboardButton, 0, len(row))
			for _, b := range row {
				r = append(r, telego.KeyboardButton{Text: b.Text})
			}
			rows = append(rows, r)
		}
		return &telego.ReplyKeyboardMarkup{
			Keyboard:              rows,
			ResizeKeyboard:        true,
			InputFieldPlaceholder: l.Placeholder,
		}
	case keyboard.Remove:
		return &telego.ReplyKeyboardRemove{RemoveKeyboard: true}
	default:
		return nil
	}
}

func inlineMarkup(l keyboard.Layout) *telego.InlineKeyboardMarkup {
	if l.Type != keyboard.Inline {
		return nil
	}
	rows := make([][]telego.InlineKeyboardButton, 0, len(l.Rows))
	for _, row := range l.Rows {
		r := make([]telego.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			r = append(r, telego.InlineKeyboardButton{Text: b.Text, CallbackData: b.CallbackData})
		}
		rows = append(rows, r)
	}
	return &telego.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// inputFile resolves media: URLs are passed through, existing local paths are
// uploaded, anything else is taken as a Telegram file id.
func inputFile(media string) (telego.InputFile, func(), error) {
	media = strings.TrimSpace(media)
	if strings.HasPrefix(media, "http://") || strings.HasPrefix(media, "https://") {
		return tu.FileFromURL(media), func() {}, nil
	}
	if st, err := os.Stat(media); err == nil && !st.IsDir() {
		f, err := os.Open(media)
		if err != nil {
			return telego.InputFile{}, nil, errors.Wrapf(err, "telegram: open %s", media)
		}
		return tu.File(f), func() { _ = f.Close() }, nil
	}
	return tu.FileFromID(media), func() {}, nil
}
