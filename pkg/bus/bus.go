// Package bus carries inbound chat events from transports to the session
// manager over watermill. The in-memory backend uses gochannel; Redis Streams
// lets pollers and the bot run as separate processes.
package bus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/chatlogic/pkg/chat"
)

// DefaultTopic is the topic inbound events are published on.
const DefaultTopic = "chatlogic.inbound"

const metadataChatID = "chat_id"

// Bus publishes and consumes chat events on one topic.
type Bus struct {
	pub     message.Publisher
	sub     message.Subscriber
	topic   string
	log     zerolog.Logger
	closers []func() error
}

type InMemoryConfig struct {
	Topic string
	// Buffer is the subscriber channel size.
	Buffer int64
	// Persistent keeps messages published before a subscriber arrived.
	Persistent bool
}

// NewInMemory builds a bus backed by a gochannel pub/sub.
func NewInMemory(cfg InMemoryConfig, log zerolog.Logger) *Bus {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.Buffer,
		Persistent:          cfg.Persistent,
	}, NewWatermillLogger(log))
	return newBus(ch, ch, cfg.Topic, log, ch.Close)
}

func newBus(pub message.Publisher, sub message.Subscriber, topic string, log zerolog.Logger, closers ...func() error) *Bus {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Bus{
		pub:     pub,
		sub:     sub,
		topic:   topic,
		log:     log.With().Str("component", "bus").Str("topic", topic).Logger(),
		closers: closers,
	}
}

func (b *Bus) Topic() string { return b.topic }

// Publish encodes ev as JSON and publishes it.
func (b *Bus) Publish(ctx context.Context, ev chat.Event) error {
	if ev.IsZero() {
		return errors.New("bus: empty event")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "bus: encode event")
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set(metadataChatID, ev.ChatID().String())
	msg.SetContext(ctx)
	return errors.Wrap(b.pub.Publish(b.topic, msg), "bus: publish")
}

// Consume delivers events to handle in order until ctx is done or the
// subscription closes. Undecodable payloads and handler failures are logged
// and acknowledged so one bad event never blocks the stream.
func (b *Bus) Consume(ctx context.Context, handle func(ctx context.Context, ev chat.Event) error) error {
	ch, err := b.sub.Subscribe(ctx, b.topic)
	if err != nil {
		return errors.Wrap(err, "bus: subscribe")
	}
	b.log.Info().Msg("bus consumer started")
	defer b.log.Info().Msg("bus consumer stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev chat.Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil || ev.IsZero() {
				b.log.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("failed to decode event")
				msg.Ack()
				continue
			}
			if err := handle(ctx, ev); err != nil {
				if ctx.Err() != nil {
					// left unacknowledged for redelivery
					return nil
				}
				b.log.Warn().Err(err).Str("message_uuid", msg.UUID).Str("chat_id", ev.ChatID().String()).Msg("failed to handle event")
			}
			msg.Ack()
		}
	}
}

// Close releases the publisher, the subscriber and the backend client.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}
