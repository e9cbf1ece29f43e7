package bus

import (
	"context"
	"strings"

	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig selects the Redis Streams backend.
type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Group    string `env:"GROUP" envDefault:"chatlogic"`
	Consumer string `env:"CONSUMER" envDefault:"bot-1"`
	Topic    string `env:"TOPIC"`
}

// NewRedis builds a bus over Redis Streams. The consumer group is created at
// the stream tail so a fresh bot does not replay old chat traffic.
func NewRedis(ctx context.Context, cfg RedisConfig, log zerolog.Logger) (*Bus, error) {
	if cfg.Addr == "" {
		return nil, errors.New("bus: redis address is required")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "bus: connect redis %s", cfg.Addr)
	}
	if err := EnsureGroupAtTail(ctx, client, topic, cfg.Group, log); err != nil {
		_ = client.Close()
		return nil, err
	}

	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	logger := NewWatermillLogger(log)
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "bus: redis publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: cfg.Group,
		Consumer:      cfg.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "bus: redis subscriber")
	}
	return newBus(pub, sub, topic, log, ignoreClosed(pub.Close), ignoreClosed(sub.Close), ignoreClosed(client.Close)), nil
}

// ignoreClosed tolerates closers that find the shared client already closed.
func ignoreClosed(c func() error) func() error {
	return func() error {
		if err := c(); err != nil && !errors.Is(err, redis.ErrClosed) {
			return err
		}
		return nil
	}
}

// EnsureGroupAtTail creates the consumer group for stream at the tail ($) if
// it doesn't exist.
func EnsureGroupAtTail(ctx context.Context, client redis.UniversalClient, stream, group string, log zerolog.Logger) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "bus: create group %s on %s", group, stream)
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}
