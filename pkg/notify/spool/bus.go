package spool

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"

	"github.com/armorclaw/crashreport/pkg/logger"
)

// BusConfig selects the spool transport
type BusConfig struct {
	Kind          string // "memory" or "redis"
	Topic         string
	RedisAddr     string
	ConsumerGroup string
	Consumer      string
}

// Bus bundles the publisher and subscriber sides of the spool
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	closers []func() error
}

// Close releases the bus resources
func (b *Bus) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// NewBus creates the configured bus
func NewBus(cfg BusConfig, log *logger.Logger) (*Bus, error) {
	if log == nil {
		log = logger.Global().WithComponent("spool")
	}
	wlog := watermill.NewSlogLogger(log.Logger)

	switch cfg.Kind {
	case "", "memory":
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
			Persistent:          true,
		}, wlog)
		return &Bus{Publisher: ch, Subscriber: ch, closers: []func() error{ch.Close}}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if cfg.Topic != "" && cfg.ConsumerGroup != "" {
			if err := EnsureGroup(context.Background(), client, cfg.Topic, cfg.ConsumerGroup); err != nil {
				client.Close()
				return nil, fmt.Errorf("failed to create consumer group: %w", err)
			}
		}
		marshaler := rstream.DefaultMarshallerUnmarshaller{}

		pub, err := rstream.NewPublisher(rstream.PublisherConfig{
			Client:     client,
			Marshaller: marshaler,
		}, wlog)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create redis publisher: %w", err)
		}

		sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
			Client:        client,
			Unmarshaller:  marshaler,
			ConsumerGroup: cfg.ConsumerGroup,
			Consumer:      cfg.Consumer,
		}, wlog)
		if err != nil {
			pub.Close()
			client.Close()
			return nil, fmt.Errorf("failed to create redis subscriber: %w", err)
		}

		return &Bus{
			Publisher:  pub,
			Subscriber: sub,
			closers:    []func() error{sub.Close, pub.Close, client.Close},
		}, nil

	default:
		return nil, fmt.Errorf("unknown spool bus %q", cfg.Kind)
	}
}

// EnsureGroup creates the consumer group for stream at the tail if it does
// not exist yet, so a new deployment does not replay old notifications.
func EnsureGroup(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}
