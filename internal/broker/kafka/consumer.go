package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/BearBump/TrackRelay/internal/broker/messages"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads lookup events. With a group id it joins the group and
// commits offsets itself; without one it reads the topic directly.
type Consumer struct {
	r      messageReader
	logger *slog.Logger
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return newConsumerWithReader(kafka.NewReader(cfg))
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r, logger: slog.Default()}
}

func (c *Consumer) WithLogger(l *slog.Logger) *Consumer {
	if l != nil {
		c.logger = l
	}
	return c
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume hands every raw message to handler and commits it once the
// handler returns nil. It stops on the first fetch, handler or commit error.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		if err := handler(msg.Key, msg.Value); err != nil {
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

// ConsumeLookups decodes TrackingLookedUp events for handler. Messages that
// do not decode are logged and committed so they never block the partition.
func (c *Consumer) ConsumeLookups(ctx context.Context, handler func(ctx context.Context, m messages.TrackingLookedUp) error) error {
	return c.Consume(ctx, func(key, value []byte) error {
		var m messages.TrackingLookedUp
		if err := json.Unmarshal(value, &m); err != nil {
			c.logger.Warn("skip undecodable lookup message", "key", string(key), "err", err)
			return nil
		}
		return handler(ctx, m)
	})
}
