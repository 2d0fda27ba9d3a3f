// internal/common/queue/stream.go
package queue

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"memberflow/internal/common/errors"
	"memberflow/internal/common/logger"
)

// envelopeField is the stream entry field carrying the JSON envelope.
const envelopeField = "envelope"

// Publisher places envelopes on a named Redis stream. Delivery to consumers
// is at-least-once via consumer groups.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// Publish marshals the envelope and appends it to the stream. A failure here
// surfaces as a DispatchError to the original caller.
func (p *Publisher) Publish(ctx context.Context, stream string, envelope interface{}) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return errors.NewDispatchError(stream, err)
	}

	err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{envelopeField: string(payload)},
	}).Err()
	if err != nil {
		return errors.NewDispatchError(stream, err)
	}

	return nil
}

// Handler processes one raw envelope. Returning an error leaves the message
// unacknowledged so the host redelivers it; returning nil acks it.
type Handler func(ctx context.Context, payload []byte) error

// Consumer drains one stream through a consumer group and dispatches each
// entry to a Handler.
type Consumer struct {
	rdb      *redis.Client
	stream   string
	group    string
	consumer string
	block    time.Duration
	logger   logger.Logger
}

func NewConsumer(rdb *redis.Client, stream, group, consumer string, block time.Duration, log logger.Logger) *Consumer {
	return &Consumer{
		rdb:      rdb,
		stream:   stream,
		group:    group,
		consumer: consumer,
		block:    block,
		logger:   log.With(map[string]interface{}{"stream": stream, "group": group}),
	}
}

// EnsureGroup creates the consumer group, tolerating a pre-existing one.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Run blocks reading the stream until ctx is cancelled. Each message is
// handed to handle; only a nil return acks the entry.
func (c *Consumer) Run(ctx context.Context, handle Handler) {
	c.logger.Info("consumer loop started", nil)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer loop stopped", nil)
			return
		default:
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    1,
			Block:    c.block,
		}).Result()

		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("stream read failed", map[string]interface{}{"error": err.Error()})
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.dispatch(ctx, msg, handle)
			}
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg redis.XMessage, handle Handler) {
	raw, ok := msg.Values[envelopeField].(string)
	if !ok {
		// Poison entry with no envelope field: ack so it is not redelivered forever.
		c.logger.Error("message missing envelope field", map[string]interface{}{"messageId": msg.ID})
		c.ack(ctx, msg.ID)
		return
	}

	if err := handle(ctx, []byte(raw)); err != nil {
		// Unacknowledged: host-level redelivery applies.
		c.logger.Error("handler failed, leaving message pending", map[string]interface{}{
			"messageId": msg.ID,
			"error":     err.Error(),
		})
		return
	}

	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.rdb.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		c.logger.Error("ack failed", map[string]interface{}{"messageId": id, "error": err.Error()})
	}
}
