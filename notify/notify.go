// Package notify delivers ledger change notifications to the outside world.
//
// Every publisher here implements ledger.Notifier. Delivery is advisory:
// the ledger logs a failed Notify and carries on, so consumers must treat
// a message as a cue to re-read state, not as state.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/warp/cashbook/ledger"
	"go.uber.org/zap"
)

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// publishBatchTimeout keeps a synchronous WriteMessages on the request
// path from waiting out kafka-go's one second default for a fuller batch.
const publishBatchTimeout = 10 * time.Millisecond

// KafkaPublisher writes each change as a JSON message keyed by the entity
// it concerns, so changes to one movement stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           publishBatchTimeout,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

func (p *KafkaPublisher) Notify(ctx context.Context, c ledger.Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(messageKey(c)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(c.Kind)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", c.Kind, p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func messageKey(c ledger.Change) string {
	switch {
	case c.MovementID != "":
		return "movement:" + string(c.MovementID)
	case c.ClosingID != "":
		return "closing:" + string(c.ClosingID)
	case c.Category != "":
		return "category:" + c.Category
	default:
		return string(c.Kind)
	}
}

// LogPublisher writes changes to a zap logger at Debug level.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Notify(_ context.Context, c ledger.Change) error {
	p.log.Debug("ledger change",
		zap.String("kind", string(c.Kind)),
		zap.String("movement", string(c.MovementID)),
		zap.String("closing", string(c.ClosingID)),
		zap.String("category", c.Category),
		zap.String("date", c.Date.String()),
		zap.Time("at", c.At))
	return nil
}

// Multi fans a change out to every notifier. All are attempted; their
// errors are joined.
type Multi []ledger.Notifier

func (m Multi) Notify(ctx context.Context, c ledger.Change) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
