package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type KafkaPublisher struct {
	writer *kafka.Writer
	cb     *gobreaker.CircuitBreaker
	origin string
	logger *zap.SugaredLogger
}

func NewKafkaPublisher(brokers []string, topic, origin string, logger *zap.SugaredLogger) *KafkaPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: int(kafka.RequireOne),
	})
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-" + topic,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Infow("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &KafkaPublisher{writer: w, cb: cb, origin: origin, logger: logger}
}

// Publish writes ev unless the breaker is open, in which case it fails fast.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Envelope) error {
	if ev.Origin == "" {
		ev.Origin = p.origin
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = p.cb.Execute(func() (interface{}, error) {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return nil, p.writer.WriteMessages(wctx, kafka.Message{
			Key:   []byte(ev.Key()),
			Value: b,
			Time:  ev.At,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(ev.Type)},
			},
		})
	})
	return err
}

func (p *KafkaPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

type Handler func(ctx context.Context, ev Envelope) error

// Consumer reads envelopes from a topic and hands the ones from other instances to a handler.
type Consumer struct {
	reader *kafka.Reader
	origin string
	logger *zap.SugaredLogger
}

func NewConsumer(brokers []string, topic, groupID, origin string, logger *zap.SugaredLogger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: r, origin: origin, logger: logger}
}

// Run blocks until ctx is cancelled. Read errors back off exponentially; handler errors are
// logged and the message is committed anyway.
func (c *Consumer) Run(ctx context.Context, handle Handler) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			wait := b.NextBackOff()
			c.logger.Warnw("kafka read error", "error", err, "retry_in", wait)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			}
		}
		b.Reset()

		var ev Envelope
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			c.logger.Warnw("invalid event", "offset", m.Offset, "error", err)
		} else if ev.Origin != c.origin {
			if err := handle(ctx, ev); err != nil {
				c.logger.Errorw("handle event", "type", ev.Type, "error", err)
			}
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Warnw("commit offset", "error", err)
		}
	}
}

func (c *Consumer) Close() error {
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
