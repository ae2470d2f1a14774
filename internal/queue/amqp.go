package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// AMQPFabric implements Fabric on a RabbitMQ connection. Queues are declared
// durable on first use; consumers run with manual acknowledgement on their
// own channel.
type AMQPFabric struct {
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	prefetch int
	logger   *logrus.Logger

	mu       sync.Mutex
	declared map[string]bool
	channels []*amqp.Channel
}

type AMQPConfig struct {
	URL      string
	Prefetch int
	Logger   *logrus.Logger
}

func DialAMQP(cfg AMQPConfig) (*AMQPFabric, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	pubCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}

	return &AMQPFabric{
		conn:     conn,
		pubCh:    pubCh,
		prefetch: cfg.Prefetch,
		logger:   cfg.Logger,
		declared: map[string]bool{},
	}, nil
}

func (f *AMQPFabric) declare(ch *amqp.Channel, queue string) error {
	f.mu.Lock()
	done := f.declared[queue]
	f.mu.Unlock()
	if done {
		return nil
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}

	f.mu.Lock()
	f.declared[queue] = true
	f.mu.Unlock()
	return nil
}

func (f *AMQPFabric) Publish(ctx context.Context, queue string, payload any, opts ...PublishOption) error {
	var options publishOptions
	for _, opt := range opts {
		opt(&options)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if err := f.declare(f.pubCh, queue); err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}
	if options.persistent {
		msg.DeliveryMode = amqp.Persistent
	}
	if options.expiration > 0 {
		msg.Expiration = strconv.FormatInt(options.expiration.Milliseconds(), 10)
	}

	if err := f.pubCh.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

func (f *AMQPFabric) Consume(ctx context.Context, queue string, handler Handler) error {
	ch, err := f.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	if err := ch.Qos(f.prefetch, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}
	if err := f.declare(ch, queue); err != nil {
		_ = ch.Close()
		return err
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	f.mu.Lock()
	f.channels = append(f.channels, ch)
	f.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				delivery := NewDelivery(d.Body, d.Redelivered,
					func() error { return d.Ack(false) },
					func(requeue bool) error { return d.Nack(false, requeue) },
				)
				// Handlers may block for the length of a transfer, so each
				// delivery gets its own goroutine. Qos bounds how many are
				// in flight per channel.
				go handler(ctx, delivery)
			}
		}
	}()

	f.logger.Infof("consuming queue %s", queue)
	return nil
}

func (f *AMQPFabric) Purge(ctx context.Context, queue string) error {
	// QueuePurge drops only ready messages. Settle everything already out
	// with consumers first so a purge leaves nothing in flight to reappear.
	f.mu.Lock()
	channels := append([]*amqp.Channel(nil), f.channels...)
	f.mu.Unlock()
	for _, ch := range channels {
		if err := ch.Ack(0, true); err != nil {
			f.logger.WithError(err).Warn("ack outstanding deliveries")
		}
	}

	if err := f.declare(f.pubCh, queue); err != nil {
		return err
	}
	if _, err := f.pubCh.QueuePurge(queue, false); err != nil {
		return fmt.Errorf("purge %s: %w", queue, err)
	}
	return nil
}

func (f *AMQPFabric) Close() error {
	f.mu.Lock()
	channels := f.channels
	f.channels = nil
	f.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
	_ = f.pubCh.Close()
	return f.conn.Close()
}

var _ Fabric = (*AMQPFabric)(nil)
