// Package broker connects the CDN to RabbitMQ: it declares the sync queue,
// delivers its messages to the consumer and publishes download notifications.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/maynagashev/beatmaps-cdn/internal/consumer"
)

// Error tags broker failures.
var Error = errs.Class("broker")

// Config describes the broker topology.
type Config struct {
	URL string
	// Exchange is the topic exchange both sync events and notifications use.
	Exchange string
	// Queue receives sync events, one per CDN instance ("cdn.<prefix>").
	Queue string
	// BindingKey binds Queue to Exchange.
	BindingKey string
	// DeadLetterExchange receives rejected sync events.
	DeadLetterExchange string
	// Prefetch bounds unacknowledged deliveries; 1 keeps events strictly sequential.
	Prefetch int
}

// Broker owns one AMQP connection with a consuming and a publishing channel.
type Broker struct {
	cfg       Config
	conn      *amqp.Connection
	consumeCh *amqp.Channel
	publishCh *amqp.Channel
	log       *zap.Logger
}

// Dial connects to the broker and declares the topology.
func Dial(cfg Config, log *zap.Logger) (*Broker, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("dial: %w", err))
	}

	b := &Broker{cfg: cfg, conn: conn, log: log}
	if err = b.setup(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr, ok := <-closed; ok && amqpErr != nil {
			log.Error("broker connection closed", zap.String("reason", amqpErr.Reason), zap.Int("code", amqpErr.Code))
		}
	}()

	log.Info("connected to broker", zap.String("queue", cfg.Queue), zap.String("exchange", cfg.Exchange))
	return b, nil
}

func (b *Broker) setup() (err error) {
	if b.consumeCh, err = b.conn.Channel(); err != nil {
		return Error.Wrap(fmt.Errorf("open consume channel: %w", err))
	}
	if b.publishCh, err = b.conn.Channel(); err != nil {
		return Error.Wrap(fmt.Errorf("open publish channel: %w", err))
	}

	if err = b.consumeCh.ExchangeDeclare(b.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return Error.Wrap(fmt.Errorf("declare exchange %s: %w", b.cfg.Exchange, err))
	}

	args := amqp.Table{}
	if b.cfg.DeadLetterExchange != "" {
		args["x-dead-letter-exchange"] = b.cfg.DeadLetterExchange
	}
	if _, err = b.consumeCh.QueueDeclare(b.cfg.Queue, true, false, false, false, args); err != nil {
		return Error.Wrap(fmt.Errorf("declare queue %s: %w", b.cfg.Queue, err))
	}
	if err = b.consumeCh.QueueBind(b.cfg.Queue, b.cfg.BindingKey, b.cfg.Exchange, false, nil); err != nil {
		return Error.Wrap(fmt.Errorf("bind queue %s: %w", b.cfg.Queue, err))
	}

	prefetch := b.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err = b.consumeCh.Qos(prefetch, 0, false); err != nil {
		return Error.Wrap(fmt.Errorf("set prefetch: %w", err))
	}
	return nil
}

// Messages starts consuming the sync queue with manual acknowledgement.
// The returned channel is closed when ctx is done or the AMQP channel closes.
func (b *Broker) Messages(ctx context.Context) (<-chan consumer.Message, error) {
	deliveries, err := b.consumeCh.ConsumeWithContext(ctx, b.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("consume %s: %w", b.cfg.Queue, err))
	}

	out := make(chan consumer.Message)
	go func() {
		defer close(out)
		for d := range deliveries {
			select {
			case out <- delivery{d: d}:
			case <-ctx.Done():
				// unacknowledged deliveries are redelivered by the broker
				return
			}
		}
	}()
	return out, nil
}

// Publish sends body to the exchange under routingKey.
func (b *Broker) Publish(ctx context.Context, routingKey string, body []byte) error {
	err := b.publishCh.PublishWithContext(ctx, b.cfg.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return Error.Wrap(fmt.Errorf("publish %s: %w", routingKey, err))
	}
	return nil
}

// Close closes the channels and the connection.
func (b *Broker) Close() error {
	var group errs.Group
	if b.publishCh != nil {
		group.Add(b.publishCh.Close())
	}
	if b.consumeCh != nil {
		group.Add(b.consumeCh.Close())
	}
	group.Add(b.conn.Close())
	return Error.Wrap(group.Err())
}

// delivery adapts amqp.Delivery to consumer.Message.
type delivery struct {
	d amqp.Delivery
}

func (d delivery) Body() []byte { return d.d.Body }

func (d delivery) Ack() error { return d.d.Ack(false) }

func (d delivery) Reject(requeue bool) error { return d.d.Reject(requeue) }
