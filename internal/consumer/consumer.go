// Package consumer drives the metadata sync: it reads upstream change events
// one at a time and acknowledges each only after it has been applied.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/maynagashev/beatmaps-cdn/internal/metrics"
	"github.com/maynagashev/beatmaps-cdn/internal/services"
	"github.com/maynagashev/beatmaps-cdn/models"
)

const (
	// applyTimeout bounds one event, independently of consumer shutdown.
	applyTimeout = 30 * time.Second

	defaultRetryInitial = 500 * time.Millisecond
	defaultRetryMax     = 30 * time.Second
)

// ErrSourceClosed is returned by Run when the message source stops delivering.
var ErrSourceClosed = errors.New("message source closed")

// Message is one delivery from the sync queue.
type Message interface {
	Body() []byte
	Ack() error
	// Reject returns the message to the queue when requeue is true and
	// dead-letters it otherwise.
	Reject(requeue bool) error
}

// Source yields sync queue deliveries.
type Source interface {
	Messages(ctx context.Context) (<-chan Message, error)
}

// Applier applies one event to the metadata store.
type Applier interface {
	Apply(ctx context.Context, update models.CDNUpdate) error
}

// Consumer applies sync events sequentially in delivery order.
type Consumer struct {
	source  Source
	applier Applier
	log     *zap.Logger
	metrics *metrics.Metrics
	// retry spaces out requeues while the store keeps failing; it is only
	// touched from the Run goroutine.
	retry *backoff.ExponentialBackOff
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithRetryDelay sets the first and the largest pause before a failed event
// is returned to the queue.
func WithRetryDelay(initial, maxDelay time.Duration) Option {
	return func(c *Consumer) {
		c.retry.InitialInterval = initial
		c.retry.MaxInterval = maxDelay
		c.retry.Reset()
	}
}

// New creates a Consumer.
func New(source Source, applier Applier, log *zap.Logger, m *metrics.Metrics, opts ...Option) *Consumer {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = defaultRetryInitial
	retry.MaxInterval = defaultRetryMax
	retry.Reset()

	c := &Consumer{source: source, applier: applier, log: log, metrics: m, retry: retry}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes until ctx is done or the source closes.
func (c *Consumer) Run(ctx context.Context) error {
	messages, err := c.source.Messages(ctx)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.log.Info("consuming sync events")
	for {
		select {
		case <-ctx.Done():
			c.log.Info("sync consumer stopped")
			return nil
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrSourceClosed
			}
			c.Handle(ctx, msg)
		}
	}
}

// Handle applies one message and settles it: ack on success, dead-letter when
// the event can never be applied, requeue on transient failure.
func (c *Consumer) Handle(ctx context.Context, msg Message) {
	var update models.CDNUpdate
	if err := json.Unmarshal(msg.Body(), &update); err != nil {
		c.log.Warn("malformed sync event", zap.Error(err), zap.ByteString("body", msg.Body()))
		c.settle(metrics.OutcomeRejected, msg.Reject(false))
		return
	}

	// an event that started is finished even if the consumer is stopping
	applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), applyTimeout)
	defer cancel()

	err := c.applier.Apply(applyCtx, update)
	switch {
	case err == nil:
		c.retry.Reset()
		c.settle(metrics.OutcomeApplied, msg.Ack())
	case errors.Is(err, services.ErrInvalidUpdate):
		c.retry.Reset()
		c.log.Warn("sync event rejected", zap.Int("mapId", update.MapID), zap.Error(err))
		c.settle(metrics.OutcomeRejected, msg.Reject(false))
	default:
		// With prefetch 1 the same event comes straight back, so pause first.
		delay := c.retry.NextBackOff()
		c.log.Error("sync event failed, requeueing",
			zap.Int("mapId", update.MapID), zap.Duration("delay", delay), zap.Error(err))
		c.wait(ctx, delay)
		c.settle(metrics.OutcomeRequeued, msg.Reject(true))
	}
}

// wait pauses for d or until ctx is done.
func (c *Consumer) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (c *Consumer) settle(outcome string, err error) {
	c.metrics.SyncEvents.WithLabelValues(outcome).Inc()
	if err != nil {
		// the broker redelivers anything left unsettled
		c.log.Error("settling delivery failed", zap.String("outcome", outcome), zap.Error(err))
	}
}
