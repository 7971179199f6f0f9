// Package notify announces successful downloads to the analytics exchange.
// Notifications are best effort: they never fail or delay the request that
// triggered them.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/maynagashev/beatmaps-cdn/internal/metrics"
	"github.com/maynagashev/beatmaps-cdn/models"
)

const (
	publishTimeout = 5 * time.Second
	drainTimeout   = 5 * time.Second
)

// Notifier announces a download.
type Notifier interface {
	Notify(ctx context.Context, kind models.DownloadType, identifier, clientAddress string)
}

// Publisher sends a message body under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Nop discards notifications. It is used when no broker is configured.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, models.DownloadType, string, string) {}

// AsyncNotifier queues notifications in a bounded buffer drained by Run.
// When the buffer is full new notifications are dropped.
type AsyncNotifier struct {
	pub     Publisher
	queue   chan models.DownloadInfo
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewAsyncNotifier creates an AsyncNotifier with room for size pending notifications.
func NewAsyncNotifier(pub Publisher, size int, log *zap.Logger, m *metrics.Metrics) *AsyncNotifier {
	if size <= 0 {
		size = 1
	}
	return &AsyncNotifier{
		pub:     pub,
		queue:   make(chan models.DownloadInfo, size),
		log:     log,
		metrics: m,
	}
}

// Notify enqueues the notification without blocking.
func (n *AsyncNotifier) Notify(_ context.Context, kind models.DownloadType, identifier, clientAddress string) {
	info := models.DownloadInfo{Identifier: identifier, Kind: kind, ClientAddress: clientAddress}
	select {
	case n.queue <- info:
	default:
		n.metrics.Notifications.WithLabelValues(metrics.OutcomeDropped).Inc()
		n.log.Debug("notification dropped, queue full", zap.String("identifier", identifier))
	}
}

// Run publishes queued notifications until ctx is done, then drains what is
// left within a short grace period.
func (n *AsyncNotifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n.drain()
			return nil
		case info := <-n.queue:
			n.publish(ctx, info)
		}
	}
}

func (n *AsyncNotifier) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case info := <-n.queue:
			n.publish(ctx, info)
		default:
			return
		}
	}
}

func (n *AsyncNotifier) publish(ctx context.Context, info models.DownloadInfo) {
	body, err := json.Marshal(info)
	if err != nil {
		n.metrics.Notifications.WithLabelValues(metrics.OutcomeFailed).Inc()
		n.log.Error("encoding notification", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	key := "download." + info.Kind.RoutingSegment() + "." + info.Identifier
	if err = n.pub.Publish(ctx, key, body); err != nil {
		n.metrics.Notifications.WithLabelValues(metrics.OutcomeFailed).Inc()
		n.log.Warn("publishing notification failed", zap.String("routingKey", key), zap.Error(err))
		return
	}
	n.metrics.Notifications.WithLabelValues(metrics.OutcomePublished).Inc()
}
