package realtime

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/nhle/tempmail/internal/metrics"
)

// Publisher is an external event sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Bridge publishes every event to the local hub and then to each
// external publisher. External failures are logged and counted; they
// never reach the caller.
type Bridge struct {
	hub        *Hub
	publishers []Publisher
	origin     string
	timeout    time.Duration
	logger     *zap.Logger
}

// NewBridge wires hub and publishers. origin tags events from this
// process.
func NewBridge(hub *Hub, origin string, logger *zap.Logger, publishers ...Publisher) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		hub:        hub,
		publishers: publishers,
		origin:     origin,
		timeout:    5 * time.Second,
		logger:     logger.Named("realtime"),
	}
}

// Hub returns the local hub.
func (b *Bridge) Hub() *Hub {
	return b.hub
}

// Publish fills in ID, At and Origin when unset and fans e out.
func (b *Bridge) Publish(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if e.Origin == "" {
		e.Origin = b.origin
	}

	b.hub.Publish(e)
	metrics.EventsPublished.WithLabelValues("hub", string(e.Type)).Inc()

	for _, p := range b.publishers {
		pctx, cancel := context.WithTimeout(ctx, b.timeout)
		err := p.Publish(pctx, e)
		cancel()
		if err != nil {
			metrics.EventsDropped.WithLabelValues(p.Name()).Inc()
			b.logger.Warn("publishing event failed",
				zap.String("sink", p.Name()),
				zap.String("type", string(e.Type)),
				zap.String("address_id", e.AddressID),
				zap.Error(err))
			continue
		}
		metrics.EventsPublished.WithLabelValues(p.Name(), string(e.Type)).Inc()
	}
}

// Close closes every external publisher.
func (b *Bridge) Close() error {
	var result *multierror.Error
	for _, p := range b.publishers {
		if err := p.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
