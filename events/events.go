// Package events publishes artifact lifecycle notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/GoCodeAlone/artifacts/store"
	"github.com/nats-io/nats.go"
)

// Event types.
const (
	TypeStored  = "artifact.stored"
	TypeDeleted = "artifact.deleted"
)

// Event is one lifecycle notification.
type Event struct {
	Type     string          `json:"type"`
	Artifact *store.Artifact `json:"artifact"`
	Time     time.Time       `json:"time"`
}

// Publisher delivers events. Delivery is fire-and-forget from the caller's
// point of view; a returned error is logged, never propagated to users.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a LogPublisher. A nil logger uses slog.Default().
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	attrs := []any{"type", e.Type}
	if e.Artifact != nil {
		attrs = append(attrs,
			"id", e.Artifact.ID,
			"owner", e.Artifact.Owner.String(),
			"collection", e.Artifact.Collection,
			"disk", e.Artifact.Disk,
			"path", e.Artifact.Path,
		)
	}
	p.logger.InfoContext(ctx, "artifact event", attrs...)
	return nil
}

// natsConn is the subset of *nats.Conn used for publishing.
type natsConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes JSON-encoded events to "<prefix>.<type>".
type NATSPublisher struct {
	conn   natsConn
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher creates a NATSPublisher on an existing connection.
func NewNATSPublisher(conn natsConn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "artifacts"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// ConnectNATS dials url and returns a publisher that owns the connection.
func ConnectNATS(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("artifacts"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	p := NewNATSPublisher(nc, prefix)
	p.nc = nc
	return p, nil
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

func (p *NATSPublisher) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(e.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Close drains the connection when the publisher owns it.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}

// Multi fans an event out to several publishers and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
