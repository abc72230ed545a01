// Package events carries the system's two event surfaces: the NATS
// publisher for per-user update events, and the ordered reader over the
// payment gateway's event log.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/dukerupert/gullveig/internal/domain"
)

// NATSPublisher publishes update events on per-user subjects
// (<prefix>.update.<uid>). Delivery is fire-and-forget: a failed publish
// is logged and dropped, never propagated to the transaction that
// produced the event.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

func NewNATSPublisher(conn *nats.Conn, prefix string, logger *slog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = "wallet"
	}
	return &NATSPublisher{
		conn:   conn,
		prefix: prefix,
		logger: logger,
	}
}

// Publish sends ev on the user's update subject. Per-subject ordering
// follows publish order on this connection.
func (p *NATSPublisher) Publish(ev domain.UpdateEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to marshal update event",
			slog.String("uid", ev.UID.String()),
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()))
		return
	}

	subject := fmt.Sprintf("%s.update.%s", p.prefix, ev.UID)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Error("failed to publish update event",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}
