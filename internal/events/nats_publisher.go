package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// natsConn is the part of *nats.Conn the publisher needs.
type natsConn interface {
	Publish(subject string, data []byte) error
}

var _ natsConn = (*nats.Conn)(nil)

// NATSPublisher forwards events to NATS subjects of the form
// <prefix>.<company|global>.<event type>.
type NATSPublisher struct {
	conn   natsConn
	prefix string
}

// NewNATSPublisher wraps a NATS connection.
func NewNATSPublisher(conn natsConn, prefix string) *NATSPublisher {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = "gearlog.tickets"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(event Event) string {
	tenant := "global"
	if event.CompanyID != nil && *event.CompanyID != "" {
		tenant = *event.CompanyID
	}
	return fmt.Sprintf("%s.%s.%s", p.prefix, tenant, event.Type)
}

// Publish encodes the event as JSON and hands it to NATS.
func (p *NATSPublisher) Publish(_ context.Context, event Event) error {
	if p == nil || p.conn == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(event), data); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}
