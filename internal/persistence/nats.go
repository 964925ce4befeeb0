package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/gearlog/ticket-service/internal/config"
)

// NATS wraps the event broker connection. Conn is nil when no URL is configured.
type NATS struct {
	Conn *nats.Conn
}

// NewNATS connects to the broker when a URL is provided.
func NewNATS(cfg config.NATSConfig, logger *zap.Logger) (*NATS, error) {
	if cfg.URL == "" {
		logger.Warn("NATS_URL not provided; events stay in-process")
		return &NATS{}, nil
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("gearlog-ticket-service"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	logger.Info("connected to nats")
	return &NATS{Conn: conn}, nil
}

// Enabled reports whether a broker connection exists.
func (n *NATS) Enabled() bool {
	return n != nil && n.Conn != nil
}

// Ping reports the connection state.
func (n *NATS) Ping(_ context.Context) error {
	if !n.Enabled() {
		return errors.New("nats not configured")
	}
	if status := n.Conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats status %s", status)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() {
	if n.Enabled() {
		_ = n.Conn.Drain()
	}
}
