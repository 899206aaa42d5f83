// Package bus publishes generation lifecycle events over NATS.
package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/parlalabs/parla-core/internal/config"
	"github.com/parlalabs/parla-core/internal/protocol"
)

// Client wraps a NATS connection with event-publishing helpers. A nil Client
// is valid and publishes nothing, so callers need no enabled-checks.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("parla-core"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))

	return &Client{
		conn: conn,
		log:  log.With(slog.String("component", "bus")),
	}, nil
}

func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c == nil || (c.conn != nil && c.conn.Status() == nats.CONNECTED)
}

// PublishGeneration emits evt on the subject matching its status. Publish
// failures are logged, not surfaced: event delivery is best effort and must
// never fail a completed generation.
func (c *Client) PublishGeneration(evt protocol.GenerationEvent) {
	if c == nil || c.conn == nil {
		return
	}
	subject := protocol.SubjectGenerationCompleted
	switch evt.Status {
	case "failed":
		subject = protocol.SubjectGenerationFailed
	case "cancelled":
		subject = protocol.SubjectGenerationCancelled
	}
	data, err := json.Marshal(evt)
	if err != nil {
		c.log.Warn("failed to marshal generation event", slog.String("error", err.Error()))
		return
	}
	if err := c.conn.Publish(subject, data); err != nil {
		c.log.Warn("failed to publish generation event",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}
