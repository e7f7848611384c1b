package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"gitlab.com/nevasik7/alerting/logger"

	"tokenserver/internal/config"
)

// Client wraps a *nats.Conn and implements pubsub.Broadcaster, bridging the
// in-process Event Bus (C9) to other instances of this service. Connection
// lifecycle (Connect, Ready, Status, Close) is unchanged from the teacher;
// Publish/Health are added here because this domain needs cross-instance
// fan-out and the teacher's Client never implemented them.
type Client struct {
	nc     *nats.Conn
	log    logger.Logger
	prefix string
}

// Connect dials the configured NATS server with indefinite reconnects, the
// same resilience stance the teacher's New took (RetryOnFailedConnect,
// MaxReconnects(-1), ReconnectWait).
func Connect(cfg *config.NATSConfig, log logger.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	url := cfg.URL
	if url == "" {
		return nil, errors.New("nats url is required")
	}

	opts := []nats.Option{
		nats.Name("tokenserver"),
		nats.Timeout(5 * time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Infof("Connected to NATS successfully, url=%s", url)

	return &Client{nc: nc, log: log, prefix: cfg.BroadcastPrefix}, nil
}

func (c *Client) subject(topic string) string {
	if c.prefix == "" {
		return topic
	}
	return c.prefix + "." + topic
}

// Publish implements pubsub.Broadcaster: JSON-encodes data and publishes it
// under the configured broadcast prefix.
func (c *Client) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal nats payload: %w", err)
	}
	if err := c.nc.Publish(c.subject(subject), payload); err != nil {
		return fmt.Errorf("publish to nats: %w", err)
	}
	return nil
}

// Health implements pubsub.Broadcaster: reports the connection status.
func (c *Client) Health(ctx context.Context) error {
	if !c.Ready() {
		return fmt.Errorf("nats connection not ready: %s", c.Status())
	}
	return nil
}

// Subscribe delivers every message published under topic (and this
// client's broadcast prefix) to handler, for bridging remote events back
// into the local Event Bus.
func (c *Client) Subscribe(topic string, handler func(data []byte)) (*nats.Subscription, error) {
	return c.nc.Subscribe(c.subject(topic), func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

func (c *Client) Ready() bool {
	if c.nc == nil {
		return false
	}
	return c.nc.Status() == nats.CONNECTED
}

func (c *Client) Status() nats.Status {
	if c.nc == nil {
		return nats.DISCONNECTED
	}
	return c.nc.Status()
}

func (c *Client) Close() error {
	if c.nc == nil {
		return nil
	}

	if c.nc.Status() == nats.CLOSED {
		return nil
	}

	if err := c.nc.Drain(); err != nil {
		c.log.Errorf("Failed to drain connection to NATS, error=%v", err)
		c.nc.Close()
		return fmt.Errorf("failed to drain connection to NATS: %w", err)
	}

	c.nc.Close()
	c.log.Infof("NATS connection closed gracefully")
	return nil
}
