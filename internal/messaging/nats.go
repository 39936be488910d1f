package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectNotify is the per-user notification subject prefix. Payloads are
// published to notify.<user_id> as JSON.
const SubjectNotify = "notify"

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int // -1 for infinite
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "anonchat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NATSClient is the pub/sub transport. It implements Transport by
// publishing payloads to per-user subjects; a delivery frontend subscribes
// and renders them. Publish has no message IDs, so Send always returns 0.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewNATSClient connects to NATS and returns a ready client. The initial
// connection must succeed; later drops are retried per the config.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Send implements Transport by publishing the payload as JSON to the
// user's notify subject.
func (c *NATSClient) Send(_ context.Context, userID int64, p Payload) (int, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}
	subject := fmt.Sprintf("%s.%d", SubjectNotify, userID)
	if err := c.conn.Publish(subject, data); err != nil {
		return 0, fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return 0, nil
}

// SubscribeNotify registers a handler for one user's notifications. Used by
// delivery frontends and tests.
func (c *NATSClient) SubscribeNotify(userID int64, handler func(p Payload)) error {
	subject := fmt.Sprintf("%s.%d", SubjectNotify, userID)
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		var p Payload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			log.Printf("[nats] decode payload on %s: %v", msg.Subject, err)
			return
		}
		handler(p)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeNotify removes a user's notification subscription.
func (c *NATSClient) UnsubscribeNotify(userID int64) error {
	subject := fmt.Sprintf("%s.%d", SubjectNotify, userID)

	c.mu.Lock()
	sub, ok := c.subs[subject]
	delete(c.subs, subject)
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}

// Close drains all subscriptions and the connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
	log.Printf("[nats] client closed")
}
