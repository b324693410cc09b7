// Package hermes is the NATS client verdict uses to receive transcripts and
// publish classification events.
package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// QueueGroup load-balances transcript submissions across verdict replicas.
const QueueGroup = "verdict"

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("verdict"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

// Publish JSON-encodes data onto subject.
func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

// Subscribe delivers every message on subject to handler.
func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	return c.QueueSubscribe(subject, "", handler)
}

// QueueSubscribe delivers each message on subject to one member of queue.
// An empty queue is a plain subscription.
func (c *Client) QueueSubscribe(subject, queue string, handler func(subject string, data []byte)) error {
	cb := func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queue == "" {
		sub, err = c.conn.Subscribe(subject, cb)
	} else {
		sub, err = c.conn.QueueSubscribe(subject, queue, cb)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject, "queue", queue)
	return nil
}

// OnTranscript decodes submissions on SubjectTranscriptSubmitted and passes
// them to handler. Undecodable payloads are logged and dropped.
func (c *Client) OnTranscript(handler func(TranscriptSubmitted)) error {
	return c.QueueSubscribe(SubjectTranscriptSubmitted, QueueGroup, func(subject string, data []byte) {
		var msg TranscriptSubmitted
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed transcript submission", "subject", subject, "error", err)
			return
		}
		handler(msg)
	})
}

// Announce publishes the service's registration event.
func (c *Client) Announce(ev AgentRegistered) error {
	return c.Publish(SubjectAgentRegistered, ev)
}

// Connected reports whether the underlying connection is up.
func (c *Client) Connected() bool {
	return c.conn.IsConnected()
}

// Close drains subscriptions so in-flight handlers finish, then closes.
func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Drain()
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
