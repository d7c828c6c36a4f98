// Package natsrelay is a relay backend over core NATS subjects.
package natsrelay

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Backend publishes and receives relay payloads on one NATS subject.
type Backend struct {
	nc      *nats.Conn
	subject string
}

// New wraps an existing connection.
func New(nc *nats.Conn, subject string) *Backend {
	return &Backend{nc: nc, subject: subject}
}

// Dial connects to the NATS server at url.
func Dial(url, subject string) (*Backend, error) {
	nc, err := nats.Connect(url,
		nats.Name("wirechat-hub"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return New(nc, subject), nil
}

// Send publishes payload on the subject.
func (b *Backend) Send(_ context.Context, payload []byte) error {
	if err := b.nc.Publish(b.subject, payload); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Listen subscribes to the subject and hands every payload to handle.
func (b *Backend) Listen(ctx context.Context, handle func(payload []byte)) error {
	ch := make(chan *nats.Msg, 256)
	sub, err := b.nc.ChanSubscribe(b.subject, ch)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", b.subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			handle(msg.Data)
		}
	}
}

// Close closes the NATS connection.
func (b *Backend) Close() error {
	b.nc.Close()
	return nil
}
