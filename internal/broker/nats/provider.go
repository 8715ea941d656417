// Package nats implements the broker transport over NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/walofficial/wal-server/internal/broker"
)

// Provider implements broker.Provider using NATS JetStream. It owns the NATS
// connection lifecycle and hands out publishers and consumers that share it.
type Provider struct {
	url  string
	nc   *nats.Conn
	js   JetStream
	opts []nats.Option
}

// Compile-time check that Provider implements broker.Provider.
var _ broker.Provider = (*Provider)(nil)
var _ broker.Connectable = (*Provider)(nil)

// NewProvider creates a NATS-backed transport provider. Connect must be
// called before creating publishers or consumers.
func NewProvider(url string, opts ...nats.Option) *Provider {
	return &Provider{url: url, opts: opts}
}

// Connect establishes the NATS connection and initializes JetStream.
func (p *Provider) Connect(ctx context.Context) error {
	nc, err := natsConnect(p.url, p.opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", p.url, err)
	}

	js, err := jetStreamNew(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream: %w", err)
	}

	p.nc = nc
	p.js = js
	slog.Info("Connected to NATS", "url", p.url)
	return nil
}

// NewPublisher creates a Publisher backed by NATS JetStream.
func (p *Provider) NewPublisher(opts broker.PublisherOptions) (broker.Publisher, error) {
	if p.js == nil {
		return nil, broker.ErrNotConnected
	}
	return newPublisher(p.js, opts)
}

// NewConsumer creates a Consumer backed by NATS JetStream.
func (p *Provider) NewConsumer(opts broker.ConsumerOptions) (broker.Consumer, error) {
	if p.js == nil {
		return nil, broker.ErrNotConnected
	}
	return newConsumer(p.js, opts)
}

// Close closes the NATS connection.
func (p *Provider) Close() error {
	if p.nc != nil {
		slog.Info("Closing NATS connection...")
		p.nc.Close()
		p.nc = nil
	}
	p.js = nil
	return nil
}
