package nats

import (
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/walofficial/wal-server/internal/broker"
)

// natsMessage wraps a jetstream.Msg to implement broker.Message.
type natsMessage struct {
	msg jetstream.Msg
}

func wrapMessage(msg jetstream.Msg) broker.Message {
	return &natsMessage{msg: msg}
}

func (m *natsMessage) Data() []byte {
	return m.msg.Data()
}

// ID derives a stable message identifier from the stream sequence.
func (m *natsMessage) ID() string {
	md, err := m.msg.Metadata()
	if err != nil {
		return m.msg.Subject()
	}
	return fmt.Sprintf("%s:%d", md.Stream, md.Sequence.Stream)
}

func (m *natsMessage) Subject() string {
	return m.msg.Subject()
}

// Ack acknowledges successful processing.
func (m *natsMessage) Ack() error {
	return m.msg.Ack()
}

// Nak signals processing failure, requesting redelivery.
func (m *natsMessage) Nak() error {
	return m.msg.Nak()
}

// InProgress resets the ack wait timer, extending the lease.
func (m *natsMessage) InProgress() error {
	return m.msg.InProgress()
}

// Term terminates the message (no redelivery).
func (m *natsMessage) Term() error {
	return m.msg.Term()
}

func (m *natsMessage) Metadata() (broker.MessageMetadata, error) {
	md, err := m.msg.Metadata()
	if err != nil {
		return broker.MessageMetadata{}, err
	}
	return broker.MessageMetadata{
		NumDelivered: md.NumDelivered,
		Timestamp:    md.Timestamp,
		Subject:      m.msg.Subject(),
		Stream:       md.Stream,
		Consumer:     md.Consumer,
	}, nil
}
