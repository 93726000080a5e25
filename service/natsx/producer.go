package natsx

import (
	"context"

	"github.com/nats-io/nats.go"
)

// Producer publishes durable jobs onto one JetStream subject.
type Producer struct {
	c       *Client
	subject string
}

func NewProducer(c *Client, subject string) *Producer {
	return &Producer{c: c, subject: subject}
}

// Enqueue publishes one job and waits for the stream ack. An optional
// msg-id header lets the stream dedupe producer-side retries.
func (p *Producer) Enqueue(ctx context.Context, payload []byte, msgID string) error {
	m := nats.NewMsg(p.subject)
	m.Data = payload
	if msgID != "" {
		m.Header.Set(nats.MsgIdHdr, msgID)
	}
	_, err := p.c.js.PublishMsg(m, nats.Context(ctx))
	return err
}
