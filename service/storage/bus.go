package storage

import (
	"context"

	redisx "RelayCore/service/storage/redis"
)

// BusMessage is one message received from a pattern subscription.
type BusMessage struct {
	Channel string
	Payload []byte
}

// RedisBus is the shared pub/sub transport between gateway instances.
// Redis delivers messages published on one channel to a given subscriber in
// publish order, which is exactly the per-conversation ordering the relay
// needs; nothing is persisted.
type RedisBus struct{}

func NewRedisBus() *RedisBus { return &RedisBus{} }

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return redisx.Get().Publish(ctx, channel, payload).Err()
}

// PSubscribe subscribes to a channel pattern. The returned channel closes when
// ctx is done.
func (b *RedisBus) PSubscribe(ctx context.Context, pattern string) (<-chan BusMessage, error) {
	sub := redisx.Get().PSubscribe(ctx, pattern)
	// force the subscription onto the wire before we report success
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan BusMessage, 256)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				out <- BusMessage{Channel: m.Channel, Payload: []byte(m.Payload)}
			}
		}
	}()
	return out, nil
}
