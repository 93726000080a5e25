package natsx

import (
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Config 客户端配置
type Config struct {
	Servers         []string
	Name            string
	ReconnectWait   time.Duration
	Timeout         time.Duration
	PublishAsyncMax int
}

// Client wraps one NATS connection plus a JetStream context. The gateway only
// produces durable notification jobs, so the surface stays small.
type Client struct {
	cfg Config
	nc  *nats.Conn
	js  nats.JetStreamContext
}

func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.PublishAsyncMax == 0 {
		cfg.PublishAsyncMax = 4096
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream(nats.PublishAsyncMaxPending(cfg.PublishAsyncMax))
	if err != nil {
		nc.Close()
		return nil, err
	}
	return &Client{cfg: cfg, nc: nc, js: js}, nil
}

// EnsureStream creates the stream when it does not exist yet; the consumer
// side owns retry/backoff, we only need the subject to be durable.
func (c *Client) EnsureStream(stream string, subjects ...string) error {
	_, err := c.js.StreamInfo(stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:      stream,
		Subjects:  subjects,
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	return err
}

func (c *Client) JetStream() nats.JetStreamContext { return c.js }

// Close 优雅关闭
func (c *Client) Close() error {
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}
