package chat

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"RelayCore/data/store"
	"RelayCore/service/auth"
	"RelayCore/service/storage"
)

// ===== fakes =====

// memBus is a process-local pub/sub with the same pattern semantics the
// shared bus exposes. Two relays on one memBus look like two instances.
type memBus struct {
	mu   sync.Mutex
	subs []memSub
}

type memSub struct {
	pattern string
	ch      chan storage.BusMessage
}

func newMemBus() *memBus { return &memBus{} }

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if !strings.HasPrefix(channel, strings.TrimSuffix(s.pattern, "*")) {
			continue
		}
		cp := make([]byte, len(payload))
		copy(cp, payload)
		s.ch <- storage.BusMessage{Channel: channel, Payload: cp}
	}
	return nil
}

func (b *memBus) PSubscribe(ctx context.Context, pattern string) (<-chan storage.BusMessage, error) {
	ch := make(chan storage.BusMessage, 256)
	b.mu.Lock()
	b.subs = append(b.subs, memSub{pattern: pattern, ch: ch})
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		// the consumer side ranges over ch; leak-free shutdown is the
		// caller's ctx, not ours
	}()
	return ch, nil
}

// fakePresence tracks members in memory and can inject failures.
type fakePresence struct {
	mu      sync.Mutex
	members map[string]map[string]struct{} // user -> member set
	seen    map[string]time.Time
	beats   int
	fail    error
}

func newFakePresence() *fakePresence {
	return &fakePresence{
		members: make(map[string]map[string]struct{}),
		seen:    make(map[string]time.Time),
	}
}

func (p *fakePresence) setOnline(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.members[userID] = map[string]struct{}{"seed/seed": {}}
}

func (p *fakePresence) Connect(_ context.Context, userID, gatewayID, connID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return false, p.fail
	}
	m := p.members[userID]
	if m == nil {
		m = make(map[string]struct{})
		p.members[userID] = m
	}
	m[storage.Member(gatewayID, connID)] = struct{}{}
	return len(m) == 1, nil
}

func (p *fakePresence) Disconnect(_ context.Context, userID, gatewayID, connID string) (bool, time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return false, time.Time{}, p.fail
	}
	m := p.members[userID]
	if m == nil {
		return false, time.Time{}, nil
	}
	member := storage.Member(gatewayID, connID)
	if _, ok := m[member]; !ok {
		return false, time.Time{}, nil
	}
	delete(m, member)
	if len(m) > 0 {
		return false, time.Time{}, nil
	}
	delete(p.members, userID)
	now := time.Now()
	p.seen[userID] = now
	return true, now, nil
}

// Heartbeat re-adds the member like the store's connect script does.
func (p *fakePresence) Heartbeat(_ context.Context, userID, gatewayID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.beats++
	m := p.members[userID]
	if m == nil {
		m = make(map[string]struct{})
		p.members[userID] = m
	}
	m[storage.Member(gatewayID, connID)] = struct{}{}
	return nil
}

func (p *fakePresence) IsOnline(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return false, p.fail
	}
	return len(p.members[userID]) > 0, nil
}

// fakeQueue records enqueued jobs.
type fakeQueue struct {
	mu   sync.Mutex
	jobs []queuedJob
	fail error
}

type queuedJob struct {
	payload []byte
	msgID   string
}

func (q *fakeQueue) Enqueue(_ context.Context, payload []byte, msgID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail != nil {
		return q.fail
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	q.jobs = append(q.jobs, queuedJob{payload: cp, msgID: msgID})
	return nil
}

func (q *fakeQueue) all() []queuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]queuedJob, len(q.jobs))
	copy(out, q.jobs)
	return out
}

// fakeVerifier and fakeResolver satisfy the supervisor's auth interfaces.
type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, token string) (*auth.Claims, error) {
	return &auth.Claims{Subject: token}, nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, claims *auth.Claims) (*store.User, error) {
	return &store.User{ID: claims.Subject}, nil
}

// ===== helpers =====

type testEnv struct {
	srv      *Server
	store    *store.MemoryStore
	presence *fakePresence
	queue    *fakeQueue
	bus      *memBus
	cancel   context.CancelFunc
}

func newTestEnv(t *testing.T, gatewayID string, bus *memBus) *testEnv {
	t.Helper()
	if bus == nil {
		bus = newMemBus()
	}
	st := store.NewMemoryStore()
	p := newFakePresence()
	q := &fakeQueue{}

	srv := NewServer(
		Config{GatewayID: gatewayID, SendQueueSize: 64, HeartbeatWindow: time.Minute},
		Deps{
			Presence: p,
			Store:    st,
			Verifier: fakeVerifier{},
			Resolver: fakeResolver{},
			Bus:      bus,
			Queue:    q,
		},
		2, 128,
	)

	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Run(ctx); err != nil {
		cancel()
		t.Fatalf("relay run: %v", err)
	}
	t.Cleanup(cancel)

	return &testEnv{srv: srv, store: st, presence: p, queue: q, bus: bus, cancel: cancel}
}

var connSeq atomic.Int64

// connect activates a client without a real socket; tests read its send
// channel directly.
func (e *testEnv) connect(t *testing.T, userID, name string) *Client {
	t.Helper()
	id := "conn-" + userID + "-" + strconv.FormatInt(connSeq.Add(1), 10)
	c := NewClient(id, userID, name, "", 64)
	e.srv.Activate(context.Background(), c)
	return c
}

func recvEvent(t *testing.T, c *Client, want string) map[string]any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-c.Send():
			var env Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				t.Fatalf("bad event frame: %v", err)
			}
			if env.Event == want {
				return env.Data
			}
			// unrelated interleaved event (status fanout), keep reading
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", want)
		}
	}
}

func expectNoEvent(t *testing.T, c *Client, event string, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case raw := <-c.Send():
			var env Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				t.Fatalf("bad event frame: %v", err)
			}
			if env.Event == event {
				t.Fatalf("unexpected %q event: %s", event, raw)
			}
		case <-deadline:
			return
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
