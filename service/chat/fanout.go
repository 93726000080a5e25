package chat

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"strings"
	"sync"

	"RelayCore/logger"
	"RelayCore/service/storage"
)

// Bus is the shared pub/sub transport between instances. Implemented by
// storage.RedisBus in production and by an in-memory bus in tests.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	PSubscribe(ctx context.Context, pattern string) (<-chan storage.BusMessage, error)
}

const roomChannelPrefix = "chat:room:"

// RoomChannel names the shared channel for one room, deterministically.
func RoomChannel(room string) string { return roomChannelPrefix + room }

// UserRoom is the private per-user notification room every connection joins
// on activation; it rides the same fanout path as conversation rooms.
func UserRoom(userID string) string { return "user:" + userID }

// relayEnvelope wraps an event on the shared channel. Origin lets an instance
// skip its own publications (it already delivered locally); Exclude only ever
// matters on the origin instance and is kept for debugging.
type relayEnvelope struct {
	Origin  string          `json:"origin"`
	Exclude string          `json:"exclude,omitempty"`
	Event   json.RawMessage `json:"event"`
}

type fanoutJob struct {
	conns   []*Client
	payload []byte
	exclude string
}

// Relay fans events out to every subscriber of a room: local connections
// through a sharded worker pool, remote instances through the shared channel.
// A room always hashes to the same worker, so one room's events keep their
// enqueue order while different rooms fan out in parallel. Room membership is
// instance-local, so each instance independently delivers to whichever subset
// of the room is connected to it.
//
// The job channels are never closed: the bus pump keeps producing until its
// subscription drains, so shutdown is a done signal that producers check and
// workers select on. A late event after Close is dropped, never a panic.
type Relay struct {
	gatewayID string
	hub       *Hub
	bus       Bus
	jobs      []chan fanoutJob
	done      chan struct{}
	closeOnce sync.Once
}

func NewRelay(gatewayID string, hub *Hub, bus Bus, workers, queue int) *Relay {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 1024
	}
	r := &Relay{
		gatewayID: gatewayID,
		hub:       hub,
		bus:       bus,
		jobs:      make([]chan fanoutJob, workers),
		done:      make(chan struct{}),
	}
	for i := range r.jobs {
		ch := make(chan fanoutJob, queue/workers+1)
		r.jobs[i] = ch
		go func() {
			for {
				select {
				case job := <-ch:
					for _, c := range job.conns {
						if job.exclude != "" && c.ConnID == job.exclude {
							continue
						}
						c.Enqueue(job.payload)
					}
				case <-r.done:
					return
				}
			}
		}()
	}
	return r
}

func (r *Relay) shard(room string) chan fanoutJob {
	h := fnv.New32a()
	_, _ = h.Write([]byte(room))
	return r.jobs[h.Sum32()%uint32(len(r.jobs))]
}

// Broadcast delivers an event to every subscriber of room, fleet-wide.
// excludeConnID suppresses the echo to the originating connection (typing);
// empty means everyone. Local delivery and the shared publish happen from the
// caller's goroutine in order, so one conversation's events keep their
// publish order per instance.
func (r *Relay) Broadcast(ctx context.Context, room string, event []byte, excludeConnID string) {
	r.deliverLocal(room, event, excludeConnID)

	env := relayEnvelope{Origin: r.gatewayID, Exclude: excludeConnID, Event: event}
	b, _ := json.Marshal(env)
	if err := r.bus.Publish(ctx, RoomChannel(room), b); err != nil {
		// remote delivery is best-effort per publish; the connection that
		// caused this event must not observe a failure here
		logger.Errorf("[relay] publish room=%s: %v", room, err)
	}
}

func (r *Relay) deliverLocal(room string, event []byte, excludeConnID string) {
	select {
	case <-r.done:
		return // late event after shutdown, drop it
	default:
	}
	conns := r.hub.RoomClients(room)
	if len(conns) == 0 {
		return
	}
	select {
	case r.shard(room) <- fanoutJob{conns: conns, payload: event, exclude: excludeConnID}:
	case <-r.done:
	default:
		logger.Warnf("[relay] fanout queue full, dropping event room=%s", room)
	}
}

// Run consumes the shared channel until ctx is done. A single consumer
// goroutine preserves per-channel publish order for everything delivered on
// this instance.
func (r *Relay) Run(ctx context.Context) error {
	ch, err := r.bus.PSubscribe(ctx, roomChannelPrefix+"*")
	if err != nil {
		return err
	}
	go func() {
		for {
			var m storage.BusMessage
			var ok bool
			select {
			case <-r.done:
				return
			case m, ok = <-ch:
				if !ok {
					return
				}
			}
			var env relayEnvelope
			if err := json.Unmarshal(m.Payload, &env); err != nil {
				logger.Warnf("[relay] bad envelope on %s: %v", m.Channel, err)
				continue
			}
			if env.Origin == r.gatewayID {
				continue // already delivered locally when we published
			}
			room := strings.TrimPrefix(m.Channel, roomChannelPrefix)
			r.deliverLocal(room, env.Event, "")
		}
	}()
	return nil
}

// Close stops the pump and the worker pool. Queued jobs are dropped; the
// shared publish side is untouched so shutdown status events still reach
// other instances.
func (r *Relay) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}
