package chat

import (
	"context"
	"time"

	"RelayCore/data/store"
	"RelayCore/logger"
	"RelayCore/service/auth"
	"RelayCore/tools/errs"
	"RelayCore/tools/safe"
)

// TokenVerifier and IdentityResolver are what the supervisor needs from the
// auth package; tests substitute fakes.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

type IdentityResolver interface {
	Resolve(ctx context.Context, claims *auth.Claims) (*store.User, error)
}

type Config struct {
	GatewayID       string
	SendQueueSize   int
	HeartbeatWindow time.Duration
}

func (c *Config) norm() {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.HeartbeatWindow <= 0 {
		c.HeartbeatWindow = 60 * time.Second
	}
}

// Server owns one instance's connection supervision: authentication, the
// local hub, dispatch, presence transitions and the offline handoff.
type Server struct {
	conf Config

	hub        *Hub
	relay      *Relay
	presence   Presence
	store      store.Store
	verifier   TokenVerifier
	resolver   IdentityResolver
	authorizer *Authorizer
	handoff    *Handoff
}

type Deps struct {
	Presence Presence
	Store    store.Store
	Verifier TokenVerifier
	Resolver IdentityResolver
	Bus      Bus
	Queue    Queue
}

func NewServer(conf Config, d Deps, fanoutWorkers, fanoutQueue int) *Server {
	conf.norm()
	safe.MustNotNil(d.Presence, "presence")
	safe.MustNotNil(d.Store, "store")
	safe.MustNotNil(d.Verifier, "verifier")
	safe.MustNotNil(d.Resolver, "resolver")
	safe.MustNotNil(d.Bus, "bus")
	safe.MustNotNil(d.Queue, "queue")

	hub := NewHub()
	return &Server{
		conf:       conf,
		hub:        hub,
		relay:      NewRelay(conf.GatewayID, hub, d.Bus, fanoutWorkers, fanoutQueue),
		presence:   d.Presence,
		store:      d.Store,
		verifier:   d.Verifier,
		resolver:   d.Resolver,
		authorizer: NewAuthorizer(d.Store),
		handoff:    NewHandoff(d.Presence, d.Store, d.Queue),
	}
}

func (s *Server) Hub() *Hub     { return s.hub }
func (s *Server) Relay() *Relay { return s.relay }

// Run starts the cross-instance subscription.
func (s *Server) Run(ctx context.Context) error {
	return s.relay.Run(ctx)
}

// Close runs the normal teardown for every live connection, then stops the
// relay. Connections leave the presence registry and offline transitions
// publish on shutdown instead of lingering until the TTL net expires;
// http.Server.Shutdown never touches hijacked websocket connections, so this
// is the only path that closes them.
func (s *Server) Close() {
	for _, c := range s.hub.Clients() {
		s.Teardown(c)
	}
	s.relay.Close()
}

// ===== presence transitions =====

// Activate registers an authenticated connection: local hub, private user
// room, fleet-wide presence. The online transition is published only for the
// user's first live connection anywhere.
func (s *Server) Activate(ctx context.Context, c *Client) {
	c.SetState(StateActive)
	s.hub.Add(c)
	s.hub.Join(UserRoom(c.UserID), c)

	first, err := s.presence.Connect(ctx, c.UserID, s.conf.GatewayID, c.ConnID)
	if err != nil {
		// the connection still works locally; the next heartbeat re-asserts
		// the registry entry
		logger.Errorf("[chat] presence connect user=%s conn=%s: %v", c.UserID, c.ConnID, err)
		return
	}
	if first {
		s.publishStatus(c.UserID, "online", time.Time{})
	}
}

// Heartbeat re-asserts the connection's registry membership and renews its
// TTL. Driven by the protocol pong handler, it also heals an entry lost to a
// failed connect or an expired key.
func (s *Server) Heartbeat(ctx context.Context, c *Client) {
	if err := s.presence.Heartbeat(ctx, c.UserID, s.conf.GatewayID, c.ConnID); err != nil {
		logger.Warnf("[chat] heartbeat user=%s conn=%s: %v", c.UserID, c.ConnID, err)
	}
}

// Teardown runs the single cleanup path for every way a connection can end:
// client close, transport failure, idle timeout, server shutdown. Only the
// first signal does any work.
func (s *Server) Teardown(c *Client) {
	if !c.BeginClose() {
		return
	}
	defer c.Close()

	s.hub.Remove(c)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	last, lastSeen, err := s.presence.Disconnect(ctx, c.UserID, s.conf.GatewayID, c.ConnID)
	if err != nil {
		logger.Errorf("[chat] presence disconnect user=%s conn=%s: %v", c.UserID, c.ConnID, err)
		return
	}
	if last {
		s.publishStatus(c.UserID, "offline", lastSeen)
	}
}

// publishStatus fans a presence transition out to the rooms of every
// conversation the user participates in, and persists the status row.
// Both are best-effort side channels.
func (s *Server) publishStatus(userID, status string, lastSeen time.Time) {
	safe.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		event := BuildUserStatus(userID, status, lastSeen)
		convs, err := s.store.ConversationIDsForUser(ctx, userID)
		if err != nil {
			logger.Errorf("[chat] status fanout user=%s: %v", userID, err)
		}
		for _, conv := range convs {
			s.relay.Broadcast(ctx, conv, event, "")
		}

		seen := lastSeen
		if seen.IsZero() {
			seen = time.Now()
		}
		if err := s.store.UpdateUserStatus(ctx, userID, status, seen); err != nil {
			logger.Errorf("[chat] status persist user=%s: %v", userID, err)
		}
	})
}

// ===== inbound dispatch =====

// Dispatch routes one inbound event. The returned error is reported to the
// originating connection only; it never tears the connection down and never
// leaks to other connections.
func (s *Server) Dispatch(ctx context.Context, c *Client, env *Envelope) error {
	switch env.Event {
	case EvJoinRoom:
		return s.handleJoin(ctx, c, env.Data)
	case EvLeaveRoom:
		return s.handleLeave(ctx, c, env.Data)
	case EvSendMessage:
		return s.handleSend(ctx, c, env.Data)
	case EvTypingStart:
		return s.handleTyping(ctx, c, env.Data, true)
	case EvTypingStop:
		return s.handleTyping(ctx, c, env.Data, false)
	case EvMarkRead:
		return s.handleMarkRead(ctx, c, env.Data)
	default:
		return errs.ErrBadPayload.WithDetail("unknown event " + env.Event)
	}
}
