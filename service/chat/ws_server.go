package chat

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"RelayCore/logger"
	"RelayCore/tools/errs"
	"RelayCore/tools/ids"
	"RelayCore/tools/safe"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 32 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// cross-origin browser clients are expected; auth is the token, not the
	// Origin header
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RegisterRoutes mounts the websocket endpoint and the liveness probe.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", s.HandleWS)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "gateway": s.conf.GatewayID})
	})
}

// bearerToken pulls the credential from the Authorization header, falling
// back to the token query parameter for browser WebSocket clients that
// cannot set headers.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// HandleWS upgrades the connection, authenticates it, then runs the read
// loop until the connection dies. A connection is never left half-open: any
// failure before Activate sends one error event and closes the socket.
func (s *Server) HandleWS(g *gin.Context) {
	conn, err := upgrader.Upgrade(g.Writer, g.Request, nil)
	if err != nil {
		logger.Warnf("[chat] ws upgrade: %v", err)
		return
	}

	ctx := g.Request.Context()

	claims, err := s.verifier.Verify(ctx, bearerToken(g.Request))
	if err != nil {
		s.rejectConn(conn, err)
		return
	}
	user, err := s.resolver.Resolve(ctx, claims)
	if err != nil {
		s.rejectConn(conn, err)
		return
	}

	c := NewClient(ids.GenerateString(), user.ID, user.Name, user.AvatarURL, s.conf.SendQueueSize)
	c.SetState(StateAuthenticating)

	s.Activate(context.Background(), c)
	logger.Infof("[chat] connected user=%s conn=%s", c.UserID, c.ConnID)

	safe.Go(func() { s.writePump(conn, c) })
	s.readLoop(conn, c)
}

// rejectConn reports why authentication failed and closes. The error event is
// best-effort; the close is not.
func (s *Server) rejectConn(conn *websocket.Conn, err error) {
	logger.Warnf("[chat] auth rejected: %v", err)
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, BuildError(err))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"))
	_ = conn.Close()
}

// readLoop owns all reads on the socket. The read deadline doubles as the
// liveness check: a pong (or any frame) pushes it forward, silence past the
// heartbeat window kills the connection.
func (s *Server) readLoop(conn *websocket.Conn, c *Client) {
	defer func() {
		s.Teardown(c)
		_ = conn.Close()
		logger.Infof("[chat] disconnected user=%s conn=%s", c.UserID, c.ConnID)
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.conf.HeartbeatWindow))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.conf.HeartbeatWindow))
		safe.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			s.Heartbeat(ctx, c)
		})
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("[chat] read user=%s conn=%s: %v", c.UserID, c.ConnID, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.conf.HeartbeatWindow))

		env, err := ParseEnvelope(raw)
		if err != nil {
			c.Enqueue(BuildError(errs.ErrBadPayload))
			continue
		}
		if err := s.Dispatch(context.Background(), c, env); err != nil {
			// dispatch errors go back to the sender only; the connection lives on
			c.Enqueue(BuildError(err))
		}
	}
}

// writePump owns all writes on the socket and drives the ping ticker. It
// exits when the outbound queue is released or a write fails; either way the
// read loop notices the dead socket and runs the teardown.
func (s *Server) writePump(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(s.conf.HeartbeatWindow * 2 / 3)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case payload := <-c.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
