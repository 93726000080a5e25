package chat

import (
	"sync"
)

// Hub is the instance-local delivery index: which connections receive
// broadcasts for which room. It is not authoritative membership (that lives
// in the persistence collaborator), only the fan-out index for this process.
type Hub struct {
	mu     sync.RWMutex
	byConn map[string]*Client                 // conn_id -> client
	byRoom map[string]map[string]*Client      // room -> conn_id -> client
	rooms  map[string]map[string]struct{}     // conn_id -> set of rooms (reverse index)
	byUser map[string]map[string]*Client      // user -> conn_id -> client
}

func NewHub() *Hub {
	return &Hub{
		byConn: make(map[string]*Client),
		byRoom: make(map[string]map[string]*Client),
		rooms:  make(map[string]map[string]struct{}),
		byUser: make(map[string]map[string]*Client),
	}
}

func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byConn[c.ConnID] = c
	m := h.byUser[c.UserID]
	if m == nil {
		m = make(map[string]*Client)
		h.byUser[c.UserID] = m
	}
	m[c.ConnID] = c
}

// Join subscribes a connection to a room. Idempotent.
func (h *Hub) Join(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.byConn[c.ConnID]; !ok {
		return // already removed, late join is a no-op
	}
	m := h.byRoom[room]
	if m == nil {
		m = make(map[string]*Client)
		h.byRoom[room] = m
	}
	m[c.ConnID] = c

	r := h.rooms[c.ConnID]
	if r == nil {
		r = make(map[string]struct{})
		h.rooms[c.ConnID] = r
	}
	r[room] = struct{}{}
}

// Leave unsubscribes a connection from a room. Idempotent.
func (h *Hub) Leave(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, c.ConnID)
}

func (h *Hub) leaveLocked(room, connID string) {
	if m := h.byRoom[room]; m != nil {
		delete(m, connID)
		if len(m) == 0 {
			delete(h.byRoom, room)
		}
	}
	if r := h.rooms[connID]; r != nil {
		delete(r, room)
		if len(r) == 0 {
			delete(h.rooms, connID)
		}
	}
}

// Remove drops a connection from every index and returns the rooms it was in.
func (h *Hub) Remove(c *Client) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var left []string
	for room := range h.rooms[c.ConnID] {
		left = append(left, room)
	}
	for _, room := range left {
		h.leaveLocked(room, c.ConnID)
	}
	delete(h.byConn, c.ConnID)
	if m := h.byUser[c.UserID]; m != nil {
		delete(m, c.ConnID)
		if len(m) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
	return left
}

// RoomClients snapshots the local subscribers of a room.
func (h *Hub) RoomClients(room string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m := h.byRoom[room]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// InRoom reports whether a connection is subscribed to a room.
func (h *Hub) InRoom(connID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[connID][room]
	return ok
}

// UserClients snapshots the local connections of one user.
func (h *Hub) UserClients(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m := h.byUser[userID]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// Clients snapshots every live connection on this instance.
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.byConn))
	for _, c := range h.byConn {
		out = append(out, c)
	}
	return out
}

// Len returns the number of live connections on this instance.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byConn)
}
