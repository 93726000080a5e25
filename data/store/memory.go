package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and by local single-process
// runs where PostgreSQL is not wired up.
type MemoryStore struct {
	mu           sync.RWMutex
	users        map[string]*User            // id -> user
	participants map[string]map[string]Role  // conversation -> user -> role
	messages     map[string]*Message         // id -> message
	receipts     map[string]*memReceipt      // message|user -> receipt
	statuses     map[string]string           // user -> status
	lastSeen     map[string]time.Time        // user -> last seen
}

type memReceipt struct {
	deliveredAt *time.Time
	readAt      *time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]*User),
		participants: make(map[string]map[string]Role),
		messages:     make(map[string]*Message),
		receipts:     make(map[string]*memReceipt),
		statuses:     make(map[string]string),
		lastSeen:     make(map[string]time.Time),
	}
}

// AddUser seeds a user record.
func (s *MemoryStore) AddUser(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

// AddParticipant seeds conversation membership.
func (s *MemoryStore) AddParticipant(conversationID, userID string, role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.participants[conversationID]
	if m == nil {
		m = make(map[string]Role)
		s.participants[conversationID] = m
	}
	m[userID] = role
}

func (s *MemoryStore) UserByExternalID(_ context.Context, externalID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.ExternalID != "" && u.ExternalID == externalID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNoRows
}

func (s *MemoryStore) UserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNoRows
}

func (s *MemoryStore) UserByID(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) LinkExternalID(_ context.Context, userID, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok && u.ExternalID == "" {
		u.ExternalID = externalID
	}
	return nil
}

func (s *MemoryStore) UpdateUserStatus(_ context.Context, userID, status string, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[userID] = status
	s.lastSeen[userID] = lastSeen
	return nil
}

// Status returns the persisted status of a user (test helper).
func (s *MemoryStore) Status(userID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statuses[userID]
}

func (s *MemoryStore) ParticipantRole(_ context.Context, conversationID, userID string) (Role, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.participants[conversationID][userID]
	return role, ok, nil
}

func (s *MemoryStore) ParticipantIDs(_ context.Context, conversationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.participants[conversationID]
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out, nil
}

func (s *MemoryStore) ConversationIDsForUser(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for conv, m := range s.participants {
		if _, ok := m[userID]; ok {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

func (s *MemoryStore) MessageMeta(_ context.Context, messageID string) (*MessageMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, ErrNoRows
	}
	return &MessageMeta{ConversationID: m.ConversationID, SenderID: m.SenderID}, nil
}

func receiptKey(messageID, userID string) string { return messageID + "|" + userID }

func (s *MemoryStore) MarkRead(_ context.Context, messageID, userID string, at time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := receiptKey(messageID, userID)
	r := s.receipts[k]
	if r == nil {
		r = &memReceipt{}
		s.receipts[k] = r
	}
	if r.readAt != nil {
		return *r.readAt, false, nil
	}
	r.readAt = &at
	return at, true, nil
}

// DeliveredAt returns the delivered timestamp for a receipt, zero if none
// (test helper).
func (s *MemoryStore) DeliveredAt(messageID, userID string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.receipts[receiptKey(messageID, userID)]
	if r == nil || r.deliveredAt == nil {
		return time.Time{}
	}
	return *r.deliveredAt
}

func (s *MemoryStore) MarkDelivered(_ context.Context, messageID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := receiptKey(messageID, userID)
	r := s.receipts[k]
	if r == nil {
		r = &memReceipt{}
		s.receipts[k] = r
	}
	if r.deliveredAt == nil {
		r.deliveredAt = &at
	}
	return nil
}
