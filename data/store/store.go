package store

import (
	"context"
	"time"
)

// Role of a participant inside a conversation.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

// Elevated reports whether the role may act on other participants.
func (r Role) Elevated() bool {
	return r == RoleAdmin || r == RoleOwner
}

type User struct {
	ID         string
	ExternalID string // subject at the identity provider; empty until linked
	Email      string
	Name       string
	AvatarURL  string
	PushToken  string
}

type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           string
	CreatedAt      time.Time
}

// MessageMeta is the subset of a message needed to route receipts.
type MessageMeta struct {
	ConversationID string
	SenderID       string
}

// Store is the relational persistence collaborator. The gateway only issues
// keyed lookups and single-row writes; no transaction spans more than one call.
type Store interface {
	UserByExternalID(ctx context.Context, externalID string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	UserByID(ctx context.Context, id string) (*User, error)
	LinkExternalID(ctx context.Context, userID, externalID string) error
	UpdateUserStatus(ctx context.Context, userID, status string, lastSeen time.Time) error

	ParticipantRole(ctx context.Context, conversationID, userID string) (Role, bool, error)
	ParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
	ConversationIDsForUser(ctx context.Context, userID string) ([]string, error)

	InsertMessage(ctx context.Context, m *Message) error
	MessageMeta(ctx context.Context, messageID string) (*MessageMeta, error)

	// MarkRead upserts the (message, user) receipt. The stored read timestamp
	// never moves backward; changed is false when the receipt already carried
	// a read timestamp, so callers can skip redundant fanout.
	MarkRead(ctx context.Context, messageID, userID string, at time.Time) (readAt time.Time, changed bool, err error)

	// MarkDelivered records delivered-at once; later calls are no-ops.
	MarkDelivered(ctx context.Context, messageID, userID string, at time.Time) error
}

// ErrNoRows is returned by lookups that found nothing. Implementations map
// their driver's not-found error onto it.
var ErrNoRows = errNoRows{}

type errNoRows struct{}

func (errNoRows) Error() string { return "store: no rows" }
