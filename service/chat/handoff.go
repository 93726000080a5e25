package chat

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"RelayCore/data/store"
	"RelayCore/logger"
)

// Queue is the durable job transport; natsx.Producer in production.
type Queue interface {
	Enqueue(ctx context.Context, payload []byte, msgID string) error
}

// Presence is the fleet-wide live-connection registry as the handoff and the
// supervisor need it; storage.PresenceStore implements it.
type Presence interface {
	Connect(ctx context.Context, userID, gatewayID, connID string) (first bool, err error)
	Disconnect(ctx context.Context, userID, gatewayID, connID string) (last bool, lastSeen time.Time, err error)
	Heartbeat(ctx context.Context, userID, gatewayID, connID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}

const previewMaxRunes = 120

// NotificationJob is the producer side of the offline push contract. The
// consumer may process a job more than once; the ids inside are what make
// receiver-side dedupe possible.
type NotificationJob struct {
	Type           string `json:"type"` // always "new_message"
	UserID         string `json:"userId"`
	PushToken      string `json:"pushToken"`
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Preview        string `json:"preview"`
}

// Handoff enqueues one durable notification job per recipient who has no
// live connection anywhere in the fleet.
type Handoff struct {
	presence Presence
	store    store.Store
	queue    Queue
}

func NewHandoff(p Presence, s store.Store, q Queue) *Handoff {
	return &Handoff{presence: p, store: s, queue: q}
}

// EnqueueIfOffline runs after the message is persisted and fanned out to the
// live participants. Everything here is best-effort: a registry or queue
// failure is logged per participant and swallowed, because the send this job
// hangs off has already succeeded.
func (h *Handoff) EnqueueIfOffline(ctx context.Context, m *store.Message, participantIDs []string) {
	for _, uid := range participantIDs {
		if uid == m.SenderID {
			continue
		}
		online, err := h.presence.IsOnline(ctx, uid)
		if err != nil {
			logger.Errorf("[handoff] presence check user=%s msg=%s: %v", uid, m.ID, err)
			continue
		}
		if online {
			// a live connection somewhere in the fleet will receive the
			// broadcast; record delivery instead of enqueueing a push
			if err := h.store.MarkDelivered(ctx, m.ID, uid, time.Now()); err != nil {
				logger.Warnf("[handoff] mark delivered user=%s msg=%s: %v", uid, m.ID, err)
			}
			continue
		}
		if err := h.enqueueOne(ctx, m, uid); err != nil {
			logger.Errorf("[handoff] enqueue user=%s msg=%s: %v", uid, m.ID, err)
		}
	}
}

func (h *Handoff) enqueueOne(ctx context.Context, m *store.Message, userID string) error {
	pushToken := ""
	u, err := h.store.UserByID(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNoRows) {
		// the job is still useful without a token; the consumer can look it up
		logger.Warnf("[handoff] push token lookup user=%s: %v", userID, err)
	}
	if u != nil {
		pushToken = u.PushToken
	}

	job := NotificationJob{
		Type:           "new_message",
		UserID:         userID,
		PushToken:      pushToken,
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Preview:        Preview(m.Body),
	}
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	// msg-id dedupes producer retries for the same (message, recipient)
	return h.queue.Enqueue(ctx, b, m.ID+":"+userID)
}

// Preview bounds the notification body snippet.
func Preview(body string) string {
	r := []rune(body)
	if len(r) <= previewMaxRunes {
		return body
	}
	return string(r[:previewMaxRunes])
}
