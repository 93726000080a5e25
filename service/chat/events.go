package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"RelayCore/data/store"
	"RelayCore/tools/errs"
)

// Wire envelope, both directions: {"event": "...", "data": {...}}.
type Envelope struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// Inbound event names.
const (
	EvJoinRoom    = "join-room"
	EvLeaveRoom   = "leave-room"
	EvSendMessage = "send-message"
	EvTypingStart = "typing-start"
	EvTypingStop  = "typing-stop"
	EvMarkRead    = "mark-read"
)

// Outbound event names.
const (
	EvNewMessage     = "new-message"
	EvUserJoined     = "user-joined"
	EvUserLeft       = "user-left"
	EvTypingUpdate   = "typing-update"
	EvReadReceiptAck = "read-receipt-ack"
	EvUserStatus     = "user-status"
	EvError          = "error"
)

// ===== inbound payloads =====

type JoinRoomPayload struct {
	ConversationID string `json:"conversationId"`
}

type LeaveRoomPayload struct {
	ConversationID string `json:"conversationId"`
}

type SendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	Body           string `json:"body"`
	ClientMsgID    string `json:"clientMsgId"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
}

type MarkReadPayload struct {
	MessageID string `json:"messageId"`
}

// ParseEnvelope decodes one inbound frame.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("envelope missing event")
	}
	return &env, nil
}

// ===== outbound builders =====

func marshalEvent(event string, data map[string]any) []byte {
	b, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		// data maps only hold JSON-safe values; treat failure as a bug
		panic(fmt.Sprintf("marshal %s event: %v", event, err))
	}
	return b
}

func BuildNewMessage(m *store.Message, senderName, senderAvatar, clientMsgID string) []byte {
	return marshalEvent(EvNewMessage, map[string]any{
		"messageId":      m.ID,
		"conversationId": m.ConversationID,
		"senderId":       m.SenderID,
		"senderName":     senderName,
		"senderAvatar":   senderAvatar,
		"body":           m.Body,
		"clientMsgId":    clientMsgID,
		"createdAt":      m.CreatedAt.UnixMilli(),
	})
}

func BuildUserJoined(conversationID, userID, name, avatar string) []byte {
	return marshalEvent(EvUserJoined, map[string]any{
		"conversationId": conversationID,
		"userId":         userID,
		"name":           name,
		"avatar":         avatar,
	})
}

func BuildUserLeft(conversationID, userID string) []byte {
	return marshalEvent(EvUserLeft, map[string]any{
		"conversationId": conversationID,
		"userId":         userID,
	})
}

func BuildTypingUpdate(conversationID, userID, name string, typing bool) []byte {
	return marshalEvent(EvTypingUpdate, map[string]any{
		"conversationId": conversationID,
		"userId":         userID,
		"name":           name,
		"typing":         typing,
	})
}

func BuildReadReceiptAck(conversationID, messageID, userID string, readAt time.Time) []byte {
	return marshalEvent(EvReadReceiptAck, map[string]any{
		"conversationId": conversationID,
		"messageId":      messageID,
		"userId":         userID,
		"readAt":         readAt.UnixMilli(),
	})
}

func BuildUserStatus(userID, status string, lastSeen time.Time) []byte {
	data := map[string]any{
		"userId": userID,
		"status": status,
	}
	if !lastSeen.IsZero() {
		data["lastSeen"] = lastSeen.UnixMilli()
	}
	return marshalEvent(EvUserStatus, data)
}

// BuildError converts any error into the client-visible error event. Raw
// internals never leak: anything without a CodeError becomes internal_error.
func BuildError(err error) []byte {
	ce := errs.AsCodeError(err)
	if ce == nil {
		ce = errs.ErrInternal
	}
	return marshalEvent(EvError, map[string]any{
		"code":    ce.Code,
		"reason":  ce.Reason,
		"message": ce.Msg,
	})
}
