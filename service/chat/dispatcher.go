package chat

import (
	"context"
	"errors"
	"time"

	"RelayCore/data/store"
	"RelayCore/logger"
	"RelayCore/tools/decode"
	"RelayCore/tools/errs"
	"RelayCore/tools/ids"
	"RelayCore/tools/safe"
)

// Handlers for the inbound event kinds. Each one validates, authorizes,
// persists, then fans out; failures surface only to the caller.

func (s *Server) handleJoin(ctx context.Context, c *Client, data map[string]any) error {
	p, err := decode.Map[JoinRoomPayload](data)
	if err != nil || p.ConversationID == "" {
		return errs.ErrBadPayload
	}
	if _, err := s.authorizer.AuthorizeJoin(ctx, c.UserID, p.ConversationID); err != nil {
		return err
	}

	s.hub.Join(p.ConversationID, c)

	event := BuildUserJoined(p.ConversationID, c.UserID, c.Name, c.Avatar)
	c.Enqueue(event) // join acknowledgment to the caller
	s.relay.Broadcast(ctx, p.ConversationID, event, c.ConnID)
	return nil
}

func (s *Server) handleLeave(ctx context.Context, c *Client, data map[string]any) error {
	p, err := decode.Map[LeaveRoomPayload](data)
	if err != nil || p.ConversationID == "" {
		return errs.ErrBadPayload
	}
	if !s.hub.InRoom(c.ConnID, p.ConversationID) {
		return nil // idempotent
	}
	s.hub.Leave(p.ConversationID, c)
	s.relay.Broadcast(ctx, p.ConversationID, BuildUserLeft(p.ConversationID, c.UserID), c.ConnID)
	return nil
}

func (s *Server) handleSend(ctx context.Context, c *Client, data map[string]any) error {
	p, err := decode.Map[SendMessagePayload](data)
	if err != nil || p.ConversationID == "" || p.Body == "" {
		return errs.ErrBadPayload
	}
	if _, err := s.authorizer.AuthorizeJoin(ctx, c.UserID, p.ConversationID); err != nil {
		return err
	}

	msg := &store.Message{
		ID:             ids.GenerateString(),
		ConversationID: p.ConversationID,
		SenderID:       c.UserID,
		Body:           p.Body,
		CreatedAt:      time.Now(),
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return errs.ErrDependencyUnavailable.WrapMsg("message insert: " + err.Error())
	}

	// everyone in the room gets the echo, sender included: the canonical
	// message id comes back on the same event
	s.relay.Broadcast(ctx, p.ConversationID, BuildNewMessage(msg, c.Name, c.Avatar, p.ClientMsgID), "")

	participants, err := s.store.ParticipantIDs(ctx, p.ConversationID)
	if err != nil {
		// the send already succeeded; the handoff is a best-effort side channel
		logger.Errorf("[chat] participant list conv=%s msg=%s: %v", p.ConversationID, msg.ID, err)
		return nil
	}
	safe.Go(func() {
		hctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.handoff.EnqueueIfOffline(hctx, msg, participants)
	})
	return nil
}

func (s *Server) handleTyping(ctx context.Context, c *Client, data map[string]any, typing bool) error {
	p, err := decode.Map[TypingPayload](data)
	if err != nil || p.ConversationID == "" {
		return errs.ErrBadPayload
	}
	if !s.hub.InRoom(c.ConnID, p.ConversationID) {
		return errs.ErrNotAParticipant
	}
	// never echoed to the typist
	s.relay.Broadcast(ctx, p.ConversationID, BuildTypingUpdate(p.ConversationID, c.UserID, c.Name, typing), c.ConnID)
	return nil
}

func (s *Server) handleMarkRead(ctx context.Context, c *Client, data map[string]any) error {
	p, err := decode.Map[MarkReadPayload](data)
	if err != nil || p.MessageID == "" {
		return errs.ErrBadPayload
	}

	meta, err := s.store.MessageMeta(ctx, p.MessageID)
	if errors.Is(err, store.ErrNoRows) {
		return errs.ErrNotFound.WithDetail("message " + p.MessageID)
	}
	if err != nil {
		return errs.ErrDependencyUnavailable.WrapMsg("message lookup: " + err.Error())
	}
	if _, err := s.authorizer.AuthorizeJoin(ctx, c.UserID, meta.ConversationID); err != nil {
		return err
	}

	readAt, changed, err := s.store.MarkRead(ctx, p.MessageID, c.UserID, time.Now())
	if err != nil {
		return errs.ErrDependencyUnavailable.WrapMsg("receipt upsert: " + err.Error())
	}

	ack := BuildReadReceiptAck(meta.ConversationID, p.MessageID, c.UserID, readAt)
	c.Enqueue(ack) // the caller is always acknowledged
	if changed {
		// re-reads keep the original timestamp and stay silent: no fanout storm
		s.relay.Broadcast(ctx, meta.ConversationID, ack, c.ConnID)
	}
	return nil
}
