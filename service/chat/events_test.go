package chat

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"RelayCore/data/store"
	"RelayCore/tools/errs"

	pkgerrors "github.com/pkg/errors"
)

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"event":"join-room","data":{"conversationId":"c1"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.Event != EvJoinRoom || env.Data["conversationId"] != "c1" {
		t.Fatalf("envelope = %+v", env)
	}

	for _, raw := range []string{`not json`, `{"data":{}}`, `{}`} {
		if _, err := ParseEnvelope([]byte(raw)); err == nil {
			t.Fatalf("ParseEnvelope(%q) accepted", raw)
		}
	}
}

func TestBuildNewMessageShape(t *testing.T) {
	m := &store.Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "alice",
		Body:           "hi",
		CreatedAt:      time.UnixMilli(1700000000000),
	}
	raw := BuildNewMessage(m, "Alice", "http://a/x.png", "tmp-9")

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Event != EvNewMessage {
		t.Fatalf("event = %q", env.Event)
	}
	d := env.Data
	if d["messageId"] != "m1" || d["senderName"] != "Alice" || d["clientMsgId"] != "tmp-9" {
		t.Fatalf("data = %v", d)
	}
	if d["createdAt"].(float64) != 1700000000000 {
		t.Fatalf("createdAt = %v", d["createdAt"])
	}
}

func TestBuildUserStatusOmitsZeroLastSeen(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal(BuildUserStatus("u1", "online", time.Time{}), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := env.Data["lastSeen"]; ok {
		t.Fatal("online status must not carry lastSeen")
	}

	if err := json.Unmarshal(BuildUserStatus("u1", "offline", time.UnixMilli(42)), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Data["lastSeen"].(float64) != 42 {
		t.Fatalf("lastSeen = %v", env.Data["lastSeen"])
	}
}

func TestBuildErrorNeverLeaksInternals(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		reason string
	}{
		{"code error", errs.ErrNotAParticipant, "not_a_participant"},
		{"wrapped code error", errs.ErrDependencyUnavailable.WrapMsg("pg: connection refused at 10.0.0.5"), "dependency_unavailable"},
		{"raw error", pkgerrors.New("panic: secret dsn"), "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var env Envelope
			if err := json.Unmarshal(BuildError(tc.err), &env); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if env.Event != EvError {
				t.Fatalf("event = %q", env.Event)
			}
			if env.Data["reason"] != tc.reason {
				t.Fatalf("reason = %v, want %s", env.Data["reason"], tc.reason)
			}
			if _, ok := env.Data["detail"]; ok {
				t.Fatal("detail leaked to the client")
			}
			raw, _ := json.Marshal(env.Data)
			if strings.Contains(string(raw), "10.0.0.5") || strings.Contains(string(raw), "secret dsn") {
				t.Fatalf("internals leaked: %s", raw)
			}
		})
	}
}
