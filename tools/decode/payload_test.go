package decode

import (
	"testing"
)

type samplePayload struct {
	ConversationID string `json:"conversationId"`
	Limit          int64  `json:"limit"`
	Pinned         bool   `json:"pinned"`
}

func TestMapDecodesByJSONTag(t *testing.T) {
	p, err := Map[samplePayload](map[string]any{
		"conversationId": "c1",
		"limit":          float64(50), // JSON numbers arrive as float64
		"pinned":         true,
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.ConversationID != "c1" || p.Limit != 50 || !p.Pinned {
		t.Fatalf("payload = %+v", p)
	}
}

func TestMapIgnoresUnknownFields(t *testing.T) {
	p, err := Map[samplePayload](map[string]any{
		"conversationId": "c1",
		"futureField":    "whatever",
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.ConversationID != "c1" {
		t.Fatalf("payload = %+v", p)
	}
}

func TestMapNilPayload(t *testing.T) {
	if _, err := Map[samplePayload](nil); err == nil {
		t.Fatal("nil payload accepted")
	}
}

func TestMapRejectsWrongType(t *testing.T) {
	if _, err := Map[samplePayload](map[string]any{"pinned": "definitely"}, Options{}); err == nil {
		t.Fatal("strict decode accepted string for bool")
	}
}

func TestReadHelpers(t *testing.T) {
	m := map[string]any{"s": "hi", "n": float64(7)}

	if got, err := ReadString(m, "s"); err != nil || got != "hi" {
		t.Fatalf("ReadString = %q, %v", got, err)
	}
	if _, err := ReadString(m, "missing"); err == nil {
		t.Fatal("missing key accepted")
	}
	if _, err := ReadString(m, "n"); err == nil {
		t.Fatal("number accepted as string")
	}

	if got, err := ReadInt64(m, "n"); err != nil || got != 7 {
		t.Fatalf("ReadInt64 = %d, %v", got, err)
	}
	if _, err := ReadInt64(m, "s"); err == nil {
		t.Fatal("string accepted as number")
	}
}
