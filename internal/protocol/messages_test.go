package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseClientMessage_JoinLive(t *testing.T) {
	raw := []byte(`{"type":"join-live","liveId":"live-42"}`)

	msgType, msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error: %v", err)
	}
	if msgType != TypeJoinLive {
		t.Errorf("type = %q, want %q", msgType, TypeJoinLive)
	}
	join, ok := msg.(JoinLiveMsg)
	if !ok {
		t.Fatalf("msg is %T, want JoinLiveMsg", msg)
	}
	if join.LiveID != "live-42" {
		t.Errorf("liveId = %q, want live-42", join.LiveID)
	}
}

func TestParseClientMessage_SendMessage(t *testing.T) {
	raw := []byte(`{"type":"send-message","liveId":"live-42","message":"hello"}`)

	msgType, msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Errorf("type = %q, want %q", msgType, TypeSendMessage)
	}
	send, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("msg is %T, want SendMessageMsg", msg)
	}
	if send.LiveID != "live-42" || send.Message != "hello" {
		t.Errorf("payload = %+v", send)
	}
}

func TestParseClientMessage_LeaveAndPing(t *testing.T) {
	if _, msg, err := ParseClientMessage([]byte(`{"type":"leave-live","liveId":"live-1"}`)); err != nil {
		t.Fatalf("leave-live error: %v", err)
	} else if _, ok := msg.(LeaveLiveMsg); !ok {
		t.Errorf("leave-live msg is %T", msg)
	}

	if _, msg, err := ParseClientMessage([]byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("ping error: %v", err)
	} else if _, ok := msg.(PingMsg); !ok {
		t.Errorf("ping msg is %T", msg)
	}
}

func TestParseClientMessage_Errors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{not json`},
		{"missing type", `{"liveId":"live-1"}`},
		{"empty type", `{"type":""}`},
		{"unknown type", `{"type":"bogus"}`},
		{"server-only type", `{"type":"new-message"}`},
	}
	for _, tc := range cases {
		if _, _, err := ParseClientMessage([]byte(tc.raw)); err == nil {
			t.Errorf("%s: expected error for %s", tc.name, tc.raw)
		}
	}
}

func TestNewServerMessage_InjectsType(t *testing.T) {
	until := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	data, err := NewServerMessage(TypeUserBanned, UserBannedMsg{
		Message:     "You have been banned for 1 hour due to 3 violations",
		BannedUntil: until,
		Violations:  3,
	})
	if err != nil {
		t.Fatalf("NewServerMessage() error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m["type"] != TypeUserBanned {
		t.Errorf("type = %v, want %q", m["type"], TypeUserBanned)
	}
	if m["violations"] != float64(3) {
		t.Errorf("violations = %v, want 3", m["violations"])
	}
}

func TestNewServerMessage_OverridesStructType(t *testing.T) {
	// The type argument wins even when the payload struct carries a stale one.
	data, err := NewServerMessage(TypePong, PongMsg{Type: "wrong"})
	if err != nil {
		t.Fatalf("NewServerMessage() error: %v", err)
	}
	var m map[string]interface{}
	json.Unmarshal(data, &m)
	if m["type"] != TypePong {
		t.Errorf("type = %v, want %q", m["type"], TypePong)
	}
}

func TestNewServerMessage_NilBannedUntil(t *testing.T) {
	data, err := NewServerMessage(TypeBanned, BannedMsg{
		Message:     "You are banned from this live session",
		BannedUntil: nil,
	})
	if err != nil {
		t.Fatalf("NewServerMessage() error: %v", err)
	}
	var m map[string]interface{}
	json.Unmarshal(data, &m)
	if v, ok := m["bannedUntil"]; !ok || v != nil {
		t.Errorf("bannedUntil = %v (present=%v), want explicit null", v, ok)
	}
}

func TestValidateMessageText(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"ok", "hello", false},
		{"ok unicode", "xin chào cả lớp", false},
		{"empty", "", true},
		{"max chars", strings.Repeat("a", MaxTextChars), false},
		{"too many chars", strings.Repeat("a", MaxTextChars+1), true},
		{"too many bytes", strings.Repeat("é", MaxMessageBytes/2+1), true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
	}
	for _, tc := range cases {
		err := ValidateMessageText(tc.text)
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: ValidateMessageText() err=%v, wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}
