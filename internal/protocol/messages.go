// Package protocol defines the WebSocket message types and structures used
// for communication between clients and the live-session server. All
// messages are serialized as JSON and follow a consistent envelope format
// with a type discriminator. Event names match the original client contract
// (dashed, e.g. "join-live").
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinLive    = "join-live"
	TypeSendMessage = "send-message"
	TypeLeaveLive   = "leave-live"
	TypePing        = "ping"
)

// Server -> Client message types (single recipient).
const (
	TypeBanned           = "banned"
	TypeMessageBlocked   = "message-blocked"
	TypeMessageModerated = "message-moderated"
	TypeUserBanned       = "user-banned"
	TypeError            = "error"
	TypePong             = "pong"
)

// Server -> Room message types (broadcast, possibly excluding the sender).
const (
	TypeUserJoined         = "user-joined"
	TypeUserLeft           = "user-left"
	TypeUserRemoved        = "user-removed"
	TypeParticipantsUpdate = "participants-update"
	TypeNewMessage         = "new-message"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinLiveMsg is sent by the client to enter a live session's chat room.
type JoinLiveMsg struct {
	Type   string `json:"type"`
	LiveID string `json:"liveId"`
}

// SendMessageMsg is a chat message sent by the client into a session.
type SendMessageMsg struct {
	Type    string `json:"type"`
	LiveID  string `json:"liveId"`
	Message string `json:"message"`
}

// LeaveLiveMsg is sent by the client to leave a session's chat room.
type LeaveLiveMsg struct {
	Type   string `json:"type"`
	LiveID string `json:"liveId"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs (single recipient)
// ---------------------------------------------------------------------------

// BannedMsg tells a banned user they may not join a session.
type BannedMsg struct {
	Type        string     `json:"type"`
	Message     string     `json:"message"`
	BannedUntil *time.Time `json:"bannedUntil"` // nil for indefinite bans
}

// MessageBlockedMsg tells a banned user their chat message was not delivered.
type MessageBlockedMsg struct {
	Type        string     `json:"type"`
	Message     string     `json:"message"`
	BannedUntil *time.Time `json:"bannedUntil"`
}

// MessageModeratedMsg warns a user that their message failed moderation.
type MessageModeratedMsg struct {
	Type           string   `json:"type"`
	Message        string   `json:"message"`
	DetectedWords  []string `json:"detectedWords"`
	ViolationCount int      `json:"violationCount"`
	Warning        string   `json:"warning"` // e.g. "Warning 1/2"
}

// UserBannedMsg tells a user they have just been banned for repeat violations.
type UserBannedMsg struct {
	Type        string    `json:"type"`
	Message     string    `json:"message"`
	BannedUntil time.Time `json:"bannedUntil"`
	Violations  int       `json:"violations"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Room message structs
// ---------------------------------------------------------------------------

// UserJoinedMsg notifies room members that a user joined the session.
type UserJoinedMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// UserLeftMsg notifies room members that a user left the session.
type UserLeftMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// UserRemovedMsg notifies room members that a user was forcibly removed.
type UserRemovedMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// ParticipantsUpdateMsg carries the current present-participant count.
type ParticipantsUpdateMsg struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// NewMessageMsg is a chat message delivered to the whole room.
type NewMessageMsg struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	UserRole  string    `json:"userRole"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinLive:
		var m JoinLiveMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveLive:
		var m LeaveLiveMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
