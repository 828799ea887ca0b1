// Package client provides a reusable WebSocket load test client for the
// live-app chat server. It connects using gobwas/ws (the same library the
// server uses), authenticates with a JWT in the handshake query string, and
// tracks per-connection performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/golang-jwt/jwt/v5"
)

// ---------------------------------------------------------------------------
// Protocol message types (local equivalents of internal/protocol constants)
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinLive    = "join-live"
	TypeSendMessage = "send-message"
	TypeLeaveLive   = "leave-live"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeBanned             = "banned"
	TypeMessageBlocked     = "message-blocked"
	TypeMessageModerated   = "message-moderated"
	TypeUserBanned         = "user-banned"
	TypeError              = "error"
	TypePong               = "pong"
	TypeUserJoined         = "user-joined"
	TypeUserLeft           = "user-left"
	TypeUserRemoved        = "user-removed"
	TypeParticipantsUpdate = "participants-update"
	TypeNewMessage         = "new-message"
)

// SignToken creates an HS256 token for the given user ID, matching what the
// credential service issues in production. Load test users must already exist
// in the users table; the server resolves the ID during the handshake.
func SignToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"userId": userID,
		"exp":    time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client represents a single simulated user connection to the live-app
// server. It manages the WebSocket lifecycle and dispatches incoming messages
// to registered handlers.
type Client struct {
	conn      net.Conn
	userID    string
	mu        sync.Mutex
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a load test client connected to the given WebSocket URL,
// authenticating as userID with the provided token. The connection is
// established immediately; a rejected token surfaces as a dial error because
// the server refuses the upgrade. A background goroutine begins reading
// messages once the dial succeeds.
func New(ctx context.Context, wsURL, userID, token string) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		userID:   userID,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	return c, nil
}

// UserID returns the user this client authenticated as.
func (c *Client) UserID() string {
	return c.userID
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.MessagesSent++
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// JoinLive enters a live session's chat room.
func (c *Client) JoinLive(liveID string) error {
	return c.Send(map[string]string{"type": TypeJoinLive, "liveId": liveID})
}

// SendMessage sends a chat message into a session.
func (c *Client) SendMessage(liveID, text string) error {
	return c.Send(map[string]string{
		"type":    TypeSendMessage,
		"liveId":  liveID,
		"message": text,
	})
}

// LeaveLive leaves a session's chat room.
func (c *Client) LeaveLive(liveID string) error {
	return c.Send(map[string]string{"type": TypeLeaveLive, "liveId": liveID})
}

// On registers a handler for a specific server message type. The handler
// receives the full raw JSON of the message for flexible decoding. Handlers
// are invoked from the read loop goroutine so they should not block for
// extended periods. Only one handler per message type is supported;
// registering a second handler for the same type replaces the first.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.handlers[msgType] = handler
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	return c.metrics
}

// readLoop continuously reads WebSocket frames from the server and dispatches
// them to registered handlers. It runs until the connection is closed or an
// unrecoverable error occurs.
func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Connection was intentionally closed; do not count as error.
				return
			default:
			}
			c.metrics.Errors++
			return
		}

		c.metrics.MessagesReceived++

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		if handler, ok := c.handlers[envelope.Type]; ok {
			handler(json.RawMessage(data))
		}
	}
}
