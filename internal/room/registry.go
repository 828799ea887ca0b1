// Package room maps live sessions to their connected participants and fans
// server events out to them. Membership is tracked per instance; broadcasts
// travel over the messaging bus so rooms span every wsserver instance, and
// cluster-wide presence counts come from the presence store. The registry is
// an explicit, injected dependency — there is no process-global socket pool.
package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/classcast/live-app/internal/metrics"
	"github.com/classcast/live-app/internal/protocol"
)

// Event is the payload carried on room subjects: the encoded server message
// plus an optional user to skip at delivery time (peer notifications exclude
// their subject).
type Event struct {
	Payload       json.RawMessage `json:"payload"`
	ExcludeUserID string          `json:"exclude_user_id,omitempty"`
}

// Bus is the cross-instance fan-out transport.
type Bus interface {
	PublishRoom(liveID string, data []byte) error
	SubscribeRoom(liveID string, handler func(data []byte)) error
	UnsubscribeRoom(liveID string) error
}

// Participants persists session membership. Appends are idempotent.
type Participants interface {
	AppendParticipant(ctx context.Context, liveID, userID string) error
}

// Presence tracks which users are connected to a session cluster-wide,
// refcounting connections per user. Remove reports whether the user's last
// connection anywhere is gone; Clear drops the user outright.
type Presence interface {
	Add(ctx context.Context, liveID, userID string) (int, error)
	Remove(ctx context.Context, liveID, userID string) (int, bool, error)
	Clear(ctx context.Context, liveID, userID string) error
}

// Conn is one client connection registered for fan-out.
type Conn interface {
	WriteMessage(data []byte) error
}

// member is one user's local footprint in a room. A user joining twice from
// two tabs holds one member with two connections.
type member struct {
	name  string
	conns []Conn
}

// Registry is the room manager. Membership mutation for a given session is
// serialized under the room's lock so the participant count stays consistent
// with actual fan-out recipients; delivery happens outside the lock over a
// snapshot.
type Registry struct {
	mu           sync.Mutex
	rooms        map[string]*roomState
	bus          Bus
	participants Participants
	presence     Presence
}

type roomState struct {
	mu      sync.Mutex
	members map[string]*member // userID -> member
}

// NewRegistry creates a registry over the given bus, participant store, and
// presence store.
func NewRegistry(bus Bus, participants Participants, presence Presence) *Registry {
	return &Registry{
		rooms:        make(map[string]*roomState),
		bus:          bus,
		participants: participants,
		presence:     presence,
	}
}

// Join admits a connection into a session's room. The persisted participant
// entry is idempotent, so a user joining twice is recorded once, but every
// connection is registered for fan-out. Emits user-joined to the rest of the
// room and participants-update (distinct connected users, cluster-wide) to
// everyone including the joiner.
func (r *Registry) Join(ctx context.Context, liveID, userID, name string, conn Conn) error {
	if err := r.participants.AppendParticipant(ctx, liveID, userID); err != nil {
		return fmt.Errorf("room: join %s: %w", liveID, err)
	}

	rs, created := r.room(liveID)
	if created {
		if err := r.bus.SubscribeRoom(liveID, func(data []byte) {
			r.deliverLocal(liveID, data)
		}); err != nil {
			r.mu.Lock()
			delete(r.rooms, liveID)
			r.mu.Unlock()
			return fmt.Errorf("room: subscribe %s: %w", liveID, err)
		}
		metrics.ActiveRooms.Inc()
	}

	rs.mu.Lock()
	m, ok := rs.members[userID]
	if !ok {
		m = &member{name: name}
		rs.members[userID] = m
	}
	m.conns = append(m.conns, conn)
	rs.mu.Unlock()

	count, err := r.presence.Add(ctx, liveID, userID)
	if err != nil {
		// Unwind the local registration so a failed join does not leave
		// the connection receiving fan-out.
		rs.mu.Lock()
		removeConn(rs, userID, conn)
		empty := len(rs.members) == 0
		rs.mu.Unlock()
		if empty {
			r.dropRoomIfEmpty(liveID)
		}
		return fmt.Errorf("room: presence add: %w", err)
	}

	joined, err := protocol.NewServerMessage(protocol.TypeUserJoined, protocol.UserJoinedMsg{
		UserID: userID,
		Name:   name,
	})
	if err != nil {
		return err
	}
	if err := r.BroadcastExcept(ctx, liveID, joined, userID); err != nil {
		return err
	}

	update, err := protocol.NewServerMessage(protocol.TypeParticipantsUpdate, protocol.ParticipantsUpdateMsg{
		Count: count,
	})
	if err != nil {
		return err
	}
	return r.Broadcast(ctx, liveID, update)
}

// Leave removes one of the user's connections from the room and releases its
// presence refcount. user-left is emitted only once the user's last
// connection on any instance is gone, so a user open on two servers stays
// present until both release them. Historical participant rows are never
// removed.
func (r *Registry) Leave(ctx context.Context, liveID, userID string, conn Conn) error {
	rs := r.lookup(liveID)
	if rs == nil {
		return nil
	}

	rs.mu.Lock()
	removed, localGone, name := removeConn(rs, userID, conn)
	empty := len(rs.members) == 0
	rs.mu.Unlock()

	if empty {
		r.dropRoomIfEmpty(liveID)
	}
	if !removed {
		return nil
	}

	_, gone, err := r.presence.Remove(ctx, liveID, userID)
	if err != nil {
		log.Printf("room: presence remove user=%s live=%s: %v", userID, liveID, err)
		// Presence store unreachable: fall back to what this instance knows.
		gone = localGone
	}
	if !gone {
		return nil
	}

	left, err := protocol.NewServerMessage(protocol.TypeUserLeft, protocol.UserLeftMsg{
		UserID: userID,
		Name:   name,
	})
	if err != nil {
		return err
	}
	return r.BroadcastExcept(ctx, liveID, left, userID)
}

// RemoveAndNotify forcibly drops every connection the user holds in the room
// and informs the remaining members with the given reason. Used when a ban
// is applied mid-session.
func (r *Registry) RemoveAndNotify(ctx context.Context, liveID, userID, name, reason string) error {
	rs := r.lookup(liveID)
	if rs != nil {
		rs.mu.Lock()
		delete(rs.members, userID)
		empty := len(rs.members) == 0
		rs.mu.Unlock()

		if empty {
			r.dropRoomIfEmpty(liveID)
		}
	}

	if err := r.presence.Clear(ctx, liveID, userID); err != nil {
		log.Printf("room: presence clear user=%s live=%s: %v", userID, liveID, err)
	}

	removed, err := protocol.NewServerMessage(protocol.TypeUserRemoved, protocol.UserRemovedMsg{
		UserID: userID,
		Name:   name,
		Reason: reason,
	})
	if err != nil {
		return err
	}
	return r.BroadcastExcept(ctx, liveID, removed, userID)
}

// Broadcast delivers payload to every currently registered connection in the
// room, on every instance, excluding none.
func (r *Registry) Broadcast(_ context.Context, liveID string, payload []byte) error {
	return r.publish(liveID, Event{Payload: payload})
}

// BroadcastExcept delivers payload to every room member except the excluded
// user's connections.
func (r *Registry) BroadcastExcept(_ context.Context, liveID string, payload []byte, excludedUserID string) error {
	return r.publish(liveID, Event{Payload: payload, ExcludeUserID: excludedUserID})
}

// DropConnection removes a disconnected client from every room it joined and
// emits user-left where the user is fully gone. Called from the gateway's
// disconnect hook.
func (r *Registry) DropConnection(ctx context.Context, userID string, conn Conn) {
	for _, liveID := range r.roomIDs() {
		if err := r.Leave(ctx, liveID, userID, conn); err != nil {
			log.Printf("room: disconnect cleanup user=%s live=%s: %v", userID, liveID, err)
		}
	}
}

// LocalMembers returns the number of users with at least one connection in
// the room on this instance.
func (r *Registry) LocalMembers(liveID string) int {
	rs := r.lookup(liveID)
	if rs == nil {
		return 0
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.members)
}

func (r *Registry) publish(liveID string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("room: marshal event: %w", err)
	}
	if err := r.bus.PublishRoom(liveID, data); err != nil {
		return fmt.Errorf("room: publish %s: %w", liveID, err)
	}
	return nil
}

// deliverLocal is the bus subscription handler: it decodes the event and
// writes the payload to every locally registered connection, honoring the
// exclusion. Write errors are ignored; dead connections are reaped by the
// server's read path and heartbeat.
func (r *Registry) deliverLocal(liveID string, data []byte) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Printf("room: bad event on %s: %v", liveID, err)
		return
	}

	rs := r.lookup(liveID)
	if rs == nil {
		return
	}

	rs.mu.Lock()
	conns := make([]Conn, 0, len(rs.members))
	for userID, m := range rs.members {
		if userID == ev.ExcludeUserID {
			continue
		}
		conns = append(conns, m.conns...)
	}
	rs.mu.Unlock()

	for _, c := range conns {
		_ = c.WriteMessage(ev.Payload)
	}
}

// room returns the state for liveID, creating it if needed. The second
// return value reports whether this call created the room.
func (r *Registry) room(liveID string) (*roomState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, ok := r.rooms[liveID]
	if ok {
		return rs, false
	}
	rs = &roomState{members: make(map[string]*member)}
	r.rooms[liveID] = rs
	return rs, true
}

func (r *Registry) lookup(liveID string) *roomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[liveID]
}

func (r *Registry) roomIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	return ids
}

// dropRoomIfEmpty tears down the room's bus subscription once no local
// members remain.
func (r *Registry) dropRoomIfEmpty(liveID string) {
	r.mu.Lock()
	rs, ok := r.rooms[liveID]
	if !ok {
		r.mu.Unlock()
		return
	}
	rs.mu.Lock()
	empty := len(rs.members) == 0
	rs.mu.Unlock()
	if !empty {
		r.mu.Unlock()
		return
	}
	delete(r.rooms, liveID)
	r.mu.Unlock()

	if err := r.bus.UnsubscribeRoom(liveID); err != nil {
		log.Printf("room: unsubscribe %s: %v", liveID, err)
	}
	metrics.ActiveRooms.Dec()
}

// removeConn drops one connection from the user's member entry. Returns
// whether the connection was actually registered, whether the user is now
// fully gone from the room locally, and their name for the user-left
// notification.
func removeConn(rs *roomState, userID string, conn Conn) (removed, gone bool, name string) {
	m, ok := rs.members[userID]
	if !ok {
		return false, false, ""
	}

	for i, c := range m.conns {
		if c == conn {
			m.conns = append(m.conns[:i], m.conns[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		return false, false, m.name
	}

	if len(m.conns) > 0 {
		return true, false, m.name
	}
	delete(rs.members, userID)
	return true, true, m.name
}
