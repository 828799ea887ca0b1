package moderation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/classcast/live-app/internal/ban"
	"github.com/classcast/live-app/internal/live"
	"github.com/classcast/live-app/internal/metrics"
	"github.com/classcast/live-app/internal/protocol"
	"github.com/classcast/live-app/internal/violation"
)

// Outcome is the terminal state reached by the pipeline for one message.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered" // clean message broadcast to the room
	OutcomeBlocked   Outcome = "blocked"   // sender already banned, nothing recorded
	OutcomeWarned    Outcome = "warned"    // violation recorded, sender warned
	OutcomeBanned    Outcome = "banned"    // violation crossed the threshold
)

// Sender is one client connection the pipeline can notify directly.
type Sender interface {
	WriteMessage(data []byte) error
}

// Bans is the ban-state surface consumed by the pipeline.
type Bans interface {
	IsCurrentlyBanned(ctx context.Context, userID string) (bool, *time.Time, error)
	Ban(ctx context.Context, userID string, d time.Duration) (time.Time, error)
}

// Ledger is the violation-ledger surface consumed by the pipeline.
type Ledger interface {
	Record(ctx context.Context, userID, liveID, message string, detectedWords []string) (*violation.Violation, error)
	CountFor(ctx context.Context, userID, liveID string) (int, error)
	PromoteToBanned(ctx context.Context, violationID string) error
}

// Counters increments the sender's lifetime violation counter.
type Counters interface {
	IncrementViolationCount(ctx context.Context, userID string) error
}

// Rooms is the fan-out surface consumed by the pipeline.
type Rooms interface {
	Broadcast(ctx context.Context, liveID string, data []byte) error
	RemoveAndNotify(ctx context.Context, liveID, userID, userName, reason string) error
}

// Identity is the sender's verified identity, bound at the gateway.
type Identity struct {
	UserID string
	Name   string
	Role   string
}

// Pipeline runs every inbound chat message through the moderation state
// machine: BannedCheck -> SessionGate -> Classify -> Violate/Warn/Ban or
// Deliver. Each message reaches exactly one terminal outcome; there are no
// retries. Persistence failures abort the decision and the message is not
// delivered (fail-closed, so no disallowed message slips through without an
// audit record).
type Pipeline struct {
	filter   *Filter
	bans     Bans
	ledger   Ledger
	counters Counters
	rooms    Rooms
	now      func() time.Time
}

// NewPipeline wires the moderation pipeline from its collaborators.
func NewPipeline(filter *Filter, bans Bans, ledger Ledger, counters Counters, rooms Rooms) *Pipeline {
	return &Pipeline{
		filter:   filter,
		bans:     bans,
		ledger:   ledger,
		counters: counters,
		rooms:    rooms,
		now:      time.Now,
	}
}

// Process runs one inbound message to a terminal outcome. The sender
// receives moderation notifications directly on conn; clean messages are
// broadcast to the whole room including the sender.
func (p *Pipeline) Process(ctx context.Context, sess *live.LiveStream, from Identity, conn Sender, text string) (Outcome, error) {
	start := p.now()

	outcome, err := p.process(ctx, sess, from, conn, text)
	if err != nil {
		return outcome, err
	}

	metrics.MessagesTotal.WithLabelValues(string(outcome)).Inc()
	metrics.ModerationLatency.Observe(time.Since(start).Seconds())
	return outcome, nil
}

func (p *Pipeline) process(ctx context.Context, sess *live.LiveStream, from Identity, conn Sender, text string) (Outcome, error) {
	// State 1: BannedCheck. Banned senders are short-circuited with no
	// ledger write and no room delivery.
	banned, until, err := p.bans.IsCurrentlyBanned(ctx, from.UserID)
	if err != nil {
		return "", fmt.Errorf("moderation: ban check: %w", err)
	}
	if banned {
		p.notify(conn, protocol.TypeMessageBlocked, protocol.MessageBlockedMsg{
			Message:     "You are banned from chatting",
			BannedUntil: until,
		})
		return OutcomeBlocked, nil
	}

	// State 2: SessionGate. Moderation off means straight to delivery.
	if sess.Settings.ModerationEnabled {
		// State 3: Classify.
		result := p.filter.Classify(text)
		if result.Flagged {
			return p.violate(ctx, sess, from, conn, text, result)
		}
	}

	// State 5: Deliver.
	return p.deliver(ctx, sess, from, text)
}

// violate is state 4: record the violation and either warn or escalate to
// a ban depending on the per-session violation count.
func (p *Pipeline) violate(ctx context.Context, sess *live.LiveStream, from Identity, conn Sender, text string, result Result) (Outcome, error) {
	v, err := p.ledger.Record(ctx, from.UserID, sess.ID, text, result.Matches)
	if err != nil {
		return "", fmt.Errorf("moderation: record violation: %w", err)
	}
	metrics.ViolationsTotal.Inc()

	if err := p.counters.IncrementViolationCount(ctx, from.UserID); err != nil {
		return "", fmt.Errorf("moderation: increment violation count: %w", err)
	}

	count, err := p.ledger.CountFor(ctx, from.UserID, sess.ID)
	if err != nil {
		return "", fmt.Errorf("moderation: count violations: %w", err)
	}

	if count > sess.Settings.MaxViolations {
		return p.escalate(ctx, sess, from, conn, v, count)
	}

	p.notify(conn, protocol.TypeMessageModerated, protocol.MessageModeratedMsg{
		Message:        "Your message contains inappropriate content",
		DetectedWords:  result.Matches,
		ViolationCount: count,
		Warning:        fmt.Sprintf("Warning %d/%d", count, sess.Settings.MaxViolations),
	})

	log.Printf("moderation: warned user=%s live=%s violation=%d/%d",
		from.UserID, sess.ID, count, sess.Settings.MaxViolations)
	return OutcomeWarned, nil
}

// escalate applies the fixed-duration ban, promotes the triggering record,
// notifies the sender, and removes them from the room.
func (p *Pipeline) escalate(ctx context.Context, sess *live.LiveStream, from Identity, conn Sender, v *violation.Violation, count int) (Outcome, error) {
	until, err := p.bans.Ban(ctx, from.UserID, ban.Duration)
	if err != nil {
		return "", fmt.Errorf("moderation: ban: %w", err)
	}

	if err := p.ledger.PromoteToBanned(ctx, v.ID); err != nil {
		return "", fmt.Errorf("moderation: promote violation: %w", err)
	}

	p.notify(conn, protocol.TypeUserBanned, protocol.UserBannedMsg{
		Message:     fmt.Sprintf("You have been banned for 1 hour due to %d violations", count),
		BannedUntil: until,
		Violations:  count,
	})

	if err := p.rooms.RemoveAndNotify(ctx, sess.ID, from.UserID, from.Name, "Too many violations"); err != nil {
		log.Printf("moderation: remove banned user=%s from live=%s: %v", from.UserID, sess.ID, err)
	}

	log.Printf("moderation: banned user=%s live=%s until=%s violations=%d",
		from.UserID, sess.ID, until.Format(time.RFC3339), count)
	return OutcomeBanned, nil
}

// deliver is state 5: broadcast the message envelope to the whole room,
// sender included.
func (p *Pipeline) deliver(ctx context.Context, sess *live.LiveStream, from Identity, text string) (Outcome, error) {
	data, err := protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{
		ID:        uuid.New().String(),
		UserID:    from.UserID,
		UserName:  from.Name,
		UserRole:  from.Role,
		Message:   text,
		Timestamp: p.now(),
	})
	if err != nil {
		return "", fmt.Errorf("moderation: build new-message: %w", err)
	}

	if err := p.rooms.Broadcast(ctx, sess.ID, data); err != nil {
		return "", fmt.Errorf("moderation: deliver: %w", err)
	}
	return OutcomeDelivered, nil
}

// notify sends a moderation notification to the sender only. Delivery
// failures are logged, not propagated — the moderation decision stands
// whether or not the sender saw the notification.
func (p *Pipeline) notify(conn Sender, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("moderation: build %s: %v", msgType, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("moderation: send %s: %v", msgType, err)
	}
}
