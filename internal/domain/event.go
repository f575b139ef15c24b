package domain

import (
	"context"
	"time"
)

type EventType string

const (
	EventClaimSubmitted    EventType = "claim.submitted"
	EventClaimAssessed     EventType = "claim.assessed"
	EventSessionOpened     EventType = "session.opened"
	EventSessionFinalized  EventType = "session.finalized"
	EventSessionEscalated  EventType = "session.escalated"
	EventValidatorSlashed  EventType = "validator.slashed"
	EventPayoutExecuted    EventType = "payout.executed"
	EventPayoutFailed      EventType = "payout.failed"
	EventEmergencyReserved EventType = "emergency.reserved"
	EventClaimFlagged      EventType = "claim.flagged"
)

// Event is a domain fact emitted for downstream consumers.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Key        string         `json:"key"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func NewEvent(t EventType, key string, payload map[string]any) Event {
	return Event{
		ID:         NewID(),
		Type:       t,
		Key:        key,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// EventSink accepts domain events for asynchronous delivery. Emit never blocks on delivery.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// DiscardEvents drops every event.
type DiscardEvents struct{}

func (DiscardEvents) Emit(context.Context, Event) {}
