package claims

import (
	"context"
	"time"
)

// EventType names a committed change published to downstream consumers.
type EventType string

const (
	EventClaimCreated      EventType = "claim.created"
	EventClaimTransitioned EventType = "claim.transitioned"
	EventCommissionEmitted EventType = "commission.emitted"
)

// Event is published after the transaction that produced it commits.
type Event struct {
	Type        EventType
	Kind        ClaimKind
	ClaimCode   string
	UnitCode    string
	HolderID    string
	Action      Action
	ClaimStatus string
	UnitStatus  UnitStatus
	Commission  *Commission
	OccurredAt  time.Time
}

// EventPublisher receives committed claim events (notifications, commission emitter).
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
