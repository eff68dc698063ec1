package services

import (
	"context"
	"log"
	"time"
)

// EventType names a ledger event handed to the notification collaborator
type EventType string

const (
	EventDonationCompleted    EventType = "donation_completed"
	EventDonationRejected     EventType = "donation_rejected"
	EventCampaignGoalReached  EventType = "campaign_goal_reached"
	EventRefundRequested      EventType = "refund_requested"
	EventRefundApproved       EventType = "refund_approved"
	EventRefundDenied         EventType = "refund_denied"
	EventRecurringSweepFailed EventType = "recurring_sweep_failed"
)

// Event is an (event type, entity) pair emitted after commit
type Event struct {
	Type       EventType
	EntityType string
	EntityID   uint
	Payload    map[string]interface{}
}

// Notifier receives ledger events after the transaction committed. Implementations should
// only enqueue; delivery happens elsewhere.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NopNotifier drops every event
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }

const notifyTimeout = 5 * time.Second

// dispatch hands events to the notifier after commit. Failures are logged, never returned.
func dispatch(ctx context.Context, n Notifier, events ...Event) {
	if n == nil {
		return
	}
	for _, ev := range events {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		if err := n.Notify(nctx, ev); err != nil {
			log.Printf("Failed to queue %s notification for %s %d: %v", ev.Type, ev.EntityType, ev.EntityID, err)
		}
		cancel()
	}
}
