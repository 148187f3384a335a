// Package event provides in-process fan-out of campaign lifecycle events.
// State transitions are correct with zero observers attached; observers add
// visibility, never behavior.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/mailblast/internal/pkg/logger"
)

// Event types emitted by the dispatch pipeline.
const (
	TypeCampaignStarted    = "campaign.started"
	TypeCampaignCompleted  = "campaign.completed"
	TypeCampaignCancelled  = "campaign.cancelled"
	TypeCampaignPaused     = "campaign.paused"
	TypeCampaignResumed    = "campaign.resumed"
	TypeEmailStatusUpdated = "email.status_updated"
)

// Event is a single lifecycle notification.
type Event struct {
	Type       string                 `json:"type"`
	CampaignID string                 `json:"campaign_id"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Observer receives published events. Implementations must not block for
// long; publishing happens on the worker's goroutine.
type Observer interface {
	Notify(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// Publisher fans events out to registered observers. Safe for concurrent
// Publish; Subscribe is expected at wiring time but is also safe after.
type Publisher struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewPublisher creates an empty publisher.
func NewPublisher() *Publisher { return &Publisher{} }

// Subscribe registers an observer for all subsequent events.
func (p *Publisher) Subscribe(o Observer) {
	p.mu.Lock()
	p.observers = append(p.observers, o)
	p.mu.Unlock()
}

// Publish delivers the event to every observer in subscription order. A
// panicking observer is isolated and logged so one bad hook cannot take down
// a batch worker.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, o := range observers {
		notify(ctx, o, ev)
	}
}

func notify(ctx context.Context, o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event observer panicked", "event_type", ev.Type, "panic", r)
		}
	}()
	o.Notify(ctx, ev)
}
