package event

import (
	"context"
	"testing"
)

func TestPublishWithNoObservers(t *testing.T) {
	p := NewPublisher()
	// Must not panic or block.
	p.Publish(context.Background(), Event{Type: TypeCampaignStarted, CampaignID: "c1"})
}

func TestPublishFansOutInOrder(t *testing.T) {
	p := NewPublisher()

	var got []string
	p.Subscribe(ObserverFunc(func(_ context.Context, ev Event) {
		got = append(got, "first:"+ev.Type)
	}))
	p.Subscribe(ObserverFunc(func(_ context.Context, ev Event) {
		got = append(got, "second:"+ev.Type)
	}))

	p.Publish(context.Background(), Event{Type: TypeCampaignCompleted, CampaignID: "c1"})

	if len(got) != 2 || got[0] != "first:campaign.completed" || got[1] != "second:campaign.completed" {
		t.Errorf("got %v", got)
	}
}

func TestPublishSetsOccurredAt(t *testing.T) {
	p := NewPublisher()

	var seen Event
	p.Subscribe(ObserverFunc(func(_ context.Context, ev Event) { seen = ev }))
	p.Publish(context.Background(), Event{Type: TypeEmailStatusUpdated})

	if seen.OccurredAt.IsZero() {
		t.Error("OccurredAt not stamped")
	}
}

func TestPanickingObserverIsIsolated(t *testing.T) {
	p := NewPublisher()

	called := false
	p.Subscribe(ObserverFunc(func(_ context.Context, _ Event) { panic("boom") }))
	p.Subscribe(ObserverFunc(func(_ context.Context, _ Event) { called = true }))

	p.Publish(context.Background(), Event{Type: TypeCampaignStarted})

	if !called {
		t.Error("observer after panicking one was not notified")
	}
}
