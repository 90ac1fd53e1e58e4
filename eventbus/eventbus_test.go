package eventbus

import (
	"testing"
	"time"
)

func TestPublishDeliversToMatchingSubscriber(t *testing.T) {
	bus := New(nil, 8)
	sub := bus.Subscribe(Filter{SessionIDs: []string{"s1"}})
	defer sub.Close()

	bus.Publish(Event{Kind: KindPromptDetected, SessionID: "s2"})
	bus.Publish(Event{Kind: KindPromptDetected, SessionID: "s1"})

	select {
	case e := <-sub.Events():
		if e.SessionID != "s1" {
			t.Fatalf("expected filtered event for s1, got %q", e.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case e, ok := <-sub.Events():
		if ok {
			t.Fatalf("expected no further events, got %+v", e)
		}
	default:
	}
}

func TestLaggedSubscriberIsTerminatedNotOthers(t *testing.T) {
	bus := New(nil, 1)
	slow := bus.Subscribe(Filter{})
	fast := bus.Subscribe(Filter{})
	defer fast.Close()

	bus.Publish(Event{Kind: KindPromptDetected, SessionID: "a"})
	bus.Publish(Event{Kind: KindPromptDetected, SessionID: "b"})

	var sawLag bool
	deadline := time.After(time.Second)
drain:
	for {
		select {
		case e, ok := <-slow.Events():
			if !ok {
				break drain
			}
			if e.Kind == KindSubscriberLagged {
				sawLag = true
			}
		case <-deadline:
			break drain
		}
	}
	if !sawLag {
		t.Fatal("expected slow subscriber to see SubscriberLagged before close")
	}

	select {
	case _, ok := <-fast.Events():
		if !ok {
			t.Fatal("fast subscriber must not be terminated by slow subscriber's lag")
		}
	default:
	}

	if bus.SubscriberCount() != 1 {
		t.Fatalf("expected 1 remaining subscriber, got %d", bus.SubscriberCount())
	}
}
