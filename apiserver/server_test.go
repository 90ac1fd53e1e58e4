package apiserver

import (
	"testing"
	"time"

	"yesman-claude/controller"
	"yesman-claude/learner"
)

func TestToSessionViewOmitsZeroActivity(t *testing.T) {
	v := toSessionView("s1", controller.View{SessionID: "s1", State: controller.StateIdle})
	if v.LastActivity != nil {
		t.Fatalf("expected nil LastActivity for zero time, got %v", v.LastActivity)
	}
	if v.LastDecision != nil {
		t.Fatalf("expected nil LastDecision, got %+v", v.LastDecision)
	}
}

func TestToSessionViewProjectsDecision(t *testing.T) {
	now := time.Unix(0, 0)
	d := learner.Decision{Fingerprint: "f1", Response: "y", Confidence: 0.9, Strategy: learner.StrategyLearned, DecidedAt: now}
	v := toSessionView("s1", controller.View{SessionID: "s1", State: controller.StateWatching, LastDecision: &d, LastActivity: now})

	if v.LastActivity == nil || !v.LastActivity.Equal(now) {
		t.Fatalf("expected LastActivity to be projected, got %v", v.LastActivity)
	}
	if v.LastDecision == nil || v.LastDecision.Response != "y" || v.LastDecision.Strategy != "learned" {
		t.Fatalf("unexpected decision projection: %+v", v.LastDecision)
	}
}

func TestItemsResponseEnvelopeShape(t *testing.T) {
	resp := NewItemsResponse([]sessionView{{SessionID: "s1"}})
	if len(resp.Body.Items) != 1 || resp.Body.Items[0].SessionID != "s1" {
		t.Fatalf("unexpected envelope contents: %+v", resp.Body)
	}
}
