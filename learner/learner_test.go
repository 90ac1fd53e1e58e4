package learner

import (
	"testing"
	"time"

	"yesman-claude/promptlib"
)

func TestDecideColdStartUsesDefaultRule(t *testing.T) {
	r := New(DefaultConfig(), nil)
	defer r.Close()

	prompt := promptlib.Prompt{Kind: promptlib.KindYesNo, Fingerprint: "f1", Options: []promptlib.Option{{Label: "y"}, {Label: "n"}}}
	d := r.Decide(prompt, Scope{ProjectID: "p1", SessionID: "s1"}, Hints{})

	if d.Strategy != StrategyDefaultRule || d.Response != "y" || d.Confidence != 0.5 {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestDecideUnknownAbstains(t *testing.T) {
	r := New(DefaultConfig(), nil)
	defer r.Close()

	prompt := promptlib.Prompt{Kind: promptlib.KindUnknown, Fingerprint: "f1"}
	d := r.Decide(prompt, Scope{ProjectID: "p1", SessionID: "s1"}, Hints{})
	if d.Strategy != StrategyAbstain || d.Response != "" {
		t.Fatalf("expected abstain, got %+v", d)
	}
}

func TestUserOverrideTakesPrecedenceOnce(t *testing.T) {
	r := New(DefaultConfig(), nil)
	defer r.Close()

	scope := Scope{ProjectID: "p1", SessionID: "s1"}
	prompt := promptlib.Prompt{Kind: promptlib.KindNumberedSelection, Fingerprint: "f2"}
	r.SetOverride(scope, "f2", "3", true)

	first := r.Decide(prompt, scope, Hints{})
	if first.Strategy != StrategyUserOverride || first.Response != "3" {
		t.Fatalf("expected override on first call, got %+v", first)
	}

	second := r.Decide(prompt, scope, Hints{})
	if second.Strategy == StrategyUserOverride {
		t.Fatalf("expected override to be consumed after one use, got %+v", second)
	}
}

func TestLearnedDecisionDominatesDefaultRule(t *testing.T) {
	r := New(DefaultConfig(), nil)
	defer r.Close()

	scope := Scope{ProjectID: "p1", SessionID: "s1"}
	fingerprint := "f3"

	for i := 0; i < 9; i++ {
		r.Record(InteractionRecord{Fingerprint: fingerprint, ProjectID: "p1", SessionID: "s1", Response: "1", Outcome: OutcomeApplied, RecordedAt: time.Now()})
	}
	r.Record(InteractionRecord{Fingerprint: fingerprint, ProjectID: "p1", SessionID: "s1", Response: "2", Outcome: OutcomeFailed, RecordedAt: time.Now()})

	// Records are queued to the single writer goroutine; give it a beat.
	time.Sleep(50 * time.Millisecond)

	prompt := promptlib.Prompt{Kind: promptlib.KindNumberedSelection, Fingerprint: fingerprint}
	d := r.Decide(prompt, scope, Hints{})

	if d.Strategy != StrategyLearned || d.Response != "1" {
		t.Fatalf("expected learned decision favoring \"1\", got %+v", d)
	}
	if d.Confidence < 0.7 {
		t.Fatalf("expected high confidence, got %v", d.Confidence)
	}
}

func TestContradictoryHistoryFallsThroughToDefaultRule(t *testing.T) {
	r := New(DefaultConfig(), nil)
	defer r.Close()

	scope := Scope{ProjectID: "p1", SessionID: "s1"}
	fingerprint := "f4"

	for i := 0; i < 5; i++ {
		r.Record(InteractionRecord{Fingerprint: fingerprint, ProjectID: "p1", SessionID: "s1", Response: "1", Outcome: OutcomeApplied, RecordedAt: time.Now()})
		r.Record(InteractionRecord{Fingerprint: fingerprint, ProjectID: "p1", SessionID: "s1", Response: "2", Outcome: OutcomeApplied, RecordedAt: time.Now()})
	}
	time.Sleep(50 * time.Millisecond)

	prompt := promptlib.Prompt{Kind: promptlib.KindNumberedSelection, Fingerprint: fingerprint}
	d := r.Decide(prompt, scope, Hints{})
	if d.Strategy != StrategyDefaultRule {
		t.Fatalf("expected a near-tie to fall through to DefaultRule, got %+v", d)
	}
}
