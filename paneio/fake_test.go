package paneio

import (
	"context"
	"testing"
)

func TestFakeBackendScriptedCapture(t *testing.T) {
	ref := PaneRef{SessionID: "s1"}
	backend := NewFakeBackend().
		WithGroups(PaneGroup{SessionID: "s1", Windows: []WindowRef{{Panes: []PaneRef{ref}}}}).
		WithScript(ref, "line one", "line two")

	ctx := context.Background()

	groups, err := backend.Enumerate(ctx)
	if err != nil || len(groups) != 1 {
		t.Fatalf("Enumerate() = %v, %v", groups, err)
	}

	first, err := backend.Capture(ctx, ref, 40)
	if err != nil || first != "line one" {
		t.Fatalf("Capture() first = %q, %v", first, err)
	}
	second, err := backend.Capture(ctx, ref, 40)
	if err != nil || second != "line two" {
		t.Fatalf("Capture() second = %q, %v", second, err)
	}
	third, err := backend.Capture(ctx, ref, 40)
	if err != nil || third != "line two" {
		t.Fatalf("Capture() should repeat last scripted value, got %q, %v", third, err)
	}
}

func TestFakeBackendPaneGone(t *testing.T) {
	ref := PaneRef{SessionID: "s1"}
	backend := NewFakeBackend()
	backend.SetPaneGone(ref, true)

	ctx := context.Background()
	if _, err := backend.Capture(ctx, ref, 10); err != ErrPaneGone {
		t.Fatalf("expected ErrPaneGone, got %v", err)
	}
	if err := backend.SendKeys(ctx, ref, "y", true); err != ErrPaneGone {
		t.Fatalf("expected ErrPaneGone, got %v", err)
	}
}

func TestFakeBackendBackendDown(t *testing.T) {
	backend := NewFakeBackend()
	backend.SetBackendDown(true)

	ctx := context.Background()
	if _, err := backend.Enumerate(ctx); err != ErrBackendUnavailable {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestFakeBackendRecordsSentKeys(t *testing.T) {
	ref := PaneRef{SessionID: "s1"}
	backend := NewFakeBackend()
	ctx := context.Background()

	if err := backend.SendKeys(ctx, ref, "1", true); err != nil {
		t.Fatalf("SendKeys() error = %v", err)
	}
	if len(backend.Sent) != 1 || backend.Sent[0].Keys != "1" || !backend.Sent[0].PressEnter {
		t.Fatalf("unexpected Sent record: %+v", backend.Sent)
	}
}
