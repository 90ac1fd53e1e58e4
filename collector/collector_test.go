package collector

import (
	"context"
	"testing"
	"time"

	"yesman-claude/paneio"
)

func TestSnapshotsDropUnchangedAndKeepSequenceMonotonic(t *testing.T) {
	ref := paneio.PaneRef{SessionID: "s1"}
	backend := paneio.NewFakeBackend().WithScript(ref, "a", "a", "b", "b", "c")

	cfg := DefaultConfig()
	cfg.BaseInterval = time.Millisecond
	cfg.MaxInterval = 5 * time.Millisecond

	col := New(ref, backend, cfg, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	snapshots := col.Snapshots(ctx)

	var seen []Snapshot
	for s := range snapshots {
		seen = append(seen, s)
		if len(seen) >= 3 {
			cancel()
		}
	}

	if len(seen) < 3 {
		t.Fatalf("expected at least 3 distinct snapshots, got %d", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i].Sequence <= seen[i-1].Sequence {
			t.Fatalf("sequence not strictly increasing: %v", seen)
		}
	}
	if seen[0].Text != "a" || seen[1].Text != "b" {
		t.Fatalf("expected deduped texts a,b,... got %+v", seen[:2])
	}
}

func TestSnapshotsEndOnPaneGone(t *testing.T) {
	ref := paneio.PaneRef{SessionID: "s1"}
	backend := paneio.NewFakeBackend()
	backend.SetPaneGone(ref, true)

	cfg := DefaultConfig()
	cfg.BaseInterval = time.Millisecond

	col := New(ref, backend, cfg, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	snapshots := col.Snapshots(ctx)
	select {
	case _, ok := <-snapshots:
		if ok {
			t.Fatal("expected channel to close without emitting for a gone pane")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestSnapshotsCallDegradedOnBackendUnavailable(t *testing.T) {
	ref := paneio.PaneRef{SessionID: "s1"}
	backend := paneio.NewFakeBackend()
	backend.SetBackendDown(true)

	cfg := DefaultConfig()
	cfg.BaseInterval = time.Millisecond
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 5 * time.Millisecond

	degraded := make(chan struct{}, 1)
	col := New(ref, backend, cfg, func(err error) {
		select {
		case degraded <- struct{}{}:
		default:
		}
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = col.Snapshots(ctx)

	select {
	case <-degraded:
	case <-time.After(time.Second):
		t.Fatal("expected onDegraded to be called")
	}
}
