package supervisor

import (
	"context"
	"testing"
	"time"

	"yesman-claude/eventbus"
	"yesman-claude/learner"
	"yesman-claude/paneio"
	"yesman-claude/promptlib"
)

func newTestSupervisor(t *testing.T, backend paneio.Backend) *Supervisor {
	t.Helper()
	lib := promptlib.NewLibrary(nil)
	responder := learner.New(learner.DefaultConfig(), nil)
	t.Cleanup(responder.Close)
	bus := eventbus.New(nil, 64)

	cfg := DefaultConfig()
	cfg.ReconcileInterval = 20 * time.Millisecond
	cfg.GraceDeadline = 500 * time.Millisecond
	cfg.Controller.DebounceWindow = 10 * time.Millisecond
	cfg.Controller.CooldownWindow = 10 * time.Millisecond
	cfg.Controller.SendKeysTimeout = time.Second
	cfg.Controller.BackoffBase = 5 * time.Millisecond
	cfg.Controller.BackoffMax = 20 * time.Millisecond
	cfg.Controller.RecentLines = 10

	return New(backend, lib, responder, bus, cfg, nil)
}

func TestRegisterStartsControllerAndListsIt(t *testing.T) {
	ref := paneio.PaneRef{SessionID: "s1"}
	backend := paneio.NewFakeBackend().WithGroups(paneio.PaneGroup{SessionID: "s1"}).WithScript(ref, "idle pane")

	sup := newTestSupervisor(t, backend)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	if _, err := sup.Register(context.Background(), SessionSpec{ID: "s1", ProjectID: "p1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		views := sup.List()
		if len(views) == 1 && views[0].State == "watching" {
			break
		}
		select {
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			t.Fatalf("controller never reached watching, got %+v", views)
		}
	}

	if _, err := sup.Register(context.Background(), SessionSpec{ID: "s1", ProjectID: "p1"}); err != ErrAlreadyRegistered {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestReconcileTearsDownOrphanedSession(t *testing.T) {
	ref := paneio.PaneRef{SessionID: "s1"}
	backend := paneio.NewFakeBackend().WithGroups(paneio.PaneGroup{SessionID: "s1"}).WithScript(ref, "idle pane")

	sup := newTestSupervisor(t, backend)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	if _, err := sup.Register(context.Background(), SessionSpec{ID: "s1", ProjectID: "p1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Remove the session from the backend's enumerated topology: the
	// next reconciliation pass should treat it as an orphan.
	backend.WithGroups()

	deadline := time.After(time.Second)
	for {
		if _, err := sup.Inspect("s1"); err == ErrUnknownSession {
			return
		}
		select {
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatal("orphaned session was never torn down")
		}
	}
}

func TestTeardownRemovesSession(t *testing.T) {
	ref := paneio.PaneRef{SessionID: "s1"}
	backend := paneio.NewFakeBackend().WithGroups(paneio.PaneGroup{SessionID: "s1"}).WithScript(ref, "idle pane")

	sup := newTestSupervisor(t, backend)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	if _, err := sup.Register(context.Background(), SessionSpec{ID: "s1", ProjectID: "p1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := sup.Teardown(context.Background(), "s1"); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if _, err := sup.Inspect("s1"); err != ErrUnknownSession {
		t.Fatalf("expected ErrUnknownSession after teardown, got %v", err)
	}
}
