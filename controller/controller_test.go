package controller

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"yesman-claude/eventbus"
	"yesman-claude/learner"
	"yesman-claude/paneio"
	"yesman-claude/promptlib"
)

// testLibrary returns a library loaded with a single yes/no pattern, so
// state-machine tests can exercise real Detect() calls without relying
// on a pattern directory that ships with the binary.
func testLibrary(t *testing.T) *promptlib.Library {
	t.Helper()
	dir := t.TempDir()
	yesNoDir := filepath.Join(dir, "yes_no")
	if err := os.MkdirAll(yesNoDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	pattern := "kind: yes_no\npriority: 10\npattern: \"\\\\(y/n\\\\)\\\\s*$\"\n"
	if err := os.WriteFile(filepath.Join(yesNoDir, "continue.yaml"), []byte(pattern), 0o644); err != nil {
		t.Fatalf("write pattern: %v", err)
	}
	lib := promptlib.NewLibrary(nil)
	if err := lib.Load(dir); err != nil {
		t.Fatalf("load library: %v", err)
	}
	return lib
}

func waitForState(t *testing.T, c *Controller, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		if c.State() == want {
			return
		}
		select {
		case <-tick.C:
		case <-deadline:
			t.Fatalf("timed out waiting for state %q, last was %q", want, c.State())
		}
	}
}

func newTestController(t *testing.T, backend paneio.Backend, responder *learner.Responder, bus *eventbus.Bus) *Controller {
	t.Helper()
	ref := paneio.PaneRef{SessionID: "s1"}
	cfg := Config{
		DebounceWindow:  10 * time.Millisecond,
		CooldownWindow:  10 * time.Millisecond,
		SendKeysTimeout: time.Second,
		BackoffBase:     5 * time.Millisecond,
		BackoffMax:      20 * time.Millisecond,
		RecentLines:     10,
	}
	return New("s1", "p1", ref, backend, testLibrary(t), responder, bus, cfg, nil)
}

func TestControllerStartWatchingThenStop(t *testing.T) {
	ref := paneio.PaneRef{SessionID: "s1"}
	backend := paneio.NewFakeBackend().WithScript(ref, "nothing interesting here")
	responder := learner.New(learner.DefaultConfig(), nil)
	defer responder.Close()

	c := newTestController(t, backend, responder, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, c, StateWatching, time.Second)

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("controller did not exit after Stop")
	}
}

func TestControllerDetectsYesNoAndRespondsThenCools(t *testing.T) {
	ref := paneio.PaneRef{SessionID: "s1"}
	backend := paneio.NewFakeBackend().WithScript(ref,
		"Do you want to continue? (y/n)",
		"Do you want to continue? (y/n)",
		"done, thanks",
	)
	responder := learner.New(learner.DefaultConfig(), nil)
	defer responder.Close()
	bus := eventbus.New(nil, 64)

	c := newTestController(t, backend, responder, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitForState(t, c, StateCooldown, 2*time.Second)
	waitForState(t, c, StateWatching, 2*time.Second)

	if len(backend.Sent) == 0 {
		t.Fatal("expected a keystroke to have been sent")
	}
}

func TestControllerPaneGoneStopsController(t *testing.T) {
	ref := paneio.PaneRef{SessionID: "s1"}
	backend := paneio.NewFakeBackend()
	backend.SetPaneGone(ref, true)
	responder := learner.New(learner.DefaultConfig(), nil)
	defer responder.Close()

	c := newTestController(t, backend, responder, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitForState(t, c, StateStopped, 2*time.Second)
}
