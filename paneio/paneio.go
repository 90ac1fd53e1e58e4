// Package paneio defines the Pane I/O Adapter contract (C1): the thin,
// idempotent-where-possible capability surface the rest of the supervisor
// uses to enumerate panes, read their visible text, and inject keystrokes.
// Isolating this interface lets every other component be tested against a
// scripted fake; real implementations shell out to or link against a
// terminal multiplexer.
package paneio

import (
	"context"
	"errors"
)

// ErrPaneGone is a recoverable result, not a failure: the addressed pane
// no longer exists. Controllers treat it as a terminal transition for
// that session, not as an error to report upward.
var ErrPaneGone = errors.New("paneio: pane is gone")

// ErrBackendUnavailable means the multiplexer/backend itself could not be
// reached; retriable with backoff.
var ErrBackendUnavailable = errors.New("paneio: backend unavailable")

// PaneRef addresses a single pane. Opaque outside the owning backend;
// lifetime is tied to the underlying session and may become invalid
// between any two operations.
type PaneRef struct {
	SessionID   string
	WindowIndex int
	PaneIndex   int
}

// WindowRef describes one window within a session, as returned by
// Enumerate.
type WindowRef struct {
	Index int
	Panes []PaneRef
}

// PaneGroup groups the windows/panes that belong to one session id.
type PaneGroup struct {
	SessionID string
	Windows   []WindowRef
}

// Backend is the Pane I/O Adapter contract (spec.md §4.1). All three
// operations are safe to call concurrently from multiple controllers;
// a concrete backend may serialize internally but must not rely on
// external serialization.
type Backend interface {
	// Enumerate lists every session/window/pane currently known to the
	// backend. Returns ErrBackendUnavailable if the backend cannot be
	// reached at all.
	Enumerate(ctx context.Context) ([]PaneGroup, error)

	// Capture returns the last maxLines of ref's visible text. Returns
	// ErrPaneGone if ref no longer exists, ErrBackendUnavailable if the
	// backend itself is unreachable.
	Capture(ctx context.Context, ref PaneRef, maxLines int) (string, error)

	// SendKeys writes keys to ref, optionally followed by Enter. Returns
	// nil on success, ErrPaneGone or ErrBackendUnavailable otherwise.
	SendKeys(ctx context.Context, ref PaneRef, keys string, pressEnter bool) error
}

// Spawner is implemented by backends that can create the pane a
// SessionSpec describes rather than only observing one created by an
// external multiplexer (spec.md's Non-goal excludes multiplexer
// invocation from the core, but the supervisor still needs a way to
// stand up the process it then only observes). PTYBackend implements
// this; the scripted fake and any real multiplexer-backed adapter need
// not.
type Spawner interface {
	Spawn(ctx context.Context, spec SessionLaunchSpec) (PaneRef, error)
	Close(ref PaneRef) error
}

// ForegroundReporter is implemented by backends that can report the
// foreground process running in a pane, purely as informational
// enrichment for SessionView (spec.md's detector contract stays
// snapshot-text-only; this never feeds detection). PTYBackend
// implements it via gopsutil; the scripted fake does not.
type ForegroundReporter interface {
	ForegroundCommand(ref PaneRef) string
}
