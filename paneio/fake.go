package paneio

import (
	"context"
	"sync"
)

// FakeBackend is a scripted, in-memory Backend used across the module's
// tests in place of a generated mock, per spec.md §4.1's call for "a
// scripted fake".
type FakeBackend struct {
	mu sync.Mutex

	groups []PaneGroup
	// captures holds queued responses per pane; each Capture call pops
	// the next entry, repeating the last one once the queue drains.
	captures map[PaneRef][]string
	gone     map[PaneRef]bool
	down     bool

	// Sent records every SendKeys call, in order, for assertions.
	Sent []SentKeys
}

// SentKeys records one SendKeys invocation.
type SentKeys struct {
	Ref        PaneRef
	Keys       string
	PressEnter bool
}

// NewFakeBackend builds an empty fake; configure it with WithGroups /
// WithScript / SetPaneGone / SetBackendDown before use.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		captures: make(map[PaneRef][]string),
		gone:     make(map[PaneRef]bool),
	}
}

// WithGroups sets the session/window/pane topology returned by Enumerate.
func (f *FakeBackend) WithGroups(groups ...PaneGroup) *FakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = groups
	return f
}

// WithScript queues the sequence of texts ref's Capture calls will
// return, in order. Once the queue is exhausted, the last entry repeats.
func (f *FakeBackend) WithScript(ref PaneRef, texts ...string) *FakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures[ref] = append([]string{}, texts...)
	return f
}

// SetPaneGone marks ref as gone; subsequent Capture/SendKeys calls return
// ErrPaneGone.
func (f *FakeBackend) SetPaneGone(ref PaneRef, gone bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gone[ref] = gone
}

// SetBackendDown toggles whether every call returns ErrBackendUnavailable.
func (f *FakeBackend) SetBackendDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *FakeBackend) Enumerate(ctx context.Context) ([]PaneGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, ErrBackendUnavailable
	}
	out := make([]PaneGroup, len(f.groups))
	copy(out, f.groups)
	return out, nil
}

func (f *FakeBackend) Capture(ctx context.Context, ref PaneRef, maxLines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return "", ErrBackendUnavailable
	}
	if f.gone[ref] {
		return "", ErrPaneGone
	}
	queue := f.captures[ref]
	if len(queue) == 0 {
		return "", nil
	}
	next := queue[0]
	if len(queue) > 1 {
		f.captures[ref] = queue[1:]
	}
	return next, nil
}

func (f *FakeBackend) SendKeys(ctx context.Context, ref PaneRef, keys string, pressEnter bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return ErrBackendUnavailable
	}
	if f.gone[ref] {
		return ErrPaneGone
	}
	f.Sent = append(f.Sent, SentKeys{Ref: ref, Keys: keys, PressEnter: pressEnter})
	return nil
}
