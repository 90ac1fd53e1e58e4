// Package collector implements the Content Collector (C2): for one pane,
// a lazy, bounded-rate sequence of normalized text snapshots that only
// emits changed content. The adaptive polling loop generalizes the
// teacher's periodicCheckLoop (utils/ai_assistant2/tracker.go), which
// ticks on a fixed period; here the period itself adapts, so a
// self-resetting time.Timer replaces the fixed time.Ticker.
package collector

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"yesman-claude/paneio"
)

// Snapshot is spec.md §3's PaneSnapshot.
type Snapshot struct {
	Pane       paneio.PaneRef
	Sequence   uint64
	CapturedAt time.Time
	Text       string
	Hash       uint64
}

// Config carries the collector's timing knobs (spec.md §4.2).
type Config struct {
	BaseInterval      time.Duration
	MaxInterval       time.Duration
	UnchangedToDouble int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	MaxLines          int
}

// DefaultConfig mirrors spec.md §4.2's stated defaults.
func DefaultConfig() Config {
	return Config{
		BaseInterval:      250 * time.Millisecond,
		MaxInterval:       2 * time.Second,
		UnchangedToDouble: 4,
		BackoffBase:       500 * time.Millisecond,
		BackoffMax:        30 * time.Second,
		MaxLines:          40,
	}
}

// DegradedFunc is called when the backend becomes unavailable, so the
// owning controller can publish CollectorDegraded onto the bus without
// this package importing eventbus directly (collectors are a pure
// pane-to-snapshot pipeline; publishing is the controller's job).
type DegradedFunc func(err error)

// Collector produces Snapshots for one pane at a bounded, adaptive rate.
type Collector struct {
	pane    paneio.PaneRef
	backend paneio.Backend
	cfg     Config
	logger  *zap.Logger
	onDegraded DegradedFunc

	mu       sync.Mutex
	seq      uint64
	lastHash uint64
	started  bool
}

// New builds a Collector for pane. onDegraded may be nil.
func New(pane paneio.PaneRef, backend paneio.Backend, cfg Config, onDegraded DegradedFunc, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{pane: pane, backend: backend, cfg: cfg, onDegraded: onDegraded, logger: logger}
}

// Snapshots starts polling (lazily, on first call) and returns a channel
// of deduped, strictly-sequence-increasing snapshots. The channel closes
// when the pane is gone or ctx is cancelled; PaneGone is not reported as
// an error, it just ends the sequence (spec.md §4.2).
func (c *Collector) Snapshots(ctx context.Context) <-chan Snapshot {
	out := make(chan Snapshot, 1)
	go c.run(ctx, out)
	return out
}

func (c *Collector) run(ctx context.Context, out chan<- Snapshot) {
	defer close(out)

	interval := c.cfg.BaseInterval
	unchangedStreak := 0
	backoff := c.cfg.BackoffBase

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		text, err := c.backend.Capture(ctx, c.pane, c.cfg.MaxLines)
		switch {
		case err == paneio.ErrPaneGone:
			return
		case err == paneio.ErrBackendUnavailable:
			if c.onDegraded != nil {
				c.onDegraded(err)
			}
			timer.Reset(backoff)
			backoff *= 2
			if backoff > c.cfg.BackoffMax {
				backoff = c.cfg.BackoffMax
			}
			continue
		case err != nil:
			timer.Reset(interval)
			continue
		}

		backoff = c.cfg.BackoffBase
		h := hashText(text)

		c.mu.Lock()
		changed := !c.started || h != c.lastHash
		c.lastHash = h
		c.started = true
		c.mu.Unlock()

		if !changed {
			unchangedStreak++
			if unchangedStreak >= c.cfg.UnchangedToDouble {
				interval *= 2
				if interval > c.cfg.MaxInterval {
					interval = c.cfg.MaxInterval
				}
			}
			timer.Reset(interval)
			continue
		}

		unchangedStreak = 0
		interval = c.cfg.BaseInterval

		c.mu.Lock()
		c.seq++
		seq := c.seq
		c.mu.Unlock()

		snap := Snapshot{Pane: c.pane, Sequence: seq, CapturedAt: time.Now(), Text: text, Hash: h}
		select {
		case out <- snap:
		case <-ctx.Done():
			return
		}

		timer.Reset(interval)
	}
}

func hashText(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
