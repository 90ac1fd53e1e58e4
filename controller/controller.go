// Package controller implements the Session Controller (C5): one state
// machine per supervised session, wiring the collector, the prompt
// detector and the adaptive responder together and issuing keystrokes
// through the pane backend. All state transitions happen on a single
// goroutine selecting over one mailbox, the teacher's own "one goroutine
// owns this state" habit (service/terminal/session.go's consumePTY/wait,
// manager.go's monitorMetadata) generalized into an explicit state
// machine per spec.md §4.5.
package controller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"yesman-claude/collector"
	"yesman-claude/eventbus"
	"yesman-claude/learner"
	"yesman-claude/paneio"
	"yesman-claude/promptlib"
)

// State is one of the eight states in spec.md §4.5.
type State string

const (
	StateIdle                 State = "idle"
	StateWatching             State = "watching"
	StatePromptPending        State = "prompt_pending"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateResponding           State = "responding"
	StateCooldown             State = "cooldown"
	StateStopped              State = "stopped"
	StateErrored              State = "errored"
)

// Config carries the timing knobs spec.md §4.5/§5 names.
type Config struct {
	DebounceWindow  time.Duration
	CooldownWindow  time.Duration
	SendKeysTimeout time.Duration
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	MailboxDepth    int
	RecentLines     int
}

// View is the read-model projected for the control-plane API (spec.md
// §3's SessionView, minus the raw-text fields the API never exposes).
type View struct {
	SessionID      string
	State          State
	Uptime         time.Duration
	LastActivity   time.Time
	LastDecision   *learner.Decision
	LastError      string
	RunningCommand string
	Assistant      paneio.AssistantType
}

type command struct {
	kind    string // "start" | "stop"
	replyCh chan error
}

// Controller is the per-session state machine.
type Controller struct {
	sessionID string
	projectID string
	pane      paneio.PaneRef
	backend   paneio.Backend
	library   *promptlib.Library
	responder *learner.Responder
	bus       *eventbus.Bus
	logger    *zap.Logger
	cfg       Config

	mu           sync.RWMutex
	state        State
	startedAt    time.Time
	lastActivity time.Time
	lastDecision *learner.Decision
	lastError    string

	commandCh chan command
	collector *collector.Collector

	pendingFingerprint string
	pendingPrompt      promptlib.Prompt
	debounceTimer      *time.Timer
	cooldownTimer      *time.Timer
	backoffAttempt     int

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an Idle Controller for (sessionID, pane); run Run in its
// own goroutine, then call Start to begin watching.
func New(sessionID, projectID string, pane paneio.PaneRef, backend paneio.Backend, library *promptlib.Library, responder *learner.Responder, bus *eventbus.Bus, cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MailboxDepth <= 0 {
		cfg.MailboxDepth = 64
	}
	c := &Controller{
		sessionID: sessionID,
		projectID: projectID,
		pane:      pane,
		backend:   backend,
		library:   library,
		responder: responder,
		bus:       bus,
		logger:    logger,
		cfg:       cfg,
		state:     StateIdle,
		commandCh: make(chan command),
		done:      make(chan struct{}),
	}
	return c
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// View projects the controller's current read-model.
func (c *Controller) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v := View{
		SessionID:    c.sessionID,
		State:        c.state,
		LastActivity: c.lastActivity,
		LastDecision: c.lastDecision,
		LastError:    c.lastError,
	}
	if !c.startedAt.IsZero() {
		v.Uptime = time.Since(c.startedAt)
	}
	if reporter, ok := c.backend.(paneio.ForegroundReporter); ok {
		v.RunningCommand = reporter.ForegroundCommand(c.pane)
		v.Assistant = paneio.DetectAssistant(v.RunningCommand)
	}
	return v
}

// Start transitions Idle -> Watching, subscribing to the collector.
// Safe to call from any goroutine; blocks until the command is
// processed by the controller's mailbox.
func (c *Controller) Start(ctx context.Context) error {
	return c.sendCommand(ctx, "start")
}

// Stop transitions any state -> Stopped, releasing resources.
func (c *Controller) Stop(ctx context.Context) error {
	return c.sendCommand(ctx, "stop")
}

func (c *Controller) sendCommand(ctx context.Context, kind string) error {
	reply := make(chan error, 1)
	select {
	case c.commandCh <- command{kind: kind, replyCh: reply}:
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done closes once the controller's run loop has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}
