package controller

import (
	"context"
	"time"

	"yesman-claude/collector"
	"yesman-claude/eventbus"
	"yesman-claude/learner"
	"yesman-claude/paneio"
)

// Run starts the controller's single mailbox loop. It returns once Stop
// is processed or the loop otherwise exits; call it in its own
// goroutine. Only one Run per Controller may be active at a time.
func (c *Controller) Run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	defer close(c.done)

	var snapshots <-chan collector.Snapshot
	var debounceC, cooldownC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			c.setState(StateStopped)
			return

		case cmd := <-c.commandCh:
			switch cmd.kind {
			case "start":
				if c.State() == StateIdle || c.State() == StateErrored {
					c.startWatching(ctx)
					snapshots = c.collector.Snapshots(ctx)
					c.setState(StateWatching)
				}
				cmd.replyCh <- nil
			case "stop":
				c.stopCollector()
				c.setState(StateStopped)
				cmd.replyCh <- nil
				return
			}

		case snap, ok := <-snapshots:
			if !ok {
				snapshots = nil
				if c.State() != StateStopped {
					c.setState(StateStopped)
				}
				continue
			}
			c.touch()
			c.onSnapshot(snap)

		case <-debounceC:
			debounceC = nil
			c.onDebounceExpired(ctx)

		case <-cooldownC:
			cooldownC = nil
			c.onCooldownExpired(ctx)
		}

		if c.debounceTimer != nil {
			debounceC = c.debounceTimer.C
		}
		if c.cooldownTimer != nil {
			cooldownC = c.cooldownTimer.C
		}
	}
}

func (c *Controller) startWatching(ctx context.Context) {
	c.mu.Lock()
	c.startedAt = time.Now()
	c.mu.Unlock()
	c.collector = collector.New(c.pane, c.backend, collector.Config{
		BaseInterval:      250 * time.Millisecond,
		MaxInterval:       2 * time.Second,
		UnchangedToDouble: 4,
		BackoffBase:       c.cfg.BackoffBase,
		BackoffMax:        c.cfg.BackoffMax,
		MaxLines:          c.recentLines(),
	}, c.publishDegraded, c.logger)
}

func (c *Controller) recentLines() int {
	if c.cfg.RecentLines > 0 {
		return c.cfg.RecentLines
	}
	return 40
}

func (c *Controller) stopCollector() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Controller) publishDegraded(err error) {
	c.publish(eventbus.KindCollectorDegraded, map[string]string{"error": err.Error()})
}

func (c *Controller) onSnapshot(snap collector.Snapshot) {
	if c.library == nil {
		return
	}
	prompt, found := c.library.Detect(snap.Text, c.recentLines())
	if !found {
		if c.State() == StateCooldown && c.pendingFingerprint != "" {
			// Fingerprint cleared during cooldown: confirm success.
			c.finishCooldown(true)
		}
		return
	}

	switch c.State() {
	case StateWatching:
		c.pendingFingerprint = prompt.Fingerprint
		c.pendingPrompt = prompt
		c.setState(StatePromptPending)
		c.resetDebounce()
	case StatePromptPending:
		if prompt.Fingerprint == c.pendingFingerprint {
			c.resetDebounce()
		} else {
			c.pendingFingerprint = prompt.Fingerprint
			c.pendingPrompt = prompt
			c.resetDebounce()
		}
	case StateCooldown:
		if prompt.Fingerprint == c.pendingFingerprint {
			// Stale prompt after response; onCooldownExpired handles the
			// failure-recording, nothing to do until the timer fires.
			return
		}
		// Different prompt during cooldown: the previous one resolved.
		c.finishCooldown(true)
		c.pendingFingerprint = prompt.Fingerprint
		c.pendingPrompt = prompt
		c.setState(StatePromptPending)
		c.resetDebounce()
	}
}

func (c *Controller) resetDebounce() {
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceTimer = time.NewTimer(c.cfg.DebounceWindow)
}

func (c *Controller) onDebounceExpired(ctx context.Context) {
	if c.State() != StatePromptPending {
		return
	}
	c.setState(StateAwaitingConfirmation)

	decision := c.responder.Decide(c.pendingPrompt, learner.Scope{ProjectID: c.projectID, SessionID: c.sessionID}, learner.Hints{})
	c.mu.Lock()
	c.lastDecision = &decision
	c.mu.Unlock()
	c.publish(eventbus.KindDecisionMade, decision)

	if decision.Strategy == learner.StrategyAbstain {
		c.setState(StateWatching)
		c.publish(eventbus.KindPromptDetected, map[string]string{"fingerprint": c.pendingFingerprint, "outcome": "abstained"})
		return
	}

	c.respond(ctx, decision)
}

func (c *Controller) respond(ctx context.Context, decision learner.Decision) {
	c.setState(StateResponding)

	sendCtx, cancel := context.WithTimeout(ctx, c.sendKeysTimeout())
	defer cancel()

	err := c.backend.SendKeys(sendCtx, c.pane, decision.Response, true)
	switch err {
	case nil:
		c.publish(eventbus.KindResponseSent, decision)
		c.recordInteraction(decision, learner.OutcomeApplied)
		c.setState(StateCooldown)
		c.resetCooldown()
	case paneio.ErrPaneGone:
		c.stopCollector()
		c.setState(StateStopped)
		return
	default:
		c.mu.Lock()
		c.lastError = err.Error()
		c.mu.Unlock()
		c.setState(StateErrored)
		c.scheduleRestart(ctx)
	}
}

func (c *Controller) sendKeysTimeout() time.Duration {
	if c.cfg.SendKeysTimeout > 0 {
		return c.cfg.SendKeysTimeout
	}
	return 2 * time.Second
}

func (c *Controller) resetCooldown() {
	if c.cooldownTimer != nil {
		c.cooldownTimer.Stop()
	}
	c.cooldownTimer = time.NewTimer(c.cfg.CooldownWindow)
}

func (c *Controller) onCooldownExpired(ctx context.Context) {
	if c.State() != StateCooldown {
		return
	}
	c.finishCooldown(false)
}

// finishCooldown transitions Cooldown -> Watching. success=true means
// the fingerprint cleared before the timer fired (confirmed); false
// means the cooldown window elapsed with the fingerprint still present,
// which is recorded as a Failed outcome per spec.md §4.5.
func (c *Controller) finishCooldown(success bool) {
	if c.cooldownTimer != nil {
		c.cooldownTimer.Stop()
		c.cooldownTimer = nil
	}
	if !success && c.lastDecision != nil {
		c.recordInteraction(*c.lastDecision, learner.OutcomeFailed)
	}
	c.pendingFingerprint = ""
	c.setState(StateWatching)
}

func (c *Controller) scheduleRestart(ctx context.Context) {
	c.backoffAttempt++
	delay := c.cfg.BackoffBase << c.backoffAttempt
	if delay > c.cfg.BackoffMax || delay <= 0 {
		delay = c.cfg.BackoffMax
	}
	go func() {
		select {
		case <-time.After(delay):
			c.mu.Lock()
			recovered := c.state == StateErrored
			if recovered {
				c.state = StateIdle
			}
			c.mu.Unlock()
			if recovered {
				c.publish(eventbus.KindControllerStateChanged, map[string]string{"state": string(StateIdle)})
			}
		case <-ctx.Done():
		}
	}()
}

// RecordHumanOverride records that a human answered the pending prompt
// directly, per spec.md §4.5's human-override precedence: no failure
// penalty is applied.
func (c *Controller) RecordHumanOverride() {
	if c.lastDecision == nil {
		return
	}
	c.recordInteraction(*c.lastDecision, learner.OutcomeSupersededByHuman)
}

func (c *Controller) recordInteraction(decision learner.Decision, outcome learner.Outcome) {
	rec := learner.InteractionRecord{
		Fingerprint: decision.Fingerprint,
		ProjectID:   c.projectID,
		SessionID:   c.sessionID,
		Response:    decision.Response,
		Outcome:     outcome,
		RecordedAt:  time.Now(),
		DecidedAt:   decision.DecidedAt,
	}
	c.responder.Record(rec)
	c.publish(eventbus.KindInteractionRecorded, rec)
}

func (c *Controller) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.publish(eventbus.KindControllerStateChanged, map[string]string{"state": string(s)})
}

func (c *Controller) publish(kind eventbus.Kind, payload interface{}) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Kind: kind, SessionID: c.sessionID, Payload: payload})
}
