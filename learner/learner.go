// Package learner implements the Adaptive Responder (C4): deciding what
// to send for a classified prompt, and learning from recorded outcomes.
// The copy-on-write store generalizes the teacher's atomic-swap metadata
// pattern (service/terminal/session.go) from one struct pointer to a
// whole fingerprint-keyed map, kept consistent by a single writer
// goroutine.
package learner

import (
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"yesman-claude/promptlib"
)

// ErrStoreCorrupted is recovered by truncation in Store; if truncation
// itself fails it is fatal (exit code 3), per spec.md §7.
var ErrStoreCorrupted = errors.New("learner: store corrupted")

// Strategy tags a Decision's provenance, spec.md §3.
type Strategy string

const (
	StrategyUserOverride Strategy = "user_override"
	StrategyLearned      Strategy = "learned"
	StrategyDefaultRule  Strategy = "default_rule"
	StrategyAbstain      Strategy = "abstain"
)

// Outcome tags what happened after a Decision was applied, spec.md §3.
type Outcome string

const (
	OutcomeApplied           Outcome = "applied"
	OutcomeFailed            Outcome = "failed"
	OutcomeSupersededByHuman Outcome = "superseded_by_human"
	OutcomeUnknown           Outcome = "unknown"
)

// Scope identifies the context a decision/record belongs to.
type Scope struct {
	ProjectID string
	SessionID string
}

// Decision is the Responder's output (spec.md §3).
type Decision struct {
	Fingerprint string
	Response    string
	Confidence  float64
	Strategy    Strategy
	DecidedAt   time.Time
}

// InteractionRecord is an append-only (project, fingerprint)-scoped fact
// (spec.md §3).
type InteractionRecord struct {
	Fingerprint string
	ProjectID   string
	SessionID   string
	Response    string
	Outcome     Outcome
	RecordedAt  time.Time
	DecidedAt   time.Time
}

// Hints lets a caller force a particular branch of the decision
// procedure, e.g. forceDefault for testing.
type Hints struct {
	ForceDefault bool
}

// Config carries the tunables spec.md calls out explicitly as
// configuration (confidence threshold/margin, half-life, per-fingerprint
// cap, cross-project widening).
type Config struct {
	ConfidenceThreshold  float64
	ConfidenceMargin     float64
	HalfLifeDays         float64
	MaxRecordsPerPrint   int
	CrossProjectWidening bool
	CrossProjectWeight   float64
	FailurePenalty       float64 // α in score = applied - α·failed
}

// DefaultConfig mirrors config.Defaults()'s learner-relevant fields so
// this package can be used standalone (e.g. in tests) without importing
// the config package.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold:  0.7,
		ConfidenceMargin:     0.15,
		HalfLifeDays:         14,
		MaxRecordsPerPrint:   500,
		CrossProjectWidening: true,
		CrossProjectWeight:   0.5,
		FailurePenalty:       1.0,
	}
}

type override struct {
	response string
	oneShot  bool
	consumed bool
}

// byFingerprint maps a fingerprint to its records, oldest first.
type byFingerprint map[string][]InteractionRecord

// Responder implements the four-branch decision procedure of spec.md
// §4.4 over a copy-on-write, per-scope record store.
type Responder struct {
	cfg Config

	// perScope holds one byFingerprint per "project" or "project/session"
	// scope key; swapped atomically on every write so reads never lock.
	perScope atomic.Pointer[map[string]byFingerprint]

	overridesMu sync.Mutex
	overrides   map[string]map[string]*override // scope key -> fingerprint -> override

	writeCh chan writeReq
	store   *Store

	closeOnce sync.Once
	done      chan struct{}
}

type writeReq struct {
	scopeKey string
	record   InteractionRecord
}

// New builds a Responder. If store is non-nil its persisted records are
// loaded as the initial state and every write is queued to it for
// debounced flush.
func New(cfg Config, store *Store) *Responder {
	r := &Responder{
		cfg:       cfg,
		overrides: make(map[string]map[string]*override),
		writeCh:   make(chan writeReq, 256),
		store:     store,
		done:      make(chan struct{}),
	}
	empty := map[string]byFingerprint{}
	r.perScope.Store(&empty)

	if store != nil {
		loaded, err := store.LoadAll()
		if err == nil {
			merged := map[string]byFingerprint{}
			for scopeKey, records := range loaded {
				merged[scopeKey] = groupByFingerprint(records)
			}
			r.perScope.Store(&merged)
		}
	}

	go r.writeLoop()
	return r
}

// Close stops the writer goroutine and flushes the store unconditionally
// (spec.md §4.6: "the learner flushes unconditionally" on shutdown).
func (r *Responder) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		if r.store != nil {
			r.store.FlushNow()
			r.store.Close()
		}
	})
}

func projectKey(projectID string) string { return projectID }
func sessionKey(projectID, sessionID string) string {
	return projectID + "/" + sessionID
}

// SetOverride pins a response for fingerprint in scope, per spec.md
// §4.4 branch 1. If oneShot, it is consumed after a single Decide call.
func (r *Responder) SetOverride(scope Scope, fingerprint, response string, oneShot bool) {
	key := sessionKey(scope.ProjectID, scope.SessionID)
	r.overridesMu.Lock()
	defer r.overridesMu.Unlock()
	if r.overrides[key] == nil {
		r.overrides[key] = make(map[string]*override)
	}
	r.overrides[key][fingerprint] = &override{response: response, oneShot: oneShot}
}

// Decide implements spec.md §4.4's four branches in order.
func (r *Responder) Decide(prompt promptlib.Prompt, scope Scope, hints Hints) Decision {
	now := time.Now()

	if !hints.ForceDefault {
		if resp, ok := r.consumeOverride(scope, prompt.Fingerprint); ok {
			return Decision{Fingerprint: prompt.Fingerprint, Response: resp, Confidence: 1.0, Strategy: StrategyUserOverride, DecidedAt: now}
		}

		if resp, conf, ok := r.decideLearned(prompt, scope); ok {
			return Decision{Fingerprint: prompt.Fingerprint, Response: resp, Confidence: conf, Strategy: StrategyLearned, DecidedAt: now}
		}
	}

	resp, conf, abstain := defaultRule(prompt)
	if abstain {
		return Decision{Fingerprint: prompt.Fingerprint, Response: "", Confidence: 0, Strategy: StrategyAbstain, DecidedAt: now}
	}
	return Decision{Fingerprint: prompt.Fingerprint, Response: resp, Confidence: conf, Strategy: StrategyDefaultRule, DecidedAt: now}
}

func (r *Responder) consumeOverride(scope Scope, fingerprint string) (string, bool) {
	key := sessionKey(scope.ProjectID, scope.SessionID)
	r.overridesMu.Lock()
	defer r.overridesMu.Unlock()
	byPrint, ok := r.overrides[key]
	if !ok {
		return "", false
	}
	ov, ok := byPrint[fingerprint]
	if !ok || ov.consumed {
		return "", false
	}
	if ov.oneShot {
		ov.consumed = true
	}
	return ov.response, true
}

type candidate struct {
	response string
	score    float64
}

// decideLearned scores historical records scoped first to
// (project, session), then project, then global, per spec.md §4.4's
// widening order, applying a 0.5 weight on the widened (cross-project)
// layer when CrossProjectWidening is enabled.
func (r *Responder) decideLearned(prompt promptlib.Prompt, scope Scope) (string, float64, bool) {
	perScope := *r.perScope.Load()

	sessionRecords := perScope[sessionKey(scope.ProjectID, scope.SessionID)][prompt.Fingerprint]
	projectRecords := perScope[projectKey(scope.ProjectID)][prompt.Fingerprint]

	scored := map[string]float64{}
	accumulate(scored, sessionRecords, 1.0, r.cfg)
	accumulate(scored, projectRecords, 1.0, r.cfg)

	if r.cfg.CrossProjectWidening {
		for key, byPrint := range perScope {
			if key == projectKey(scope.ProjectID) || key == sessionKey(scope.ProjectID, scope.SessionID) {
				continue
			}
			accumulate(scored, byPrint[prompt.Fingerprint], r.cfg.CrossProjectWeight, r.cfg)
		}
	}

	if len(scored) == 0 {
		return "", 0, false
	}

	candidates := make([]candidate, 0, len(scored))
	for resp, score := range scored {
		candidates = append(candidates, candidate{response: resp, score: score})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	top := candidates[0]
	total := lo.SumBy(candidates, func(c candidate) float64 { return math.Max(c.score, 0) })
	if total <= 0 {
		return "", 0, false
	}
	confidence := top.score / total

	if confidence < r.cfg.ConfidenceThreshold {
		return "", 0, false
	}
	if len(candidates) > 1 {
		runnerUp := candidates[1]
		runnerConfidence := runnerUp.score / total
		if confidence-runnerConfidence < r.cfg.ConfidenceMargin {
			// Contradictory history: near-tie, never guess between them.
			return "", 0, false
		}
	}
	return top.response, confidence, true
}

func accumulate(scored map[string]float64, records []InteractionRecord, weight float64, cfg Config) {
	now := time.Now()
	for _, rec := range records {
		ageDays := now.Sub(rec.RecordedAt).Hours() / 24
		decay := math.Pow(0.5, ageDays/cfg.HalfLifeDays)
		var delta float64
		switch rec.Outcome {
		case OutcomeApplied:
			delta = decay
		case OutcomeFailed:
			delta = -cfg.FailurePenalty * decay
		default:
			continue
		}
		scored[rec.Response] += delta * weight
	}
}

// defaultRule implements spec.md §4.4 branch 3.
func defaultRule(prompt promptlib.Prompt) (response string, confidence float64, abstain bool) {
	switch prompt.Kind {
	case promptlib.KindYesNo, promptlib.KindTrustWorkspace:
		for _, opt := range prompt.Options {
			if opt.Label == "yes" {
				return "yes", 0.5, false
			}
		}
		return "y", 0.5, false
	case promptlib.KindNumberedSelection, promptlib.KindBinarySelection:
		return "1", 0.5, false
	case promptlib.KindContinuation:
		return "", 0.5, false
	case promptlib.KindLogin, promptlib.KindUnknown:
		return "", 0, true
	default:
		return "", 0, true
	}
}

// Record appends an InteractionRecord and queues the mutation for the
// single writer goroutine; returns immediately (non-blocking unless the
// internal queue of 256 pending writes is full, matching the bounded
// mailbox discipline used elsewhere in this module).
func (r *Responder) Record(rec InteractionRecord) {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	key := sessionKey(rec.ProjectID, rec.SessionID)
	r.writeCh <- writeReq{scopeKey: key, record: rec}
}

func (r *Responder) writeLoop() {
	for {
		select {
		case <-r.done:
			return
		case req := <-r.writeCh:
			r.applyWrite(req)
		}
	}
}

func (r *Responder) applyWrite(req writeReq) {
	current := *r.perScope.Load()
	next := make(map[string]byFingerprint, len(current)+2)
	for k, v := range current {
		next[k] = v
	}

	for _, key := range []string{req.scopeKey, projectKey(req.record.ProjectID)} {
		byPrint := next[key]
		clone := make(byFingerprint, len(byPrint)+1)
		for k, v := range byPrint {
			clone[k] = v
		}
		records := append(append([]InteractionRecord{}, clone[req.record.Fingerprint]...), req.record)
		if len(records) > r.cfg.MaxRecordsPerPrint {
			records = records[len(records)-r.cfg.MaxRecordsPerPrint:]
		}
		clone[req.record.Fingerprint] = records
		next[key] = clone
	}

	r.perScope.Store(&next)

	if r.store != nil {
		r.store.Enqueue(req.record.ProjectID, req.record)
	}
}

func groupByFingerprint(records []InteractionRecord) byFingerprint {
	return lo.GroupBy(records, func(r InteractionRecord) string { return r.Fingerprint })
}
