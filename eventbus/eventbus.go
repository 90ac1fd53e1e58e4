// Package eventbus implements the process-wide publish/subscribe bus
// described in spec.md §4.8: bounded per-subscriber queues, best-effort
// ordered-per-publisher delivery, and drop-the-subscriber-not-the-stream
// backpressure. It generalizes the teacher's per-session subscriber
// fan-out (service/terminal/session.go's subscribers map + broadcast) to
// a single process-wide bus shared by every controller.
package eventbus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"yesman-claude/idgen"
)

// Kind discriminates event payloads; see spec.md §4.8.
type Kind string

const (
	KindControllerStateChanged Kind = "controller_state_changed"
	KindPromptDetected         Kind = "prompt_detected"
	KindDecisionMade           Kind = "decision_made"
	KindResponseSent           Kind = "response_sent"
	KindInteractionRecorded    Kind = "interaction_recorded"
	KindCollectorDegraded      Kind = "collector_degraded"
	KindSubscriberLagged       Kind = "subscriber_lagged"
)

// Event is the wire shape delivered to subscribers, matching the HTTP
// stream's {kind, sessionId, payload, at} contract from spec.md §6.
type Event struct {
	Kind      Kind        `json:"kind"`
	SessionID string      `json:"sessionId,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	At        time.Time   `json:"at"`
}

// Filter narrows a subscription to a set of session ids and/or kinds;
// empty slices mean "no restriction" on that dimension.
type Filter struct {
	SessionIDs []string
	Kinds      []Kind
}

func (f Filter) matches(e Event) bool {
	if len(f.SessionIDs) > 0 && !containsString(f.SessionIDs, e.SessionID) {
		return false
	}
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, e.Kind) {
		return false
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsKind(haystack []Kind, needle Kind) bool {
	for _, k := range haystack {
		if k == needle {
			return true
		}
	}
	return false
}

// Subscription is a live subscriber handle. Events() yields the filtered
// stream; Close unsubscribes and is idempotent.
type Subscription struct {
	ID     string
	events chan Event
	bus    *Bus
	once   sync.Once
}

// Events returns the channel events are delivered on. It is closed when
// the subscriber is removed, whether by explicit Close or by lag
// termination (in which case one final SubscriberLagged event precedes
// the close).
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close unsubscribes. Safe to call multiple times and from any goroutine.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s.ID)
	})
}

type subscriber struct {
	id     string
	filter Filter
	events chan Event
	closed chan struct{}
	once   sync.Once
}

func (s *subscriber) closeChan() {
	s.once.Do(func() {
		close(s.closed)
		close(s.events)
	})
}

// Bus is the process-wide event bus; the zero value is not usable, build
// one with New.
type Bus struct {
	logger      *zap.Logger
	queueDepth  int
	mu          sync.RWMutex
	subscribers map[string]*subscriber
}

// New builds a Bus whose subscriber queues are queueDepth deep (spec.md
// §4.8/§6: default 256).
func New(logger *zap.Logger, queueDepth int) *Bus {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Bus{
		logger:      logger,
		queueDepth:  queueDepth,
		subscribers: make(map[string]*subscriber),
	}
}

// Subscribe registers a new subscriber matching filter and returns its
// handle.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	sub := &subscriber{
		id:     idgen.NewWithPrefix("sub"),
		filter: filter,
		events: make(chan Event, b.queueDepth),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()
	return &Subscription{ID: sub.id, events: sub.events, bus: b}
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if ok {
		sub.closeChan()
	}
}

// Publish delivers e to every matching subscriber without blocking. A
// subscriber whose queue is full is terminated: it receives one final
// SubscriberLagged event (best-effort) and its channel is then closed;
// other subscribers are never affected by one subscriber's lag, matching
// invariant 5 in spec.md §8.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.filter.matches(e) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.events <- e:
		default:
			b.lag(sub, e)
		}
	}
}

func (b *Bus) lag(sub *subscriber, missed Event) {
	if b.logger != nil {
		b.logger.Warn("eventbus: subscriber lagged, terminating",
			zap.String("subscriber_id", sub.id),
			zap.String("missed_kind", string(missed.Kind)))
	}
	b.mu.Lock()
	_, ok := b.subscribers[sub.id]
	if ok {
		delete(b.subscribers, sub.id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	// Make room for the terminal event: the subscriber is being dropped
	// anyway, so discarding its oldest buffered message to guarantee
	// delivery of SubscriberLagged is preferable to silently vanishing.
	select {
	case <-sub.events:
	default:
	}
	select {
	case sub.events <- Event{Kind: KindSubscriberLagged, SessionID: missed.SessionID, At: time.Now()}:
	default:
	}
	sub.closeChan()
}

// SubscriberCount reports the number of live subscribers, for diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
