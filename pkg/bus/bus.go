package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler processes a published Event. A non-nil return is logged and
// recorded in the bus's failure metrics; it never stops the bus from
// invoking the remaining handlers for that event (only StopPropagation
// on the event itself does that).
type Handler func(ctx context.Context, event Event) error

// Filter decides whether a subscription should receive a given event.
// A nil Filter matches every event of the subscribed type.
type Filter func(event Event) bool

// Logger is the narrow logging seam the bus writes handler failures
// through. *log.Logger and most structured loggers satisfy it via a
// thin adapter; the default logs to nowhere so tests stay quiet.
type Logger interface {
	Printf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

// Subscription is returned by Subscribe. Calling Unsubscribe removes
// the handler; it is safe to call more than once.
type Subscription struct {
	bus *Bus
	id  uint64
}

// Unsubscribe removes the handler this subscription was created for.
func (s Subscription) Unsubscribe() {
	if s.bus == nil {
		return
	}
	s.bus.unsubscribe(s.id)
}

type subscriber struct {
	id        uint64
	eventType string // "" means all events
	handler   Handler
	priority  int
	filter    Filter
}

// Metrics is a point-in-time snapshot of bus activity.
type Metrics struct {
	PublishedByType map[string]int64
	HandlerErrors   int64
	HistorySize     int
}

// Bus routes published events to subscribers in descending priority
// order, isolating handler failures so one bad subscriber cannot break
// delivery to the rest. Dispatch for a single Publish call is
// single-threaded and synchronous; concurrency across events is the
// caller's responsibility, matching the cooperative dispatch contract
// components are built against.
type Bus struct {
	mu            sync.RWMutex
	nextID        uint64
	subscribers   []subscriber // all subscribers, re-sorted on change
	history       []Event
	historyCap    int
	historyCursor int
	historyFull   bool
	published     map[string]int64
	handlerErrors int64
	logger        Logger
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithHistoryCapacity overrides the default 1000-event ring buffer
// size used by GetHistory.
func WithHistoryCapacity(n int) Option {
	return func(b *Bus) { b.historyCap = n }
}

// WithLogger overrides the default no-op handler-failure logger.
func WithLogger(l Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New constructs an empty Bus ready to accept subscriptions.
func New(opts ...Option) *Bus {
	b := &Bus{
		historyCap: 1000,
		published:  make(map[string]int64),
		logger:     noopLogger{},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.historyCap > 0 {
		b.history = make([]Event, b.historyCap)
	}
	return b
}

// Subscribe registers handler for events of eventType (empty string
// means all event types), returning a Subscription whose Unsubscribe
// removes it. Handlers with higher priority run first; filter, if
// non-nil, is consulted before the handler runs and a non-matching
// event skips the handler entirely without counting as an error.
func (b *Bus) Subscribe(eventType string, handler Handler, priority int, filter Filter) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subscribers = append(b.subscribers, subscriber{
		id:        id,
		eventType: eventType,
		handler:   handler,
		priority:  priority,
		filter:    filter,
	})
	b.resort()
	return Subscription{bus: b, id: id}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subscribers {
		if s.id == id {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// resort keeps subscribers ordered by descending priority, with ties
// broken by subscription order (stable sort on insertion id) so
// repeated publishes are deterministic. Must be called with mu held.
func (b *Bus) resort() {
	sort.SliceStable(b.subscribers, func(i, j int) bool {
		return b.subscribers[i].priority > b.subscribers[j].priority
	})
}

// Publish dispatches event to every matching subscriber for its Type,
// then to every subscriber registered for all event types, in
// descending priority order within each group, stopping early if a
// handler calls event.StopPropagation(). A handler's error is logged
// and counted but never stops dispatch or propagates to the caller.
// The (possibly mutated, e.g. StopPropagation'd) event is returned.
func (b *Bus) Publish(ctx context.Context, event Event) Event {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	b.mu.Lock()
	b.published[event.Type]++
	b.recordHistory(event)
	b.mu.Unlock()

	// Typed subscribers first, then catch-all subscribers, each group
	// already sorted by descending priority.
	for _, pass := range []bool{true, false} {
		for _, s := range subs {
			matchesType := s.eventType == event.Type
			isCatchAll := s.eventType == ""
			if pass && !matchesType {
				continue
			}
			if !pass && !isCatchAll {
				continue
			}
			if s.filter != nil && !s.filter(event) {
				continue
			}
			if err := b.invoke(ctx, s.handler, event); err != nil {
				b.mu.Lock()
				b.handlerErrors++
				b.mu.Unlock()
				b.logger.Printf("bus: handler error for event %q from %q: %v", event.Type, event.Source, err)
			}
			if event.Stopped() {
				return event
			}
		}
	}
	return event
}

// invoke runs a handler, converting a panic into an error so one
// misbehaving subscriber cannot crash the publisher's goroutine.
func (b *Bus) invoke(ctx context.Context, h Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, event)
}

// PublishBatch publishes each event in events in order, preserving
// input order. Individual handler failures are isolated exactly as in
// Publish; one event's handlers stopping propagation does not affect
// delivery of subsequent events in the batch.
func (b *Bus) PublishBatch(ctx context.Context, events []Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = b.Publish(ctx, e)
	}
	return out
}

// recordHistory appends event to the bounded ring buffer. Must be
// called with mu held.
func (b *Bus) recordHistory(event Event) {
	if b.historyCap == 0 {
		return
	}
	b.history[b.historyCursor] = event
	b.historyCursor = (b.historyCursor + 1) % b.historyCap
	if b.historyCursor == 0 {
		b.historyFull = true
	}
}

// GetHistory returns up to limit of the most recently published
// events, newest last. limit<=0 returns the entire retained history.
func (b *Bus) GetHistory(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var ordered []Event
	if b.historyFull {
		ordered = append(ordered, b.history[b.historyCursor:]...)
		ordered = append(ordered, b.history[:b.historyCursor]...)
	} else {
		ordered = append(ordered, b.history[:b.historyCursor]...)
	}

	if limit <= 0 || limit >= len(ordered) {
		return ordered
	}
	return ordered[len(ordered)-limit:]
}

// GetMetrics returns a snapshot of per-type publish counters and the
// cumulative count of handler errors observed so far.
func (b *Bus) GetMetrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()

	byType := make(map[string]int64, len(b.published))
	for k, v := range b.published {
		byType[k] = v
	}
	size := b.historyCursor
	if b.historyFull {
		size = b.historyCap
	}
	return Metrics{
		PublishedByType: byType,
		HandlerErrors:   b.handlerErrors,
		HistorySize:     size,
	}
}
