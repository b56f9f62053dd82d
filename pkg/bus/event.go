// Package bus provides an in-process, typed publish/subscribe event bus
// for binding EVOSEAL's subsystems together without direct references
// between them.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies how serious an ErrorEvent is.
type Severity string

// Recognized severities for ErrorEvent.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event is the immutable record routed by the Bus. Specializations
// (ComponentEvent, ProgressEvent, ErrorEvent, MetricsEvent,
// StateChangeEvent) carry their typed fields inside Payload and also
// expose them as top-level fields for callers that know the shape in
// advance; Payload is always populated so generic subscribers (log
// sinks, history) never need to type-switch.
type Event struct {
	// ID uniquely identifies this event instance, set by NewEvent.
	// Subscribers use it to correlate an event with downstream effects
	// (e.g. a checkpoint or rollback history entry) without relying on
	// Timestamp, which is not guaranteed unique.
	ID string

	// Type identifies the event's semantic kind, e.g. "WORKFLOW_STARTED",
	// "ROLLBACK_COMPLETED". There is no closed enum: new stages and
	// components introduce new types without a central registry.
	Type string

	// Source names the component or subsystem that published the event.
	Source string

	// Payload carries the event's data as a generic map so the bus does
	// not need to know about every specialization.
	Payload map[string]any

	// Timestamp records creation time, set by NewEvent.
	Timestamp time.Time

	// Context carries ambient metadata (run ID, version ID, correlation
	// ID) that subscribers may use for filtering or logging.
	Context map[string]any

	// stop is shared by every copy of this Event, so a handler calling
	// StopPropagation on the copy it received is visible to the
	// publishing Bus. Events must be built with NewEvent for propagation
	// control to work; a zero-value Event cannot be stopped.
	stop *stopFlag
}

type stopFlag struct {
	stopped bool
}

// NewEvent constructs an Event with Timestamp set to now and Payload/
// Context initialized to empty maps if nil is passed.
func NewEvent(eventType, source string, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Payload:   payload,
		Timestamp: time.Now(),
		Context:   map[string]any{},
		stop:      &stopFlag{},
	}
}

// StopPropagation marks the event so that publish stops invoking
// lower-priority handlers after the current one returns.
func (e Event) StopPropagation() {
	if e.stop != nil {
		e.stop.stopped = true
	}
}

// Stopped reports whether a handler has called StopPropagation.
func (e Event) Stopped() bool {
	return e.stop != nil && e.stop.stopped
}

// Well-known event types emitted by EVOSEAL's core components. Keeping
// these as string constants (rather than an exhaustive closed enum)
// matches the bus's open Type field while still giving subscribers
// compile-time-checked names to match against.
const (
	EventWorkflowStarted   = "WORKFLOW_STARTED"
	EventWorkflowCompleted = "WORKFLOW_COMPLETED"
	EventWorkflowFailed    = "WORKFLOW_FAILED"
	EventWorkflowPaused    = "WORKFLOW_PAUSED"

	EventStageStarted   = "STAGE_STARTED"
	EventStageCompleted = "STAGE_COMPLETED"
	EventStageFailed    = "STAGE_FAILED"

	EventBaselineEstablished = "BASELINE_ESTABLISHED"
	EventRegressionAlert     = "REGRESSION_ALERT"

	EventRollbackInitiated          = "ROLLBACK_INITIATED"
	EventRollbackCompleted          = "ROLLBACK_COMPLETED"
	EventRollbackFailed             = "ROLLBACK_FAILED"
	EventRollbackVerificationPassed = "ROLLBACK_VERIFICATION_PASSED"
	EventRollbackVerificationFailed = "ROLLBACK_VERIFICATION_FAILED"
	EventCascadingRollbackStarted   = "CASCADING_ROLLBACK_STARTED"
	EventCascadingRollbackCompleted = "CASCADING_ROLLBACK_COMPLETED"
)

// ComponentEvent is the typed shape for events about a registered
// component's lifecycle or operation invocation.
type ComponentEvent struct {
	ComponentType string
	ComponentID   string
	Operation     string
}

// ToPayload renders the typed fields into a generic Payload map.
func (c ComponentEvent) ToPayload() map[string]any {
	return map[string]any{
		"componentType": c.ComponentType,
		"componentId":   c.ComponentID,
		"operation":     c.Operation,
	}
}

// ProgressEvent is the typed shape for progress-reporting events.
type ProgressEvent struct {
	Current    int
	Total      int
	Stage      string
	Percentage float64
}

// ToPayload renders the typed fields into a generic Payload map.
func (p ProgressEvent) ToPayload() map[string]any {
	return map[string]any{
		"current":    p.Current,
		"total":      p.Total,
		"stage":      p.Stage,
		"percentage": p.Percentage,
	}
}

// ErrorEvent is the typed shape for error-reporting events.
type ErrorEvent struct {
	ErrorType   string
	Message     string
	Severity    Severity
	Recoverable bool
}

// ToPayload renders the typed fields into a generic Payload map.
func (e ErrorEvent) ToPayload() map[string]any {
	return map[string]any{
		"errorType":   e.ErrorType,
		"message":     e.Message,
		"severity":    string(e.Severity),
		"recoverable": e.Recoverable,
	}
}

// MetricsEvent is the typed shape for metrics-snapshot events.
type MetricsEvent struct {
	Metrics           map[string]float64
	ThresholdExceeded bool
}

// ToPayload renders the typed fields into a generic Payload map.
func (m MetricsEvent) ToPayload() map[string]any {
	return map[string]any{
		"metrics":           m.Metrics,
		"thresholdExceeded": m.ThresholdExceeded,
	}
}

// StateChangeEvent is the typed shape for entity state-transition
// events (workflow stage changes, component status changes, version
// accept/reject decisions).
type StateChangeEvent struct {
	OldState   string
	NewState   string
	EntityType string
	EntityID   string
}

// ToPayload renders the typed fields into a generic Payload map.
func (s StateChangeEvent) ToPayload() map[string]any {
	return map[string]any{
		"oldState":   s.OldState,
		"newState":   s.NewState,
		"entityType": s.EntityType,
		"entityId":   s.EntityID,
	}
}
