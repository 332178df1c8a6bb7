package workflow

import (
	"time"

	"goa.design/ratchet/fault"
)

// EventType identifies a history record. The constants below are the wire
// values stored in state blobs; renaming them breaks replay of existing
// workflows.
type EventType string

const (
	// EventWorkflowCreated is the first event of every workflow.
	EventWorkflowCreated EventType = "WF_CREATED"
	// EventWorkflowCompleted records successful termination.
	EventWorkflowCompleted EventType = "WF_COMPLETED"
	// EventWorkflowFailed records terminal failure with a reason envelope.
	EventWorkflowFailed EventType = "WF_FAILED"
	// EventTimerScheduled records a new sleep task.
	EventTimerScheduled EventType = "TIMER_SCHEDULED"
	// EventTimerFired records a sleep task reaching its run_after time.
	EventTimerFired EventType = "TIMER_FIRED"
	// EventActivityScheduled records a new exec task.
	EventActivityScheduled EventType = "ACTIVITY_SCHEDULED"
	// EventActivityCompleted records an exec task finishing with a result.
	EventActivityCompleted EventType = "ACTIVITY_COMPLETED"
	// EventActivityFailed records an exec task exhausting its retries.
	EventActivityFailed EventType = "ACTIVITY_FAILED"
	// EventActivityRetry records a failed attempt that will run again.
	EventActivityRetry EventType = "ACTIVITY_RETRY"
	// EventCtxSet records a dot-path context write.
	EventCtxSet EventType = "CTX_SET"
	// EventSignal records an external signal delivery.
	EventSignal EventType = "SIGNAL"
)

// Event is one append-only history record. A single struct with optional
// fields keeps the blob encoding flat; Type dictates which fields are set.
type Event struct {
	// Type identifies the record.
	Type EventType `json:"type"`
	// TS is the engine time at which the event was appended (UTC). Every
	// event written during one tick carries that tick's time.
	TS time.Time `json:"ts"`
	// TaskID references the task the event concerns, when any.
	TaskID string `json:"task_id,omitempty"`
	// Name carries the activity correlation name (ACTIVITY_SCHEDULED) or the
	// signal name (SIGNAL).
	Name string `json:"name,omitempty"`
	// Label carries the timer correlation label (TIMER_SCHEDULED).
	Label string `json:"label,omitempty"`
	// Key is the dot-path of a context write (CTX_SET).
	Key string `json:"key,omitempty"`
	// RunAfter is the scheduled fire time (TIMER_SCHEDULED).
	RunAfter *time.Time `json:"run_after,omitempty"`
	// Tries is the attempt count at the time of the event (ACTIVITY_RETRY,
	// ACTIVITY_FAILED).
	Tries int `json:"tries,omitempty"`
	// AfterSeconds is the backoff delay granted before the next attempt
	// (ACTIVITY_RETRY).
	AfterSeconds float64 `json:"after_seconds,omitempty"`
	// Result is the recorded value (ACTIVITY_COMPLETED).
	Result *Value `json:"result,omitempty"`
	// Error is the failure envelope (ACTIVITY_FAILED).
	Error *fault.Fault `json:"error,omitempty"`
	// Reason is the terminal failure envelope (WF_FAILED).
	Reason *fault.Fault `json:"reason,omitempty"`
	// Payload is the signal body (SIGNAL).
	Payload *Value `json:"payload,omitempty"`
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	out := e
	if e.RunAfter != nil {
		at := *e.RunAfter
		out.RunAfter = &at
	}
	if e.Result != nil {
		r := e.Result.Clone()
		out.Result = &r
	}
	out.Error = cloneFault(e.Error)
	out.Reason = cloneFault(e.Reason)
	if e.Payload != nil {
		p := e.Payload.Clone()
		out.Payload = &p
	}
	return out
}

// CloneHistory deep-copies an event log.
func CloneHistory(history []Event) []Event {
	out := make([]Event, len(history))
	for i, e := range history {
		out[i] = e.Clone()
	}
	return out
}
