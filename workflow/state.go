// Package workflow defines the persisted data model of the engine: the
// per-workflow state blob, its tasks, leases, history events, the commands
// deciders emit, and the decider registry.
//
// One workflow is one JSON blob. Everything the engine knows about a
// workflow — context, history, tasks, signals, scheduling hints — lives in
// that blob and changes only through compare-and-swap writes, which is what
// makes the engine safe to run from any number of stateless workers.
package workflow

import (
	"fmt"
	"time"

	"goa.design/ratchet/fault"
)

// Status reports the lifecycle state of a workflow.
type Status string

const (
	// StatusRunning indicates the workflow still has work to do.
	StatusRunning Status = "running"
	// StatusCompleted indicates the workflow finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the workflow failed terminally.
	StatusFailed Status = "failed"
	// StatusCancelled indicates the workflow was cancelled by an operator.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final. Terminal workflows never
// schedule new tasks and their deciders never run again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// TaskType discriminates the two scheduled work shapes.
type TaskType string

const (
	// TaskSleep is a durable timer.
	TaskSleep TaskType = "sleep"
	// TaskExec is an activity execution request.
	TaskExec TaskType = "exec"
)

// TaskStatus reports the lifecycle state of a task.
type TaskStatus string

const (
	// TaskPending means the task is waiting for its run_after time.
	TaskPending TaskStatus = "pending"
	// TaskLeased means a worker holds the task under a fenced lease.
	TaskLeased TaskStatus = "leased"
	// TaskCompleted means the task finished and recorded a result.
	TaskCompleted TaskStatus = "completed"
	// TaskFailed means the task exhausted its retries.
	TaskFailed TaskStatus = "failed"
)

// Terminal reports whether the task status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

type (
	// State is the single source of truth for one workflow. It serializes to
	// the JSON blob stored at <prefix><id>.json and is only ever replaced
	// wholesale via CAS.
	State struct {
		// ID is the caller-chosen workflow identifier.
		ID string `json:"id"`
		// Rev increases by exactly one on every successful persisted
		// mutation. It is informational; conflict detection uses the store's
		// opaque CAS token.
		Rev int64 `json:"rev"`
		// Status is the workflow lifecycle state.
		Status Status `json:"status"`
		// CreatedAt is the creation timestamp (UTC).
		CreatedAt time.Time `json:"created_at"`
		// UpdatedAt is the timestamp of the last persisted mutation (UTC).
		UpdatedAt time.Time `json:"updated_at"`
		// Decider names the registered decider that drives this workflow.
		Decider string `json:"decider"`
		// Ctx is the user-visible workflow context, addressable through
		// dot-path writes. The subtree under "$wf" is interpreter
		// bookkeeping and must not be written by user code.
		Ctx Value `json:"ctx"`
		// History is the append-only event log. Events are never rewritten
		// or reordered; replay correctness depends on it.
		History []Event `json:"history"`
		// Tasks holds every scheduled task keyed by task id.
		Tasks map[string]*Task `json:"tasks"`
		// Signals is the append-only list of received signals, mirrored as
		// SIGNAL events in history.
		Signals []Signal `json:"signals"`
		// NeedDecide is set whenever new facts (timer fired, activity
		// completed, signal received) require the decider to run on the next
		// tick.
		NeedDecide bool `json:"need_decide"`
		// NextWake is the earliest future obligation: the minimum run_after
		// across pending tasks and lease expiry across leased tasks, or nil
		// when nothing is outstanding.
		NextWake *time.Time `json:"next_wake"`
		// Seq is the task id counter.
		Seq int64 `json:"seq"`
	}

	// Task is one scheduled unit of work: a durable timer (sleep) or an
	// activity execution (exec).
	Task struct {
		// ID is minted from the workflow's Seq counter as t%06d.
		ID string `json:"id"`
		// Type discriminates sleep from exec.
		Type TaskType `json:"type"`
		// Status is the task lifecycle state.
		Status TaskStatus `json:"status"`
		// RunAfter is the earliest time the task may fire (sleep) or be
		// reserved (exec). Retries push it forward by the backoff delay.
		RunAfter time.Time `json:"run_after"`
		// Result is the recorded completion value, if any.
		Result *Value `json:"result,omitempty"`
		// Error is the recorded failure envelope, if any.
		Error *fault.Fault `json:"error,omitempty"`

		// Label correlates sleep tasks with interpreter effects ("S:<eid>").
		Label string `json:"label,omitempty"`

		// Name correlates exec tasks with interpreter effects ("E:<eid>").
		Name string `json:"name,omitempty"`
		// Code is the runner payload: {action, input}.
		Code *Value `json:"code,omitempty"`
		// IdemKey is an optional caller idempotency key, recorded verbatim.
		IdemKey string `json:"idem_key,omitempty"`
		// Tries counts failed attempts so far.
		Tries int `json:"tries,omitempty"`
		// MaxTries bounds attempts before the task, and the workflow, fail.
		MaxTries int `json:"max_tries,omitempty"`
		// RetryDelays optionally overrides backoff: delay in seconds for
		// each retry, indexed by tries-1.
		RetryDelays []float64 `json:"retry_delays,omitempty"`
		// Lease is the current reservation, nil when not leased.
		Lease *Lease `json:"lease,omitempty"`
		// Fence increments on every reservation. A lease token equals the
		// fence value at reservation time, so stale tokens always compare
		// lower than the current fence.
		Fence int64 `json:"fence,omitempty"`
	}

	// Lease records an exclusive, expiring claim on an exec task.
	Lease struct {
		// Owner is the reserving worker's id.
		Owner string `json:"owner"`
		// ExpiresAt is when the claim lapses and the task becomes
		// re-reservable.
		ExpiresAt time.Time `json:"expires_at"`
		// Token is the fencing token for this reservation.
		Token int64 `json:"token"`
	}

	// Signal is an external event delivered to a workflow by name.
	Signal struct {
		// Name routes the signal to waiting receive effects.
		Name string `json:"name"`
		// Payload is the signal body.
		Payload Value `json:"payload"`
		// TS is the delivery timestamp (UTC).
		TS time.Time `json:"ts"`
	}
)

// MintTaskID advances the task counter and returns the new id.
func (s *State) MintTaskID() string {
	s.Seq++
	return fmt.Sprintf("t%06d", s.Seq)
}

// Task returns the task with the given id, or nil.
func (s *State) Task(id string) *Task {
	return s.Tasks[id]
}

// AppendEvent appends to the history log.
func (s *State) AppendEvent(e Event) {
	s.History = append(s.History, e)
}

// RecomputeNextWake re-derives NextWake from the task set: the minimum of
// run_after over pending tasks and lease expiry over leased tasks.
func (s *State) RecomputeNextWake() {
	var next *time.Time
	consider := func(t time.Time) {
		if next == nil || t.Before(*next) {
			at := t
			next = &at
		}
	}
	for _, task := range s.Tasks {
		switch task.Status {
		case TaskPending:
			consider(task.RunAfter)
		case TaskLeased:
			if task.Lease != nil {
				consider(task.Lease.ExpiresAt)
			}
		}
	}
	s.NextWake = next
}

// Clone returns a deep copy of the state. The engine hands clones to
// deciders and reserve callers so user code cannot mutate persisted state
// through shared references.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Ctx = s.Ctx.Clone()
	out.History = CloneHistory(s.History)
	out.Tasks = make(map[string]*Task, len(s.Tasks))
	for id, t := range s.Tasks {
		out.Tasks[id] = t.Clone()
	}
	out.Signals = make([]Signal, len(s.Signals))
	for i, sig := range s.Signals {
		out.Signals[i] = Signal{Name: sig.Name, Payload: sig.Payload.Clone(), TS: sig.TS}
	}
	if s.NextWake != nil {
		at := *s.NextWake
		out.NextWake = &at
	}
	return &out
}

// Reservable reports whether an exec task can be leased at the given time:
// pending with run_after due, or leased with an expired lease.
func (t *Task) Reservable(now time.Time) bool {
	if t.Type != TaskExec {
		return false
	}
	switch t.Status {
	case TaskPending:
		return !t.RunAfter.After(now)
	case TaskLeased:
		return t.Lease != nil && !t.Lease.ExpiresAt.After(now)
	default:
		return false
	}
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	if t.Result != nil {
		r := t.Result.Clone()
		out.Result = &r
	}
	out.Error = cloneFault(t.Error)
	if t.Code != nil {
		c := t.Code.Clone()
		out.Code = &c
	}
	if t.RetryDelays != nil {
		out.RetryDelays = make([]float64, len(t.RetryDelays))
		copy(out.RetryDelays, t.RetryDelays)
	}
	if t.Lease != nil {
		l := *t.Lease
		out.Lease = &l
	}
	return &out
}

func cloneFault(f *fault.Fault) *fault.Fault {
	if f == nil {
		return nil
	}
	out := *f
	out.Cause = cloneFault(f.Cause)
	return &out
}
