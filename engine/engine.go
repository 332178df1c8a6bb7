// Package engine implements the tick-based durable workflow engine.
//
// The engine owns no infrastructure and keeps no in-process state: every
// operation loads one workflow blob, applies a pure transition, and writes
// the result back with a compare-and-swap. Any number of stateless workers —
// long-lived processes or one-shot serverless invocations — can drive the
// same workflows concurrently; the CAS makes exactly one writer win per
// revision and everyone else retry on fresh state.
//
// # Ticks
//
// Progress happens in ticks. A tick fires due timers, runs the workflow's
// decider when new facts demand it, folds the resulting commands into state,
// and recomputes the next wake-up time. Ticks are idempotent in effect:
// ticking a quiescent workflow changes nothing but its revision.
//
// # Leases and fencing
//
// Workers reserve ready exec tasks under expiring leases. Every reservation
// increments the task's fence and the lease token equals the fence value, so
// a worker that lost its lease — crash, pause, partition — can never commit
// a completion over a newer reservation: its token no longer matches.
//
// # Time
//
// Every operation takes the current time as an argument. The engine never
// reads the wall clock, which keeps transitions replayable and lets tests
// drive workflows through simulated time.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goa.design/ratchet/blob"
	"goa.design/ratchet/fault"
	"goa.design/ratchet/telemetry"
	"goa.design/ratchet/workflow"
)

var (
	// ErrWorkflowNotFound is returned when no state blob exists for the id.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrWorkflowExists is returned by Create when the id is taken.
	ErrWorkflowExists = errors.New("workflow already exists")
	// ErrUnknownDecider is returned when a workflow references a decider the
	// registry does not know.
	ErrUnknownDecider = errors.New("unknown decider")
	// ErrLeaseLost is returned by ExtendLease when the caller no longer
	// holds the lease it is trying to extend.
	ErrLeaseLost = errors.New("lease lost")
)

// errSkipWrite is returned by update closures to signal that the operation
// resolved without mutating state (idempotent duplicate, nothing to
// reserve). The CAS put is skipped.
var errSkipWrite = errors.New("skip write")

const (
	// DefaultPrefix namespaces state blob keys.
	DefaultPrefix = "wf/"
	// DefaultMaxTries bounds activity attempts when a schedule does not say
	// otherwise.
	DefaultMaxTries = 3
)

type (
	// Options parameterizes New.
	Options struct {
		// Store persists workflow state blobs. Required.
		Store blob.Store
		// Deciders resolves decider names recorded in workflow state.
		// Required.
		Deciders *workflow.Registry
		// Prefix namespaces blob keys. Defaults to DefaultPrefix.
		Prefix string
		// Logger receives debug and error records. Defaults to a no-op.
		Logger telemetry.Logger
		// Metrics receives counters and timers. Defaults to a no-op.
		Metrics telemetry.Metrics
	}

	// Engine executes workflow state transitions against a blob store.
	Engine struct {
		store    blob.Store
		deciders *workflow.Registry
		prefix   string
		log      telemetry.Logger
		metrics  telemetry.Metrics
	}

	// TickResult reports the outcome of one tick.
	TickResult struct {
		// Rev is the state revision after the tick.
		Rev int64
		// Status is the workflow status after the tick.
		Status workflow.Status
		// NextWake is the recomputed earliest future obligation, nil when
		// none exists.
		NextWake *time.Time
	}

	// Completion reports one activity attempt's outcome.
	Completion struct {
		// TaskID identifies the exec task.
		TaskID string
		// Result is the success value. Ignored when Err is set.
		Result workflow.Value
		// Err is the failure envelope; nil means success.
		Err *fault.Fault
		// LeaseToken fences the completion against re-reservations. Zero
		// skips the token comparison and relies on lease status alone.
		LeaseToken int64
	}

	// CompleteResult reports the outcome of CompleteActivity.
	CompleteResult struct {
		// Already reports that the completion was a duplicate or stale; no
		// state changed.
		Already bool
		// Status is the workflow status after the call.
		Status workflow.Status
		// Rev is the state revision after the call.
		Rev int64
	}
)

// New validates the options and returns an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Deciders == nil {
		return nil, fmt.Errorf("decider registry is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Engine{
		store:    opts.Store,
		deciders: opts.Deciders,
		prefix:   prefix,
		log:      logger,
		metrics:  metrics,
	}, nil
}

func (e *Engine) key(id string) string {
	return e.prefix + id
}

// Create initializes a new workflow with the given decider name and initial
// context and persists it with a create-only write. The first tick, not
// Create, runs the decider; the name is resolved then, so a process that
// only creates workflows needs no deciders registered. A null initial
// context becomes the empty object.
func (e *Engine) Create(ctx context.Context, id, decider string, initialCtx workflow.Value, now time.Time) (*workflow.State, error) {
	if id == "" {
		return nil, fmt.Errorf("workflow id is required")
	}
	if decider == "" {
		return nil, fmt.Errorf("decider name is required")
	}
	if initialCtx.IsNull() {
		initialCtx = workflow.Object(nil)
	}
	if initialCtx.Kind() != workflow.KindObject {
		return nil, fmt.Errorf("initial context for workflow %q must be an object", id)
	}
	now = now.UTC()
	s := &workflow.State{
		ID:         id,
		Rev:        1,
		Status:     workflow.StatusRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
		Decider:    decider,
		Ctx:        initialCtx.Clone(),
		History:    []workflow.Event{{Type: workflow.EventWorkflowCreated, TS: now}},
		Tasks:      make(map[string]*workflow.Task),
		NeedDecide: true,
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding workflow %q: %w", id, err)
	}
	if _, err := e.store.Put(ctx, e.key(id), data, ""); err != nil {
		if errors.Is(err, blob.ErrConflict) {
			return nil, fmt.Errorf("%w: %q", ErrWorkflowExists, id)
		}
		return nil, fmt.Errorf("creating workflow %q: %w", id, err)
	}
	e.log.Debug(ctx, "workflow created", "workflow", id, "decider", decider)
	return s, nil
}

// Load returns the current state of a workflow.
func (e *Engine) Load(ctx context.Context, id string) (*workflow.State, error) {
	rec, err := e.store.Get(ctx, e.key(id))
	if err != nil {
		return nil, fmt.Errorf("loading workflow %q: %w", id, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %q", ErrWorkflowNotFound, id)
	}
	s, err := decodeState(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding workflow %q: %w", id, err)
	}
	return s, nil
}

// Tick advances one workflow: fire due timers, run the decider when new
// facts require it, fold its commands into state, recompute next_wake, and
// persist. Tick always writes (a quiescent tick still bumps the revision);
// decider errors abort the tick with no state written.
func (e *Engine) Tick(ctx context.Context, id string, now time.Time) (TickResult, error) {
	start := time.Now()
	now = now.UTC()
	s, err := e.update(ctx, id, now, func(s *workflow.State) error {
		e.fireTimers(s, now)
		if s.Status == workflow.StatusRunning && s.NeedDecide {
			if err := e.decide(s, now); err != nil {
				return err
			}
		}
		s.RecomputeNextWake()
		return nil
	})
	if err != nil {
		return TickResult{}, err
	}
	e.metrics.IncCounter(telemetry.MetricTicks, 1, "status", string(s.Status))
	e.metrics.RecordTimer(telemetry.MetricTickDuration, time.Since(start))
	e.log.Debug(ctx, "tick applied", "workflow", id, "rev", s.Rev, "status", string(s.Status))
	return TickResult{Rev: s.Rev, Status: s.Status, NextWake: s.NextWake}, nil
}

// fireTimers completes every due sleep task. Task id order keeps the event
// sequence deterministic.
func (e *Engine) fireTimers(s *workflow.State, now time.Time) {
	for _, id := range sortedTaskIDs(s) {
		t := s.Tasks[id]
		if t.Type != workflow.TaskSleep || t.Status != workflow.TaskPending || t.RunAfter.After(now) {
			continue
		}
		t.Status = workflow.TaskCompleted
		s.AppendEvent(workflow.Event{Type: workflow.EventTimerFired, TS: now, TaskID: id})
		s.NeedDecide = true
	}
}

// decide invokes the workflow's decider over copies of its context and
// history and applies the commands it returns.
func (e *Engine) decide(s *workflow.State, now time.Time) error {
	d, ok := e.deciders.Lookup(s.Decider)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDecider, s.Decider)
	}
	cmds, err := d(s.Ctx.Clone(), workflow.CloneHistory(s.History))
	if err != nil {
		return fmt.Errorf("decider %q: %w", s.Decider, err)
	}
	if err := applyCommands(s, cmds, now); err != nil {
		return err
	}
	s.NeedDecide = false
	return nil
}

// ReserveReady leases up to maxN ready exec tasks for the worker: pending
// tasks whose run_after has passed and leased tasks whose lease has expired.
// Each reservation increments the task fence and issues a lease token equal
// to it. maxN <= 0 reserves nothing and writes nothing. Returns deep copies.
func (e *Engine) ReserveReady(ctx context.Context, id, workerID string, maxN int, lease time.Duration, now time.Time) ([]*workflow.Task, error) {
	if workerID == "" {
		return nil, fmt.Errorf("worker id is required")
	}
	if lease <= 0 {
		return nil, fmt.Errorf("lease duration must be positive")
	}
	now = now.UTC()
	var reserved []*workflow.Task
	_, err := e.update(ctx, id, now, func(s *workflow.State) error {
		reserved = reserved[:0]
		for _, tid := range sortedTaskIDs(s) {
			if len(reserved) >= maxN {
				break
			}
			t := s.Tasks[tid]
			if !t.Reservable(now) {
				continue
			}
			t.Fence++
			t.Status = workflow.TaskLeased
			t.Lease = &workflow.Lease{Owner: workerID, ExpiresAt: now.Add(lease), Token: t.Fence}
			reserved = append(reserved, t.Clone())
		}
		if len(reserved) == 0 {
			return errSkipWrite
		}
		s.RecomputeNextWake()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(reserved) > 0 {
		e.log.Debug(ctx, "tasks reserved", "workflow", id, "worker", workerID, "count", len(reserved))
	}
	return reserved, nil
}

// CompleteActivity records one activity attempt. It is idempotent: when the
// task is missing or terminal, not currently leased, or the supplied token
// does not match the live lease, the call reports Already and changes
// nothing. Failures consume a try and either re-pend the task with backoff
// or, once tries reach max_tries, fail the task and the workflow.
func (e *Engine) CompleteActivity(ctx context.Context, id string, c Completion, now time.Time) (CompleteResult, error) {
	if c.TaskID == "" {
		return CompleteResult{}, fmt.Errorf("task id is required")
	}
	now = now.UTC()
	var already, completed, retried bool
	s, err := e.update(ctx, id, now, func(s *workflow.State) error {
		already, completed, retried = false, false, false
		t := s.Task(c.TaskID)
		if t == nil || t.Type != workflow.TaskExec || t.Status.Terminal() {
			already = true
			return errSkipWrite
		}
		if t.Status != workflow.TaskLeased || t.Lease == nil {
			already = true
			return errSkipWrite
		}
		if c.LeaseToken != 0 && t.Lease.Token != c.LeaseToken {
			already = true
			return errSkipWrite
		}
		if c.Err == nil {
			taskRes := c.Result.Clone()
			eventRes := c.Result.Clone()
			t.Status = workflow.TaskCompleted
			t.Result = &taskRes
			t.Error = nil
			t.Lease = nil
			s.AppendEvent(workflow.Event{Type: workflow.EventActivityCompleted, TS: now, TaskID: t.ID, Result: &eventRes})
			s.NeedDecide = true
			completed = true
		} else {
			f := normalizeFault(c.Err)
			t.Tries++
			t.Error = f
			t.Lease = nil
			if t.Tries >= maxTries(t) {
				t.Status = workflow.TaskFailed
				s.AppendEvent(workflow.Event{Type: workflow.EventActivityFailed, TS: now, TaskID: t.ID, Error: f, Tries: t.Tries})
				if !s.Status.Terminal() {
					s.Status = workflow.StatusFailed
					s.AppendEvent(workflow.Event{Type: workflow.EventWorkflowFailed, TS: now, Reason: f})
				}
			} else {
				delay := backoffSeconds(t)
				t.Status = workflow.TaskPending
				t.RunAfter = now.Add(secondsToDuration(delay))
				s.AppendEvent(workflow.Event{Type: workflow.EventActivityRetry, TS: now, TaskID: t.ID, Tries: t.Tries, AfterSeconds: delay})
				s.NeedDecide = true
				retried = true
			}
		}
		s.RecomputeNextWake()
		return nil
	})
	if err != nil {
		return CompleteResult{}, err
	}
	if completed {
		e.metrics.IncCounter(telemetry.MetricActivitiesCompleted, 1)
	}
	if retried {
		e.metrics.IncCounter(telemetry.MetricActivitiesRetried, 1)
	}
	return CompleteResult{Already: already, Status: s.Status, Rev: s.Rev}, nil
}

// ExtendLease pushes a live lease's expiry forward, measured from the
// current expiry rather than now. The caller must present the owner and
// token it reserved with, and the lease must not have expired yet; anything
// else reports ErrLeaseLost.
func (e *Engine) ExtendLease(ctx context.Context, id, taskID, owner string, token int64, extra time.Duration, now time.Time) error {
	if extra <= 0 {
		return fmt.Errorf("lease extension must be positive")
	}
	now = now.UTC()
	_, err := e.update(ctx, id, now, func(s *workflow.State) error {
		t := s.Task(taskID)
		if t == nil || t.Status != workflow.TaskLeased || t.Lease == nil ||
			t.Lease.Owner != owner || t.Lease.Token != token ||
			t.Lease.ExpiresAt.Before(now) {
			return fmt.Errorf("%w: task %q", ErrLeaseLost, taskID)
		}
		t.Lease.ExpiresAt = t.Lease.ExpiresAt.Add(extra)
		s.RecomputeNextWake()
		return nil
	})
	return err
}

// Signal appends an external event to the workflow. Signals are recorded in
// any status; the decider only observes them while the workflow is running.
func (e *Engine) Signal(ctx context.Context, id, name string, payload workflow.Value, now time.Time) error {
	if name == "" {
		return fmt.Errorf("signal name is required")
	}
	now = now.UTC()
	_, err := e.update(ctx, id, now, func(s *workflow.State) error {
		sigPayload := payload.Clone()
		eventPayload := payload.Clone()
		s.Signals = append(s.Signals, workflow.Signal{Name: name, Payload: sigPayload, TS: now})
		s.AppendEvent(workflow.Event{Type: workflow.EventSignal, TS: now, Name: name, Payload: &eventPayload})
		s.NeedDecide = true
		return nil
	})
	if err != nil {
		return err
	}
	e.log.Debug(ctx, "signal recorded", "workflow", id, "signal", name)
	return nil
}

// update runs the CAS loop every mutating operation shares: load, decode,
// apply fn, bump rev, conditional put. Conflicts reload and retry until the
// context is done. A fn returning errSkipWrite resolves the operation
// without writing.
func (e *Engine) update(ctx context.Context, id string, now time.Time, fn func(*workflow.State) error) (*workflow.State, error) {
	key := e.key(id)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := e.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("loading workflow %q: %w", id, err)
		}
		if rec == nil {
			return nil, fmt.Errorf("%w: %q", ErrWorkflowNotFound, id)
		}
		s, err := decodeState(rec.Data)
		if err != nil {
			return nil, fmt.Errorf("decoding workflow %q: %w", id, err)
		}
		if err := fn(s); err != nil {
			if errors.Is(err, errSkipWrite) {
				return s, nil
			}
			return nil, err
		}
		s.Rev++
		s.UpdatedAt = now
		data, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("encoding workflow %q: %w", id, err)
		}
		if _, err := e.store.Put(ctx, key, data, rec.CAS); err != nil {
			if errors.Is(err, blob.ErrConflict) {
				e.metrics.IncCounter(telemetry.MetricCASConflicts, 1)
				e.log.Debug(ctx, "cas conflict, retrying", "workflow", id)
				continue
			}
			return nil, fmt.Errorf("storing workflow %q: %w", id, err)
		}
		return s, nil
	}
}

func decodeState(data []byte) (*workflow.State, error) {
	var s workflow.State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Tasks == nil {
		s.Tasks = make(map[string]*workflow.Task)
	}
	return &s, nil
}
