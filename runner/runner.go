// Package runner executes the work the engine schedules. The engine is a
// pure state machine — it decides what should run and when — while the
// runner owns the impure half: invoking activity implementations, pumping
// queue messages, and waiting out timers. Runners are stateless; any number
// of them can serve the same workflows, coordinated only by task leases.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"goa.design/ratchet/engine"
	"goa.design/ratchet/fault"
	"goa.design/ratchet/queue"
	"goa.design/ratchet/telemetry"
	"goa.design/ratchet/workflow"
)

const (
	// DefaultLease is how long a reserved task stays claimed before another
	// worker may take it over.
	DefaultLease = 30 * time.Second
	// DefaultMaxBatch bounds how many tasks one reservation claims.
	DefaultMaxBatch = 10
	// defaultReceiveWait is the long-poll window used by the Work loop.
	defaultReceiveWait = 20 * time.Second
)

// ErrStuck is returned by RunToCompletion when the workflow is still running
// but has no ready task and no next wake-up, i.e. it waits on an external
// signal that nothing in this process will send.
var ErrStuck = errors.New("workflow is waiting on external input")

type (
	// Options parameterizes New.
	Options struct {
		// Engine performs workflow state transitions. Required.
		Engine *engine.Engine
		// Activities resolves action names to implementations. Required.
		Activities *Activities
		// Queue carries nudge messages. Optional; required only for Work and
		// Nudge.
		Queue queue.Queue
		// Clock supplies time. Defaults to the system clock.
		Clock Clock
		// WorkerID identifies this runner in leases. Defaults to a generated
		// id.
		WorkerID string
		// Lease is the reservation duration for claimed tasks. Defaults to
		// DefaultLease.
		Lease time.Duration
		// MaxBatch bounds tasks claimed per reservation and messages received
		// per poll. Defaults to DefaultMaxBatch.
		MaxBatch int
		// Limiter throttles nudge processing in the Work loop. Optional.
		Limiter *rate.Limiter
		// Logger receives debug and error records. Defaults to a no-op.
		Logger telemetry.Logger
	}

	// Runner drives workflows by executing their scheduled activities and
	// reacting to queue nudges.
	Runner struct {
		eng        *engine.Engine
		activities *Activities
		queue      queue.Queue
		clock      Clock
		workerID   string
		lease      time.Duration
		maxBatch   int
		limiter    *rate.Limiter
		log        telemetry.Logger
	}
)

// New validates the options and returns a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.Activities == nil {
		return nil, fmt.Errorf("activities registry is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	workerID := opts.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()
	}
	lease := opts.Lease
	if lease <= 0 {
		lease = DefaultLease
	}
	maxBatch := opts.MaxBatch
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Runner{
		eng:        opts.Engine,
		activities: opts.Activities,
		queue:      opts.Queue,
		clock:      clock,
		workerID:   workerID,
		lease:      lease,
		maxBatch:   maxBatch,
		limiter:    opts.Limiter,
		log:        logger,
	}, nil
}

// WorkerID returns the id this runner reserves leases under.
func (r *Runner) WorkerID() string { return r.workerID }

// DrainExecs reserves and executes ready activities until none remain,
// ticking the workflow after each completed batch so the decider reacts to
// the results. Returns the number of activity attempts completed.
func (r *Runner) DrainExecs(ctx context.Context, wfID string) (int, error) {
	total := 0
	for {
		tasks, err := r.eng.ReserveReady(ctx, wfID, r.workerID, r.maxBatch, r.lease, r.clock.Now())
		if err != nil {
			return total, err
		}
		if len(tasks) == 0 {
			return total, nil
		}
		for _, task := range tasks {
			completion := r.execute(ctx, wfID, task)
			if _, err := r.eng.CompleteActivity(ctx, wfID, completion, r.clock.Now()); err != nil {
				return total, err
			}
			total++
		}
		if _, err := r.eng.Tick(ctx, wfID, r.clock.Now()); err != nil {
			return total, err
		}
	}
}

// execute runs one leased task's activity and builds its completion. A
// heartbeat goroutine extends the lease while the activity runs so slow
// activities survive their initial lease window.
func (r *Runner) execute(ctx context.Context, wfID string, task *workflow.Task) engine.Completion {
	completion := engine.Completion{TaskID: task.ID}
	if task.Lease != nil {
		completion.LeaseToken = task.Lease.Token
	}
	code := workflow.Null()
	if task.Code != nil {
		code = *task.Code
	}
	action := code.Get("action").Str()
	fn, ok := r.activities.Lookup(action)
	if !ok {
		completion.Err = fault.New(fault.NonRetryable, fmt.Sprintf("unknown activity %q", action))
		return completion
	}

	stop := r.keepAlive(ctx, wfID, task)
	defer stop()

	result, err := fn(ctx, code.Get("input"))
	if err != nil {
		completion.Err = fault.FromError(err)
		r.log.Debug(ctx, "activity failed", "workflow", wfID, "task", task.ID, "action", action, "error", err.Error())
		return completion
	}
	completion.Result = result
	return completion
}

// keepAlive extends the task's lease at half-life intervals until stopped.
// The heartbeat interval is wall-clock time: activities run in real time even
// when workflow time is simulated. Losing the lease stops the heartbeat; the
// eventual completion is then rejected as stale, which is the fencing
// contract working as intended.
func (r *Runner) keepAlive(ctx context.Context, wfID string, task *workflow.Task) func() {
	if task.Lease == nil {
		return func() {}
	}
	owner, token := task.Lease.Owner, task.Lease.Token
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		interval := r.lease / 2
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := r.eng.ExtendLease(ctx, wfID, task.ID, owner, token, r.lease, r.clock.Now())
				if err != nil {
					if !errors.Is(err, engine.ErrLeaseLost) {
						r.log.Warn(ctx, "lease heartbeat failed", "workflow", wfID, "task", task.ID, "error", err.Error())
					}
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// RunToCompletion drives one workflow to a terminal state: tick, drain ready
// activities, wait out the next wake-up, repeat. With a manual clock the wait
// steps simulated time instead of blocking, which is how tests run
// multi-day workflows in microseconds. Returns ErrStuck when the workflow
// waits on a signal nothing here will deliver.
func (r *Runner) RunToCompletion(ctx context.Context, wfID string) (*workflow.State, error) {
	for {
		res, err := r.eng.Tick(ctx, wfID, r.clock.Now())
		if err != nil {
			return nil, err
		}
		if res.Status.Terminal() {
			return r.eng.Load(ctx, wfID)
		}
		n, err := r.DrainExecs(ctx, wfID)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			continue
		}
		if res.NextWake == nil {
			return nil, fmt.Errorf("workflow %q: %w", wfID, ErrStuck)
		}
		if d := res.NextWake.Sub(r.clock.Now()); d > 0 {
			if err := r.clock.Sleep(ctx, d); err != nil {
				return nil, err
			}
		}
	}
}

// ProcessNudge handles one queue message: tick the workflow and drain
// whatever became ready. The task id is advisory and only logged.
func (r *Runner) ProcessNudge(ctx context.Context, wfID, taskID string) error {
	r.log.Debug(ctx, "processing nudge", "workflow", wfID, "task", taskID)
	if _, err := r.eng.Tick(ctx, wfID, r.clock.Now()); err != nil {
		return err
	}
	_, err := r.DrainExecs(ctx, wfID)
	return err
}

// Nudge enqueues a work message for the workflow.
func (r *Runner) Nudge(ctx context.Context, wfID, taskID string) error {
	if r.queue == nil {
		return fmt.Errorf("runner has no queue")
	}
	body, err := EncodeNudge(Nudge{WfID: wfID, TaskID: taskID})
	if err != nil {
		return err
	}
	return r.queue.Send(ctx, body)
}

// Work consumes nudges until the context is done. Malformed messages are
// deleted so they cannot poison the queue; failed nudges are left for
// redelivery. Processing is rate-limited when a limiter is configured.
func (r *Runner) Work(ctx context.Context) error {
	if r.queue == nil {
		return fmt.Errorf("runner has no queue")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := r.queue.Receive(ctx, r.maxBatch, defaultReceiveWait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Error(ctx, "queue receive failed", "error", err.Error())
			if err := (SystemClock{}).Sleep(ctx, time.Second); err != nil {
				return err
			}
			continue
		}
		for _, msg := range msgs {
			nudge, err := DecodeNudge(msg.Body)
			if err != nil {
				r.log.Warn(ctx, "deleting malformed nudge", "message", msg.ID, "error", err.Error())
				if err := r.queue.Delete(ctx, msg.ID, msg.Receipt); err != nil {
					r.log.Error(ctx, "delete failed", "message", msg.ID, "error", err.Error())
				}
				continue
			}
			if r.limiter != nil {
				if err := r.limiter.Wait(ctx); err != nil {
					return err
				}
			}
			if err := r.ProcessNudge(ctx, nudge.WfID, nudge.TaskID); err != nil {
				r.log.Error(ctx, "nudge processing failed", "workflow", nudge.WfID, "error", err.Error())
				// A nudge for a deleted workflow never becomes processable;
				// anything else gets another chance on redelivery.
				if !errors.Is(err, engine.ErrWorkflowNotFound) {
					continue
				}
			}
			if err := r.queue.Delete(ctx, msg.ID, msg.Receipt); err != nil {
				r.log.Error(ctx, "delete failed", "message", msg.ID, "error", err.Error())
			}
		}
	}
}
