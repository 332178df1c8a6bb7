package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"goa.design/ratchet/fault"
	"goa.design/ratchet/workflow"
)

// maxBackoffSeconds caps the exponential retry delay.
const maxBackoffSeconds = 300

// applyCommands folds one decision into state. Commands apply in order.
// Once a complete or fail command lands, later sleep and exec commands in
// the same batch are dropped: a terminal workflow schedules no new work.
// Set commands still apply so the final context reflects the whole batch.
func applyCommands(s *workflow.State, cmds []workflow.Command, now time.Time) error {
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case workflow.SetCommand:
			if err := s.Ctx.SetPath(c.Key, c.Value); err != nil {
				return fmt.Errorf("applying set %q: %w", c.Key, err)
			}
			s.AppendEvent(workflow.Event{Type: workflow.EventCtxSet, TS: now, Key: c.Key})

		case workflow.SleepCommand:
			if s.Status.Terminal() {
				continue
			}
			runAfter, err := sleepDeadline(c, now)
			if err != nil {
				return err
			}
			id := s.MintTaskID()
			s.Tasks[id] = &workflow.Task{
				ID:       id,
				Type:     workflow.TaskSleep,
				Status:   workflow.TaskPending,
				RunAfter: runAfter,
				Label:    c.Label,
			}
			s.AppendEvent(workflow.Event{
				Type:     workflow.EventTimerScheduled,
				TS:       now,
				TaskID:   id,
				Label:    c.Label,
				RunAfter: &runAfter,
			})

		case workflow.ExecCommand:
			if s.Status.Terminal() {
				continue
			}
			if c.Name == "" {
				return fmt.Errorf("exec command requires an activity name")
			}
			runAfter := now
			if c.RunAfter != nil {
				runAfter = c.RunAfter.UTC()
			}
			max := c.MaxTries
			if max <= 0 {
				max = DefaultMaxTries
			}
			code := c.Code.Clone()
			id := s.MintTaskID()
			s.Tasks[id] = &workflow.Task{
				ID:          id,
				Type:        workflow.TaskExec,
				Status:      workflow.TaskPending,
				RunAfter:    runAfter,
				Name:        c.Name,
				Code:        &code,
				IdemKey:     c.IdemKey,
				MaxTries:    max,
				RetryDelays: append([]float64(nil), c.RetryDelays...),
			}
			s.AppendEvent(workflow.Event{
				Type:   workflow.EventActivityScheduled,
				TS:     now,
				TaskID: id,
				Name:   c.Name,
			})

		case workflow.CompleteCommand:
			if s.Status.Terminal() {
				continue
			}
			s.Status = workflow.StatusCompleted
			s.AppendEvent(workflow.Event{Type: workflow.EventWorkflowCompleted, TS: now})

		case workflow.FailCommand:
			if s.Status.Terminal() {
				continue
			}
			reason := c.Reason
			if reason == nil {
				reason = fault.New(fault.NonRetryable, "workflow failed")
			}
			s.Status = workflow.StatusFailed
			s.AppendEvent(workflow.Event{Type: workflow.EventWorkflowFailed, TS: now, Reason: reason})

		default:
			return fmt.Errorf("unknown command type %T", cmd)
		}
	}
	return nil
}

// sleepDeadline resolves a sleep command to an absolute UTC deadline.
func sleepDeadline(c workflow.SleepCommand, now time.Time) (time.Time, error) {
	switch {
	case c.Until != nil && c.Seconds != nil:
		return time.Time{}, fmt.Errorf("sleep command sets both seconds and until")
	case c.Until != nil:
		return c.Until.UTC(), nil
	case c.Seconds != nil:
		if *c.Seconds < 0 {
			return time.Time{}, fmt.Errorf("sleep seconds must not be negative")
		}
		return now.Add(secondsToDuration(*c.Seconds)), nil
	default:
		return time.Time{}, fmt.Errorf("sleep command requires seconds or until")
	}
}

// backoffSeconds returns the delay before the task's next attempt: the
// per-task schedule when it covers this failure count, else capped
// exponential growth. Called after Tries has been incremented.
func backoffSeconds(t *workflow.Task) float64 {
	if n := t.Tries; n >= 1 && n <= len(t.RetryDelays) {
		return t.RetryDelays[n-1]
	}
	return math.Min(maxBackoffSeconds, math.Pow(2, float64(t.Tries)))
}

func maxTries(t *workflow.Task) int {
	if t.MaxTries > 0 {
		return t.MaxTries
	}
	return DefaultMaxTries
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// sortedTaskIDs returns task ids in ascending order so map iteration never
// leaks into event ordering.
func sortedTaskIDs(s *workflow.State) []string {
	ids := make([]string, 0, len(s.Tasks))
	for id := range s.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// normalizeFault clamps a completion failure to a well-formed envelope.
func normalizeFault(f *fault.Fault) *fault.Fault {
	if f == nil {
		return fault.New(fault.NonRetryable, "activity failed")
	}
	out := *f
	out.Type = fault.Normalize(out.Type)
	if out.Message == "" {
		out.Message = "activity failed"
	}
	return &out
}
