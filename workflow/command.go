package workflow

import (
	"time"

	"goa.design/ratchet/fault"
)

// Command is one instruction returned by a decider. The engine applies a
// decision's commands in order within the same tick; commands are not
// persisted, only their effects on state and history are.
//
// Command is a closed union: SleepCommand, ExecCommand, SetCommand,
// CompleteCommand and FailCommand are the only implementations.
type Command interface {
	isCommand()
}

type (
	// SleepCommand schedules a durable timer. Exactly one of Seconds or
	// Until must be set.
	SleepCommand struct {
		// Seconds delays relative to the tick time.
		Seconds *float64
		// Until fires at an absolute time.
		Until *time.Time
		// Label correlates the timer with an interpreter effect.
		Label string
	}

	// ExecCommand schedules an activity execution.
	ExecCommand struct {
		// Name correlates the task with an interpreter effect.
		Name string
		// Code is the runner payload: {action, input}.
		Code Value
		// RunAfter optionally delays the first attempt; zero means now.
		RunAfter *time.Time
		// IdemKey is an optional caller idempotency key.
		IdemKey string
		// MaxTries bounds attempts; 0 means the default of 3.
		MaxTries int
		// RetryDelays optionally fixes per-attempt backoff in seconds.
		RetryDelays []float64
	}

	// SetCommand writes a value into the workflow context at a dot-path.
	SetCommand struct {
		// Key is the dot-path; numeric segments are object keys.
		Key string
		// Value is the value to write.
		Value Value
	}

	// CompleteCommand terminates the workflow successfully.
	CompleteCommand struct{}

	// FailCommand terminates the workflow with a failure reason.
	FailCommand struct {
		// Reason is the normalized failure envelope.
		Reason *fault.Fault
	}
)

func (SleepCommand) isCommand()    {}
func (ExecCommand) isCommand()     {}
func (SetCommand) isCommand()      {}
func (CompleteCommand) isCommand() {}
func (FailCommand) isCommand()     {}
