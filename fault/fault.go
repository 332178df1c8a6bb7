// Package fault provides the structured error envelope recorded in workflow
// state. Faults preserve a failure kind and causal context while implementing
// the standard error interface, and serialize to the wire form
// {"type", "message", "cause"} stored in task errors and failure events.
package fault

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a failure. Unrecognized kinds normalize to NonRetryable.
type Kind string

const (
	// Retryable marks transient failures that are safe to run again.
	Retryable Kind = "retryable"
	// NonRetryable marks permanent failures.
	NonRetryable Kind = "non_retryable"
	// Timeout marks failures caused by a deadline or lease expiry.
	Timeout Kind = "timeout"
	// Conflict marks optimistic-concurrency collisions. The engine retries
	// these internally; they never surface in workflow state.
	Conflict Kind = "conflict"
)

// Normalize maps an arbitrary kind string onto a known Kind. Anything that is
// not a recognized kind becomes NonRetryable.
func Normalize(k Kind) Kind {
	switch k {
	case Retryable, NonRetryable, Timeout, Conflict:
		return k
	default:
		return NonRetryable
	}
}

// Fault is a structured failure that survives serialization into workflow
// state. Faults may be nested via Cause to retain diagnostics across retries.
type Fault struct {
	// Type classifies the failure.
	Type Kind `json:"type"`
	// Message is the human-readable summary of the failure.
	Message string `json:"message"`
	// Cause links to the underlying fault, enabling error chains with
	// errors.Is/As.
	Cause *Fault `json:"cause,omitempty"`
}

// New constructs a Fault with the provided kind and message.
func New(kind Kind, message string) *Fault {
	if message == "" {
		message = "workflow fault"
	}
	return &Fault{Type: Normalize(kind), Message: message}
}

// Wrap constructs a Fault that wraps an underlying error. The cause is
// converted into a Fault chain so error metadata survives serialization while
// still supporting errors.Is/As through Unwrap.
func Wrap(kind Kind, message string, cause error) *Fault {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Fault{
		Type:    Normalize(kind),
		Message: message,
		Cause:   FromError(cause),
	}
}

// FromError converts an arbitrary error into a Fault chain. Errors that do
// not carry a kind are treated as NonRetryable.
func FromError(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{
		Type:    NonRetryable,
		Message: err.Error(),
		Cause:   FromError(errors.Unwrap(err)),
	}
}

// FromValue decodes a failure carried as data rather than as an error, such
// as an activity result or signal payload. An envelope-shaped object
// ({type, message, cause?}) decodes into the fault it describes with
// unrecognized kinds normalized, a bare string becomes a NonRetryable fault
// with that message, and any other non-null shape becomes a NonRetryable
// fault whose message is the JSON text. Null yields nil.
func FromValue(v json.Marshaler) *Fault {
	if v == nil {
		return nil
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return New(NonRetryable, err.Error())
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '"':
		var msg string
		if err := json.Unmarshal(data, &msg); err == nil {
			return New(NonRetryable, msg)
		}
	case '{':
		var f Fault
		if err := json.Unmarshal(data, &f); err == nil && f.Message != "" {
			return &f
		}
	}
	return New(NonRetryable, string(data))
}

// Errorf formats according to a format specifier and returns the string as a
// NonRetryable fault.
func Errorf(format string, args ...any) *Fault {
	return New(NonRetryable, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f == nil {
		return ""
	}
	return f.Message
}

// Unwrap returns the underlying fault to support errors.Is/As.
func (f *Fault) Unwrap() error {
	if f == nil || f.Cause == nil {
		return nil
	}
	return f.Cause
}

// UnmarshalJSON decodes the wire envelope, normalizing unrecognized kinds to
// NonRetryable so foreign producers cannot smuggle unknown classifications
// into workflow state.
func (f *Fault) UnmarshalJSON(data []byte) error {
	type alias Fault
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	a.Type = Normalize(a.Type)
	*f = Fault(a)
	return nil
}
