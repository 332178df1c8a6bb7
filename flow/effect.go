package flow

import (
	"time"

	"goa.design/ratchet/workflow"
)

type effectKind uint8

const (
	effectExec effectKind = iota
	effectSleep
	effectUntil
	effectRecv
)

// Effect is a primitive effect descriptor used as a child of All and Race.
// Effects are built with the package constructors; composites cannot nest, so
// effect ids stay one level deep.
type Effect struct {
	kind    effectKind
	name    string
	input   workflow.Value
	opts    []ExecOption
	seconds float64
	until   time.Time
}

// Exec describes an activity execution child.
func Exec(name string, input workflow.Value, opts ...ExecOption) Effect {
	return Effect{kind: effectExec, name: name, input: input, opts: opts}
}

// Sleep describes a durable timer child.
func Sleep(seconds float64) Effect {
	return sleepFor(seconds)
}

// Until describes a durable timer child firing at an absolute time.
func Until(t time.Time) Effect {
	return sleepUntil(t)
}

func sleepFor(seconds float64) Effect {
	return Effect{kind: effectSleep, seconds: seconds}
}

func sleepUntil(t time.Time) Effect {
	return Effect{kind: effectUntil, until: t.UTC()}
}

// Recv describes a signal wait child.
func Recv(name string) Effect {
	return Effect{kind: effectRecv, name: name}
}
