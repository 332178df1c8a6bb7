// Package example wires a small counter workflow end to end: a flow program
// that alternates activity calls, context writes and sleeps until the
// counter reaches its target, then completes with the final value. It is
// the reference for what registering programs and activities looks like.
package example

import (
	"context"

	"goa.design/ratchet/flow"
	"goa.design/ratchet/runner"
	"goa.design/ratchet/workflow"
)

// WorkflowName is the decider name the hello workflow registers under.
const WorkflowName = "hello"

// Target is the counter value the workflow runs to.
const Target = 3

// Register installs the hello program and its increment activity.
func Register(deciders *workflow.Registry, activities *runner.Activities) error {
	if err := flow.Register(deciders, WorkflowName, helloProgram); err != nil {
		return err
	}
	return activities.Register("increment", increment)
}

// helloProgram counts up to Target. Each round runs the increment activity,
// records the new value in the workflow context and sleeps two seconds, so
// a single run exercises activities, context writes, timers and replay.
func helloProgram(io *flow.IO) error {
	for io.Ctx().Get("i").Int() < Target {
		r, err := io.Exec("increment", workflow.Object(map[string]workflow.Value{
			"to": workflow.Int(io.Ctx().Get("i").Int() + 1),
		}))
		if err != nil {
			return err
		}
		if err := io.Set("i", r.Get("to")); err != nil {
			return err
		}
		if err := io.Sleep(2); err != nil {
			return err
		}
	}
	return io.Complete(workflow.Object(map[string]workflow.Value{
		"final": io.Ctx().Get("i"),
	}))
}

func increment(_ context.Context, input workflow.Value) (workflow.Value, error) {
	return workflow.Object(map[string]workflow.Value{"to": input.Get("to")}), nil
}
