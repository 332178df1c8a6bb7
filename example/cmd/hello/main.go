// Command hello runs the counter workflow locally: in-memory store and
// queue, simulated clock, no external services. Useful as a smoke test and
// as a template for wiring programs into a worker.
package main

import (
	"context"
	"os"
	"time"

	"goa.design/clue/log"

	blobmem "goa.design/ratchet/blob/inmem"
	"goa.design/ratchet/engine"
	"goa.design/ratchet/example"
	queuemem "goa.design/ratchet/queue/inmem"
	"goa.design/ratchet/runner"
	"goa.design/ratchet/telemetry"
	"goa.design/ratchet/workflow"
)

func main() {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	deciders := workflow.NewRegistry()
	activities := runner.NewActivities()
	if err := example.Register(deciders, activities); err != nil {
		log.Fatal(ctx, err)
	}

	eng, err := engine.New(engine.Options{
		Store:    blobmem.New(),
		Deciders: deciders,
		Logger:   telemetry.NewClueLogger(),
	})
	if err != nil {
		log.Fatal(ctx, err)
	}

	// A manual clock lets the demo skip over the workflow's sleeps instead
	// of waiting them out.
	clock := runner.NewManualClock(time.Now().UTC())
	r, err := runner.New(runner.Options{
		Engine:     eng,
		Activities: activities,
		Queue:      queuemem.New(),
		Clock:      clock,
	})
	if err != nil {
		log.Fatal(ctx, err)
	}

	const id = "hello-1"
	if _, err := eng.Create(ctx, id, example.WorkflowName, workflow.MustParse(`{"i":0}`), clock.Now()); err != nil {
		log.Fatal(ctx, err)
	}
	log.Print(ctx, log.KV{K: "msg", V: "workflow created"}, log.KV{K: "wf_id", V: id})

	s, err := r.RunToCompletion(ctx, id)
	if err != nil {
		log.Fatal(ctx, err)
	}

	result, err := s.Ctx.Get("result").MarshalJSON()
	if err != nil {
		log.Fatal(ctx, err)
	}
	log.Print(ctx,
		log.KV{K: "msg", V: "workflow finished"},
		log.KV{K: "wf_id", V: id},
		log.KV{K: "status", V: string(s.Status)},
		log.KV{K: "result", V: string(result)},
		log.KV{K: "events", V: len(s.History)},
	)
	os.Exit(0)
}
