// Package flow compiles workflow programs into pure deciders.
//
// A Program is an ordinary Go function that performs effects — run an
// activity, sleep, wait for a signal, fan out, race — through the IO it
// receives. The engine re-executes the program from the top on every
// decision; the IO resolves each effect against the workflow's history and
// feeds recorded results back, so the program deterministically retraces its
// past steps and then either stages new commands or finishes. Pausing is an
// effect that cannot be resolved yet: the effect method returns ErrPending,
// the program returns it up, and the compiled decider emits whatever commands
// were staged before the pause.
//
// # Determinism
//
// Programs must be pure functions of the IO's context and their parameters:
// no wall clocks, no randomness, no I/O outside Exec. The interpreter gives
// every effect a stable id derived from its execution position, so the
// program must perform the same effects in the same order on every run over
// the same history. Control flow may branch on activity results, signal
// payloads and context values — those are all recorded.
//
// # Effect identity and correlation
//
// A cursor increments on every effect the program performs; the cursor value
// at an effect's position is its id. Children of All and Race derive ids by
// appending the child index or branch key. Scheduled tasks carry the id in
// their user-visible correlation fields ("E:<id>" activity names, "S:<id>"
// timer labels), which is how replay finds them in history.
package flow

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"goa.design/ratchet/fault"
	"goa.design/ratchet/workflow"
)

// ErrPending reports that an effect is not resolvable yet. Effect methods
// return it when the workflow must wait; programs propagate it up and the
// compiled decider swallows it after collecting the staged commands.
var ErrPending = errors.New("flow: pending")

// wfSubtree is the reserved context key holding interpreter bookkeeping.
const wfSubtree = "$wf"

type (
	// Program is a deterministic workflow body. It performs effects through
	// the IO and returns nil when the workflow is done, ErrPending when it
	// must wait, or any other error to fail the workflow.
	Program func(io *IO) error

	// Option configures a compiled decider.
	Option func(*options)

	// ExecOption configures one activity execution.
	ExecOption func(*execConfig)

	// Winner is the resolved branch of a Race.
	Winner struct {
		// Key is the branch key that won.
		Key string
		// Value is the winning branch's result: the activity result, the
		// signal payload, or null for a timer.
		Value workflow.Value
	}

	options struct {
		execDefaults []ExecOption
	}

	execConfig struct {
		maxTries    int
		retryDelays []float64
		idemKey     string
		runAfter    *time.Time
	}
)

// WithExecDefaults sets workflow-level defaults applied to every Exec effect.
// Per-call options override them.
func WithExecDefaults(opts ...ExecOption) Option {
	return func(o *options) { o.execDefaults = opts }
}

// MaxTries bounds activity attempts.
func MaxTries(n int) ExecOption {
	return func(c *execConfig) { c.maxTries = n }
}

// RetryDelays fixes the backoff schedule in seconds, one entry per retry.
func RetryDelays(seconds ...float64) ExecOption {
	return func(c *execConfig) { c.retryDelays = append([]float64(nil), seconds...) }
}

// IdemKey attaches an idempotency key to the scheduled task.
func IdemKey(key string) ExecOption {
	return func(c *execConfig) { c.idemKey = key }
}

// RunAfter delays the first attempt until the given time.
func RunAfter(t time.Time) ExecOption {
	return func(c *execConfig) { at := t.UTC(); c.runAfter = &at }
}

// Decider compiles a program into a pure decider. The returned decider never
// errors: a program error other than ErrPending deterministically fails the
// workflow, the same way an uncaught exception would end a generator body. A
// program that returns nil without completing or failing explicitly completes
// the workflow.
func Decider(program Program, opts ...Option) workflow.Decider {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return func(ctx workflow.Value, history []workflow.Event) ([]workflow.Command, error) {
		io := newIO(ctx, indexHistory(history), o.execDefaults)
		err := program(io)
		switch {
		case err != nil && !errors.Is(err, ErrPending):
			io.stageFail(fault.FromError(err))
		case err == nil && !io.halted && !io.suspended:
			io.stageComplete(nil)
		}
		return io.commands(), nil
	}
}

// Register compiles the program and registers it under the given name.
func Register(r *workflow.Registry, name string, program Program, opts ...Option) error {
	return r.Register(name, Decider(program, opts...))
}

// IO is a program's handle on the workflow: it resolves effects against
// history, stages commands for effects that need scheduling, and mirrors
// context writes so later effects in the same decision observe them. One IO
// serves exactly one decision; the compiled decider builds a fresh one per
// invocation.
type IO struct {
	ctx      workflow.Value
	idx      *index
	defaults []ExecOption

	cursor   int
	sigTaken map[string]int

	// Persisted bookkeeping read from ctx.$wf; effects that already advanced
	// past it in earlier decisions do not restage their context writes.
	persistedCursor int
	persistedSig    map[string]int

	suspended bool
	halted    bool

	sets []workflow.Command
	cmds []workflow.Command
}

func newIO(ctx workflow.Value, idx *index, defaults []ExecOption) *IO {
	if ctx.Kind() != workflow.KindObject {
		ctx = workflow.Object(nil)
	}
	io := &IO{
		ctx:          ctx.Clone(),
		idx:          idx,
		defaults:     defaults,
		sigTaken:     make(map[string]int),
		persistedSig: make(map[string]int),
	}
	wf, ok := io.ctx.Field(wfSubtree)
	if !ok {
		io.stageSet(wfSubtree, workflow.Object(map[string]workflow.Value{
			"cursor":   workflow.Int(0),
			"sigCount": workflow.Object(nil),
		}))
		return io
	}
	io.persistedCursor = wf.Get("cursor").Int()
	counts := wf.Get("sigCount")
	for _, name := range counts.Fields() {
		io.persistedSig[name] = counts.Get(name).Int()
	}
	return io
}

// Ctx returns the decision-local view of the workflow context: the persisted
// context plus every Set performed so far in this decision. Treat it as
// read-only; writes go through Set.
func (io *IO) Ctx() workflow.Value { return io.ctx }

// Exec runs the named activity with the given input and returns its recorded
// result. Unresolved executions suspend the program.
func (io *IO) Exec(name string, input workflow.Value, opts ...ExecOption) (workflow.Value, error) {
	if err := io.gate(); err != nil {
		return workflow.Null(), err
	}
	eid := io.nextEID()
	v, ok := io.resolveExec(eid, name, input, opts)
	if !ok {
		return workflow.Null(), io.suspend()
	}
	return v, nil
}

// Sleep pauses the workflow for the given number of seconds via a durable
// timer.
func (io *IO) Sleep(seconds float64) error {
	if err := io.gate(); err != nil {
		return err
	}
	eid := io.nextEID()
	if !io.resolveSleep(eid, sleepFor(seconds)) {
		return io.suspend()
	}
	return nil
}

// Until pauses the workflow until the given absolute time.
func (io *IO) Until(t time.Time) error {
	if err := io.gate(); err != nil {
		return err
	}
	eid := io.nextEID()
	if !io.resolveSleep(eid, sleepUntil(t)) {
		return io.suspend()
	}
	return nil
}

// Recv waits for the next unconsumed signal with the given name and returns
// its payload. Signals are consumed in delivery order; each Recv (or
// receiving Race branch) for a name takes the next one.
func (io *IO) Recv(name string) (workflow.Value, error) {
	if err := io.gate(); err != nil {
		return workflow.Null(), err
	}
	io.nextEID()
	v, ok := io.takeSignal(name)
	if !ok {
		return workflow.Null(), io.suspend()
	}
	return v, nil
}

// All performs the child effects concurrently and returns their results in
// child order once every one of them has resolved. Unscheduled children are
// all scheduled in the same decision, so activities and timers overlap.
func (io *IO) All(children ...Effect) ([]workflow.Value, error) {
	if err := io.gate(); err != nil {
		return nil, err
	}
	eid := io.nextEID()
	results := make([]workflow.Value, len(children))
	done := true
	for i, ch := range children {
		v, ok := io.resolveChild(eid+"."+strconv.Itoa(i), ch)
		if !ok {
			done = false
			continue
		}
		results[i] = v
	}
	if !done {
		return nil, io.suspend()
	}
	return results, nil
}

// Race performs the branch effects concurrently and returns the first one to
// resolve. The winner is the earliest resolution in history order; a signal
// beats a task resolved at the same point. Losing branches keep running but
// their results are never consumed.
func (io *IO) Race(branches map[string]Effect) (Winner, error) {
	if err := io.gate(); err != nil {
		return Winner{}, err
	}
	eid := io.nextEID()

	keys := make([]string, 0, len(branches))
	for k := range branches {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bestPos := -1
	bestSignal := false
	var win Winner
	var winRecv string
	for _, k := range keys {
		ch := branches[k]
		cid := eid + "." + k
		switch ch.kind {
		case effectRecv:
			taken := io.sigTaken[ch.name]
			sigs := io.idx.signals[ch.name]
			if taken >= len(sigs) {
				continue
			}
			sig := sigs[taken]
			if bestPos < 0 || sig.pos < bestPos || (sig.pos == bestPos && !bestSignal) {
				bestPos, bestSignal = sig.pos, true
				win = Winner{Key: k, Value: sig.payload}
				winRecv = ch.name
			}
		default:
			tid, ok := io.scheduleChild(cid, ch)
			if !ok {
				continue
			}
			pos, ok := io.idx.resolvedAt[tid]
			if !ok {
				continue
			}
			if bestPos < 0 || pos < bestPos {
				bestPos, bestSignal = pos, false
				win = Winner{Key: k, Value: io.idx.execResult[tid]}
				winRecv = ""
			}
		}
	}
	if bestPos < 0 {
		return Winner{}, io.suspend()
	}
	if winRecv != "" {
		io.sigTaken[winRecv]++
	}
	return win, nil
}

// Set writes a value into the workflow context at a dot-path. The write is
// visible to later effects in the same decision and persists with the tick.
// The $wf subtree is reserved for the interpreter.
func (io *IO) Set(key string, v workflow.Value) error {
	if err := io.gate(); err != nil {
		return err
	}
	if key == wfSubtree || strings.HasPrefix(key, wfSubtree+".") {
		return fmt.Errorf("flow: context key %q is reserved", key)
	}
	eid := io.cursor
	io.nextEID()
	// Context writes from effects the workflow already advanced past are in
	// the persisted context; restaging them would grow history on every
	// replay.
	if eid < io.persistedCursor {
		io.applySet(key, v)
		return nil
	}
	io.stageSet(key, v)
	return nil
}

// Complete ends the workflow successfully. A result value, when given, is
// recorded at ctx.result first.
func (io *IO) Complete(result ...workflow.Value) error {
	if err := io.gate(); err != nil {
		return err
	}
	if len(result) > 0 {
		io.stageComplete(&result[0])
	} else {
		io.stageComplete(nil)
	}
	return nil
}

// Fail ends the workflow with the given reason.
func (io *IO) Fail(reason error) error {
	if err := io.gate(); err != nil {
		return err
	}
	io.stageFail(fault.FromError(reason))
	return nil
}

// gate short-circuits every effect after a suspension or termination so a
// program that ignores an ErrPending cannot stage commands out of order.
func (io *IO) gate() error {
	if io.suspended || io.halted {
		return ErrPending
	}
	return nil
}

func (io *IO) suspend() error {
	io.suspended = true
	return ErrPending
}

func (io *IO) nextEID() string {
	eid := strconv.Itoa(io.cursor)
	io.cursor++
	return eid
}

func (io *IO) resolveChild(cid string, ch Effect) (workflow.Value, bool) {
	switch ch.kind {
	case effectExec:
		return io.resolveExec(cid, ch.name, ch.input, ch.opts)
	case effectSleep, effectUntil:
		if !io.resolveSleep(cid, ch) {
			return workflow.Null(), false
		}
		return workflow.Null(), true
	case effectRecv:
		return io.takeSignal(ch.name)
	default:
		return workflow.Null(), false
	}
}

func (io *IO) resolveExec(eid, name string, input workflow.Value, opts []ExecOption) (workflow.Value, bool) {
	tid, ok := io.idx.execScheduled[eid]
	if !ok {
		io.stageExec(eid, name, input, opts)
		return workflow.Null(), false
	}
	res, ok := io.idx.execResult[tid]
	if !ok {
		return workflow.Null(), false
	}
	return res, true
}

func (io *IO) resolveSleep(eid string, ch Effect) bool {
	tid, ok := io.idx.timerScheduled[eid]
	if !ok {
		cmd := workflow.SleepCommand{Label: "S:" + eid}
		if ch.kind == effectUntil {
			at := ch.until
			cmd.Until = &at
		} else {
			secs := ch.seconds
			cmd.Seconds = &secs
		}
		io.cmds = append(io.cmds, cmd)
		return false
	}
	return io.idx.timerFired[tid]
}

// scheduleChild stages a schedule command for an unscheduled exec or sleep
// child and reports whether the child has a task in history.
func (io *IO) scheduleChild(cid string, ch Effect) (string, bool) {
	if ch.kind == effectExec {
		tid, ok := io.idx.execScheduled[cid]
		if !ok {
			io.stageExec(cid, ch.name, ch.input, ch.opts)
		}
		return tid, ok
	}
	tid, ok := io.idx.timerScheduled[cid]
	if !ok {
		io.resolveSleep(cid, ch)
	}
	return tid, ok
}

func (io *IO) takeSignal(name string) (workflow.Value, bool) {
	taken := io.sigTaken[name]
	sigs := io.idx.signals[name]
	if taken >= len(sigs) {
		return workflow.Null(), false
	}
	io.sigTaken[name] = taken + 1
	return sigs[taken].payload, true
}

func (io *IO) stageExec(eid, name string, input workflow.Value, opts []ExecOption) {
	var cfg execConfig
	for _, opt := range io.defaults {
		opt(&cfg)
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	io.cmds = append(io.cmds, workflow.ExecCommand{
		Name: "E:" + eid,
		Code: workflow.Object(map[string]workflow.Value{
			"action": workflow.String(name),
			"input":  input,
		}),
		RunAfter:    cfg.runAfter,
		IdemKey:     cfg.idemKey,
		MaxTries:    cfg.maxTries,
		RetryDelays: cfg.retryDelays,
	})
}

func (io *IO) stageSet(key string, v workflow.Value) {
	io.sets = append(io.sets, workflow.SetCommand{Key: key, Value: v})
	io.applySet(key, v)
}

func (io *IO) applySet(key string, v workflow.Value) {
	// The mirror is always an object; SetPath only fails on an empty path,
	// which reserved-key validation already rules out for user writes.
	_ = io.ctx.SetPath(key, v)
}

func (io *IO) stageComplete(result *workflow.Value) {
	if result != nil {
		io.stageSet("result", *result)
	}
	io.cmds = append(io.cmds, workflow.CompleteCommand{})
	io.halted = true
}

func (io *IO) stageFail(reason *fault.Fault) {
	io.cmds = append(io.cmds, workflow.FailCommand{Reason: reason})
	io.halted = true
}

// commands assembles the decision: bookkeeping and user context writes first,
// then schedule and terminal commands in stage order.
func (io *IO) commands() []workflow.Command {
	sets := io.sets
	if io.cursor > io.persistedCursor {
		sets = append(sets, workflow.SetCommand{Key: wfSubtree + ".cursor", Value: workflow.Int(io.cursor)})
	}
	names := make([]string, 0, len(io.sigTaken))
	for name := range io.sigTaken {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if io.sigTaken[name] > io.persistedSig[name] {
			sets = append(sets, workflow.SetCommand{
				Key:   wfSubtree + ".sigCount." + name,
				Value: workflow.Int(io.sigTaken[name]),
			})
		}
	}
	return append(sets, io.cmds...)
}
