package flow

import (
	"strings"

	"goa.design/ratchet/workflow"
)

type (
	// index is the one-pass projection of a workflow's history that replay
	// resolves effects against. Positions are history offsets; they are
	// immutable once written, which is what makes Race winners stable across
	// replays.
	index struct {
		// execScheduled maps effect id to task id for activity tasks carrying
		// an "E:" correlation name.
		execScheduled map[string]string
		// execResult maps task id to the recorded activity result.
		execResult map[string]workflow.Value
		// timerScheduled maps effect id to task id for sleep tasks carrying
		// an "S:" correlation label.
		timerScheduled map[string]string
		// timerFired marks sleep tasks that reached their deadline.
		timerFired map[string]bool
		// signals holds received signals per name in delivery order.
		signals map[string][]signalRec
		// resolvedAt maps task id to the history position of its completion
		// or firing event.
		resolvedAt map[string]int
	}

	signalRec struct {
		payload workflow.Value
		pos     int
	}
)

func indexHistory(history []workflow.Event) *index {
	idx := &index{
		execScheduled:  make(map[string]string),
		execResult:     make(map[string]workflow.Value),
		timerScheduled: make(map[string]string),
		timerFired:     make(map[string]bool),
		signals:        make(map[string][]signalRec),
		resolvedAt:     make(map[string]int),
	}
	for pos, e := range history {
		switch e.Type {
		case workflow.EventActivityScheduled:
			if eid, ok := strings.CutPrefix(e.Name, "E:"); ok {
				idx.execScheduled[eid] = e.TaskID
			}
		case workflow.EventActivityCompleted:
			result := workflow.Null()
			if e.Result != nil {
				result = *e.Result
			}
			idx.execResult[e.TaskID] = result
			idx.resolvedAt[e.TaskID] = pos
		case workflow.EventTimerScheduled:
			if eid, ok := strings.CutPrefix(e.Label, "S:"); ok {
				idx.timerScheduled[eid] = e.TaskID
			}
		case workflow.EventTimerFired:
			idx.timerFired[e.TaskID] = true
			idx.resolvedAt[e.TaskID] = pos
		case workflow.EventSignal:
			payload := workflow.Null()
			if e.Payload != nil {
				payload = *e.Payload
			}
			idx.signals[e.Name] = append(idx.signals[e.Name], signalRec{payload: payload, pos: pos})
		}
	}
	return idx
}
