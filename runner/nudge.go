package runner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Nudge is the queue message asking a worker to advance one workflow. The
// task id is advisory — the worker ticks and drains the whole workflow — but
// it makes queue dumps readable.
type Nudge struct {
	WfID   string `json:"wfId"`
	TaskID string `json:"taskId,omitempty"`
}

// nudgeSchema is the wire contract consumers enforce before processing a
// message. Anything failing it is poison and gets deleted.
const nudgeSchema = `{
	"type": "object",
	"required": ["wfId"],
	"properties": {
		"wfId": {"type": "string", "minLength": 1},
		"taskId": {"type": "string"}
	}
}`

var compiledNudgeSchema = mustCompileNudgeSchema()

func mustCompileNudgeSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(nudgeSchema))
	if err != nil {
		panic(fmt.Sprintf("runner: parse nudge schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("nudge.json", doc); err != nil {
		panic(fmt.Sprintf("runner: add nudge schema: %v", err))
	}
	return c.MustCompile("nudge.json")
}

// EncodeNudge renders a nudge to its JSON wire form.
func EncodeNudge(n Nudge) ([]byte, error) {
	if n.WfID == "" {
		return nil, fmt.Errorf("nudge requires a workflow id")
	}
	return json.Marshal(n)
}

// DecodeNudge parses and validates a nudge payload.
func DecodeNudge(body []byte) (Nudge, error) {
	if err := ValidateNudge(body); err != nil {
		return Nudge{}, err
	}
	var n Nudge
	if err := json.Unmarshal(body, &n); err != nil {
		return Nudge{}, fmt.Errorf("decoding nudge: %w", err)
	}
	return n, nil
}

// ValidateNudge checks a payload against the nudge schema. Use it with
// queue.NewValidating so malformed messages are deleted at receive time.
func ValidateNudge(body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("nudge is not valid JSON: %w", err)
	}
	if err := compiledNudgeSchema.Validate(inst); err != nil {
		return fmt.Errorf("nudge rejected: %w", err)
	}
	return nil
}
