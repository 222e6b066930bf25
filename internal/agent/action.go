package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action is the variant chosen by the decision call.
type Action string

const (
	ActionReply   Action = "reply"
	ActionExecute Action = "execute_code"
)

var executeAliases = map[string]bool{
	"execute_code":   true,
	"execute":        true,
	"execute_python": true,
	"run_code":       true,
}

// replyKeys are tried in order for the reply text.
var replyKeys = []string{"response", "text", "reply", "answer"}

// Decision is one parsed decision.
type Decision struct {
	Action    Action
	Thought   string
	Code      string
	Rationale string
	// Text is the reply for ActionReply.
	Text string
	// Raw is the decoded object re-encoded as compact JSON; it is what the
	// transcript keeps for an execute turn.
	Raw string
}

// ParseDecision interprets one raw completion. Code fences around the JSON are
// ignored, a top-level array contributes its first element, and an object with
// a missing or unknown action is a reply. A reply without text falls back to
// the whole object rendered as JSON.
func ParseDecision(raw string) (*Decision, error) {
	s := stripFence(raw)
	if s == "" {
		return nil, ErrEmptyResponse
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, &MalformedOutputError{Raw: raw, Err: err}
	}
	if arr, ok := v.([]any); ok {
		if len(arr) == 0 {
			return nil, ErrEmptyResponse
		}
		v = arr[0]
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &MalformedOutputError{Raw: raw, Err: fmt.Errorf("expected a JSON object, got %s", jsonKind(v))}
	}
	enc, err := json.Marshal(obj)
	if err != nil {
		return nil, &MalformedOutputError{Raw: raw, Err: err}
	}
	d := &Decision{Thought: text(obj["thought"]), Raw: string(enc)}

	action := strings.ToLower(strings.TrimSpace(text(obj["action"])))
	if executeAliases[action] {
		d.Action = ActionExecute
		d.Code = text(obj["code"])
		if strings.TrimSpace(d.Code) == "" {
			return nil, ErrMissingCode
		}
		d.Rationale = text(obj["rationale"])
		if d.Rationale == "" {
			d.Rationale = d.Thought
		}
		return d, nil
	}

	d.Action = ActionReply
	for _, k := range replyKeys {
		if t := strings.TrimSpace(text(obj[k])); t != "" {
			d.Text = t
			return d, nil
		}
	}
	pretty, _ := json.MarshalIndent(obj, "", "  ")
	d.Text = string(pretty)
	return d, nil
}

func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "a string"
	case float64:
		return "a number"
	case bool:
		return "a boolean"
	case []any:
		return "an array"
	}
	return fmt.Sprintf("%T", v)
}

// stripFence removes a surrounding ``` or ```json fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
