package agent

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/dataloom-cli/internal/ai"
	"github.com/KaramelBytes/dataloom-cli/internal/utils"
)

const (
	summaryHeader   = "Earlier in this session (older turns omitted to save context):"
	maxSummaryLines = 20
	summaryClip     = 160
)

// Transcript is the message history of one session. The seed system message
// stays at index 0; turns are appended whole and, when a window is set, the
// oldest whole turns are folded into a single summary note placed after the seed.
type Transcript struct {
	seed    ai.Message
	turns   [][]ai.Message
	notes   []string
	dropped int

	maxMessages int
	maxTokens   int
}

// NewTranscript seeds a transcript. Zero limits disable that bound.
func NewTranscript(seed string, maxMessages, maxTokens int) *Transcript {
	return &Transcript{
		seed:        ai.Message{Role: "system", Content: seed},
		maxMessages: maxMessages,
		maxTokens:   maxTokens,
	}
}

// Messages returns a copy of the model-visible history.
func (t *Transcript) Messages() []ai.Message {
	out := make([]ai.Message, 0, t.Len())
	out = append(out, t.seed)
	if note, ok := t.summary(); ok {
		out = append(out, note)
	}
	for _, turn := range t.turns {
		out = append(out, turn...)
	}
	return out
}

// Len is the number of model-visible messages.
func (t *Transcript) Len() int {
	n := 1
	if len(t.notes) > 0 {
		n++
	}
	for _, turn := range t.turns {
		n += len(turn)
	}
	return n
}

// Turns is the number of turns still held verbatim.
func (t *Transcript) Turns() int { return len(t.turns) }

// Dropped is the number of turns folded into the summary note.
func (t *Transcript) Dropped() int { return t.dropped }

// Tokens estimates the history size in tokens.
func (t *Transcript) Tokens() int {
	msgs := t.Messages()
	contents := make([]string, len(msgs))
	for i, m := range msgs {
		contents[i] = m.Content
	}
	return utils.CountMessageTokens(contents...)
}

// Commit appends one complete turn and applies the window.
func (t *Transcript) Commit(turn []ai.Message) {
	if len(turn) == 0 {
		return
	}
	t.turns = append(t.turns, append([]ai.Message(nil), turn...))
	t.trim()
}

func (t *Transcript) over() bool {
	if t.maxMessages > 0 && t.Len() > t.maxMessages {
		return true
	}
	return t.maxTokens > 0 && t.Tokens() > t.maxTokens
}

// trim drops the oldest turns while over budget, always keeping the newest.
func (t *Transcript) trim() {
	for len(t.turns) > 1 && t.over() {
		t.notes = append(t.notes, summarizeTurn(t.turns[0]))
		if len(t.notes) > maxSummaryLines {
			t.notes = t.notes[len(t.notes)-maxSummaryLines:]
		}
		t.turns = t.turns[1:]
		t.dropped++
	}
}

func (t *Transcript) summary() (ai.Message, bool) {
	if len(t.notes) == 0 {
		return ai.Message{}, false
	}
	var b strings.Builder
	b.WriteString(summaryHeader)
	if hidden := t.dropped - len(t.notes); hidden > 0 {
		fmt.Fprintf(&b, "\n- (%d older turns not listed)", hidden)
	}
	for _, n := range t.notes {
		b.WriteString("\n- ")
		b.WriteString(n)
	}
	return ai.Message{Role: "system", Content: b.String()}, true
}

func summarizeTurn(turn []ai.Message) string {
	var question, result, answer string
	for _, m := range turn {
		switch {
		case m.Role == "user" && question == "":
			question = m.Content
		case m.Role == "system" && strings.HasPrefix(m.Content, resultPrefix):
			result = strings.TrimPrefix(m.Content, resultPrefix)
		case m.Role == "assistant":
			answer = m.Content
		}
	}
	s := fmt.Sprintf("user asked %q", clip(oneLine(question), summaryClip))
	if result != "" {
		s += "; computed " + clip(oneLine(result), summaryClip)
	}
	if answer != "" {
		s += "; answered " + clip(oneLine(answer), summaryClip)
	}
	return s
}

func oneLine(s string) string { return strings.Join(strings.Fields(s), " ") }
