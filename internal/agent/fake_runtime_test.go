package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/KaramelBytes/dataloom-cli/internal/ai"
	"github.com/KaramelBytes/dataloom-cli/internal/frame"
)

// scriptedRuntime replays canned completions in order and records requests.
type scriptedRuntime struct {
	replies  []scripted
	requests []ai.GenerateRequest
}

type scripted struct {
	content string
	err     error
}

func reply(content string) scripted { return scripted{content: content} }

func failure(err error) scripted { return scripted{err: err} }

func newScripted(replies ...scripted) *scriptedRuntime {
	return &scriptedRuntime{replies: replies}
}

func (r *scriptedRuntime) Generate(_ context.Context, req ai.GenerateRequest) (*ai.GenerateResponse, error) {
	req.Messages = append([]ai.Message(nil), req.Messages...)
	r.requests = append(r.requests, req)
	if len(r.replies) == 0 {
		return nil, errors.New("scripted runtime: no reply left")
	}
	next := r.replies[0]
	r.replies = r.replies[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &ai.GenerateResponse{
		Choices: []ai.Choice{{Message: ai.Message{Role: "assistant", Content: next.content}}},
		Usage:   ai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

// streamingRuntime serves the grounding answer word by word.
type streamingRuntime struct {
	*scriptedRuntime
}

func (r streamingRuntime) GenerateStream(ctx context.Context, req ai.GenerateRequest, onDelta func(string)) error {
	resp, err := r.Generate(ctx, req)
	if err != nil {
		return err
	}
	for i, w := range strings.Fields(resp.Content()) {
		if i > 0 {
			w = " " + w
		}
		onDelta(w)
	}
	return nil
}

// deterministicRuntime answers as a temperature-0 model would: the decision
// depends only on the last user question and the grounded answer only on the
// last execution result.
type deterministicRuntime struct {
	decisions map[string]string
	calls     int
}

var factRe = regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(resultPrefix) + `(.*)$`)

func (r *deterministicRuntime) Generate(_ context.Context, req ai.GenerateRequest) (*ai.GenerateResponse, error) {
	r.calls++
	var content string
	if req.ResponseFormat == ai.ResponseFormatJSON {
		content = r.decisions[lastUser(req.Messages)]
	} else {
		var fact string
		for _, m := range req.Messages {
			if m.Role == "system" {
				if sm := factRe.FindStringSubmatch(m.Content); sm != nil {
					fact = sm[1]
				}
			}
		}
		content = fmt.Sprintf("The answer is %s.", fact)
	}
	return &ai.GenerateResponse{Choices: []ai.Choice{{Message: ai.Message{Role: "assistant", Content: content}}}}, nil
}

func lastUser(msgs []ai.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}

func salesFrame() *frame.Frame {
	return frame.New("sales.csv", []string{"region", "units", "price"}, [][]string{
		{"north", "10", "2.5"},
		{"south", "12", "3.0"},
		{"north", "20", "1.5"},
		{"east", "", "4.0"},
	}, frame.ParseOptions{})
}
