// Package agent runs the conversational loop over one dataset: a decision call
// chooses between replying and executing a snippet, executed results are fed
// back as system facts, and a grounding call turns them into prose.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KaramelBytes/dataloom-cli/internal/ai"
	"github.com/KaramelBytes/dataloom-cli/internal/analysis"
	"github.com/KaramelBytes/dataloom-cli/internal/frame"
	"github.com/KaramelBytes/dataloom-cli/internal/sandbox"
)

// Options configures a Session.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// DecisionRetries re-asks the model after an unusable decision. Zero
	// surfaces the first malformed decision as the turn error.
	DecisionRetries int
	// HistoryMessages and HistoryTokens bound the transcript; zero disables
	// the message bound, and a zero token bound is derived from the model.
	HistoryMessages int
	HistoryTokens   int

	Summary analysis.Options
	Limits  sandbox.Limits
	// Sandbox adds executor options, such as sandbox.WithProcess.
	Sandbox []sandbox.Option
	Logger  *zap.Logger
	// OnDelta, when set and the runtime streams, receives the grounded answer
	// as it is generated.
	OnDelta func(string)
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Model:           ai.DefaultModel,
		MaxTokens:       2048,
		HistoryMessages: 40,
		Summary:         analysis.DefaultOptions(),
		Limits:          sandbox.DefaultLimits(),
	}
}

// Turn is the record of one successful question.
type Turn struct {
	N        int
	Question string
	Decision *Decision
	// Outcome is the raw execution result; nil for replies.
	Outcome *sandbox.Outcome
	Answer  string
	Usage   ai.Usage
	Elapsed time.Duration
}

// Result returns the rendered execution result, or "" for replies.
func (t *Turn) Result() string {
	if t == nil || t.Outcome == nil {
		return ""
	}
	return t.Outcome.Text()
}

// Response is a turn as seen by a chat surface: failures become text.
type Response struct {
	Text string
	Turn *Turn
	Err  error
	Kind ErrorKind
}

// Session owns a dataset, its transcript and the runtime used to talk about it.
// It is not safe for concurrent use; turns are serialized by the caller.
type Session struct {
	id         string
	frame      *frame.Frame
	runtime    ai.Runtime
	exec       *sandbox.Executor
	opts       Options
	brief      string
	transcript *Transcript
	logger     *zap.Logger
	turns      int
	last       *Turn
	closed     bool
}

// New profiles f, builds the seed prompt and returns a ready session.
func New(f *frame.Frame, rt ai.Runtime, opts Options) (*Session, error) {
	if f == nil {
		return nil, errors.New("dataset is nil")
	}
	if rt == nil {
		return nil, errors.New("runtime is nil")
	}
	if opts.Model == "" {
		opts.Model = ai.DefaultModel
	}
	if opts.HistoryTokens <= 0 {
		opts.HistoryTokens = historyBudget(opts.Model, opts.MaxTokens)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	logger = logger.With(zap.String("session", id))

	brief := analysis.Summarize(f, opts.Summary).Markdown()
	s := &Session{
		id:         id,
		frame:      f,
		runtime:    rt,
		exec:       sandbox.New(opts.Limits, append([]sandbox.Option{sandbox.WithLogger(logger)}, opts.Sandbox...)...),
		opts:       opts,
		brief:      brief,
		transcript: NewTranscript(BuildSystemPrompt(brief), opts.HistoryMessages, opts.HistoryTokens),
		logger:     logger,
	}
	logger.Debug("session started",
		zap.String("dataset", f.Name()),
		zap.Int("rows", f.Len()),
		zap.Int("columns", f.NumCols()),
		zap.String("model", opts.Model))
	return s, nil
}

// historyBudget leaves room for the completion inside the model's window.
func historyBudget(model string, maxTokens int) int {
	window := ai.ContextWindow(model, 8192)
	budget := window - maxTokens
	if budget < window/2 {
		budget = window / 2
	}
	return budget
}

// ID is the session's unique id.
func (s *Session) ID() string { return s.id }

// Brief is the dataset summary embedded in the seed prompt.
func (s *Session) Brief() string { return s.brief }

// Frame is the session's dataset.
func (s *Session) Frame() *frame.Frame { return s.frame }

// Last is the most recent successful turn, or nil.
func (s *Session) Last() *Turn { return s.last }

// Greeting is the line shown once the dataset is loaded.
func (s *Session) Greeting() string {
	msg := fmt.Sprintf("I've loaded your dataset with %d rows and %d columns. Ask me anything about it!", s.frame.TotalRows(), s.frame.NumCols())
	if s.frame.Len() < s.frame.TotalRows() {
		msg += fmt.Sprintf(" (Analysis uses the first %d rows.)", s.frame.Len())
	}
	return msg
}

// Transcript returns a copy of the model-visible history.
func (s *Session) Transcript() []ai.Message {
	if s.closed {
		return nil
	}
	return s.transcript.Messages()
}

// Close discards the transcript and dataset. Reset is Close followed by New.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.transcript = nil
	s.frame = nil
	s.last = nil
	s.logger.Debug("session closed", zap.Int("turns", s.turns))
}

// Respond runs Ask and renders any failure as user-facing text.
func (s *Session) Respond(ctx context.Context, question string) Response {
	turn, err := s.Ask(ctx, question)
	if err != nil {
		return Response{Text: UserMessage(err), Err: err, Kind: KindOf(err)}
	}
	return Response{Text: turn.Answer, Turn: turn}
}

// Ask runs one turn. On any error the transcript is left exactly as it was.
func (s *Session) Ask(ctx context.Context, question string) (*Turn, error) {
	if s.closed {
		return nil, ErrClosed
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("question is empty")
	}
	start := time.Now()
	turn := &Turn{N: s.turns + 1, Question: question}
	log := s.logger.With(zap.Int("turn", turn.N))
	pending := []ai.Message{{Role: "user", Content: question}}

	fail := func(stage string, err error) (*Turn, error) {
		log.Info("turn rolled back",
			zap.String("stage", stage),
			zap.Stringer("kind", KindOf(err)),
			zap.Error(err))
		return nil, err
	}

	dec, err := s.decide(ctx, pending, turn, log)
	if err != nil {
		return fail("decision", err)
	}
	turn.Decision = dec

	switch dec.Action {
	case ActionExecute:
		out, err := s.exec.Run(ctx, s.frame, dec.Code)
		if err != nil {
			return fail("execute", err)
		}
		turn.Outcome = out
		log.Debug("execute",
			zap.String("kind", string(out.Kind)),
			zap.Duration("elapsed", out.Elapsed))
		pending = append(pending,
			ai.Message{Role: "assistant", Content: dec.Raw},
			ai.Message{Role: "system", Content: executionFact(out.Text())})

		answer, err := s.ground(ctx, pending, turn, log)
		if err != nil {
			return fail("ground", err)
		}
		turn.Answer = answer
	default:
		turn.Answer = dec.Text
	}

	pending = append(pending, ai.Message{Role: "assistant", Content: turn.Answer})
	s.transcript.Commit(pending)
	s.turns++
	turn.Elapsed = time.Since(start)
	s.last = turn
	log.Debug("turn committed",
		zap.String("action", string(dec.Action)),
		zap.Duration("elapsed", turn.Elapsed),
		zap.Int("history_messages", s.transcript.Len()),
		zap.Int("history_dropped", s.transcript.Dropped()))
	return turn, nil
}

// decide asks for a decision over seed, instructions, history and the pending
// user message, re-asking up to DecisionRetries times on unusable output.
func (s *Session) decide(ctx context.Context, pending []ai.Message, turn *Turn, log *zap.Logger) (*Decision, error) {
	history := s.transcript.Messages()
	msgs := make([]ai.Message, 0, len(history)+len(pending)+1)
	msgs = append(msgs, history[0], ai.Message{Role: "system", Content: decisionInstructions})
	msgs = append(msgs, history[1:]...)
	msgs = append(msgs, pending...)

	var lastErr error
	for attempt := 0; attempt <= s.opts.DecisionRetries; attempt++ {
		start := time.Now()
		resp, err := s.runtime.Generate(ctx, ai.GenerateRequest{
			Model:          s.opts.Model,
			Messages:       msgs,
			MaxTokens:      s.opts.MaxTokens,
			Temperature:    ai.Float64(s.opts.Temperature),
			ResponseFormat: ai.ResponseFormatJSON,
		})
		if err != nil {
			return nil, &ModelError{Stage: "decision", Err: err}
		}
		addUsage(&turn.Usage, resp.Usage)
		content := resp.Content()
		dec, err := ParseDecision(content)
		log.Debug("decision",
			zap.Int("attempt", attempt+1),
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			zap.Bool("ok", err == nil))
		if err == nil {
			return dec, nil
		}
		lastErr = err
		msgs = append(msgs,
			ai.Message{Role: "assistant", Content: content},
			ai.Message{Role: "system", Content: correctionNote(err)})
	}
	return nil, lastErr
}

// ground asks for the prose answer over history, the pending turn and the
// grounding instruction.
func (s *Session) ground(ctx context.Context, pending []ai.Message, turn *Turn, log *zap.Logger) (string, error) {
	msgs := append(s.transcript.Messages(), pending...)
	msgs = append(msgs, ai.Message{Role: "system", Content: groundingInstruction})
	req := ai.GenerateRequest{
		Model:       s.opts.Model,
		Messages:    msgs,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: ai.Float64(s.opts.Temperature),
	}
	start := time.Now()

	var answer string
	if sr, ok := s.runtime.(ai.StreamRuntime); ok && s.opts.OnDelta != nil {
		var b strings.Builder
		err := sr.GenerateStream(ctx, req, func(d string) {
			b.WriteString(d)
			s.opts.OnDelta(d)
		})
		if err != nil {
			return "", &ModelError{Stage: "grounding", Err: err}
		}
		answer = b.String()
	} else {
		resp, err := s.runtime.Generate(ctx, req)
		if err != nil {
			return "", &ModelError{Stage: "grounding", Err: err}
		}
		addUsage(&turn.Usage, resp.Usage)
		answer = resp.Content()
	}
	log.Debug("ground", zap.Duration("elapsed", time.Since(start)), zap.Int("answer_bytes", len(answer)))

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", ErrEmptyResponse
	}
	return answer, nil
}

func addUsage(dst *ai.Usage, u ai.Usage) {
	dst.PromptTokens += u.PromptTokens
	dst.CompletionTokens += u.CompletionTokens
	dst.TotalTokens += u.TotalTokens
}
