package agent

import (
	"errors"
	"fmt"

	"github.com/KaramelBytes/dataloom-cli/internal/ai"
	"github.com/KaramelBytes/dataloom-cli/internal/frame"
	"github.com/KaramelBytes/dataloom-cli/internal/sandbox"
)

// ErrorKind classifies a failed turn.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindDataLoad
	KindModel
	KindMalformedOutput
	KindExecution
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindDataLoad:
		return "data_load"
	case KindModel:
		return "model"
	case KindMalformedOutput:
		return "malformed_output"
	case KindExecution:
		return "execution"
	default:
		return "internal"
	}
}

var (
	// ErrEmptyResponse is returned when the model produced nothing usable.
	ErrEmptyResponse = errors.New("empty response from model")
	// ErrMissingCode is returned for an execute decision without code.
	ErrMissingCode = errors.New("execute_code decision has no code")
	// ErrClosed is returned by a session after Close.
	ErrClosed = errors.New("session closed")
)

// ModelError wraps a failed call to the language model.
type ModelError struct {
	Stage string // "decision" or "grounding"
	Err   error
}

func (e *ModelError) Error() string { return fmt.Sprintf("%s call: %v", e.Stage, e.Err) }

func (e *ModelError) Unwrap() error { return e.Err }

// MalformedOutputError reports a decision that is not a usable JSON object.
type MalformedOutputError struct {
	Raw string
	Err error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed model output (%v): %q", e.Err, clip(e.Raw, 200))
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

// KindOf classifies err. A nil error is KindNone.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		le *frame.LoadError
		me *ModelError
		mo *MalformedOutputError
		ee *sandbox.ExecError
		ve *sandbox.ViolationError
	)
	switch {
	case errors.As(err, &le):
		return KindDataLoad
	case errors.Is(err, ErrEmptyResponse), errors.Is(err, ErrMissingCode), errors.As(err, &mo):
		return KindMalformedOutput
	case errors.As(err, &me), ai.IsProviderError(err):
		return KindModel
	case errors.As(err, &ee), errors.As(err, &ve):
		return KindExecution
	}
	return KindInternal
}

// UserMessage renders a turn failure as the text shown in the chat.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindNone:
		return ""
	case KindModel:
		var me *ModelError
		if errors.As(err, &me) {
			return "Error connecting to AI: " + me.Err.Error()
		}
		return "Error connecting to AI: " + err.Error()
	case KindExecution:
		return "Error executing code: " + err.Error()
	case KindDataLoad:
		return "Error loading data: " + err.Error()
	}
	if errors.Is(err, ErrEmptyResponse) {
		return "Error: Empty response from AI."
	}
	return "Error in processing: " + err.Error()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
