package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/KaramelBytes/dataloom-cli/internal/frame"
)

// ChildEnv is set in the environment of every snippet process. A binary that
// finds it set must call ServeChild and exit with its status instead of
// starting normally.
const ChildEnv = "DATALOOM_SANDBOX_CHILD"

// childStartup is added to the wall-clock limit to cover process start and
// decoding the dataset.
const childStartup = 5 * time.Second

var (
	// ErrMemoryLimit marks a snippet whose process ran out of memory.
	ErrMemoryLimit = errors.New("memory limit exceeded")
	// ErrStackLimit marks a snippet whose process overflowed its stack.
	ErrStackLimit = errors.New("stack limit exceeded")
)

type childRequest struct {
	Code   string          `json:"code"`
	Limits Limits          `json:"limits"`
	Frame  *frame.Snapshot `json:"frame"`
}

type childResponse struct {
	Kind      Kind        `json:"kind,omitempty"`
	Value     string      `json:"value,omitempty"`
	Output    string      `json:"output,omitempty"`
	Truncated bool        `json:"truncated,omitempty"`
	Error     *childError `json:"error,omitempty"`
}

type childError struct {
	Message   string `json:"message"`
	Violation bool   `json:"violation,omitempty"`
	Timeout   bool   `json:"timeout,omitempty"`
}

func (e *Executor) runChild(ctx context.Context, f *frame.Frame, code string, start time.Time) (*Outcome, error) {
	req, err := json.Marshal(childRequest{Code: code, Limits: e.limits, Frame: f.Snapshot()})
	if err != nil {
		return nil, fmt.Errorf("encode snippet request: %w", err)
	}
	runCtx, cancel := context.WithTimeout(ctx, e.limits.Timeout+childStartup)
	defer cancel()

	var stdout bytes.Buffer
	stderr := &cappedBuffer{max: 16 << 10}
	cmd := exec.CommandContext(runCtx, e.child[0], e.child[1:]...)
	cmd.Env = []string{ChildEnv + "=1", "GOTRACEBACK=none"}
	cmd.Stdin = bytes.NewReader(req)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second
	runErr := cmd.Run()

	switch {
	case ctx.Err() != nil:
		return nil, e.childFail(code, fmt.Errorf("execution cancelled: %w", ctx.Err()))
	case runCtx.Err() != nil:
		return nil, e.childFail(code, fmt.Errorf("%w after %s", ErrTimeout, e.limits.Timeout))
	case runErr != nil:
		return nil, e.childFail(code, crashError(runErr, stderr.String(), e.limits))
	}

	var resp childResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, e.childFail(code, fmt.Errorf("snippet process returned malformed output: %w", err))
	}
	if ce := resp.Error; ce != nil {
		switch {
		case ce.Violation:
			return nil, &ViolationError{Code: code, Reason: ce.Message}
		case ce.Timeout:
			return nil, e.childFail(code, fmt.Errorf("%w after %s", ErrTimeout, e.limits.Timeout))
		}
		return nil, e.childFail(code, errors.New(ce.Message))
	}

	o := &Outcome{Kind: resp.Kind, Output: resp.Output, Truncated: resp.Truncated, Elapsed: time.Since(start)}
	switch o.Kind {
	case KindResult:
		o.Value = resp.Value
	case KindOutput:
		o.Value = o.Output
	default:
		o.Kind, o.Value = KindEmpty, NoResult
	}
	e.logger.Debug("snippet executed in child",
		zap.String("kind", string(o.Kind)),
		zap.Duration("elapsed", o.Elapsed),
		zap.Int("output_bytes", len(o.Output)))
	return o, nil
}

func (e *Executor) childFail(code string, err error) error {
	e.logger.Debug("snippet failed", zap.Error(err), zap.Bool("isolated", true))
	return &ExecError{Code: code, Err: err}
}

// crashError explains a child that exited without writing a response.
func crashError(runErr error, stderr string, lim Limits) error {
	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return fmt.Errorf("start snippet process: %w", runErr)
	}
	switch {
	case strings.Contains(stderr, "out of memory"), strings.Contains(stderr, "cannot allocate memory"):
		return fmt.Errorf("%w: the snippet needed more than %d MiB", ErrMemoryLimit, lim.MaxMemoryBytes>>20)
	case strings.Contains(stderr, "stack overflow"), strings.Contains(stderr, "stack exceeds"):
		return fmt.Errorf("%w: the snippet recursed past %d MiB of stack", ErrStackLimit, lim.MaxStackBytes>>20)
	}
	if cause := crashCause(stderr); cause != "" {
		return fmt.Errorf("snippet process died (%s): %s", exitErr, cause)
	}
	return fmt.Errorf("snippet process died (%s)", exitErr)
}

func crashCause(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for _, l := range lines {
		if strings.HasPrefix(l, "fatal error: ") || strings.HasPrefix(l, "panic: ") {
			return strings.TrimSpace(l)
		}
	}
	return strings.TrimSpace(lines[0])
}

// ServeChild is the body of a snippet process. It reads one request from r,
// caps the process's stack and memory, runs the snippet and writes the
// response to w. It returns the exit status. A snippet that exhausts memory or
// stack ends the process before ServeChild returns.
func ServeChild(r io.Reader, w, errw io.Writer) int {
	var req childRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		fmt.Fprintf(errw, "decode snippet request: %v\n", err)
		return 2
	}
	f, err := frame.FromSnapshot(req.Frame)
	if err != nil {
		fmt.Fprintf(errw, "%v\n", err)
		return 2
	}
	req.Frame = nil

	lim := req.Limits.withDefaults()
	// Limits are taken after the dataset is decoded so the budget is the snippet's.
	if err := applyProcessLimits(lim); err != nil {
		fmt.Fprintf(errw, "apply snippet limits: %v\n", err)
		return 2
	}

	var resp childResponse
	out, err := New(lim).Run(context.Background(), f, req.Code)
	var ve *ViolationError
	switch {
	case errors.As(err, &ve):
		resp.Error = &childError{Message: ve.Reason, Violation: true}
	case errors.Is(err, ErrTimeout):
		resp.Error = &childError{Message: err.Error(), Timeout: true}
	case err != nil:
		resp.Error = &childError{Message: err.Error()}
	default:
		resp.Kind, resp.Output, resp.Truncated = out.Kind, out.Output, out.Truncated
		if out.Kind == KindResult {
			resp.Value = Render(out.Value)
		}
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		fmt.Fprintf(errw, "encode snippet response: %v\n", err)
		return 2
	}
	return 0
}

func applyProcessLimits(lim Limits) error {
	debug.SetMaxStack(lim.MaxStackBytes)
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	debug.SetMemoryLimit(int64(ms.Sys) + lim.MaxMemoryBytes)
	return limitAddressSpace(lim.MaxMemoryBytes)
}
