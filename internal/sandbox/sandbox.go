// Package sandbox runs model-authored Go snippets against a dataset inside a
// fresh yaegi interpreter per call.
//
// An Executor built with WithProcess runs each snippet in a child process that
// caps its own memory and stack, so a snippet that exhausts either kills only
// the child. Without it, snippets run in the calling process.
//
// A snippet is a list of statements. It sees the dataset as df (*frame.Frame),
// may use fmt, math, sort, strings, strconv and frame, and reports its answer by
// assigning to result. The interpreter has no os, net, exec, unsafe or syscall
// symbols, an empty environment, empty stdin and no source filesystem.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"go.uber.org/zap"

	"github.com/KaramelBytes/dataloom-cli/internal/frame"
)

// NoResult is the value reported when a snippet neither sets result nor prints.
const NoResult = "No result variable set."

// ErrTimeout marks a snippet stopped by the wall-clock limit.
var ErrTimeout = errors.New("execution timed out")

// Limits bounds one snippet execution. MaxMemoryBytes and MaxStackBytes are
// enforced only in a child process.
type Limits struct {
	Timeout        time.Duration
	MaxOutputBytes int
	MaxCodeBytes   int
	MaxMemoryBytes int64
	MaxStackBytes  int
}

// DefaultLimits returns the standard limits.
func DefaultLimits() Limits {
	return Limits{
		Timeout:        10 * time.Second,
		MaxOutputBytes: 64 << 10,
		MaxCodeBytes:   16 << 10,
		MaxMemoryBytes: 512 << 20,
		MaxStackBytes:  64 << 20,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.Timeout <= 0 {
		l.Timeout = d.Timeout
	}
	if l.MaxOutputBytes <= 0 {
		l.MaxOutputBytes = d.MaxOutputBytes
	}
	if l.MaxCodeBytes <= 0 {
		l.MaxCodeBytes = d.MaxCodeBytes
	}
	if l.MaxMemoryBytes <= 0 {
		l.MaxMemoryBytes = d.MaxMemoryBytes
	}
	if l.MaxStackBytes <= 0 {
		l.MaxStackBytes = d.MaxStackBytes
	}
	return l
}

// Kind says where an Outcome's value came from.
type Kind string

const (
	KindResult Kind = "result"
	KindOutput Kind = "output"
	KindEmpty  Kind = "empty"
)

// Outcome is the value produced by a successful run.
type Outcome struct {
	Kind Kind
	// Value is the result variable (KindResult), the captured output string
	// (KindOutput) or NoResult (KindEmpty). A result from a child process
	// arrives already rendered, as a string.
	Value any
	// Output is everything the snippet printed, regardless of Kind.
	Output    string
	Truncated bool
	Elapsed   time.Duration
}

// Text renders the outcome for the transcript.
func (o *Outcome) Text() string {
	switch o.Kind {
	case KindResult:
		return Render(o.Value)
	case KindOutput:
		s := strings.TrimRight(o.Output, "\n")
		if o.Truncated {
			s += "\n... (output truncated)"
		}
		return s
	default:
		return NoResult
	}
}

// ExecError reports a snippet that failed to compile, panicked, timed out or
// brought down its child process.
type ExecError struct {
	Code string
	Err  error
}

func (e *ExecError) Error() string { return e.Err.Error() }

func (e *ExecError) Unwrap() error { return e.Err }

// ViolationError reports a snippet rejected before execution.
type ViolationError struct {
	Code   string
	Reason string
}

func (e *ViolationError) Error() string { return "snippet rejected: " + e.Reason }

// Executor runs snippets. It is safe for concurrent use; every Run gets its own
// interpreter.
type Executor struct {
	limits Limits
	logger *zap.Logger
	child  []string
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger; the default discards.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithProcess runs every snippet in a fresh child process started from path
// with args. The child must call ServeChild; see ChildEnv.
func WithProcess(path string, args ...string) Option {
	return func(e *Executor) {
		e.child = append([]string{path}, args...)
	}
}

// New returns an Executor. Zero fields in limits take their defaults.
func New(limits Limits, opts ...Option) *Executor {
	e := &Executor{limits: limits.withDefaults(), logger: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Limits returns the effective limits.
func (e *Executor) Limits() Limits { return e.limits }

// Isolated reports whether snippets run in a child process.
func (e *Executor) Isolated() bool { return len(e.child) > 0 }

// Run validates and executes code with df bound to f.
func (e *Executor) Run(ctx context.Context, f *frame.Frame, code string) (*Outcome, error) {
	start := time.Now()
	code = stripCodeFence(code)
	body, err := validate(code, e.limits)
	if err != nil {
		e.logger.Debug("snippet rejected", zap.Error(err))
		return nil, err
	}
	if e.Isolated() {
		return e.runChild(ctx, f, code, start)
	}
	return e.runLocal(ctx, f, code, body, start)
}

func (e *Executor) runLocal(ctx context.Context, f *frame.Frame, code, body string, start time.Time) (*Outcome, error) {
	out := &cappedBuffer{max: e.limits.MaxOutputBytes}
	i := interp.New(interp.Options{
		Stdin:                strings.NewReader(""),
		Stdout:               out,
		Stderr:               out,
		Env:                  []string{},
		SourcecodeFilesystem: noSource{},
	})
	if err := i.Use(exports(f)); err != nil {
		return nil, fmt.Errorf("prepare interpreter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.limits.Timeout)
	defer cancel()

	if _, err := i.EvalWithContext(ctx, wrap(body)); err != nil {
		return nil, e.fail(ctx, code, err)
	}
	v, err := i.EvalWithContext(ctx, "main.Run()")
	if err != nil {
		return nil, e.fail(ctx, code, err)
	}

	o := &Outcome{Output: out.String(), Truncated: out.truncated, Elapsed: time.Since(start)}
	var val any
	if v.IsValid() && v.CanInterface() {
		val = v.Interface()
	}
	switch {
	case val != nil:
		o.Kind, o.Value = KindResult, val
	case strings.TrimSpace(o.Output) != "":
		o.Kind, o.Value = KindOutput, o.Output
	default:
		o.Kind, o.Value = KindEmpty, NoResult
	}
	e.logger.Debug("snippet executed",
		zap.String("kind", string(o.Kind)),
		zap.Duration("elapsed", o.Elapsed),
		zap.Int("output_bytes", len(o.Output)))
	return o, nil
}

func (e *Executor) fail(ctx context.Context, code string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s", ErrTimeout, e.limits.Timeout)
	} else if errors.Is(err, context.Canceled) {
		err = fmt.Errorf("execution cancelled: %w", err)
	} else {
		err = errors.New(cleanInterpError(err.Error()))
	}
	e.logger.Debug("snippet failed", zap.Error(err))
	return &ExecError{Code: code, Err: err}
}

// cappedBuffer keeps the first max bytes written and silently drops the rest.
type cappedBuffer struct {
	b         strings.Builder
	max       int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.max - c.b.Len()
	if room <= 0 {
		c.truncated = c.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		c.b.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.b.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) String() string { return c.b.String() }

var _ io.Writer = (*cappedBuffer)(nil)

// noSource refuses every file, so the interpreter cannot import source from disk.
type noSource struct{}

func (noSource) Open(name string) (fs.File, error) {
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

func stripCodeFence(code string) string {
	s := strings.TrimSpace(code)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
