package sandbox

import (
	"context"
	"errors"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/dataloom-cli/internal/frame"
)

// TestMain doubles as the snippet process when an isolated executor re-runs
// this test binary.
func TestMain(m *testing.M) {
	if os.Getenv(ChildEnv) != "" {
		os.Exit(ServeChild(os.Stdin, os.Stdout, os.Stderr))
	}
	os.Exit(m.Run())
}

func salesFrame() *frame.Frame {
	return frame.New("sales.csv", []string{"region", "units", "price"}, [][]string{
		{"north", "10", "2.5"},
		{"south", "12", "3.0"},
		{"north", "20", "1.5"},
		{"east", "", "4.0"},
	}, frame.ParseOptions{})
}

func run(t *testing.T, code string) (*Outcome, error) {
	t.Helper()
	return New(Limits{}).Run(context.Background(), salesFrame(), code)
}

func isolated(t *testing.T, lim Limits) *Executor {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	ex := New(lim, WithProcess(exe))
	require.True(t, ex.Isolated())
	return ex
}

func TestRunResultVariable(t *testing.T) {
	out, err := run(t, `result = df.Col("units").Sum()`)
	require.NoError(t, err)
	require.Equal(t, KindResult, out.Kind)
	require.Equal(t, 42.0, out.Value)
	require.Equal(t, "42.0", out.Text())
}

func TestRunShortDeclarationOfResult(t *testing.T) {
	out, err := run(t, "n := df.Len()\nresult := n * 2")
	require.NoError(t, err)
	require.Equal(t, KindResult, out.Kind)
	require.Equal(t, "8", out.Text())
}

func TestRunMultiNameDeclarationOfResult(t *testing.T) {
	out, err := run(t, "result, err := strconv.Atoi(\"7\")\n_ = err")
	require.NoError(t, err)
	require.Equal(t, KindResult, out.Kind)
	require.Equal(t, "7", out.Text())

	out, err = run(t, "n, err := strconv.Atoi(\"2\")\nresult, err := strconv.Atoi(\"5\"); _ = err\nresult = result.(int) * n")
	require.NoError(t, err)
	require.Equal(t, "10", out.Text())
}

func TestRunRejectsRedeclaredBindings(t *testing.T) {
	for _, code := range []string{
		"df := df.Head(2)\nresult = df.Len()",
		"df, n := df.Head(2), 1\nresult = n",
		"var df = 1\nresult = df",
		"var result int",
	} {
		_, err := run(t, code)
		var ve *ViolationError
		require.ErrorAs(t, err, &ve, code)
		require.Contains(t, ve.Reason, "already", code)
	}

	// plain reassignment keeps the binding's type and is allowed
	out, err := run(t, "df = df.Head(2)\nresult = df.Len()")
	require.NoError(t, err)
	require.Equal(t, "2", out.Text())
}

func TestRunKeywordsInsideStringsAreNotDeclarations(t *testing.T) {
	code := "s := `\npackage main\nimport \"os\"\n`\n// import \"net\"\nresult = len(strings.TrimSpace(s))"
	out, err := run(t, code)
	require.NoError(t, err)
	require.Equal(t, "24", out.Text())
}

func TestRunCapturesPrintedOutput(t *testing.T) {
	out, err := run(t, `fmt.Println("rows:", df.Len())`)
	require.NoError(t, err)
	require.Equal(t, KindOutput, out.Kind)
	require.Equal(t, "rows: 4\n", out.Value)
	require.Equal(t, "rows: 4", out.Text())
}

func TestRunNoResult(t *testing.T) {
	out, err := run(t, `x := df.Len(); _ = x`)
	require.NoError(t, err)
	require.Equal(t, KindEmpty, out.Kind)
	require.Equal(t, NoResult, out.Text())
}

func TestRunClosureAndGroupBy(t *testing.T) {
	out, err := run(t, `
expensive := df.Where(func(r frame.Row) bool { return r.Float("price") >= 3 })
names := expensive.Col("region").Values()
sort.Strings(names)
result = strings.Join(names, ",")
`)
	require.NoError(t, err)
	require.Equal(t, "east,south", out.Text())

	out, err = run(t, `result = df.GroupBy("region").Sum("units")`)
	require.NoError(t, err)
	require.Equal(t, "east: 0.0\nnorth: 30.0\nsouth: 12.0", out.Text())
}

func TestRunFrameResultRendersTable(t *testing.T) {
	out, err := run(t, `result = df.SortBy("price", false).Head(2)`)
	require.NoError(t, err)
	require.Contains(t, out.Text(), "| region | units | price |")
	require.Contains(t, out.Text(), "| east |  | 4.0 |")
}

func TestRunUnknownColumnIsExecError(t *testing.T) {
	_, err := run(t, `result = df.Col("revenue").Mean()`)
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	require.Contains(t, ee.Error(), `column "revenue" not found`)
	require.Contains(t, ee.Code, "revenue")
}

func TestRunCompileErrorIsExecError(t *testing.T) {
	_, err := run(t, `result = undefinedThing + 1`)
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	require.Contains(t, err.Error(), "undefinedThing")
}

func TestRunSyntaxError(t *testing.T) {
	_, err := run(t, "x := 1\nresult = (x")
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	require.Contains(t, err.Error(), "syntax error at line 2")
}

func TestRunRejectsViolations(t *testing.T) {
	cases := map[string]string{
		"os":      `result = os.Getenv("HOME")`,
		"exec":    `exec.Command("ls").Run()`,
		"import":  "import \"os\"\nresult = 1",
		"go":      `go func() {}()`,
		"goto":    "goto end\nend:\nresult = 1",
		"http":    `http.Get("http://example.com")`,
		"empty":   "   ",
		"package": "package main\nresult = 1",
	}
	for name, code := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := run(t, code)
			var ve *ViolationError
			require.ErrorAs(t, err, &ve)
		})
	}
}

func TestRunCodeSizeLimit(t *testing.T) {
	ex := New(Limits{MaxCodeBytes: 16})
	_, err := ex.Run(context.Background(), salesFrame(), `result = df.Len() + df.NumCols()`)
	var ve *ViolationError
	require.ErrorAs(t, err, &ve)
	require.Contains(t, ve.Reason, "limit is 16")
}

func TestRunTimeout(t *testing.T) {
	ex := New(Limits{Timeout: 200 * time.Millisecond})
	start := time.Now()
	_, err := ex.Run(context.Background(), salesFrame(), "x := 0\nfor {\n\tx++\n}")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrTimeout), "err = %v", err)
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestRunOutputCap(t *testing.T) {
	ex := New(Limits{MaxOutputBytes: 100})
	out, err := ex.Run(context.Background(), salesFrame(), `for i := 0; i < 1000; i++ { fmt.Println("line", i) }`)
	require.NoError(t, err)
	require.True(t, out.Truncated)
	require.Len(t, out.Output, 100)
	require.True(t, strings.HasSuffix(out.Text(), "... (output truncated)"))
}

func TestStripCodeFence(t *testing.T) {
	require.Equal(t, "result = 1", stripCodeFence("```go\nresult = 1\n```"))
	require.Equal(t, "result = 1", stripCodeFence("  result = 1 "))
}

func TestRender(t *testing.T) {
	require.Equal(t, "3.0", Render(3.0))
	require.Equal(t, "2.5", Render(2.5))
	require.Equal(t, "NaN", Render(math.NaN()))
	require.Equal(t, "7", Render(int64(7)))
	require.Equal(t, "[1, 2]", Render([]int{1, 2}))
	require.Equal(t, "[1.0, 0.25]", Render([]float64{1, 0.25}))
	require.Equal(t, "a: 2.5\nb: 1.0", Render(map[string]float64{"b": 1, "a": 2.5}))
	require.Equal(t, "true", Render(true))
	require.Equal(t, "nil", Render(nil))
	require.Equal(t, "alpha: 2\nbeta: 1", Render([]frame.ValueCount{{Value: "alpha", Count: 2}, {Value: "beta", Count: 1}}))
}

func TestCleanInterpError(t *testing.T) {
	line := wrapHeaderLines + 3
	msg := "_.go:" + strconv.Itoa(line) + ":5: undefined: foo"
	require.Equal(t, "line 3: undefined: foo", cleanInterpError(msg))
	require.Equal(t, "plain failure", cleanInterpError("plain failure"))
}

func TestIsolatedRun(t *testing.T) {
	ex := isolated(t, Limits{})
	out, err := ex.Run(context.Background(), salesFrame(), `result = df.GroupBy("region").Sum("units")`)
	require.NoError(t, err)
	require.Equal(t, KindResult, out.Kind)
	require.Equal(t, "east: 0.0\nnorth: 30.0\nsouth: 12.0", out.Text())

	out, err = ex.Run(context.Background(), salesFrame(), `fmt.Println("rows:", df.Len())`)
	require.NoError(t, err)
	require.Equal(t, KindOutput, out.Kind)
	require.Equal(t, "rows: 4", out.Text())

	_, err = ex.Run(context.Background(), salesFrame(), `result = df.Col("revenue").Mean()`)
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	require.Contains(t, ee.Error(), `column "revenue" not found`)

	_, err = ex.Run(context.Background(), salesFrame(), `result = os.Getenv("HOME")`)
	var ve *ViolationError
	require.ErrorAs(t, err, &ve)
}

func TestIsolatedRunSurvivesMemoryExhaustion(t *testing.T) {
	ex := isolated(t, Limits{MaxMemoryBytes: 256 << 20})
	_, err := ex.Run(context.Background(), salesFrame(), `result = len(strings.Repeat("x", 1<<40))`)
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	require.ErrorIs(t, err, ErrMemoryLimit)

	out, err := ex.Run(context.Background(), salesFrame(), `result = df.Len()`)
	require.NoError(t, err)
	require.Equal(t, "4", out.Text())
}

func TestIsolatedRunSurvivesStackOverflow(t *testing.T) {
	ex := isolated(t, Limits{MaxStackBytes: 16 << 20})
	code := "var f func(n int) int\nf = func(n int) int { return f(n+1) + 1 }\nresult = f(0)"
	_, err := ex.Run(context.Background(), salesFrame(), code)
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	require.ErrorIs(t, err, ErrStackLimit)
	require.Equal(t, code, ee.Code)
}

func TestIsolatedRunTimeout(t *testing.T) {
	ex := isolated(t, Limits{Timeout: 300 * time.Millisecond})
	start := time.Now()
	_, err := ex.Run(context.Background(), salesFrame(), "x := 0\nfor {\n\tx++\n}")
	require.ErrorIs(t, err, ErrTimeout)
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestIsolatedRunMissingBinary(t *testing.T) {
	ex := New(Limits{}, WithProcess("/nonexistent/dataloom"))
	_, err := ex.Run(context.Background(), salesFrame(), `result = 1`)
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	require.Contains(t, err.Error(), "start snippet process")
}

func TestCrashError(t *testing.T) {
	lim := DefaultLimits()
	exitErr := exitError(t)
	require.ErrorIs(t, crashError(exitErr, "runtime: out of memory: cannot allocate 1099511627776-byte block\nfatal error: out of memory\n", lim), ErrMemoryLimit)
	require.ErrorIs(t, crashError(exitErr, "runtime: goroutine stack exceeds 67108864-byte limit\nfatal error: stack overflow\n", lim), ErrStackLimit)
	err := crashError(exitErr, "some noise\nfatal error: concurrent map writes\n", lim)
	require.Contains(t, err.Error(), "fatal error: concurrent map writes")
}

// exitError returns the error of a process that exited non-zero.
func exitError(t *testing.T) error {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	cmd := exec.Command(exe)
	cmd.Env = []string{ChildEnv + "=1"}
	cmd.Stdin = strings.NewReader("not json")
	err = cmd.Run()
	var ee *exec.ExitError
	require.ErrorAs(t, err, &ee)
	return err
}
