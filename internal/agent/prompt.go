package agent

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/dataloom-cli/internal/sandbox"
)

// resultPrefix marks the system fact that carries an execution result.
const resultPrefix = "Execution Result: "

const frameAPI = `Frame (df and every derived table):
  df.Len() int, df.NumCols() int, df.Columns() []string, df.Has(name) bool
  df.Col(name) *frame.Column
  df.Head(n), df.Tail(n), df.Select(names...) *frame.Frame
  df.Filter(col, op, value string) *frame.Frame   // op: == != > >= < <= contains
  df.Where(func(r frame.Row) bool) *frame.Frame   // r.Get(col) string, r.Float(col) float64
  df.SortBy(col, ascending) *frame.Frame
  df.GroupBy(cols...) *frame.Grouped
  df.Corr(colA, colB) float64, df.Describe() *frame.Frame
Column:
  Sum, Mean, Median, Min, Max, Std() float64, Quantile(q) float64
  Count(), Missing(), NUnique() int, Unique(), Values() []string, Floats() []float64
  ValueCounts() map[string]int, TopValues(n) []frame.ValueCount, At(i) string, Float(i) float64
Grouped:
  Keys() []string, Count() map[string]int, Get(key) *frame.Frame
  Sum(col), Mean(col), Min(col), Max(col) map[string]float64`

// BuildSystemPrompt renders the seed system message for a dataset brief.
func BuildSystemPrompt(brief string) string {
	var b strings.Builder
	b.WriteString("You are a data analysis assistant. The user is asking questions about one tabular dataset.\n\n")
	b.WriteString("Dataset:\n")
	b.WriteString(strings.TrimSpace(brief))
	b.WriteString("\n\n")
	b.WriteString("To compute something, write a short Go snippet: a list of statements, no package clause, no imports, no functions declared at top level.\n")
	b.WriteString("The dataset is bound to df (*frame.Frame). Store the final value in the predeclared variable result (result = ...).\n")
	fmt.Fprintf(&b, "Available packages: %s. Nothing else can be imported; there is no file, network or process access.\n\n", strings.Join(sandbox.Packages, ", "))
	b.WriteString(frameAPI)
	b.WriteString("\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- When no computation is needed, answer in plain prose.\n")
	b.WriteString("- When the answer depends on the data, run code instead of guessing; give the code and a one-line rationale.\n")
	b.WriteString("- Use column names exactly as listed above.\n")
	b.WriteString("- Results of executed code appear as system messages starting with \"" + strings.TrimSpace(resultPrefix) + "\".\n")
	return b.String()
}

// decisionInstructions is sent with every decision call and never stored.
const decisionInstructions = `Respond with exactly one JSON object and nothing else.

To run code:
{"thought": "what you need to find out", "action": "execute_code", "code": "result = df.Col(\"price\").Mean()", "rationale": "why this computes the answer"}

To answer directly:
{"thought": "why no computation is needed", "action": "reply", "response": "the answer in plain prose"}`

// groundingInstruction is appended to the grounding call and never stored.
const groundingInstruction = `Answer the user's last question in natural language using the execution result above as the factual basis. Quote computed numbers as they appear. Do not show code, JSON, variable names or other technical internals.`

// correctionNote asks the model to retry after an unusable decision.
func correctionNote(err error) string {
	return fmt.Sprintf("Your previous reply could not be used (%v). Reply again with a single JSON object following the format above.", err)
}

func executionFact(result string) string { return resultPrefix + result }
