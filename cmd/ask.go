package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/dataloom-cli/internal/agent"
	"github.com/KaramelBytes/dataloom-cli/internal/ai"
	"github.com/KaramelBytes/dataloom-cli/internal/utils"
)

var (
	askFlags      sessionFlags
	askJSON       bool
	askShowResult bool
)

var askCmd = &cobra.Command{
	Use:   "ask <file> <question> [question...]",
	Short: "Ask one or more questions about a dataset and exit",
	Long: `Ask runs each question as a turn of one conversation, so later questions can refer
to earlier answers. Failed turns are reported and the remaining questions still run.`,
	Example: `  dataloom ask sales.csv "How many rows are there?"
  dataloom ask sales.csv "What is the average price?" "And per region?" --json`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := askFlags.prepare(args[0], nil)
		if err != nil {
			return err
		}
		sess, err := st.start()
		if err != nil {
			return err
		}
		defer sess.Close()
		return runAsk(cmd.Context(), sess, st.opts.Model, args[1:], cmd.OutOrStdout(), askJSON, askShowResult)
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askFlags.register(askCmd)
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print answers as a JSON array")
	askCmd.Flags().BoolVar(&askShowResult, "show-result", false, "print the raw execution result under each computed answer")
}

type askResult struct {
	Question string  `json:"question"`
	Answer   string  `json:"answer"`
	Action   string  `json:"action,omitempty"`
	Code     string  `json:"code,omitempty"`
	Result   string  `json:"result,omitempty"`
	Error    string  `json:"error,omitempty"`
	Kind     string  `json:"error_kind,omitempty"`
	Tokens   int     `json:"tokens,omitempty"`
	CostUSD  float64 `json:"cost_usd,omitempty"`
}

func runAsk(ctx context.Context, sess *agent.Session, model string, questions []string, w io.Writer, asJSON, showResult bool) error {
	results := make([]askResult, 0, len(questions))
	for _, q := range questions {
		resp := sess.Respond(ctx, q)
		res := askResult{Question: q, Answer: resp.Text}
		if resp.Err != nil {
			res.Error = resp.Err.Error()
			res.Kind = resp.Kind.String()
		} else if d := resp.Turn.Decision; d != nil {
			res.Action = string(d.Action)
			res.Code = d.Code
			res.Result = resp.Turn.Result()
			u := resp.Turn.Usage
			res.Tokens = u.TotalTokens
			if cost, ok := ai.EstimateCostUSD(model, u.PromptTokens, u.CompletionTokens); ok {
				res.CostUSD = cost
			}
		}
		results = append(results, res)
		if ctx.Err() != nil {
			break
		}
	}

	if asJSON {
		b, err := utils.PrettyJSON(results)
		if err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
		fmt.Fprintln(w, string(b))
		return nil
	}
	for i, res := range results {
		if len(results) > 1 {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "Q: %s\n", res.Question)
		}
		fmt.Fprintln(w, res.Answer)
		if showResult && res.Result != "" {
			fmt.Fprintf(w, "result: %s\n", res.Result)
		}
	}
	return nil
}
