package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/dataloom-cli/internal/sandbox"
	"github.com/KaramelBytes/dataloom-cli/internal/utils"
)

var (
	execFlags loadFlags
	execJSON  bool
)

var execCmd = &cobra.Command{
	Use:   "exec <file> <code|->",
	Short: "Run a snippet against a dataset in the sandbox, without a model",
	Long: `Exec runs a Go snippet exactly as a model-written one would run: df is bound to the
dataset and the value assigned to result is printed. Pass - to read the snippet from stdin.`,
	Example: `  dataloom exec sales.csv 'result = df.Col("price").Mean()'
  echo 'result = df.GroupBy("region").Sum("units")' | dataloom exec sales.csv -`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		code := args[1]
		if code == "-" {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read snippet: %w", err)
			}
			code = string(b)
		}
		if strings.TrimSpace(code) == "" {
			return fmt.Errorf("snippet is empty")
		}
		c, err := currentConfig()
		if err != nil {
			return err
		}
		f, err := execFlags.load(args[0], c)
		if err != nil {
			return err
		}
		ex := sandbox.New(sandboxLimits(c), append([]sandbox.Option{sandbox.WithLogger(logger)}, sandboxIsolation()...)...)
		out, err := ex.Run(cmd.Context(), f, code)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if execJSON {
			b, err := utils.PrettyJSON(map[string]any{
				"kind":       out.Kind,
				"result":     out.Text(),
				"output":     out.Output,
				"truncated":  out.Truncated,
				"elapsed_ms": out.Elapsed.Milliseconds(),
			})
			if err != nil {
				return fmt.Errorf("marshal output: %w", err)
			}
			fmt.Fprintln(w, string(b))
			return nil
		}
		if out.Kind == sandbox.KindResult && out.Output != "" {
			fmt.Fprint(w, out.Output)
			if !strings.HasSuffix(out.Output, "\n") {
				fmt.Fprintln(w)
			}
		}
		fmt.Fprintln(w, out.Text())
		return nil
	},
}

// execChildCmd is the snippet process started by an isolated executor.
var execChildCmd = &cobra.Command{
	Use:    "__exec",
	Short:  "Run one sandboxed snippet read from stdin",
	Hidden: true,
	Args:   cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(sandbox.ServeChild(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr()))
	},
}

func init() {
	rootCmd.AddCommand(execCmd, execChildCmd)
	execFlags.register(execCmd)
	execCmd.Flags().BoolVar(&execJSON, "json", false, "print the outcome as JSON")
}
