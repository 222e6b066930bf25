package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/dataloom-cli/internal/agent"
	"github.com/KaramelBytes/dataloom-cli/internal/ai"
	"github.com/KaramelBytes/dataloom-cli/internal/utils"
)

var (
	chatFlags      sessionFlags
	chatShowResult bool
	chatStream     bool
	chatNoColor    bool
)

var chatCmd = &cobra.Command{
	Use:   "chat <file>",
	Short: "Chat with a dataset in an interactive session",
	Example: `  dataloom chat sales.csv
  dataloom chat report.xlsx --sheet-name Q3 --show-result
  dataloom chat data.csv --provider ollama --model llama3.1:8b-instruct --stream`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r := newREPL(cmd.InOrStdin(), cmd.OutOrStdout(), chatShowResult, chatNoColor)
		var onDelta func(string)
		if chatStream {
			onDelta = r.delta
		}
		st, err := chatFlags.prepare(args[0], onDelta)
		if err != nil {
			return err
		}
		r.starter = st
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return r.run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatFlags.register(chatCmd)
	chatCmd.Flags().BoolVar(&chatShowResult, "show-result", false, "print the raw execution result under each computed answer")
	chatCmd.Flags().BoolVar(&chatStream, "stream", false, "stream answers as they are generated (if the provider supports it)")
	chatCmd.Flags().BoolVar(&chatNoColor, "no-color", false, "disable colors and markdown styling")
}

const chatHelp = `Commands:
  /reset        start a new conversation over the same dataset
  /history      list the conversation so far
  /result       show the code and raw result of the last computed answer
  /save <path>  write the conversation to a YAML file
  /usage        show token usage and estimated cost so far
  /help         show this help
  /exit         leave (also /quit or Ctrl-D)`

type chatStyles struct {
	user, assistant, system, muted, err lipgloss.Style
}

func newChatStyles(noColor bool) chatStyles {
	if noColor {
		plain := lipgloss.NewStyle()
		return chatStyles{plain, plain, plain, plain, plain}
	}
	return chatStyles{
		user:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5FAFFF")),
		assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5FD787")),
		system:    lipgloss.NewStyle().Foreground(lipgloss.Color("#D7AF5F")),
		muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")),
		err:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F5F")),
	}
}

// repl is the line-oriented chat loop. One turn runs at a time.
type repl struct {
	in         io.Reader
	out        io.Writer
	styles     chatStyles
	renderer   *glamour.TermRenderer
	showResult bool

	starter  *starter
	session  *agent.Session
	streamed bool
	usage    ai.Usage
}

func newREPL(in io.Reader, out io.Writer, showResult, noColor bool) *repl {
	r := &repl{in: in, out: out, styles: newChatStyles(noColor), showResult: showResult}
	var err error
	if noColor {
		r.renderer, err = glamour.NewTermRenderer(glamour.WithStandardStyle("notty"), glamour.WithWordWrap(100))
	} else {
		r.renderer, err = glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	}
	if err != nil {
		logger.Debug("markdown renderer unavailable", zap.Error(err))
		r.renderer = nil
	}
	return r
}

func (r *repl) delta(d string) {
	if !r.streamed {
		r.streamed = true
		fmt.Fprint(r.out, r.styles.assistant.Render("dataloom>")+" ")
	}
	fmt.Fprint(r.out, d)
}

func (r *repl) render(md string) string {
	if r.renderer == nil {
		return md
	}
	s, err := r.renderer.Render(md)
	if err != nil {
		return md
	}
	return strings.Trim(s, "\n")
}

func (r *repl) run(ctx context.Context) error {
	sess, err := r.starter.start()
	if err != nil {
		return err
	}
	r.session = sess
	defer func() { r.session.Close() }()

	fmt.Fprintln(r.out, r.styles.assistant.Render("dataloom>")+" "+sess.Greeting())
	fmt.Fprintln(r.out, r.styles.muted.Render("Type /help for commands."))

	sc := bufio.NewScanner(r.in)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for {
		fmt.Fprint(r.out, r.styles.user.Render("you>")+" ")
		if !sc.Scan() {
			fmt.Fprintln(r.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			done, err := r.command(line)
			if err != nil {
				fmt.Fprintln(r.out, r.styles.err.Render("✗ "+err.Error()))
			}
			if done {
				return nil
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.turn(ctx, line)
	}
}

func (r *repl) turn(ctx context.Context, question string) {
	r.streamed = false
	resp := r.session.Respond(ctx, question)
	if resp.Err != nil {
		fmt.Fprintln(r.out, r.styles.err.Render("dataloom> "+resp.Text))
		return
	}
	u := resp.Turn.Usage
	r.usage.PromptTokens += u.PromptTokens
	r.usage.CompletionTokens += u.CompletionTokens
	r.usage.TotalTokens += u.TotalTokens
	if r.streamed {
		fmt.Fprintln(r.out)
	} else {
		fmt.Fprintln(r.out, r.styles.assistant.Render("dataloom>"))
		fmt.Fprintln(r.out, r.render(resp.Text))
	}
	if r.showResult && resp.Turn.Outcome != nil {
		fmt.Fprintln(r.out, r.styles.system.Render("result: "+resp.Turn.Result()))
	}
}

// command runs a slash command and reports whether the loop should end.
func (r *repl) command(line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "/exit", "/quit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
	case "/reset":
		r.session.Close()
		sess, err := r.starter.start()
		if err != nil {
			return true, err
		}
		r.session = sess
		fmt.Fprintln(r.out, r.styles.muted.Render("Conversation reset."))
	case "/history":
		r.printHistory()
	case "/result":
		last := r.session.Last()
		if last == nil || last.Outcome == nil {
			fmt.Fprintln(r.out, r.styles.muted.Render("No computed result yet."))
			return false, nil
		}
		md := "```go\n" + last.Decision.Code + "\n```"
		fmt.Fprintln(r.out, r.render(md))
		fmt.Fprintln(r.out, r.styles.system.Render("result: "+last.Result()))
	case "/usage":
		msg := fmt.Sprintf("tokens: %d prompt, %d completion", r.usage.PromptTokens, r.usage.CompletionTokens)
		if cost, ok := ai.EstimateCostUSD(r.starter.opts.Model, r.usage.PromptTokens, r.usage.CompletionTokens); ok {
			msg += fmt.Sprintf(" (~$%.4f)", cost)
		}
		fmt.Fprintln(r.out, r.styles.muted.Render(msg))
	case "/save":
		if arg == "" {
			return false, fmt.Errorf("usage: /save <path>")
		}
		if err := r.save(arg); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "💾 Saved conversation to %s\n", arg)
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

func (r *repl) printHistory() {
	msgs := r.session.Transcript()
	if len(msgs) <= 1 {
		fmt.Fprintln(r.out, r.styles.muted.Render("No messages yet."))
		return
	}
	for _, m := range msgs[1:] {
		var label string
		switch m.Role {
		case "user":
			label = r.styles.user.Render("you:")
		case "assistant":
			label = r.styles.assistant.Render("dataloom:")
		default:
			label = r.styles.system.Render(m.Role + ":")
		}
		fmt.Fprintln(r.out, label, m.Content)
	}
}

type transcriptExport struct {
	Session  string          `yaml:"session"`
	Dataset  string          `yaml:"dataset"`
	Model    string          `yaml:"model"`
	SavedAt  time.Time       `yaml:"saved_at"`
	Messages []exportMessage `yaml:"messages"`
}

type exportMessage struct {
	Role    string `yaml:"role"`
	Content string `yaml:"content"`
}

func (r *repl) save(path string) error {
	msgs := r.session.Transcript()
	exp := transcriptExport{
		Session:  r.session.ID(),
		Dataset:  r.session.Frame().Name(),
		Model:    r.starter.opts.Model,
		SavedAt:  time.Now().UTC(),
		Messages: make([]exportMessage, len(msgs)),
	}
	for i, m := range msgs {
		exp.Messages[i] = exportMessage{Role: m.Role, Content: m.Content}
	}
	data, err := yaml.Marshal(exp)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	if err := utils.SafeWriteFile(path, data); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}
