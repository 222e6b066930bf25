package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KaramelBytes/dataloom-cli/internal/agent"
	"github.com/KaramelBytes/dataloom-cli/internal/ai"
	"github.com/KaramelBytes/dataloom-cli/internal/analysis"
	cfgpkg "github.com/KaramelBytes/dataloom-cli/internal/config"
	"github.com/KaramelBytes/dataloom-cli/internal/frame"
	"github.com/KaramelBytes/dataloom-cli/internal/sandbox"
)

type runtimeOptions struct {
	Provider   string
	OllamaHost string
}

// normalizeProvider maps user-facing provider names onto registered runtimes.
func normalizeProvider(name string) string {
	switch p := strings.ToLower(strings.TrimSpace(name)); p {
	case "":
		return ""
	case ai.ProviderLocal, ai.ProviderOllama:
		return ai.ProviderOllama
	case ai.ProviderAnthropic, ai.ProviderGoogle, ai.ProviderGemini, ai.ProviderMeta, ai.ProviderLlama:
		return ai.ProviderOpenRouter
	default:
		return p
	}
}

func buildRuntime(cfg *cfgpkg.Global, opts runtimeOptions) (ai.Runtime, string, error) {
	httpTimeout := 60 * time.Second
	retryMax := 3
	baseDelay := 500 * time.Millisecond
	maxDelay := 4 * time.Second
	if cfg != nil {
		if cfg.HTTPTimeoutSec > 0 {
			httpTimeout = time.Duration(cfg.HTTPTimeoutSec) * time.Second
		}
		if cfg.RetryMaxAttempts > 0 {
			retryMax = cfg.RetryMaxAttempts
		}
		if cfg.RetryBaseDelayMs > 0 {
			baseDelay = time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond
		}
		if cfg.RetryMaxDelayMs > 0 {
			maxDelay = time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond
		}
	}

	providerName := normalizeProvider(opts.Provider)
	if providerName == "" && cfg != nil {
		providerName = normalizeProvider(cfg.DefaultProvider)
	}
	if providerName == "" {
		providerName = ai.DefaultProvider
	}

	rc := ai.RuntimeConfig{
		HTTPTimeout: httpTimeout,
		RetryMax:    retryMax,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
	}

	switch providerName {
	case ai.ProviderOpenAI:
		if cfg != nil {
			rc.APIKey = cfg.APIKey
			rc.BaseURL = cfg.BaseURL
		}
	case ai.ProviderOpenRouter:
		rc.APIKey = os.Getenv("OPENROUTER_API_KEY")
		if rc.APIKey == "" && cfg != nil {
			rc.APIKey = cfg.APIKey
		}
	case ai.ProviderOllama:
		host := strings.TrimSpace(opts.OllamaHost)
		if host == "" && cfg != nil {
			host = cfg.OllamaHost
		}
		if host == "" {
			host = "http://127.0.0.1:11434"
		}
		rc.Host = host
		if cfg != nil && cfg.OllamaTimeoutSec > 0 {
			rc.HTTPTimeout = time.Duration(cfg.OllamaTimeoutSec) * time.Second
		}
	}

	client, ok := ai.GetRuntime(providerName, rc)
	if !ok {
		return nil, providerName, fmt.Errorf("provider not supported: %s (available: %s)", providerName, strings.Join(ai.Providers(), ", "))
	}
	return client, providerName, nil
}

// selectModel resolves the model by precedence: flag, tier preset, config, default.
func selectModel(cfg *cfgpkg.Global, explicit, provider, tier string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if tier != "" {
		m, ok := ai.RecommendModel(provider, tier)
		if !ok {
			return "", fmt.Errorf("no %s model preset for provider %q (tiers: %s)", tier, provider, strings.Join(ai.Tiers, ", "))
		}
		return m, nil
	}
	if cfg != nil && cfg.DefaultModel != "" {
		return cfg.DefaultModel, nil
	}
	return ai.DefaultModel, nil
}

// loadFlags are the dataset flags shared by chat, ask, exec and analyze.
type loadFlags struct {
	delimiter  string
	decimal    string
	thousands  string
	maxRows    int
	sampleRows int
	sheetName  string
	sheetIndex int
}

func (l *loadFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&l.delimiter, "delimiter", "", "CSV delimiter: ',' | ';' | 'tab' (auto-detect if omitted)")
	f.StringVar(&l.decimal, "decimal", "", "decimal separator for numbers: '.'|'comma' (auto-detect if omitted)")
	f.StringVar(&l.thousands, "thousands", "", "thousands separator for numbers: ','|'.'|'space' (auto-detect if omitted)")
	f.IntVar(&l.maxRows, "max-rows", 0, "max rows to load (default from config)")
	f.IntVar(&l.sampleRows, "sample-rows", 0, "sample rows in the dataset brief (default from config)")
	f.StringVar(&l.sheetName, "sheet-name", "", "XLSX: sheet name to load")
	f.IntVar(&l.sheetIndex, "sheet-index", 0, "XLSX: 1-based sheet index (used if --sheet-name not provided)")
}

func (l *loadFlags) options(cfg *cfgpkg.Global) (frame.LoadOptions, error) {
	opt := frame.DefaultLoadOptions()
	if cfg != nil && cfg.MaxRows > 0 {
		opt.MaxRows = cfg.MaxRows
	}
	if l.maxRows > 0 {
		opt.MaxRows = l.maxRows
	}
	switch l.delimiter {
	case "":
	case ",":
		opt.Delimiter = ','
	case "\t", "tab":
		opt.Delimiter = '\t'
	case ";":
		opt.Delimiter = ';'
	default:
		return opt, fmt.Errorf("unsupported --delimiter: %s", l.delimiter)
	}
	switch strings.ToLower(strings.TrimSpace(l.decimal)) {
	case ",", "comma":
		opt.DecimalSeparator = ','
	case ".", "dot":
		opt.DecimalSeparator = '.'
	case "":
	default:
		return opt, fmt.Errorf("unsupported --decimal: %s (use '.'|'comma')", l.decimal)
	}
	switch strings.ToLower(l.thousands) {
	case ",":
		opt.ThousandsSeparator = ','
	case ".":
		opt.ThousandsSeparator = '.'
	case "space", " ":
		opt.ThousandsSeparator = ' '
	case "":
	default:
		return opt, fmt.Errorf("unsupported --thousands: %s (use ','|'.'|'space')", l.thousands)
	}
	opt.SheetName = l.sheetName
	opt.SheetIndex = l.sheetIndex
	return opt, nil
}

func (l *loadFlags) summary(cfg *cfgpkg.Global) analysis.Options {
	opt := analysis.DefaultOptions()
	if cfg != nil && cfg.SampleRows > 0 {
		opt.SampleRows = cfg.SampleRows
	}
	if l.sampleRows > 0 {
		opt.SampleRows = l.sampleRows
	}
	return opt
}

func (l *loadFlags) load(path string, cfg *cfgpkg.Global) (*frame.Frame, error) {
	opt, err := l.options(cfg)
	if err != nil {
		return nil, err
	}
	return frame.Load(path, opt)
}

// sandboxLimits reads execution limits from cfg.
func sandboxLimits(cfg *cfgpkg.Global) sandbox.Limits {
	lim := sandbox.DefaultLimits()
	if cfg == nil {
		return lim
	}
	if cfg.SandboxTimeoutSec > 0 {
		lim.Timeout = time.Duration(cfg.SandboxTimeoutSec) * time.Second
	}
	if cfg.SandboxMaxOutputBytes > 0 {
		lim.MaxOutputBytes = cfg.SandboxMaxOutputBytes
	}
	if cfg.SandboxMaxMemoryMB > 0 {
		lim.MaxMemoryBytes = int64(cfg.SandboxMaxMemoryMB) << 20
	}
	return lim
}

// sandboxIsolation runs snippets in a child copy of this binary. When the
// binary cannot be located, snippets run in process.
func sandboxIsolation() []sandbox.Option {
	exe, err := os.Executable()
	if err != nil {
		logger.Warn("cannot locate executable; running snippets in process", zap.Error(err))
		return nil
	}
	return []sandbox.Option{sandbox.WithProcess(exe, execChildCmd.Use)}
}

// sessionOptions builds agent options from cfg for the resolved model.
func sessionOptions(cfg *cfgpkg.Global, model string, summary analysis.Options) agent.Options {
	opts := agent.DefaultOptions()
	opts.Model = model
	opts.Summary = summary
	opts.Limits = sandboxLimits(cfg)
	opts.Sandbox = sandboxIsolation()
	opts.Logger = logger
	if cfg != nil {
		opts.Temperature = cfg.Temperature
		if cfg.MaxTokens > 0 {
			opts.MaxTokens = cfg.MaxTokens
		}
		opts.DecisionRetries = cfg.DecisionRetries
		opts.HistoryMessages = cfg.HistoryMaxMessages
		opts.HistoryTokens = cfg.HistoryMaxTokens
	}
	return opts
}

// sessionFlags are the model selection flags shared by chat and ask.
type sessionFlags struct {
	loadFlags
	provider   string
	model      string
	tier       string
	ollamaHost string
}

func (s *sessionFlags) register(cmd *cobra.Command) {
	s.loadFlags.register(cmd)
	f := cmd.Flags()
	f.StringVar(&s.provider, "provider", "", "model provider: openai|openrouter|ollama (default from config)")
	f.StringVar(&s.model, "model", "", "model name (default from config)")
	f.StringVar(&s.tier, "tier", "", "pick a preset model: cheap|balanced|high-context")
	f.StringVar(&s.ollamaHost, "ollama-host", "", "Ollama host URL (default from config)")
}

// starter rebuilds sessions over one loaded dataset, so /reset can start over
// without reloading the file.
type starter struct {
	frame   *frame.Frame
	runtime ai.Runtime
	opts    agent.Options
}

func (st *starter) start() (*agent.Session, error) {
	return agent.New(st.frame, st.runtime, st.opts)
}

// prepare loads the dataset at path and resolves runtime and model.
func (s *sessionFlags) prepare(path string, onDelta func(string)) (*starter, error) {
	c, err := currentConfig()
	if err != nil {
		return nil, err
	}
	f, err := s.load(path, c)
	if err != nil {
		return nil, err
	}
	rt, provider, err := buildRuntime(c, runtimeOptions{Provider: s.provider, OllamaHost: s.ollamaHost})
	if err != nil {
		return nil, err
	}
	model, err := selectModel(c, s.model, provider, s.tier)
	if err != nil {
		return nil, err
	}
	opts := sessionOptions(c, model, s.summary(c))
	opts.OnDelta = onDelta
	return &starter{frame: f, runtime: rt, opts: opts}, nil
}
