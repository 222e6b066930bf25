package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Global configuration structure.
type Global struct {
	APIKey          string  `mapstructure:"api_key" yaml:"api_key"`
	BaseURL         string  `mapstructure:"base_url" yaml:"base_url"`
	DefaultModel    string  `mapstructure:"default_model" yaml:"default_model"`
	DefaultProvider string  `mapstructure:"default_provider" yaml:"default_provider"`
	MaxTokens       int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature" yaml:"temperature"`

	// Models catalog sync
	ModelsCatalogURL string `mapstructure:"models_catalog_url" yaml:"models_catalog_url"`
	ModelsMerge      bool   `mapstructure:"models_merge" yaml:"models_merge"`

	// HTTP/Retry configuration
	HTTPTimeoutSec   int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`

	// Local runtimes (Ollama)
	OllamaHost       string `mapstructure:"ollama_host" yaml:"ollama_host"`
	OllamaTimeoutSec int    `mapstructure:"ollama_timeout_sec" yaml:"ollama_timeout_sec"`

	// Snippet execution
	SandboxTimeoutSec     int `mapstructure:"sandbox_timeout_sec" yaml:"sandbox_timeout_sec"`
	SandboxMaxOutputBytes int `mapstructure:"sandbox_max_output_bytes" yaml:"sandbox_max_output_bytes"`
	SandboxMaxMemoryMB    int `mapstructure:"sandbox_max_memory_mb" yaml:"sandbox_max_memory_mb"`

	// Conversation
	HistoryMaxMessages int `mapstructure:"history_max_messages" yaml:"history_max_messages"`
	HistoryMaxTokens   int `mapstructure:"history_max_tokens" yaml:"history_max_tokens"`
	DecisionRetries    int `mapstructure:"decision_retries" yaml:"decision_retries"`

	// Dataset loading and brief
	SampleRows int `mapstructure:"sample_rows" yaml:"sample_rows"`
	MaxRows    int `mapstructure:"max_rows" yaml:"max_rows"`
}

// Keys lists every configuration key, in file order.
var Keys = []string{
	"api_key", "base_url", "default_provider", "default_model", "temperature", "max_tokens",
	"models_catalog_url", "models_merge",
	"http_timeout_sec", "retry_max_attempts", "retry_base_delay_ms", "retry_max_delay_ms",
	"ollama_host", "ollama_timeout_sec",
	"sandbox_timeout_sec", "sandbox_max_output_bytes", "sandbox_max_memory_mb",
	"history_max_messages", "history_max_tokens", "decision_retries",
	"sample_rows", "max_rows",
}

// stringKeys are stored verbatim by Set, without YAML scalar typing.
var stringKeys = map[string]bool{
	"api_key": true, "base_url": true, "default_provider": true, "default_model": true,
	"models_catalog_url": true, "ollama_host": true,
}

// secretKeys are masked by config show.
var secretKeys = map[string]bool{"api_key": true}

// IsSecret reports whether a key holds a credential.
func IsSecret(key string) bool { return secretKeys[key] }

// Mask hides all but the last four characters of a secret.
func Mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return strings.Repeat("*", 8) + s[len(s)-4:]
}

// DefaultPath returns ~/.dataloom/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".dataloom", "config.yaml"), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.dataloom/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("default_model", "openai/gpt-oss-20b")
	v.SetDefault("default_provider", "openai")
	v.SetDefault("max_tokens", 2048)
	v.SetDefault("temperature", 0.0)
	v.SetDefault("models_catalog_url", "")
	v.SetDefault("models_merge", true)
	// HTTP/retry defaults
	v.SetDefault("http_timeout_sec", 60)
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_base_delay_ms", 500)
	v.SetDefault("retry_max_delay_ms", 4000)
	// Ollama defaults
	v.SetDefault("ollama_host", "http://127.0.0.1:11434")
	v.SetDefault("ollama_timeout_sec", 60)
	// Sandbox, history and dataset defaults
	v.SetDefault("sandbox_timeout_sec", 10)
	v.SetDefault("sandbox_max_output_bytes", 64<<10)
	v.SetDefault("sandbox_max_memory_mb", 512)
	v.SetDefault("history_max_messages", 40)
	v.SetDefault("history_max_tokens", 0)
	v.SetDefault("decision_retries", 0)
	v.SetDefault("sample_rows", 5)
	v.SetDefault("max_rows", 100000)
}

// Load loads configuration from file, env, and defaults.
// Precedence: env > config file > defaults; flags are applied by the caller.
// api_key and base_url also honour OPENAI_API_KEY and OPENAI_BASE_URL.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("DATALOOM")
	v.AutomaticEnv()
	_ = v.BindEnv("api_key", "DATALOOM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("base_url", "DATALOOM_BASE_URL", "OPENAI_BASE_URL")
	setDefaults(v)

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		v.AddConfigPath(filepath.Join(home, ".dataloom"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// LoadDotEnv reads KEY=VALUE pairs from path with viper's dotenv codec and
// exports those not already set in the process environment. A missing file
// is not an error.
func LoadDotEnv(path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("stat env file: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("dotenv")
	if err := v.ReadInConfig(); err != nil {
		return 0, fmt.Errorf("read env file %s: %w", path, err)
	}
	n := 0
	for _, key := range v.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, v.GetString(key)); err != nil {
			return n, fmt.Errorf("set %s: %w", name, err)
		}
		n++
	}
	return n, nil
}

// Get returns the value of key as a string, for config show.
func (c *Global) Get(key string) (string, bool) {
	m := map[string]any{}
	b, err := yaml.Marshal(c)
	if err != nil {
		return "", false
	}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return "", false
	}
	val, ok := m[key]
	if !ok {
		return "", false
	}
	return fmt.Sprint(val), true
}

// Set parses value into the field named by key.
func (c *Global) Set(key, value string) error {
	known := false
	for _, k := range Keys {
		if k == key {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown config key %q", key)
	}
	m := map[string]any{}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("unmarshal yaml: %w", err)
	}
	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil || parsed == nil {
		parsed = value
	}
	if stringKeys[key] {
		parsed = value
	}
	m[key] = parsed
	b, err = yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	var next Global
	if err := yaml.Unmarshal(b, &next); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*c = next
	return nil
}
