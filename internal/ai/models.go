package ai

import (
	"encoding/json"
	"os"
)

// Model metadata: context windows feed the transcript budget, prices feed the
// per-turn cost hint. Prices are illustrative.

type ModelInfo struct {
	Name          string
	ContextTokens int     // approximate context window
	InputPerK     float64 // USD per 1K input tokens
	OutputPerK    float64 // USD per 1K output tokens
}

// builtin holds the models the tier presets select, plus the plain OpenAI API
// names. Local models cost nothing; their windows are Ollama's default num_ctx
// unless the tag says otherwise.
var builtin = catalogOf(
	ModelInfo{"openai/gpt-oss-20b", 131072, 0.00005, 0.0002},
	ModelInfo{"openai/gpt-4o-mini", 128000, 0.0006, 0.0024},
	ModelInfo{"openai/gpt-4o", 128000, 0.005, 0.015},
	ModelInfo{"gpt-4o-mini", 128000, 0.00015, 0.0006},
	ModelInfo{"gpt-4o", 128000, 0.0025, 0.01},
	ModelInfo{"anthropic/claude-3.5-sonnet", 200000, 0.003, 0.015},
	ModelInfo{"llama3.1:8b-instruct", 8192, 0, 0},
	ModelInfo{"mistral-nemo:latest", 8192, 0, 0},
	ModelInfo{"phi3:mini-128k-instruct", 128000, 0, 0},
)

// models is the live catalog; sync and fetch replace or extend it.
var models = copyCatalog(builtin)

func catalogOf(list ...ModelInfo) map[string]ModelInfo {
	m := make(map[string]ModelInfo, len(list))
	for _, mi := range list {
		m[mi.Name] = mi
	}
	return m
}

// LookupModel returns ModelInfo and ok flag.
func LookupModel(name string) (ModelInfo, bool) {
	mi, ok := models[name]
	return mi, ok
}

// ContextWindow returns the model's context size in tokens, or fallback when
// the model is not in the catalog.
func ContextWindow(model string, fallback int) int {
	if mi, ok := LookupModel(model); ok && mi.ContextTokens > 0 {
		return mi.ContextTokens
	}
	return fallback
}

// EstimateCostUSD estimates total cost in USD for given tokens using model pricing.
// If the model is unknown, returns 0 and ok=false.
func EstimateCostUSD(model string, promptTokens, completionTokens int) (float64, bool) {
	mi, ok := LookupModel(model)
	if !ok {
		return 0, false
	}
	inCost := (float64(promptTokens) / 1000.0) * mi.InputPerK
	outCost := (float64(completionTokens) / 1000.0) * mi.OutputPerK
	return inCost + outCost, true
}

// ---- Sync/override helpers ----

// LoadCatalogFromJSON loads a JSON object map[string]ModelInfo from a file path.
// Example JSON entry:
// { "openai/gpt-4o-mini": {"Name":"openai/gpt-4o-mini","ContextTokens":128000,"InputPerK":0.0006,"OutputPerK":0.0024} }
func LoadCatalogFromJSON(path string) (map[string]ModelInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	var m map[string]ModelInfo
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// OverrideCatalog replaces the in-memory catalog entirely.
func OverrideCatalog(m map[string]ModelInfo) {
	if m == nil {
		return
	}
	models = m
}

// MergeCatalog merges/overrides entries in the in-memory catalog.
func MergeCatalog(m map[string]ModelInfo) {
	if m == nil {
		return
	}
	for k, v := range m {
		models[k] = v
	}
}

// Catalog returns a copy of the current model catalog.
func Catalog() map[string]ModelInfo { return copyCatalog(models) }

func copyCatalog(m map[string]ModelInfo) map[string]ModelInfo {
	out := make(map[string]ModelInfo, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
