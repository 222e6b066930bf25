package ai

// Tiers are the --tier shortcuts, cheapest first.
var Tiers = []string{"cheap", "balanced", "high-context"}

// presets picks a model per tier for each provider dataloom can talk to. Every
// name is in the built-in catalog.
var presets = map[string]map[string]string{
	ProviderOpenAI: {
		"cheap":        DefaultModel,
		"balanced":     "openai/gpt-4o-mini",
		"high-context": "openai/gpt-4o",
	},
	ProviderOpenRouter: {
		"cheap":        "openai/gpt-4o-mini",
		"balanced":     "openai/gpt-4o",
		"high-context": "anthropic/claude-3.5-sonnet",
	},
	ProviderOllama: {
		"cheap":        "llama3.1:8b-instruct",
		"balanced":     "mistral-nemo:latest",
		"high-context": "phi3:mini-128k-instruct",
	},
}

func presetProvider(provider string) string {
	switch provider {
	case "":
		return DefaultProvider
	case ProviderLocal:
		return ProviderOllama
	}
	return provider
}

// PresetCatalog returns the built-in catalog entries for the models a provider's
// tiers select.
func PresetCatalog(provider string) (map[string]ModelInfo, bool) {
	tiers, ok := presets[presetProvider(provider)]
	if !ok {
		return nil, false
	}
	out := make(map[string]ModelInfo, len(tiers))
	for _, name := range tiers {
		out[name] = builtin[name]
	}
	return out, true
}

// RecommendModel returns the model for tier on provider. An empty provider means
// DefaultProvider.
func RecommendModel(provider, tier string) (string, bool) {
	m, ok := presets[presetProvider(provider)][tier]
	return m, ok
}
