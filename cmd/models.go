package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/dataloom-cli/internal/ai"
	"github.com/KaramelBytes/dataloom-cli/internal/utils"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage or inspect the model catalog used for context windows and pricing",
	Example: `  dataloom models show
  dataloom models show --provider ollama
  dataloom models sync --file ./models.json --merge
  dataloom models fetch --url https://example.com/models.json
  dataloom models fetch --provider openai --merge --output models.json`,
}

var (
	showProvider string
	showJSON     bool
)

var modelsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the model catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat := ai.Catalog()
		if showProvider != "" {
			preset, ok := ai.PresetCatalog(normalizeProvider(showProvider))
			if !ok {
				return fmt.Errorf("no built-in preset for provider %q", showProvider)
			}
			cat = preset
		}
		keys := make([]string, 0, len(cat))
		for k := range cat {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w := cmd.OutOrStdout()
		if showJSON {
			b, err := utils.PrettyJSON(cat)
			if err != nil {
				return fmt.Errorf("marshal: %w", err)
			}
			fmt.Fprintln(w, string(b))
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MODEL\tCONTEXT\tIN $/1K\tOUT $/1K")
		for _, k := range keys {
			m := cat[k]
			fmt.Fprintf(tw, "%s\t%d\t%.5f\t%.5f\n", k, m.ContextTokens, m.InputPerK, m.OutputPerK)
		}
		return tw.Flush()
	},
}

var (
	syncPath  string
	syncMerge bool
)

var modelsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Load model catalog/pricing from a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncPath == "" {
			return fmt.Errorf("--file is required")
		}
		m, err := ai.LoadCatalogFromJSON(syncPath)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		applyCatalog(m, syncMerge)
		fmt.Fprintf(cmd.OutOrStdout(), "Applied %d catalog entries from %s\n", len(m), syncPath)
		return nil
	},
}

// providerURL returns the catalog URL for a provider, from
// DATALOOM_<PROVIDER>_CATALOG_URL or a maintained default. Empty if unknown.
func providerURL(name string) string {
	switch name {
	case ai.ProviderOpenRouter:
		if v := os.Getenv("DATALOOM_OPENROUTER_CATALOG_URL"); v != "" {
			return v
		}
		return "https://raw.githubusercontent.com/KaramelBytes/dataloom-cli/main/docs/openrouter-models.json"
	case ai.ProviderOpenAI:
		return os.Getenv("DATALOOM_OPENAI_CATALOG_URL")
	case ai.ProviderOllama:
		return os.Getenv("DATALOOM_OLLAMA_CATALOG_URL")
	default:
		return ""
	}
}

var (
	fetchURL      string
	fetchOutput   string
	fetchMerge    bool
	fetchProvider string
)

var modelsFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch model catalog/pricing JSON from a URL and apply it",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		url := fetchURL
		if url == "" && fetchProvider != "" {
			url = providerURL(fetchProvider)
		}
		var m map[string]ai.ModelInfo
		switch {
		case url != "":
			fetched, err := fetchCatalog(url)
			if err != nil {
				return err
			}
			m = fetched
			fmt.Fprintf(w, "Fetched %d catalog entries\n", len(m))
		case fetchProvider != "":
			// No URL for this provider: fall back to the built-in preset.
			preset, ok := ai.PresetCatalog(normalizeProvider(fetchProvider))
			if !ok {
				return fmt.Errorf("no catalog URL or built-in preset for provider %q", fetchProvider)
			}
			m = preset
			fmt.Fprintf(w, "Using built-in '%s' preset\n", fetchProvider)
		default:
			return fmt.Errorf("--url is required (or specify --provider with a known preset)")
		}
		if fetchOutput != "" {
			data, err := utils.PrettyJSON(m)
			if err != nil {
				return fmt.Errorf("marshal: %w", err)
			}
			if err := utils.SafeWriteFile(fetchOutput, data); err != nil {
				return fmt.Errorf("write file: %w", err)
			}
			fmt.Fprintf(w, "Saved catalog to %s\n", fetchOutput)
		}
		applyCatalog(m, fetchMerge)
		return nil
	},
}

func applyCatalog(m map[string]ai.ModelInfo, merge bool) {
	if merge {
		ai.MergeCatalog(m)
	} else {
		ai.OverrideCatalog(m)
	}
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsShowCmd)
	modelsCmd.AddCommand(modelsSyncCmd)
	modelsCmd.AddCommand(modelsFetchCmd)

	modelsShowCmd.Flags().StringVar(&showProvider, "provider", "", "show a provider's built-in preset instead of the active catalog")
	modelsShowCmd.Flags().BoolVar(&showJSON, "json", false, "print the catalog as JSON")

	modelsSyncCmd.Flags().StringVar(&syncPath, "file", "", "path to JSON catalog file")
	modelsSyncCmd.Flags().BoolVar(&syncMerge, "merge", false, "merge into existing catalog instead of replacing")

	modelsFetchCmd.Flags().StringVar(&fetchURL, "url", "", "URL to JSON catalog file")
	modelsFetchCmd.Flags().StringVar(&fetchOutput, "output", "", "optional path to save the fetched JSON")
	modelsFetchCmd.Flags().BoolVar(&fetchMerge, "merge", false, "merge into existing catalog instead of replacing")
	modelsFetchCmd.Flags().StringVar(&fetchProvider, "provider", "", "provider (e.g. 'openrouter') to resolve the catalog URL or built-in preset if --url is not set")
}
