package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/handlers"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/models"
)

var (
	modelsProvider   string
	modelsQuery      string
	modelsMaxLatency float64
	modelsMaxCost    float64
	modelsJSON       bool
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available models",
	Long: `List the models known to the running service.

Examples:
  orchat models
  orchat models --provider anthropic
  orchat models --query gpt --max-cost 0.00001 --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if modelsProvider != "" {
			q.Set("provider", modelsProvider)
		}
		if modelsQuery != "" {
			q.Set("query", modelsQuery)
		}
		if modelsMaxLatency > 0 {
			q.Set("max_latency", strconv.FormatFloat(modelsMaxLatency, 'f', -1, 64))
		}
		if modelsMaxCost > 0 {
			q.Set("max_cost", strconv.FormatFloat(modelsMaxCost, 'f', -1, 64))
		}
		path := "/models"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var list []models.ModelDescriptor
		if err := call("GET", path, nil, &list); err != nil {
			return err
		}

		if modelsJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No models found.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tPROMPT")
		for _, m := range list {
			prompt := "-"
			if m.Pricing != nil && m.Pricing.Prompt != "" {
				prompt = m.Pricing.Prompt
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Name, m.ProviderID(), prompt)
		}
		return w.Flush()
	},
}

var modelsSelectCmd = &cobra.Command{
	Use:   "select <model-id>",
	Short: "Select the default model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out handlers.SelectedModelResponse
		if err := call("PUT", "/models/selected", map[string]string{"model": args[0]}, &out); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Selected %s\n", out.Model)
		return nil
	},
}

func init() {
	modelsCmd.Flags().StringVar(&modelsProvider, "provider", "", "Only models from this provider")
	modelsCmd.Flags().StringVar(&modelsQuery, "query", "", "Match id or name")
	modelsCmd.Flags().Float64Var(&modelsMaxLatency, "max-latency", 0, "Maximum latency")
	modelsCmd.Flags().Float64Var(&modelsMaxCost, "max-cost", 0, "Maximum prompt cost per token")
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Print JSON")

	modelsCmd.AddCommand(modelsSelectCmd)
	rootCmd.AddCommand(modelsCmd)
}
