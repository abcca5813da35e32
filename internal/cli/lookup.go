package cli

import (
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/cosmos-go/internal/client"
)

var (
	lookupHops          int
	lookupNoHops        bool
	lookupThreshold     float64
	lookupSemanticLimit int
	lookupLimit         int
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <entity-id>",
	Short: "Show the scored neighbourhood of an entity",
	Long: `Look up an entity and the entities around it.

Similar entities come from the vector index, connected ones from the
relationship graph. Every result is scored by similarity, recency and
importance, with a bonus for graph connectivity.

Examples:
  cosmos lookup e-123 --user u1
  cosmos lookup e-123 --hops 2 --limit 20
  cosmos lookup e-123 --no-hops --threshold 0.3 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runLookup,
}

func init() {
	lookupCmd.Flags().IntVar(&lookupHops, "hops", 0, "graph traversal depth (1-3)")
	lookupCmd.Flags().BoolVar(&lookupNoHops, "no-hops", false, "disable graph expansion")
	lookupCmd.Flags().Float64Var(&lookupThreshold, "threshold", 0, "maximum vector distance for similar entities")
	lookupCmd.Flags().IntVar(&lookupSemanticLimit, "semantic-limit", 0, "max similar entities")
	lookupCmd.Flags().IntVarP(&lookupLimit, "limit", "n", 0, "max entities in the result, seed included")
}

func runLookup(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}

	var p client.LookupParams
	flags := cmd.Flags()
	if flags.Changed("hops") {
		p.GraphHops = &lookupHops
	}
	if flags.Changed("no-hops") {
		enabled := !lookupNoHops
		p.EnableGraphHops = &enabled
	}
	if flags.Changed("threshold") {
		p.SimilarityThreshold = &lookupThreshold
	}
	if flags.Changed("semantic-limit") {
		p.SemanticSimilarLimit = &lookupSemanticLimit
	}
	if flags.Changed("limit") {
		p.TotalEntityLimit = &lookupLimit
	}

	resp, err := apiClient.Lookup(cmd.Context(), userID, args[0], p)
	if err != nil {
		return err
	}

	if jsonOut {
		return writeJSON(cmd.OutOrStdout(), resp)
	}
	newRenderer(cmd.OutOrStdout()).lookup(resp)
	return nil
}
