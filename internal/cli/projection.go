package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var projectionInvalidate bool

var projectionCmd = &cobra.Command{
	Use:   "projection [user-id]",
	Short: "Summarize the active entity graph of a user",
	Long: `Fetch the whole active graph of a user, as used for the 3D view.
The user defaults to --user when no argument is given.

Examples:
  cosmos projection u1
  cosmos projection u1 --invalidate
  cosmos projection --user u1 --json > graph.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProjection,
}

func init() {
	projectionCmd.Flags().BoolVar(&projectionInvalidate, "invalidate", false, "drop the cached projection before fetching")
}

func runProjection(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		userID = args[0]
	}
	if err := requireUser(); err != nil {
		return err
	}
	ctx := cmd.Context()

	if projectionInvalidate {
		dropped, err := apiClient.InvalidateProjection(ctx, userID)
		if err != nil {
			return err
		}
		if verbose {
			fmt.Fprintf(cmd.ErrOrStderr(), "cache invalidated: %t\n", dropped)
		}
	}

	g, err := apiClient.Projection(ctx, userID)
	if err != nil {
		return err
	}

	if jsonOut {
		return writeJSON(cmd.OutOrStdout(), g)
	}
	newRenderer(cmd.OutOrStdout()).projection(userID, g)
	return nil
}
