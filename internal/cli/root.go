// Package cli provides the command-line interface for cosmos.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/cosmos-go/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	jsonOut   bool
	serverURL string
	userID    string

	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cosmos",
	Short: "Explore entity neighbourhoods across the cosmos stores",
	Long: `Cosmos combines a relational entity store, a relationship graph and a
vector index to find what surrounds an entity.

The CLI talks to a running cosmos-server.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		if userID == "" {
			userID = os.Getenv("COSMOS_USER_ID")
		}
		apiClient = client.New(serverURL)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print raw JSON")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL (default $COSMOS_SERVER_URL or http://localhost:8484)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "user id (default $COSMOS_USER_ID)")

	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(projectionCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "cosmos", Version)
	},
}

func requireUser() error {
	if userID == "" {
		return fmt.Errorf("a user id is required (--user or COSMOS_USER_ID)")
	}
	return nil
}
