// hazina-mcp — MCP server for the Hazina agent vault.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hazina-mcp",
	Short: "MCP server exposing a Hazina agent vault as callable tools.",
	Long: `hazina-mcp bridges MCP clients to the Hazina agent-vault API: secret
storage and sharing, vault access policies, and wallet transaction
simulation and submission.

Run it locally over stdio with credentials from the environment, or host
it over streamable HTTP where every session brings its own credentials.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
