package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lawsim",
	Short: "Business law course simulation backend",
	Long: `lawsim serves the course simulation API and runs its background jobs.

Available subcommands:
  serve   - Run the HTTP API, job runner and scheduler
  migrate - Migrate the database schema
  jobs    - Run or enqueue background jobs
  seed    - Load organizations, courses and cases from YAML`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, jobsCmd, seedCmd)
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
