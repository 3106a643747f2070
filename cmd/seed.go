package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"lawsim/config"
	"lawsim/seed"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load organizations, courses and cases from a YAML fixture file",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "fixtures.yaml", "fixture file to load")
}

func runSeed(cmd *cobra.Command, args []string) error {
	fh, err := os.Open(seedFile)
	if err != nil {
		return err
	}
	defer fh.Close()
	fixtures, err := seed.Parse(fh)
	if err != nil {
		return err
	}

	a, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()
	if err := config.Migrate(a.db); err != nil {
		return err
	}

	sum, err := seed.Load(a.db, fixtures, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("seed %s: %w", seedFile, err)
	}
	out, _ := json.Marshal(sum)
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
