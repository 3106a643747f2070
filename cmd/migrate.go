package cmd

import (
	"github.com/spf13/cobra"

	"lawsim/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the database schema and seed the default organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		return config.Migrate(a.db)
	},
}
