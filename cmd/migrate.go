package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Socheema/Framez-sub000/internal/app"
	"github.com/Socheema/Framez-sub000/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the tables and change triggers in Postgres",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := app.OpenDB(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := store.Migrate(cmd.Context(), db); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
