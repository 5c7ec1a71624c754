package main

import (
	"github.com/spf13/cobra"
)

func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Apply all pending goose migrations to the configured database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			cmd.Println("Running migrations...")
			if err := migrateApp(ctx, app); err != nil {
				return err
			}

			cmd.Println("Migrations completed successfully")
			return nil
		},
	}
}
