package main

import (
	"github.com/spf13/cobra"
)

func NewPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired refresh and reset tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			n, err := app.Purge(ctx)
			if err != nil {
				return err
			}

			cmd.Printf("Purged %d expired tokens\n", n)
			return nil
		},
	}
}
