package main

import (
	"github.com/spf13/cobra"
)

func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC host, metrics endpoint and expired-token purge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			return app.Run(ctx)
		},
	}
}
