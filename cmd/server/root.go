package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authkeeper",
		Short: "Credential and session-token service",
		Long: `authkeeper handles signup, login, password change and reset, and
access/refresh token issuance, and hosts gRPC services behind an
access-token check.`,
		SilenceUsage: true,
	}

	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewPurgeCmd())
	cmd.AddCommand(NewUserCmd())

	return cmd
}

// migrateApp applies pending migrations; replaced in tests.
var migrateApp = func(ctx context.Context, app *server.App) error {
	return app.Migrate(ctx)
}

// newApp loads configuration from the command's flags and builds the app.
func newApp(ctx context.Context, cmd *cobra.Command) (*server.App, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger := logging.NewHandlerLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)

	return server.NewApp(ctx, cfg, logger)
}
