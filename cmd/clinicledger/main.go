package main

import (
	"context"
	"fmt"
	"os"

	"github.com/smallbiznis/clinicledger/internal/app"
	"github.com/smallbiznis/clinicledger/internal/config"
	"github.com/smallbiznis/clinicledger/internal/migration"
	"github.com/smallbiznis/clinicledger/internal/observability"
	"github.com/smallbiznis/clinicledger/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "clinicledger",
	Short:         "Billing reconciliation for practitioner subscriptions and consultation invoices",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, schedulerCmd, migrateCmd, remindersCmd, eventsCmd, outboxCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with the in-process scheduler",
	Run: func(cmd *cobra.Command, args []string) {
		fx.New(app.Monolith()).Run()
	},
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run background jobs only",
	Run: func(cmd *cobra.Command, args []string) {
		fx.New(app.Scheduler()).Run()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		application := fx.New(
			fx.NopLogger,
			config.Module,
			observability.Module,
			db.Module,
			migration.Module,
		)
		if err := application.Err(); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), fx.DefaultTimeout)
		defer cancel()
		if err := application.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return application.Stop(ctx)
	},
}

// runTask starts a short-lived application, populates targets and runs fn.
func runTask(cmd *cobra.Command, fn func(ctx context.Context) error, targets ...any) error {
	application := fx.New(app.Task(targets...))
	if err := application.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(cmd.Context(), fx.DefaultTimeout)
	defer cancel()
	if err := application.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), fx.DefaultTimeout)
		defer stopCancel()
		_ = application.Stop(stopCtx)
	}()

	return fn(cmd.Context())
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
