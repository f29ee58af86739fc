// Package app holds the fx option sets shared by the clinicledger binaries.
package app

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicledger/internal/authorization"
	"github.com/smallbiznis/clinicledger/internal/billinghistory"
	"github.com/smallbiznis/clinicledger/internal/billingsettings"
	"github.com/smallbiznis/clinicledger/internal/clock"
	"github.com/smallbiznis/clinicledger/internal/config"
	"github.com/smallbiznis/clinicledger/internal/connectedaccount"
	"github.com/smallbiznis/clinicledger/internal/consultationinvoice"
	"github.com/smallbiznis/clinicledger/internal/distlock"
	"github.com/smallbiznis/clinicledger/internal/invoicenumber"
	"github.com/smallbiznis/clinicledger/internal/migration"
	"github.com/smallbiznis/clinicledger/internal/notification"
	"github.com/smallbiznis/clinicledger/internal/observability"
	"github.com/smallbiznis/clinicledger/internal/outbox"
	"github.com/smallbiznis/clinicledger/internal/payment"
	"github.com/smallbiznis/clinicledger/internal/platforminvoice"
	"github.com/smallbiznis/clinicledger/internal/providers"
	"github.com/smallbiznis/clinicledger/internal/reminder"
	"github.com/smallbiznis/clinicledger/internal/scheduler"
	"github.com/smallbiznis/clinicledger/internal/server"
	"github.com/smallbiznis/clinicledger/internal/subscription"
	"github.com/smallbiznis/clinicledger/pkg/db"
	"go.uber.org/fx"
)

// Infra is the plumbing every process needs.
var Infra = fx.Options(
	config.Module,
	observability.Module,
	fx.Provide(NewSnowflake),
	db.Module,
	clock.Module,
)

// Domain wires the billing services and their event and outbox handlers.
var Domain = fx.Options(
	authorization.Module,
	providers.Module,
	distlock.Module,
	invoicenumber.Module,
	payment.Module,
	subscription.Module,
	platforminvoice.Module,
	billingsettings.Module,
	connectedaccount.Module,
	billinghistory.Module,
	consultationinvoice.Module,
	reminder.Module,
	outbox.Module,
	notification.Module,
)

func NewSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

// Monolith serves HTTP and runs the scheduler in the same process.
func Monolith() fx.Option {
	return fx.Options(
		Infra,
		migration.Module,
		Domain,
		scheduler.Module,
		scheduler.Invoke,
		server.Module,
	)
}

// API serves HTTP only.
func API() fx.Option {
	return fx.Options(
		Infra,
		Domain,
		server.Module,
	)
}

// Scheduler runs background jobs without the HTTP server.
func Scheduler() fx.Option {
	return fx.Options(
		Infra,
		Domain,
		scheduler.Module,
		scheduler.Invoke,
	)
}

// Task builds a short-lived application for one-off commands. targets are
// passed to fx.Populate.
func Task(targets ...any) fx.Option {
	return fx.Options(
		fx.NopLogger,
		Infra,
		Domain,
		scheduler.Module,
		fx.Populate(targets...),
	)
}
