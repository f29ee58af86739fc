package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicledger/internal/authorization"
	invoicedomain "github.com/smallbiznis/clinicledger/internal/consultationinvoice/domain"
	outboxdomain "github.com/smallbiznis/clinicledger/internal/outbox/domain"
	paymentdomain "github.com/smallbiznis/clinicledger/internal/payment/domain"
	reminderdomain "github.com/smallbiznis/clinicledger/internal/reminder/domain"
	"github.com/smallbiznis/clinicledger/internal/scheduler"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const cliActor = authorization.ActorOperator + ":cli"

var (
	scheduleInvoiceID string
	replayEventID     string
	replayProvider    string
	drainLimit        int
)

var remindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "Reminder queue operations",
}

var remindersProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one reminder sweep and print the summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		var svc reminderdomain.Service
		var authz authorization.Service
		return runTask(cmd, func(ctx context.Context) error {
			if err := authz.Authorize(ctx, cliActor, authorization.ObjectReminders, authorization.ActionRemindersProcess); err != nil {
				return err
			}
			summary, err := svc.Process(ctx)
			if printErr := printJSON(cmd, summary); printErr != nil {
				return printErr
			}
			return err
		}, &svc, &authz)
	},
}

var remindersScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Schedule reminders for an issued invoice; existing entries are kept",
	RunE: func(cmd *cobra.Command, args []string) error {
		invoiceID, err := snowflake.ParseString(scheduleInvoiceID)
		if err != nil || invoiceID <= 0 {
			return fmt.Errorf("invalid --invoice %q", scheduleInvoiceID)
		}

		var (
			svc   reminderdomain.Service
			authz authorization.Service
			repo  invoicedomain.Repository
			conn  *gorm.DB
		)
		return runTask(cmd, func(ctx context.Context) error {
			if err := authz.Authorize(ctx, cliActor, authorization.ObjectReminders, authorization.ActionRemindersSchedule); err != nil {
				return err
			}
			invoice, err := repo.FindByID(ctx, conn.WithContext(ctx), invoiceID)
			if err != nil {
				return err
			}
			if invoice == nil {
				return invoicedomain.ErrInvoiceNotFound
			}
			if invoice.IssuedAt == nil {
				return errors.New("invoice has not been issued")
			}

			created, err := svc.Schedule(ctx, nil, reminderdomain.ScheduleInput{
				InvoiceID:      invoice.ID,
				PractitionerID: invoice.PractitionerID,
				IssuedAt:       *invoice.IssuedAt,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"invoice_id": invoice.ID.String(), "created": created})
		}, &svc, &authz, &repo, &conn)
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stored webhook event operations",
}

var eventsReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-dispatch a stored event that never finished processing",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayEventID == "" {
			return errors.New("--event is required")
		}
		var svc paymentdomain.Service
		var authz authorization.Service
		return runTask(cmd, func(ctx context.Context) error {
			if err := authz.Authorize(ctx, cliActor, authorization.ObjectEvents, authorization.ActionEventsReplay); err != nil {
				return err
			}
			outcome, err := svc.Replay(ctx, replayProvider, replayEventID)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"event_id": replayEventID, "outcome": outcome})
		}, &svc, &authz)
	},
}

var eventsPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List stored events still awaiting a successful dispatch",
	RunE: func(cmd *cobra.Command, args []string) error {
		var svc paymentdomain.Service
		return runTask(cmd, func(ctx context.Context) error {
			events, err := svc.ListUnprocessed(ctx, replayProvider, drainLimit)
			if err != nil {
				return err
			}
			return printJSON(cmd, events)
		}, &svc)
	},
}

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Notification outbox operations",
}

var outboxDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Deliver due outbox messages once",
	RunE: func(cmd *cobra.Command, args []string) error {
		var svc outboxdomain.Service
		var authz authorization.Service
		return runTask(cmd, func(ctx context.Context) error {
			if err := authz.Authorize(ctx, cliActor, authorization.ObjectOutbox, authorization.ActionOutboxDrain); err != nil {
				return err
			}
			summary, err := svc.Drain(ctx, drainLimit)
			if printErr := printJSON(cmd, summary); printErr != nil {
				return printErr
			}
			return err
		}, &svc, &authz)
	},
}

var overdueCmd = &cobra.Command{
	Use:   "overdue",
	Short: "Run the overdue sweep once",
	RunE: func(cmd *cobra.Command, args []string) error {
		var sched *scheduler.Scheduler
		return runTask(cmd, func(ctx context.Context) error {
			return sched.OverdueSweepJob(ctx)
		}, &sched)
	},
}

func init() {
	remindersScheduleCmd.Flags().StringVar(&scheduleInvoiceID, "invoice", "", "consultation invoice id")
	_ = remindersScheduleCmd.MarkFlagRequired("invoice")
	remindersCmd.AddCommand(remindersProcessCmd, remindersScheduleCmd)

	eventsCmd.PersistentFlags().StringVar(&replayProvider, "provider", paymentdomain.ProviderStripe, "event provider")
	eventsReplayCmd.Flags().StringVar(&replayEventID, "event", "", "provider event id")
	eventsPendingCmd.Flags().IntVar(&drainLimit, "limit", 50, "maximum rows")
	eventsCmd.AddCommand(eventsReplayCmd, eventsPendingCmd)

	outboxDrainCmd.Flags().IntVar(&drainLimit, "limit", 50, "maximum messages")
	outboxCmd.AddCommand(outboxDrainCmd)

	rootCmd.AddCommand(overdueCmd)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
