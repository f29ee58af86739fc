package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("event_type", "invoice.paid"),
		attribute.String("practitioner_id", "456"),
		attribute.String("outcome", "duplicate"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "practitioner_id" {
			t.Fatalf("practitioner_id must not be a metric label")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordWebhookEvent(context.Background(), "stripe", "invoice.paid", "processed")
	m.RecordReminder(context.Background(), 7, "sent")
	m.RecordOutboxMessage(context.Background(), "x", "sent")
	m.RecordHistoryEntry(context.Background(), "reminder.sent")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordWebhookEvent(context.Background(), "stripe", "account.updated", "processed")
}
