package tracing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("event.type", "invoice.paid"),
		attribute.String("stripe.signature", "t=1,v1=abc"),
		attribute.String("recipient_email", "a@b.io"),
	)
	require.Len(t, attrs, 1)
	require.Equal(t, attribute.Key("event.type"), attrs[0].Key)
}

func TestSafeErrorKeepsTypeOnly(t *testing.T) {
	err := SafeError(errors.New("card_declined for jane@example.com"))
	require.Equal(t, "*errors.errorString", err.Error())
	require.NoError(t, SafeError(nil))
}

func TestClampRatio(t *testing.T) {
	require.Equal(t, 0.1, clampRatio(0))
	require.Equal(t, 1.0, clampRatio(3))
	require.Equal(t, 0.5, clampRatio(0.5))
}
