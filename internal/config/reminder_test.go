package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMergeReminderDefaultsFillsMissingOffsets(t *testing.T) {
	cfg := mergeReminderDefaults(ReminderConfig{
		Templates: map[int]ReminderTemplate{
			15: {Subject: "custom", Text: "body"},
		},
	}, DefaultReminderConfig())

	require.NoError(t, validateReminderConfig(cfg))
	require.Equal(t, "custom", cfg.Templates[15].Subject)
	require.Contains(t, cfg.Templates[7].Subject, "{{.InvoiceNumber}}")
	require.Equal(t, 5*time.Minute, cfg.LeaseDuration)
}

func TestValidateReminderConfigRejectsEmptyBody(t *testing.T) {
	cfg := DefaultReminderConfig()
	cfg.Templates[30] = ReminderTemplate{Subject: "x"}

	require.Error(t, validateReminderConfig(cfg))
}

func TestGetenvDurationFallsBack(t *testing.T) {
	t.Setenv("TEST_DURATION", "nope")
	require.Equal(t, time.Second, getenvDuration("TEST_DURATION", time.Second))

	t.Setenv("TEST_DURATION", "90s")
	require.Equal(t, 90*time.Second, getenvDuration("TEST_DURATION", time.Second))
}

func TestLoadReadsNestedSections(t *testing.T) {
	t.Setenv("EMAIL_PROVIDER", "SMTP")
	t.Setenv("INTERNAL_TRIGGER_SECRET", " s3cret ")
	t.Setenv("REMINDER_CRON", "*/5 * * * *")

	cfg := Load()
	require.Equal(t, EmailProviderSMTP, cfg.Email.Provider)
	require.Equal(t, "s3cret", cfg.Internal.TriggerSecret)
	require.Equal(t, "*/5 * * * *", cfg.Jobs.ReminderCron)
}
