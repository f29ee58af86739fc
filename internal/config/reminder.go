package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ReminderTemplate is a text/template + html/template pair rendered for one offset.
type ReminderTemplate struct {
	Subject string `mapstructure:"subject" json:"subject"`
	HTML    string `mapstructure:"html" json:"html"`
	Text    string `mapstructure:"text" json:"text"`
}

type ReminderConfig struct {
	From             string                   `mapstructure:"from"`
	LeaseDuration    time.Duration            `mapstructure:"leaseDuration"`
	Templates        map[int]ReminderTemplate `mapstructure:"templates"`
	ConfirmationMail ReminderTemplate         `mapstructure:"paymentConfirmation"`
}

func DefaultReminderConfig() ReminderConfig {
	return ReminderConfig{
		LeaseDuration: 5 * time.Minute,
		Templates: map[int]ReminderTemplate{
			7: {
				Subject: "Reminder: invoice {{.InvoiceNumber}} from {{.PractitionerName}}",
				HTML:    "<p>Hello {{.RecipientName}},</p><p>This is a friendly reminder that invoice <strong>{{.InvoiceNumber}}</strong> for {{.Amount}} is awaiting payment.</p>{{if .PaymentURL}}<p><a href=\"{{.PaymentURL}}\">Pay now</a></p>{{end}}",
				Text:    "Hello {{.RecipientName}},\n\nThis is a friendly reminder that invoice {{.InvoiceNumber}} for {{.Amount}} is awaiting payment.\n",
			},
			15: {
				Subject: "Second reminder: invoice {{.InvoiceNumber}} is {{.OffsetDays}} days old",
				HTML:    "<p>Hello {{.RecipientName}},</p><p>Invoice <strong>{{.InvoiceNumber}}</strong> for {{.Amount}} was issued {{.OffsetDays}} days ago and is still open.</p>{{if .PaymentURL}}<p><a href=\"{{.PaymentURL}}\">Pay now</a></p>{{end}}",
				Text:    "Hello {{.RecipientName}},\n\nInvoice {{.InvoiceNumber}} for {{.Amount}} was issued {{.OffsetDays}} days ago and is still open.\n",
			},
			30: {
				Subject: "Final reminder: invoice {{.InvoiceNumber}}",
				HTML:    "<p>Hello {{.RecipientName}},</p><p>Invoice <strong>{{.InvoiceNumber}}</strong> for {{.Amount}} is now {{.OffsetDays}} days outstanding. Please settle it at your earliest convenience.</p>{{if .PaymentURL}}<p><a href=\"{{.PaymentURL}}\">Pay now</a></p>{{end}}",
				Text:    "Hello {{.RecipientName}},\n\nInvoice {{.InvoiceNumber}} for {{.Amount}} is now {{.OffsetDays}} days outstanding. Please settle it at your earliest convenience.\n",
			},
		},
		ConfirmationMail: ReminderTemplate{
			Subject: "Payment received for invoice {{.InvoiceNumber}}",
			HTML:    "<p>Hello {{.RecipientName}},</p><p>We received your payment of {{.Amount}} for invoice <strong>{{.InvoiceNumber}}</strong>. Thank you.</p>",
			Text:    "Hello {{.RecipientName}},\n\nWe received your payment of {{.Amount}} for invoice {{.InvoiceNumber}}. Thank you.\n",
		},
	}
}

// ReminderConfigHolder keeps the current reminder config and swaps it on file change.
type ReminderConfigHolder struct {
	current atomic.Value // holds ReminderConfig
}

// NewStaticReminderConfigHolder wraps a fixed config, mostly for tests and CLI runs.
func NewStaticReminderConfigHolder(cfg ReminderConfig) *ReminderConfigHolder {
	holder := &ReminderConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewReminderConfigHolder(log *zap.Logger) (*ReminderConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("reminders")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/clinicledger/config")
	v.AddConfigPath("/etc/clinicledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CLINICLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultReminderConfig()
	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := decodeReminderConfig(v, defaults)
	if err != nil {
		return nil, err
	}

	holder := NewStaticReminderConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	log = log.Named("config.reminders")
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeReminderConfig(v, defaults)
		if err != nil {
			log.Warn("reminder config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reminder config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *ReminderConfigHolder) Get() ReminderConfig {
	return h.current.Load().(ReminderConfig)
}

// Template returns the configured default template for an offset.
func (h *ReminderConfigHolder) Template(offsetDays int) (ReminderTemplate, bool) {
	tpl, ok := h.Get().Templates[offsetDays]
	return tpl, ok
}

func decodeReminderConfig(v *viper.Viper, defaults ReminderConfig) (ReminderConfig, error) {
	cfg := ReminderConfig{}
	if v.IsSet("reminders") {
		if err := v.UnmarshalKey("reminders", &cfg); err != nil {
			return ReminderConfig{}, err
		}
	}
	cfg = mergeReminderDefaults(cfg, defaults)
	if err := validateReminderConfig(cfg); err != nil {
		return ReminderConfig{}, err
	}
	return cfg, nil
}

func mergeReminderDefaults(cfg, defaults ReminderConfig) ReminderConfig {
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = defaults.LeaseDuration
	}
	if cfg.Templates == nil {
		cfg.Templates = map[int]ReminderTemplate{}
	}
	for offset, tpl := range defaults.Templates {
		if _, ok := cfg.Templates[offset]; !ok {
			cfg.Templates[offset] = tpl
		}
	}
	if strings.TrimSpace(cfg.ConfirmationMail.Subject) == "" {
		cfg.ConfirmationMail = defaults.ConfirmationMail
	}
	return cfg
}

func validateReminderConfig(cfg ReminderConfig) error {
	for _, offset := range []int{7, 15, 30} {
		tpl, ok := cfg.Templates[offset]
		if !ok {
			return fmt.Errorf("reminders.templates.%d is missing", offset)
		}
		if strings.TrimSpace(tpl.Subject) == "" {
			return fmt.Errorf("reminders.templates.%d.subject cannot be empty", offset)
		}
		if strings.TrimSpace(tpl.HTML) == "" && strings.TrimSpace(tpl.Text) == "" {
			return fmt.Errorf("reminders.templates.%d needs an html or text body", offset)
		}
	}
	if cfg.LeaseDuration < time.Second {
		return errors.New("reminders.leaseDuration must be at least 1s")
	}
	return nil
}
