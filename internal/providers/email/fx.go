package email

import (
	"net/http"

	"github.com/smallbiznis/clinicledger/internal/config"
	"github.com/smallbiznis/clinicledger/internal/providers/retry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

// NewFromConfig picks the transport named by EMAIL_PROVIDER and wraps it with retries.
func NewFromConfig(cfg config.Config, log *zap.Logger) Sender {
	var transport Sender
	switch cfg.Email.Provider {
	case config.EmailProviderSMTP:
		transport = NewSMTP(SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
		})
	case config.EmailProviderPostmark:
		transport = NewPostmark(cfg.Email.PostmarkToken, cfg.Email.PostmarkURL, &http.Client{})
	default:
		transport = NewLogSender(log)
	}
	return NewRetryingSender(transport, retry.PolicyFromConfig(cfg.Outbound), cfg.Email.From, log)
}
