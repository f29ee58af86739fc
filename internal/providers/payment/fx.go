package payment

import (
	"github.com/smallbiznis/clinicledger/internal/config"
	obslogger "github.com/smallbiznis/clinicledger/internal/observability/logger"
	"github.com/smallbiznis/clinicledger/internal/providers/retry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.payment",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Processor {
	if cfg.Stripe.SecretKey == "" {
		log.Warn("STRIPE_SECRET_KEY not set, outbound processor calls are disabled")
		return Unconfigured{}
	}
	log.Info("stripe processor configured", zap.String("secret_key", obslogger.MaskSecret(cfg.Stripe.SecretKey)))
	return NewStripeProcessor(cfg.Stripe.SecretKey, nil, StripeURLs{
		CheckoutSuccess: cfg.Stripe.SuccessURL,
		CheckoutCancel:  cfg.Stripe.CancelURL,
		ConnectRefresh:  cfg.Stripe.RefreshURL,
		ConnectReturn:   cfg.Stripe.ReturnURL,
	}, retry.PolicyFromConfig(cfg.Outbound), log)
}
