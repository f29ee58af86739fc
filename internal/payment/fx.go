package payment

import (
	"github.com/smallbiznis/clinicledger/internal/config"
	"github.com/smallbiznis/clinicledger/internal/payment/adapters"
	"github.com/smallbiznis/clinicledger/internal/payment/adapters/stripe"
	"github.com/smallbiznis/clinicledger/internal/payment/domain"
	"github.com/smallbiznis/clinicledger/internal/payment/repository"
	paymentservice "github.com/smallbiznis/clinicledger/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewVerifier(cfg.Stripe.WebhookSecret),
		)
	}),
	fx.Provide(paymentservice.NewService),
)

// AsHandler registers an event handler constructor with the dispatcher.
func AsHandler(constructor any) any {
	return fx.Annotate(
		constructor,
		fx.As(new(domain.Handler)),
		fx.ResultTags(`group:"payment.handlers"`),
	)
}
