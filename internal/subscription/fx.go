package subscription

import (
	"github.com/smallbiznis/clinicledger/internal/payment"
	"github.com/smallbiznis/clinicledger/internal/subscription/repository"
	"github.com/smallbiznis/clinicledger/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(payment.AsHandler(service.NewEventHandler)),
)
