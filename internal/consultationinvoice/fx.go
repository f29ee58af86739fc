package consultationinvoice

import (
	"github.com/smallbiznis/clinicledger/internal/consultationinvoice/repository"
	"github.com/smallbiznis/clinicledger/internal/consultationinvoice/service"
	"github.com/smallbiznis/clinicledger/internal/payment"
	"go.uber.org/fx"
)

var Module = fx.Module("consultationinvoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(payment.AsHandler(service.NewEventHandler)),
)
