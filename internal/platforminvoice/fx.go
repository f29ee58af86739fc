package platforminvoice

import (
	"github.com/smallbiznis/clinicledger/internal/payment"
	"github.com/smallbiznis/clinicledger/internal/platforminvoice/repository"
	"github.com/smallbiznis/clinicledger/internal/platforminvoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("platforminvoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(payment.AsHandler(service.NewEventHandler)),
)
