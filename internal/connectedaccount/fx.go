package connectedaccount

import (
	"github.com/smallbiznis/clinicledger/internal/connectedaccount/service"
	"github.com/smallbiznis/clinicledger/internal/payment"
	"go.uber.org/fx"
)

var Module = fx.Module("connectedaccount.service",
	fx.Provide(service.NewService),
	fx.Provide(payment.AsHandler(service.NewEventHandler)),
)
