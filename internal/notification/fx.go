package notification

import (
	"github.com/smallbiznis/clinicledger/internal/outbox"
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	fx.Provide(outbox.AsHandler(NewPaymentConfirmationHandler)),
)
