package providers

import (
	"github.com/smallbiznis/clinicledger/internal/providers/email"
	"github.com/smallbiznis/clinicledger/internal/providers/payment"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	payment.Module,
)
