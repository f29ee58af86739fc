package billingsettings

import (
	"github.com/smallbiznis/clinicledger/internal/billingsettings/repository"
	"github.com/smallbiznis/clinicledger/internal/billingsettings/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingsettings.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
