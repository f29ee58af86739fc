package reminder

import (
	"github.com/smallbiznis/clinicledger/internal/config"
	"github.com/smallbiznis/clinicledger/internal/reminder/domain"
	"github.com/smallbiznis/clinicledger/internal/reminder/repository"
	"github.com/smallbiznis/clinicledger/internal/reminder/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reminder.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) domain.Options {
		return domain.Options{Workers: cfg.Jobs.ReminderWorkers}
	}),
	fx.Provide(service.NewService),
)
