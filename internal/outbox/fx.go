package outbox

import (
	"github.com/smallbiznis/clinicledger/internal/config"
	"github.com/smallbiznis/clinicledger/internal/outbox/domain"
	"github.com/smallbiznis/clinicledger/internal/outbox/repository"
	"github.com/smallbiznis/clinicledger/internal/outbox/service"
	"go.uber.org/fx"
)

var Module = fx.Module("outbox.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) domain.Options {
		return domain.Options{BatchSize: cfg.Jobs.OutboxBatchSize}
	}),
	fx.Provide(service.NewService),
)

// AsHandler registers an outbox topic handler constructor.
func AsHandler(constructor any) any {
	return fx.Annotate(
		constructor,
		fx.As(new(domain.Handler)),
		fx.ResultTags(`group:"outbox.handlers"`),
	)
}
