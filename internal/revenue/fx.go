package revenue

import (
	"github.com/smallbiznis/leakradar/internal/revenue/repository"
	"github.com/smallbiznis/leakradar/internal/revenue/scan"
	"github.com/smallbiznis/leakradar/internal/revenue/service"
	"go.uber.org/fx"
)

var Module = fx.Module("revenue",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
	scan.Module,
)
