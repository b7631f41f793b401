package billinglink

import (
	"github.com/smallbiznis/leakradar/internal/billinglink/domain"
	"github.com/smallbiznis/leakradar/internal/billinglink/repository"
	"github.com/smallbiznis/leakradar/internal/billinglink/service"
	"github.com/smallbiznis/leakradar/internal/pricing"
	"github.com/smallbiznis/leakradar/internal/revenue/scan"
	"go.uber.org/fx"
)

var Module = fx.Module("billinglink.service",
	fx.Provide(repository.Provide),
	fx.Provide(
		service.New,
		func(s *service.Service) domain.Service { return s },
	),
	fx.Provide(
		service.NewResolver,
		func(r *service.Resolver) scan.ClientResolver { return r },
		func(r *service.Resolver) pricing.ClientSource { return r },
	),
)
