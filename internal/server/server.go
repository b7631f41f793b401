package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	billinglinkdomain "github.com/smallbiznis/leakradar/internal/billinglink/domain"
	"github.com/smallbiznis/leakradar/internal/config"
	"github.com/smallbiznis/leakradar/internal/observability"
	obsmiddleware "github.com/smallbiznis/leakradar/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/leakradar/internal/observability/metrics"
	obstracing "github.com/smallbiznis/leakradar/internal/observability/tracing"
	organizationdomain "github.com/smallbiznis/leakradar/internal/organization/domain"
	"github.com/smallbiznis/leakradar/internal/pricing"
	"github.com/smallbiznis/leakradar/internal/ratelimit"
	revenuedomain "github.com/smallbiznis/leakradar/internal/revenue/domain"
	"github.com/smallbiznis/leakradar/internal/revenue/scan"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// DailyScanner runs one scan over every linked organization.
type DailyScanner interface {
	RunDailyScan(ctx context.Context) (scan.RunResult, error)
}

// PricingCalculator quotes the subscription tier for an organization.
type PricingCalculator interface {
	Calculate(ctx context.Context, orgID string) (*pricing.Quote, error)
}

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware(obsCfg.UntracedRoutes...))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	revenueSvc      revenuedomain.Service
	billingLinkSvc  billinglinkdomain.Service
	organizationSvc organizationdomain.Service
	pricingSvc      PricingCalculator
	scanner         DailyScanner
	cronLimiter     *ratelimit.CronLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	RevenueSvc      revenuedomain.Service
	BillingLinkSvc  billinglinkdomain.Service
	OrganizationSvc organizationdomain.Service
	PricingSvc      *pricing.Service
	Orchestrator    *scan.Orchestrator
	CronLimiter     *ratelimit.CronLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics    `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http"),
		revenueSvc:      p.RevenueSvc,
		billingLinkSvc:  p.BillingLinkSvc,
		organizationSvc: p.OrganizationSvc,
		pricingSvc:      p.PricingSvc,
		scanner:         p.Orchestrator,
		cronLimiter:     p.CronLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerCronRoutes()
	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerCronRoutes() {
	cron := s.engine.Group("/api/cron")
	cron.Use(s.CronAuthRequired())

	cron.GET("/daily-revenue-check", s.DailyRevenueCheck)
	cron.POST("/daily-revenue-check", s.DailyRevenueCheck)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// Organizations are created before any org context exists.
	api.POST("/organizations", s.CreateOrganization)

	scoped := api.Group("", OrgContext())
	{
		scoped.GET("/organizations/current", s.GetCurrentOrganization)

		scoped.GET("/revenue/snapshot/latest", s.LatestSnapshot)
		scoped.GET("/revenue/issues/today", s.TodayIssues)

		scoped.POST("/billing/connect", s.ConnectBilling)
		scoped.GET("/billing/account", s.GetBillingAccount)
		scoped.DELETE("/billing/disconnect", s.DisconnectBilling)

		scoped.GET("/subscription/pricing", s.CalculatePricing)

		scoped.GET("/settings/alerts", s.GetAlertSettings)
		scoped.PUT("/settings/alerts", s.UpdateAlertSettings)
	}
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
