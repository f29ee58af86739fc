package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/clinicledger/internal/authorization"
	historydomain "github.com/smallbiznis/clinicledger/internal/billinghistory/domain"
	settingsdomain "github.com/smallbiznis/clinicledger/internal/billingsettings/domain"
	"github.com/smallbiznis/clinicledger/internal/config"
	accountdomain "github.com/smallbiznis/clinicledger/internal/connectedaccount/domain"
	invoicedomain "github.com/smallbiznis/clinicledger/internal/consultationinvoice/domain"
	"github.com/smallbiznis/clinicledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/clinicledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/clinicledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/clinicledger/internal/observability/tracing"
	outboxdomain "github.com/smallbiznis/clinicledger/internal/outbox/domain"
	paymentdomain "github.com/smallbiznis/clinicledger/internal/payment/domain"
	platforminvoicedomain "github.com/smallbiznis/clinicledger/internal/platforminvoice/domain"
	reminderdomain "github.com/smallbiznis/clinicledger/internal/reminder/domain"
	subscriptiondomain "github.com/smallbiznis/clinicledger/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine                 *gin.Engine
	cfg                    config.Config
	validate               *validator.Validate
	authzSvc               authorization.Service
	paymentSvc             paymentdomain.Service
	consultationInvoiceSvc invoicedomain.Service
	platformInvoiceSvc     platforminvoicedomain.Service
	subscriptionSvc        subscriptiondomain.Service
	settingsSvc            settingsdomain.Service
	accountSvc             accountdomain.Service
	historySvc             historydomain.Service
	reminderSvc            reminderdomain.Service
	outboxSvc              outboxdomain.Service
}

type ServerParams struct {
	fx.In

	Gin                    *gin.Engine
	Cfg                    config.Config
	AuthzSvc               authorization.Service
	PaymentSvc             paymentdomain.Service
	ConsultationInvoiceSvc invoicedomain.Service
	PlatformInvoiceSvc     platforminvoicedomain.Service
	SubscriptionSvc        subscriptiondomain.Service
	SettingsSvc            settingsdomain.Service
	AccountSvc             accountdomain.Service
	HistorySvc             historydomain.Service
	ReminderSvc            reminderdomain.Service
	OutboxSvc              outboxdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:                 p.Gin,
		cfg:                    p.Cfg,
		validate:               newValidator(),
		authzSvc:               p.AuthzSvc,
		paymentSvc:             p.PaymentSvc,
		consultationInvoiceSvc: p.ConsultationInvoiceSvc,
		platformInvoiceSvc:     p.PlatformInvoiceSvc,
		subscriptionSvc:        p.SubscriptionSvc,
		settingsSvc:            p.SettingsSvc,
		accountSvc:             p.AccountSvc,
		historySvc:             p.HistorySvc,
		reminderSvc:            p.ReminderSvc,
		outboxSvc:              p.OutboxSvc,
	}

	svc.registerWebhookRoutes()
	svc.registerInternalRoutes()
	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal", s.InternalAuth())

	internal.POST("/reminders/process", s.ProcessReminders)
	internal.POST("/outbox/drain", s.DrainOutbox)
	internal.POST("/events/replay", s.ReplayEvent)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", PractitionerContext())

	invoices := api.Group("/consultation-invoices")
	invoices.POST("", s.CreateConsultationInvoices)
	invoices.GET("", s.ListConsultationInvoices)
	invoices.GET("/:id", s.GetConsultationInvoice)
	invoices.PATCH("/:id", s.UpdateConsultationInvoice)
	invoices.POST("/:id/issue", s.IssueConsultationInvoice)
	invoices.POST("/:id/cancel", s.CancelConsultationInvoice)
	invoices.POST("/:id/checkout", s.CreateConsultationCheckout)
	invoices.GET("/:id/reminders", s.ListInvoiceReminders)

	api.GET("/billing-history", s.ListBillingHistory)

	settings := api.Group("/billing-settings")
	settings.GET("/reminders", s.GetReminderSettings)
	settings.PUT("/reminders", s.UpdateReminderSettings)
	settings.POST("/connect", s.StartOnboarding)
	settings.POST("/connect/refresh", s.RefreshConnectedAccount)

	api.GET("/subscription", s.GetSubscription)
	api.GET("/platform-invoices", s.ListPlatformInvoices)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Error: errorPayload{Type: "not_found", Message: "not found"}})
	})
}
