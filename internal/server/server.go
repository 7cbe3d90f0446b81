package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	cancellationdomain "github.com/Ajamix/saas-platform-api/internal/cancellation/domain"
	"github.com/Ajamix/saas-platform-api/internal/clock"
	"github.com/Ajamix/saas-platform-api/internal/config"
	"github.com/Ajamix/saas-platform-api/internal/gateway"
	limitsdomain "github.com/Ajamix/saas-platform-api/internal/limits/domain"
	notificationdomain "github.com/Ajamix/saas-platform-api/internal/notification/domain"
	notificationservice "github.com/Ajamix/saas-platform-api/internal/notification/service"
	obstracing "github.com/Ajamix/saas-platform-api/internal/observability/tracing"
	plandomain "github.com/Ajamix/saas-platform-api/internal/plan/domain"
	reconciledomain "github.com/Ajamix/saas-platform-api/internal/reconcile/domain"
	subscriptiondomain "github.com/Ajamix/saas-platform-api/internal/subscription/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(func(d *notificationservice.Dispatcher) Notifier { return d }),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

// Notifier drains events produced by request handlers.
type Notifier interface {
	Drain(ctx context.Context, events []notificationdomain.Event)
}

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(obstracing.GinMiddleware())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, srv *Server) {
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log = log.Named("http.server")

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http.listen.failed", zap.Error(err))
				}
			}()
			log.Info("http.listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	log    *zap.Logger
	clock  clock.Clock
	authz  Authorizer

	subscriptionSvc subscriptiondomain.Service
	planSvc         plandomain.Service
	limitsSvc       limitsdomain.Service
	cancellationSvc cancellationdomain.Service
	reconcileSvc    reconciledomain.Service
	gateways        *gateway.Registry
	notifier        Notifier
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Log             *zap.Logger
	Clock           clock.Clock
	Authz           Authorizer `optional:"true"`
	SubscriptionSvc subscriptiondomain.Service
	PlanSvc         plandomain.Service
	LimitsSvc       limitsdomain.Service
	CancellationSvc cancellationdomain.Service
	ReconcileSvc    reconciledomain.Service
	Gateways        *gateway.Registry
	Notifier        Notifier
}

func NewServer(p ServerParams) *Server {
	authz := p.Authz
	if authz == nil {
		authz = allowAll{}
	}
	svc := &Server{
		engine: p.Gin,
		log:    p.Log.Named("http.handler"),
		clock:  p.Clock,
		authz:  authz,

		subscriptionSvc: p.SubscriptionSvc,
		planSvc:         p.PlanSvc,
		limitsSvc:       p.LimitsSvc,
		cancellationSvc: p.CancellationSvc,
		reconcileSvc:    p.ReconcileSvc,
		gateways:        p.Gateways,
		notifier:        p.Notifier,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")

	// -------- Subscriptions --------
	api.POST("/subscriptions", s.authorize(ActionSubscriptionCreate), s.CreateSubscription)
	api.GET("/subscriptions/:id", s.authorize(ActionSubscriptionRead), s.GetSubscriptionByID)
	api.POST("/subscriptions/:id/cancel", s.authorize(ActionSubscriptionCancel), s.CancelSubscription)
	api.GET("/tenants/:tenant_id/subscriptions", s.authorize(ActionSubscriptionRead), s.ListTenantSubscriptions)
	api.GET("/tenants/:tenant_id/subscriptions/active", s.authorize(ActionSubscriptionRead), s.GetActiveSubscription)
	api.POST("/tenants/:tenant_id/checkout", s.authorize(ActionCheckoutCreate), s.CreateCheckout)

	// -------- Limits --------
	api.GET("/tenants/:tenant_id/limits", s.authorize(ActionLimitsRead), s.GetLimitReport)
	api.GET("/tenants/:tenant_id/limits/:resource", s.authorize(ActionLimitsRead), s.CheckLimit)
}

func (s *Server) registerWebhookRoutes() {
	// signature verification replaces authorization here
	s.engine.POST("/v1/webhooks/:provider", s.HandleGatewayWebhook)
}
