package gateway

import (
	"strings"

	"github.com/Ajamix/saas-platform-api/internal/config"
	gatewaydomain "github.com/Ajamix/saas-platform-api/internal/gateway/domain"
	"github.com/Ajamix/saas-platform-api/internal/gateway/paddle"
	"github.com/Ajamix/saas-platform-api/internal/gateway/stripe"
	"github.com/Ajamix/saas-platform-api/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gateway",
	fx.Provide(NewFromConfig),
)

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Metrics *metrics.LifecycleMetrics `optional:"true"`
}

// NewFromConfig builds every provider that has credentials. The configured
// provider becomes the default for rows that never recorded one.
func NewFromConfig(p Params) (*Registry, error) {
	cfg := p.Cfg.Gateway
	log := p.Log.Named("gateway")
	lifecycleMetrics := p.Metrics
	if lifecycleMetrics == nil {
		lifecycleMetrics = metrics.Lifecycle()
	}
	var gateways []gatewaydomain.Gateway

	if strings.TrimSpace(cfg.StripeSecretKey) != "" {
		adapter, err := stripe.New(stripe.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
		})
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, Instrument(adapter, p.Log, lifecycleMetrics, cfg.CallTimeout))
	}
	if strings.TrimSpace(cfg.PaddleAPIKey) != "" {
		adapter, err := paddle.New(paddle.Config{
			APIKey:        cfg.PaddleAPIKey,
			WebhookSecret: cfg.PaddleWebhookSecret,
			Environment:   cfg.PaddleEnvironment,
		})
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, Instrument(adapter, p.Log, lifecycleMetrics, cfg.CallTimeout))
	}
	gateways = append(gateways, unconfigured{})

	registry := NewRegistry(cfg.Provider, gateways...)
	if !registry.ProviderExists(registry.fallback) {
		if registry.fallback != "" {
			log.Warn("gateway.default.unavailable", zap.String("provider", cfg.Provider))
		}
		registry.fallback = "none"
	}
	log.Info("gateway.registry.ready", zap.String("default", registry.fallback), zap.Int("providers", len(gateways)))
	return registry, nil
}
