package gateway

import (
	"strings"

	gatewaydomain "github.com/Ajamix/saas-platform-api/internal/gateway/domain"
)

// Registry resolves the gateway that owns a subscription. Rows without a
// recorded provider fall back to the configured default.
type Registry struct {
	gateways map[string]gatewaydomain.Gateway
	fallback string
}

func NewRegistry(fallback string, gateways ...gatewaydomain.Gateway) *Registry {
	registry := &Registry{
		gateways: map[string]gatewaydomain.Gateway{},
		fallback: normalize(fallback),
	}
	for _, gw := range gateways {
		if gw == nil {
			continue
		}
		name := normalize(gw.Name())
		if name == "" {
			continue
		}
		registry.gateways[name] = gw
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.gateways[normalize(provider)]
	return ok
}

// For returns the gateway for provider, or the default when provider is empty.
func (r *Registry) For(provider string) (gatewaydomain.Gateway, error) {
	if r == nil {
		return nil, gatewaydomain.ErrProviderNotFound
	}
	provider = normalize(provider)
	if provider == "" {
		provider = r.fallback
	}
	gw, ok := r.gateways[provider]
	if !ok {
		return nil, gatewaydomain.ErrProviderNotFound
	}
	return gw, nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
