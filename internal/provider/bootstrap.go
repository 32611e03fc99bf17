package provider

import (
	"go.uber.org/zap"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/config"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/resilience"
)

// BuildRegistry constructs and registers every enabled adapter.
func BuildRegistry(cfg *config.Config, retry resilience.RetryConfig) *Registry {
	reg := NewRegistry()
	register := func(enabled bool, a Adapter) {
		if !enabled {
			zap.L().Info("provider: disabled", zap.String("provider", a.Name()))
			return
		}
		reg.Register(a)
	}
	register(cfg.Providers.Apollo.Enabled, NewApollo(cfg.Providers.Apollo, retry))
	register(cfg.Providers.Clearbit.Enabled, NewClearbit(cfg.Providers.Clearbit, retry))
	register(cfg.Providers.Hunter.Enabled, NewHunter(cfg.Providers.Hunter, retry))
	register(cfg.Providers.Prospeo.Enabled, NewProspeo(cfg.Providers.Prospeo, retry))
	register(cfg.Providers.Dropcontact.Enabled, NewDropcontact(cfg.Providers.Dropcontact, retry))
	register(cfg.Providers.ZeroBounce.Enabled, NewZeroBounce(cfg.Providers.ZeroBounce, retry))
	return reg
}
