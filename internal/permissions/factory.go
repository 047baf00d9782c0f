// ABOUTME: Provider factory selecting and eagerly validating the configured permission backend
// ABOUTME: Fails fast at startup when a backend's required dependency is absent

package permissions

import (
	"database/sql"
	"fmt"

	"github.com/runbookhq/runbook-gateway/internal/config"
)

// NewProvider selects the permission provider implementation from static
// configuration. Validation happens here, once, at startup: a missing
// database handle or graph endpoint is ErrMisconfigured immediately rather
// than on first use.
//
// An explicitly-unset provider name is itself an error in production;
// non-production deployments default to the local provider.
func NewProvider(cfg *config.Config, db *sql.DB) (Provider, error) {
	name := cfg.Permissions.Provider
	if name == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("%w: permissions.provider must be set in production", ErrMisconfigured)
		}
		name = config.ProviderLocal
	}

	switch name {
	case config.ProviderLocal:
		if db == nil {
			return nil, fmt.Errorf("%w: local permission provider requires a database", ErrMisconfigured)
		}
		return NewLocalProvider(db), nil

	case config.ProviderGraph:
		graph := cfg.Permissions.Graph
		if graph.Endpoint == "" {
			return nil, fmt.Errorf("%w: graph permission provider requires permissions.graph.endpoint", ErrMisconfigured)
		}
		if graph.Token == "" {
			return nil, fmt.Errorf("%w: graph permission provider requires permissions.graph.token", ErrMisconfigured)
		}
		return NewGraphProvider(graph.Endpoint, graph.Token, graph.FullyConsistent), nil

	default:
		return nil, fmt.Errorf("%w: unknown permission provider %q", ErrMisconfigured, name)
	}
}
