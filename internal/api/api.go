// Package api assembles the review engine, its HTTP routes, and the
// deadline scheduler into a single servable module.
package api

import (
	"net/http"

	"github.com/JaimeStill/concord/internal/config"
	"github.com/JaimeStill/concord/internal/infrastructure"
	"github.com/JaimeStill/concord/pkg/lifecycle"
	"github.com/JaimeStill/concord/pkg/middleware"
)

// Module is the assembled API: domain systems plus the middleware-wrapped router.
type Module struct {
	Domain  *Domain
	handler http.Handler
}

// NewModule creates the API module with all domain handlers and middleware.
// Routes are mounted under the configured base path; the health, readiness,
// and metrics probes are served from the root.
func NewModule(cfg *config.Config, infra *infrastructure.Infrastructure) *Module {
	runtime := NewRuntime(cfg, infra)
	domain := NewDomain(cfg, runtime)

	mux := http.NewServeMux()
	registerRoutes(mux, domain, cfg, runtime)

	mw := middleware.New(
		middleware.Recover(runtime.Logger),
		middleware.Logger(runtime.Logger),
		middleware.CORS(&cfg.API.CORS),
		runtime.Metrics.Middleware,
	)

	return &Module{
		Domain:  domain,
		handler: mw.Apply(mux),
	}
}

// Start registers the deadline scheduler with the lifecycle coordinator.
func (m *Module) Start(lc *lifecycle.Coordinator) error {
	return m.Domain.Deadlines.Start(lc)
}

func (m *Module) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.handler.ServeHTTP(w, r)
}
