package api

import (
	"github.com/JaimeStill/concord/internal/config"
	"github.com/JaimeStill/concord/internal/deadlines"
	"github.com/JaimeStill/concord/internal/workflows"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Workflows workflows.System
	Deadlines *deadlines.Scheduler
}

// NewDomain creates all domain systems from the API runtime.
func NewDomain(cfg *config.Config, runtime *Runtime) *Domain {
	engine := workflows.New(
		runtime.Store,
		runtime.Dispatcher,
		runtime.Metrics,
		runtime.Logger,
		runtime.Pagination,
		cfg.Engine,
	)

	return &Domain{
		Workflows: engine,
		Deadlines: deadlines.New(&cfg.Deadlines, engine, runtime.Logger),
	}
}
