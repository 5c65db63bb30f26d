package main

import (
	"time"

	"github.com/JaimeStill/concord/internal/api"
	"github.com/JaimeStill/concord/internal/config"
	"github.com/JaimeStill/concord/internal/infrastructure"
)

// Server owns the infrastructure, the API module, and the HTTP listener.
type Server struct {
	infra *infrastructure.Infrastructure
	api   *api.Module
	http  *httpServer
}

// NewServer assembles every subsystem without starting any of them.
func NewServer(cfg *config.Config) (*Server, error) {
	infra, err := infrastructure.New(cfg)
	if err != nil {
		return nil, err
	}

	module := api.NewModule(cfg, infra)

	infra.Logger.Info(
		"server initialized",
		"addr", cfg.Server.Addr(),
		"version", cfg.Version,
		"store", cfg.Engine.Store,
		"sinks", infra.Dispatcher.Sinks(),
	)

	return &Server{
		infra: infra,
		api:   module,
		http:  newHTTPServer(&cfg.Server, module, infra.Logger),
	}, nil
}

// Start registers every subsystem with the lifecycle coordinator and begins
// serving.
func (s *Server) Start() error {
	s.infra.Logger.Info("starting service")

	if err := s.infra.Start(); err != nil {
		return err
	}

	if err := s.api.Start(s.infra.Lifecycle); err != nil {
		return err
	}

	if err := s.http.Start(s.infra.Lifecycle); err != nil {
		return err
	}

	go func() {
		s.infra.Lifecycle.WaitForStartup()
		s.infra.Logger.Info("all subsystems ready")
	}()

	return nil
}

// Shutdown cancels the lifecycle context and waits for every hook and worker.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.infra.Logger.Info("initiating shutdown")
	return s.infra.Lifecycle.Shutdown(timeout)
}
