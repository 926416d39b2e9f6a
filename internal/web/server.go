package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/camuig/hype-trader/internal/config"
	"github.com/camuig/hype-trader/internal/logger"
	"github.com/camuig/hype-trader/internal/status"
)

// Server is the read-only status surface. It never touches the broker.
type Server struct {
	httpServer *http.Server
	source     status.Source
	mode       string
	config     *config.Config
	logger     *logger.Logger
	now        func() time.Time
}

func NewServer(src status.Source, mode string, cfg *config.Config, log *logger.Logger) *Server {
	s := &Server{
		source: src,
		mode:   mode,
		config: cfg,
		logger: log.Component("web"),
		now:    time.Now,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/status", s.handleStatus)
	r.Get("/healthz", s.handleHealthz)
	return r
}

func (s *Server) Start() error {
	s.logger.Info("web server starting", "port", s.config.Web.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
