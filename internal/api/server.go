package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"buildq/internal/gitsync"
	"buildq/internal/registry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// HeadReader reports the checkout's current commit for status messages.
type HeadReader interface {
	HeadInfo(ctx context.Context) gitsync.CommitInfo
}

type Deps struct {
	Registry     *registry.Registry
	Head         HeadReader
	ArtifactsDir string
	ArtifactExt  string
	LogsDir      string
}

type Server struct {
	router *chi.Mux
	deps   Deps
	log    zerolog.Logger
}

func NewServer(deps Deps, log zerolog.Logger) *Server {
	s := &Server{deps: deps, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(log, func(r *http.Request) bool { return r.URL.Path == "/health" }))
	r.Use(middleware.Recoverer)

	r.Post("/api/submit-build-task", s.handleSubmit)
	r.Get("/api/build-status", s.handleStatus)
	r.Get("/api/system-status", s.handleSystemStatus)
	r.Get("/api/get-artifact", s.handleGetArtifact)
	r.Get("/artifacts/{fileName}", s.handleDownload)
	r.Get("/health", s.handleHealth)

	s.router = r
	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves HTTP until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, host string, port int) {
	addr := fmt.Sprintf("%s:%d", host, port)

	httpServer := http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	done := make(chan bool)
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("server forced to shutdown")
		}

		close(done)
	}()

	s.log.Info().Msgf("server serving on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Fatal().Err(err).Msg("failed to listen and serve")
	}

	<-done
	s.log.Info().Msg("server stopped")
}
