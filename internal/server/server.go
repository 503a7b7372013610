// Package server wires the HTTP surface: routing, middleware and lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/johandahlberg/arteria-delivery/internal/errors"
	"github.com/johandahlberg/arteria-delivery/internal/server/handlers"
	"github.com/johandahlberg/arteria-delivery/internal/server/middleware"
	"github.com/johandahlberg/arteria-delivery/pkg/delivery"
	"github.com/johandahlberg/arteria-delivery/pkg/mover"
	"github.com/johandahlberg/arteria-delivery/pkg/runfolders"
)

// Deps are the composed services the handlers delegate to, plus the
// timeouts the HTTP server runs with.
type Deps struct {
	Delivery   *delivery.Service
	Mover      *mover.Service
	Runfolders *runfolders.Repository
	Version    string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server owns the router and the listening socket.
type Server struct {
	host   string
	port   int
	router chi.Router

	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
}

func New(host string, port int, deps Deps) *Server {
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recovery)
	router.NotFound(apperrors.NotFoundHandler)
	router.MethodNotAllowed(apperrors.MethodNotAllowedHandler)

	router.Get("/health", handlers.HealthHandler)
	router.Get("/health/live", handlers.LivenessHandler)
	router.Get("/health/ready", handlers.ReadinessHandler)
	router.Get("/health/startup", handlers.StartupHandler)
	router.Get("/version", handlers.VersionHandler(version))

	stagingHandler := &handlers.StagingHandler{Delivery: deps.Delivery}
	deliveryHandler := &handlers.DeliveryHandler{Mover: deps.Mover}
	runfolderHandler := &handlers.RunfolderHandler{Runfolders: deps.Runfolders}

	router.Route("/api/1.0", func(api chi.Router) {
		api.Get("/version", handlers.VersionHandler(version))

		api.Get("/runfolders", runfolderHandler.ListRunfolders)
		api.Get("/projects", runfolderHandler.ListProjects)
		api.Get("/runfolders/{name}/projects", runfolderHandler.ListRunfolderProjects)

		api.Post("/stage/runfolder/{name}", stagingHandler.StageRunfolder)
		api.Post("/stage/project/runfolders/{name}", stagingHandler.StageProjectRunfolders)
		api.Post("/stage/project/{name}", stagingHandler.StageProject)
		api.Get("/stage/{id}", stagingHandler.StagingStatus)
		api.Delete("/stage/{id}", stagingHandler.KillStaging)

		api.Post("/deliver/stage_id/{id}", deliveryHandler.Deliver)
		api.Get("/deliver/status/{id}", deliveryHandler.DeliveryStatus)
	})

	readTimeout := deps.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	writeTimeout := deps.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	shutdownTimeout := deps.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	return &Server{
		host:            host,
		port:            port,
		router:          router,
		readTimeout:     readTimeout,
		writeTimeout:    writeTimeout,
		shutdownTimeout: shutdownTimeout,
	}
}

func (s *Server) Port() int {
	return s.port
}

func (s *Server) Handler() http.Handler {
	return s.router
}

const (
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ListenAndServe blocks until ctx is cancelled, then drains in-flight
// requests before returning.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
