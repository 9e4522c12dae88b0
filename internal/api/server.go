package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hookrelay/hookrelay/internal/config"
	"github.com/hookrelay/hookrelay/internal/delivery"
	"github.com/hookrelay/hookrelay/internal/dispatch"
	"github.com/hookrelay/hookrelay/internal/metrics"
	"github.com/hookrelay/hookrelay/internal/registry"
	"github.com/hookrelay/hookrelay/internal/storage"
)

type Server struct {
	cfg        config.ServerConfig
	store      storage.Store
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	scheduler  *delivery.Scheduler
	router     *chi.Mux
	log        zerolog.Logger
	http       *http.Server
}

func NewServer(cfg config.ServerConfig, store storage.Store, reg *registry.Registry, disp *dispatch.Dispatcher, sched *delivery.Scheduler, log zerolog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		store:      store,
		registry:   reg,
		dispatcher: disp,
		scheduler:  sched,
		log:        log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	subHandler := NewSubscriptionHandler(s.registry, s.dispatcher, s.store)
	eventHandler := NewEventHandler(s.dispatcher)
	dlvHandler := NewDeliveryHandler(s.store)
	statsHandler := NewStatsHandler(s.store, s.scheduler)

	r.Get("/health", statsHandler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(APIKeyMiddleware(s.cfg.APIKey))

		// Event producers
		r.Post("/events", eventHandler.Trigger)

		// Subscriptions
		r.Post("/subscriptions", subHandler.Create)
		r.Get("/subscriptions", subHandler.List)
		r.Get("/subscriptions/{id}", subHandler.Get)
		r.Put("/subscriptions/{id}", subHandler.Update)
		r.Delete("/subscriptions/{id}", subHandler.Delete)
		r.Post("/subscriptions/{id}/test", subHandler.Test)
		r.Get("/subscriptions/{id}/stats", subHandler.Stats)

		// Deliveries
		r.Get("/deliveries", dlvHandler.List)
		r.Get("/deliveries/{id}", dlvHandler.Get)

		// Stats and maintenance
		r.Get("/stats", statsHandler.Stats)
		r.Post("/retries/sweep", statsHandler.Sweep)
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
