package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sapliy/notification-hub/internal/event"
	"github.com/sapliy/notification-hub/internal/gateway"
	"github.com/sapliy/notification-hub/internal/job"
	"github.com/sapliy/notification-hub/internal/ledger"
	"github.com/sapliy/notification-hub/pkg/observability"
)

// Health reports readiness of a backing dependency.
type Health interface {
	IsHealthy() bool
}

// Server is the HTTP surface: event ingestion, notification queries, job
// status and the websocket endpoint.
type Server struct {
	router *event.Router
	ledger *ledger.Service
	jobs   *job.Store
	hub    *gateway.Hub
	queue  Health
	logger *observability.Logger

	httpServer *http.Server
}

func NewServer(addr string, router *event.Router, svc *ledger.Service, jobs *job.Store, hub *gateway.Hub, queue Health, logger *observability.Logger) *Server {
	s := &Server{
		router: router,
		ledger: svc,
		jobs:   jobs,
		hub:    hub,
		queue:  queue,
		logger: logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/events", s.handleEvent).Methods(http.MethodPost)
	r.HandleFunc("/events/batch", s.handleEventBatch).Methods(http.MethodPost)

	r.HandleFunc("/notifications", s.handleListNotifications).Methods(http.MethodGet)
	r.HandleFunc("/notifications/mark-all-read", s.handleMarkAllRead).Methods(http.MethodPost)
	r.HandleFunc("/notifications/unread-count", s.handleUnreadCount).Methods(http.MethodGet)
	r.HandleFunc("/notifications/{id}/read", s.handleMarkRead).Methods(http.MethodPost)

	r.HandleFunc("/jobs/failed", s.handleFailedJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{jobId}/status", s.handleJobStatus).Methods(http.MethodGet)

	r.HandleFunc("/ws/notifications", hub.ServeWS)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(r, "http.server"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
