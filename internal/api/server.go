package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"acs-event-bridge/internal/config"
	"acs-event-bridge/internal/poller"
)

// StatusSource exposes the per-device pipeline status.
type StatusSource interface {
	Snapshot() []poller.DeviceStatus
}

// Server is the optional HTTP surface: a health endpoint, a status
// endpoint, and a WebSocket live feed of accepted events.
type Server struct {
	cfg        config.APIConfig
	logger     *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	status     StatusSource
	feed       *EventFeed
	version    string
}

// NewServer wires the router and handlers. The returned server does not
// listen until Start is called.
func NewServer(cfg config.APIConfig, status StatusSource, feed *EventFeed, version string, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		router:  mux.NewRouter(),
		status:  status,
		feed:    feed,
		version: version,
	}

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/events/live", s.feed.HandleWS)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start runs the listener until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("listen_addr", s.cfg.ListenAddr).Info("Starting API server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.feed.Close()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	devices := s.status.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": s.version,
		"devices": devices,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Warn("Failed to encode API response")
	}
}
