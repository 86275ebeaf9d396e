package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/pkg/config"
	"github.com/goran-ethernal/StarkIndexor/pkg/indexer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	systemMetricsInterval = 15 * time.Second
	healthStatusTimeout   = 2 * time.Second
)

// Indexers lists the running indexers whose state is exported.
type Indexers interface {
	ListAll() []indexer.Queryable
}

// Health is the body of the /health endpoint.
type Health struct {
	Status   string            `json:"status"`
	Indexers map[string]string `json:"indexers,omitempty"`
}

// Server exposes the Prometheus metrics and the health of every indexer.
type Server struct {
	config   *config.MetricsConfig
	indexers Indexers
	log      *logger.Logger
	server   *http.Server
	stopCh   chan struct{}
}

// NewServer creates a metrics server. indexers may be nil, in which case /health
// only reports that the process is up.
func NewServer(config *config.MetricsConfig, indexers Indexers, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Server{
		config:   config,
		indexers: indexers,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the metrics HTTP server and the system and indexer state updater.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}

	s.server = &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.log.Infof("metrics server listening: address=%s path=%s", s.config.ListenAddress, s.config.Path)

	go s.updateSystemMetrics(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("metrics server error: %v", err)
		}
	}()

	return nil
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.Path, promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// handleHealth answers 503 once any indexer has failed for good.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthStatusTimeout)
	defer cancel()

	health, healthy := s.health(ctx)
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.log.Debugf("failed to write health response: %v", err)
	}
}

// health collects the state of every indexer and refreshes the IndexerUp gauge.
func (s *Server) health(ctx context.Context) (Health, bool) {
	h := Health{Status: "ok"}
	if s.indexers == nil {
		return h, true
	}

	healthy := true
	h.Indexers = make(map[string]string)
	for _, q := range s.indexers.ListAll() {
		state := indexer.StateFailed
		if st, err := q.Status(ctx); err != nil {
			s.log.Warnf("failed to read status of indexer %s: %v", q.GetName(), err)
		} else {
			state = st.State
		}

		h.Indexers[q.GetName()] = state
		up := state != indexer.StateFailed && state != indexer.StateStopped
		IndexerUpSet(q.GetName(), up)
		if state == indexer.StateFailed {
			healthy = false
		}
	}

	if !healthy {
		h.Status = "degraded"
	}
	return h, healthy
}

// Stop stops the metrics HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	close(s.stopCh)

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}

	return nil
}

func (s *Server) updateSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			UpdateSystemMetrics()
			s.health(ctx)
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}
