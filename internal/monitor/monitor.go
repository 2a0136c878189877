package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/skypro1111/udprelay/internal/config"
	"github.com/skypro1111/udprelay/internal/metrics"
	"github.com/skypro1111/udprelay/internal/registry"
)

// Server is the read-only monitoring HTTP API: JSON introspection of live registry
// state plus the Prometheus /metrics endpoint.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
	registry   *registry.Registry
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer

	startTime time.Time
}

// New constructs a monitoring Server bound to addr. gatherer is the same Prometheus
// registerer the Metrics in m were created against, so /metrics and /stats report the
// same numbers.
func New(addr string, logger *slog.Logger, cfg *config.Config, reg *registry.Registry, m *metrics.Metrics, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		logger:    logger,
		cfg:       cfg,
		registry:  reg,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.withMetrics("/health", s.handleHealth))
	mux.HandleFunc("/groups", s.withMetrics("/groups", s.handleGroups))
	mux.HandleFunc("/groups/", s.withMetrics("/groups/{id}", s.handleGroupDetail))
	mux.HandleFunc("/clients", s.withMetrics("/clients", s.handleClients))
	mux.HandleFunc("/config", s.withMetrics("/config", s.handleConfig))
	mux.HandleFunc("/stats", s.withMetrics("/stats", s.handleStats))

	gatherer := s.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", s.withMetrics("/", s.handleRoot))
}

// withMetrics wraps handler with request counting and latency observation, mirroring
// the specification's requirement that the monitoring API itself is covered by the
// same metrics subsystem it exposes.
func (s *Server) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(start).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)
		s.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			s.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start begins serving in the background. Bind failures surface through the returned
// error; errors after a successful bind are logged, matching the teacher's pattern.
func (s *Server) Start() error {
	s.logger.Info("monitoring API listening", slog.String("address", s.httpServer.Addr))

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("bind monitoring listener: %w", err)
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("monitoring HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully shuts down the monitoring listener.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping monitoring API")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying HTTP handler, for tests and for embedding under
// another listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
		"service": map[string]interface{}{
			"name": "udprelay",
		},
		"registry": map[string]interface{}{
			"clients": s.registry.ClientCount(),
			"groups":  s.registry.GroupCount(),
		},
	}

	writeJSON(w, health)
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	_, groups := s.registry.Snapshot()
	response := map[string]interface{}{
		"total_groups": len(groups),
		"timestamp":    time.Now().UTC(),
		"groups":       groups,
	}
	writeJSON(w, response)
}

func (s *Server) handleGroupDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/groups/")
	if id == "" {
		http.Error(w, "group id required", http.StatusBadRequest)
		return
	}

	group, ok := s.registry.GroupSnapshotByID(id)
	if !ok {
		http.Error(w, "group not found", http.StatusNotFound)
		return
	}

	writeJSON(w, group)
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clients, _ := s.registry.Snapshot()
	response := map[string]interface{}{
		"total_clients": len(clients),
		"timestamp":     time.Now().UTC(),
		"clients":       clients,
	}
	writeJSON(w, response)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Nothing here is secret, unlike the teacher's API-key redaction, but the shape of
	// a sanitized view is kept for parity with the rest of the pack's monitoring APIs.
	sanitized := map[string]interface{}{
		"server": map[string]interface{}{
			"host": s.cfg.Server.Host,
			"port": s.cfg.Server.Port,
		},
		"group": map[string]interface{}{
			"empty_ttl":             s.cfg.Group.EmptyTTL.String(),
			"sweep_interval":        s.cfg.Group.SweepInterval.String(),
			"heartbeat_interval":    s.cfg.Group.HeartbeatInterval.String(),
			"default_cap":           s.cfg.Group.DefaultCap,
			"max_groups_per_client": s.cfg.Group.MaxGroupsPerClient,
		},
		"logging": map[string]interface{}{
			"level":  s.cfg.Logging.Level,
			"format": s.cfg.Logging.Format,
		},
		"metrics": map[string]interface{}{
			"addr": s.cfg.Metrics.Addr,
		},
	}

	writeJSON(w, sanitized)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	families, err := s.gatherer.Gather()
	if err != nil {
		s.logger.Warn("failed to gather metrics for /stats", slog.String("error", err.Error()))
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(s.startTime).String(),
		"timestamp": time.Now().UTC(),
		"registry": map[string]interface{}{
			"clients": s.registry.ClientCount(),
			"groups":  s.registry.GroupCount(),
		},
		"counters": counterSnapshot(families),
	}

	writeJSON(w, stats)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	doc := map[string]interface{}{
		"service": "UDP group relay monitoring API",
		"endpoints": map[string]interface{}{
			"GET /":             "API documentation",
			"GET /health":       "Process liveness and registry size",
			"GET /groups":       "Snapshot of all live groups",
			"GET /groups/{id}":  "Detail for one live group",
			"GET /clients":      "Snapshot of all tracked clients",
			"GET /config":       "Sanitized configuration",
			"GET /stats":        "Aggregate counters mirroring Prometheus metrics",
			"GET /metrics":      "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, doc)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// counterSnapshot flattens gathered metric families into a flat name->value map for
// human consumption on /stats, summing label variants of the same family (e.g.
// protocol errors broken out by code in Prometheus become one total here).
func counterSnapshot(families []*dto.MetricFamily) map[string]float64 {
	out := make(map[string]float64, len(families))
	for _, family := range families {
		name := family.GetName()
		if !strings.HasPrefix(name, "relay_") {
			continue
		}
		var total float64
		for _, m := range family.GetMetric() {
			switch {
			case m.Counter != nil:
				total += m.Counter.GetValue()
			case m.Gauge != nil:
				total += m.Gauge.GetValue()
			case m.Histogram != nil:
				total += float64(m.Histogram.GetSampleCount())
			}
		}
		out[name] = total
	}
	return out
}
