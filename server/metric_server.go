package server

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/INLOpen/chaindb/config"
	"github.com/INLOpen/chaindb/engine"
	"github.com/arl/statsviz"
)

const defaultListenAddress = "127.0.0.1:6060"

// StatsResponse is the JSON body served on /stats.
type StatsResponse struct {
	MemtableRecords int    `json:"memtable_records"`
	MemtableBytes   int64  `json:"memtable_bytes"`
	PendingFlushes  int    `json:"pending_flushes"`
	Segments        int    `json:"segments"`
	SegmentBytes    int64  `json:"segment_bytes"`
	WALBytes        int64  `json:"wal_bytes"`
	FlushError      string `json:"flush_error,omitempty"`
	DataDir         string `json:"data_dir"`
}

// MetricsServer manages the HTTP server for metrics and debugging.
type MetricsServer struct {
	server  *http.Server
	logger  *slog.Logger
	started bool
	mu      sync.Mutex
}

// NewMetricsServer creates and configures a new HTTP server. eng may be nil,
// in which case /stats is not registered.
func NewMetricsServer(cfg *config.DebugConfig, eng engine.StorageEngineInterface, logger *slog.Logger) *MetricsServer {
	mux := http.NewServeMux()
	logger = logger.With("component", "MetricsServer")

	if cfg.PProfEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		logger.Info("pprof profiling endpoints enabled on /debug/pprof")
	}
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", expvar.Handler())
		logger.Info("expvar metrics endpoint enabled on /metrics")
		if cfg.MonitorUIEnabled {
			if err := statsviz.Register(mux,
				statsviz.Root("/viz"),
				statsviz.SendFrequency(250*time.Millisecond),
			); err != nil {
				logger.Warn("Failed to register statsviz.", "error", err)
			} else {
				logger.Info("Runtime monitoring UI is available at /viz")
			}
		}
	}
	if eng != nil {
		mux.HandleFunc("/stats", statsHandler(eng, logger))
	}

	addr := cfg.ListenAddress
	if addr == "" {
		addr = defaultListenAddress
	}

	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

func statsHandler(eng engine.StorageEngineInterface, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s := eng.Stats()
		resp := StatsResponse{
			MemtableRecords: s.MemtableRecords,
			MemtableBytes:   s.MemtableBytes,
			PendingFlushes:  s.PendingFlushes,
			Segments:        s.Segments,
			SegmentBytes:    s.SegmentBytes,
			WALBytes:        s.WALBytes,
			DataDir:         eng.GetDataDir(),
		}
		if s.FlushError != nil {
			resp.FlushError = s.FlushError.Error()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Warn("Failed to write stats response.", "error", err)
		}
	}
}

// Handler returns the server's HTTP handler.
func (s *MetricsServer) Handler() http.Handler {
	return s.server.Handler
}

// Addr returns the configured listen address.
func (s *MetricsServer) Addr() string {
	return s.server.Addr
}

// Start starts the Metrics server. It's a blocking call.
func (s *MetricsServer) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("Debug server listening", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("Debug server failed", "error", err)
		return fmt.Errorf("failed to start debug server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the Metrics server.
func (s *MetricsServer) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info("Stopping debug server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Debug server shutdown failed", "error", err)
	} else {
		s.logger.Info("Debug server stopped gracefully.")
	}
}
