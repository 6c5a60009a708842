package telemetry

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the metrics HTTP server
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
	ln         net.Listener
}

// NewServer creates a metrics server on addr serving reg.
func NewServer(addr string, reg *prometheus.Registry, log *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	// Health endpoint for the metrics server itself
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("metrics server failed to bind: %w", err)
	}
	s.ln = ln
	s.log.Info("Starting metrics HTTP server", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.httpServer.Addr
	}
	return s.ln.Addr().String()
}

// Stop gracefully stops the metrics HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Stopping metrics HTTP server")
	return s.httpServer.Shutdown(ctx)
}
