// Package ingress is the gateway's HTTP face: the channel webhook that feeds
// the inbound stream, the media host that serves synthesized replies back to
// the channels, and the operational endpoints (health, readiness, metrics).
//
// No agent work happens here. Webhook handlers normalize, publish, and
// answer immediately; everything else runs off the streams.
package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parleyio/parley/internal/health"
	"github.com/parleyio/parley/internal/media"
	"github.com/parleyio/parley/internal/observe"
)

// drainTimeout bounds how long Run waits for in-flight requests on shutdown.
const drainTimeout = 10 * time.Second

// ServerConfig wires the routes the ingress server exposes. Nil entries leave
// their routes unmounted.
type ServerConfig struct {
	// ListenAddr is the TCP address to bind (e.g. ":8080").
	ListenAddr string

	// Webhook handles POST /webhooks/whatsapp.
	Webhook http.Handler

	// Media serves GET /media/{path...} from its root directory.
	Media *media.Store

	// Health mounts GET /healthz and GET /readyz.
	Health *health.Handler

	// Metrics enables the request middleware; GET /metrics is always mounted.
	Metrics *observe.Metrics

	Logger *slog.Logger
}

// Server is the ingress HTTP server.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer assembles the route table and returns a server ready to Run.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	if cfg.Webhook != nil {
		mux.Handle("POST /webhooks/whatsapp", cfg.Webhook)
	}
	if cfg.Media != nil {
		mux.HandleFunc("GET /media/{path...}", MediaHandler(cfg.Media, logger))
	}
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	if cfg.Metrics != nil {
		handler = observe.Middleware(cfg.Metrics)(mux)
	}

	return &Server{
		srv: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Handler exposes the assembled route table.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run listens on the configured address and serves until ctx is cancelled,
// then drains in-flight requests. Returns ctx.Err() after a clean drain.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("ingress: listen %s: %w", s.srv.Addr, err)
	}
	s.logger.Info("ingress listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- s.srv.Serve(ln) }()

	select {
	case err := <-errc:
		return fmt.Errorf("ingress: serve: %w", err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := s.srv.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("ingress: shutdown: %w", err)
	}
	s.logger.Info("ingress stopped")
	return ctx.Err()
}
