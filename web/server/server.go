package server

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	actx "go.hackfix.me/natmgr/app/context"
	"go.hackfix.me/natmgr/web/server/api/v1"
	"go.hackfix.me/natmgr/web/server/middleware"
)

// Server is a wrapper around http.Server with some custom behavior.
type Server struct {
	*http.Server
	logger *slog.Logger
}

// New returns a new web Server instance that will listen on addr.
func New(appCtx *actx.Context, addr string) *Server {
	logger := appCtx.Logger.With("component", "web-server")
	return &Server{
		Server: &http.Server{
			Handler:           SetupHandlers(appCtx, logger),
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      5 * time.Minute,
		},
		logger: logger,
	}
}

// ListenAndServe starts the HTTP server. It stores the actual listen address,
// which is convenient when the address is dynamically determined by the system
// (e.g. ':0').
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		//nolint:wrapcheck // This is fine.
		return err
	}

	s.Addr = ln.Addr().String()
	s.logger.Info("started listener", "address", s.Addr)

	//nolint:wrapcheck // This is fine.
	return s.Serve(ln)
}

// SetupHandlers configures the server HTTP handlers.
func SetupHandlers(appCtx *actx.Context, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", api.SetupHandlers(appCtx, logger)))
	if appCtx.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(appCtx.Metrics, promhttp.HandlerOpts{}))
	}

	return middleware.Chain(middleware.Logger(logger), middleware.Recover(logger), mux)
}
