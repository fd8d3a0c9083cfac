package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ctfer-io/race-manager/global"
	"github.com/ctfer-io/race-manager/pkg/race"
)

// Server is a helper to manage the API Server.
type Server struct {
	Options

	ln  net.Listener
	srv *http.Server
}

// Options to configure it once for all.
type Options struct {
	Port        int
	Coordinator *race.Coordinator
}

// NewServer returns a fresh API server.
func NewServer(opts Options) *Server {
	return &Server{
		Options: opts,
	}
}

// Run the API server in backend.
func (s *Server) Run(ctx context.Context) error {
	global.Log().Info(ctx, "api-server start listening",
		zap.Int("port", s.Port),
	)
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Port))
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			global.Log().Error(ctx, "http server", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the address the server listens on, once running.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops accepting requests, waits for in-flight ones then for the
// races reset asynchronously to complete.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.srv != nil {
		err = s.srv.Shutdown(ctx)
	}
	return multierr.Append(err, s.Coordinator.Close(ctx))
}

// Handler builds the HTTP routes of the API.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/race/{id...}", otelhttp.WithRouteTag("/api/v1/race/{id}", http.HandlerFunc(s.race)))
	mux.Handle("DELETE /api/v1/race/{id...}", otelhttp.WithRouteTag("/api/v1/race/{id}", http.HandlerFunc(s.endRace)))
	mux.Handle("GET /healthcheck", healthcheck(ctx))

	return otelhttp.NewHandler(mux, "race-manager")
}
