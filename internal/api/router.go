// Package api assembles the HTTP surface: WebSocket streaming plus the
// REST session-control and history endpoints.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"chart-replay/internal/gateway"
)

// NewRouter builds the mux with every gateway route registered.
func NewRouter(hub *gateway.Hub, processStart time.Time) *http.ServeMux {
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, processStart)
	return mux
}

// Server wraps the gateway HTTP server with a graceful lifecycle.
type Server struct {
	srv *http.Server
}

// NewServer creates the API server on addr.
func NewServer(addr string, hub *gateway.Hub, processStart time.Time) *Server {
	return &Server{
		srv: &http.Server{
			Addr:    addr,
			Handler: NewRouter(hub, processStart),
		},
	}
}

// Start launches the server in a goroutine. Listen failures other than
// a clean shutdown are fatal: a daemon without its API is useless.
func (s *Server) Start() {
	go func() {
		log.Printf("[api] server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[api] server error: %v", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
