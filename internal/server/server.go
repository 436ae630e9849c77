// Package server wraps http.Server with sane timeouts, optional TLS and
// graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"apibridge/internal/common/logging"
)

// Server represents the HTTP server hosting the bridge API.
type Server struct {
	srv     *http.Server
	tlsCert string
	tlsKey  string
	logger  logging.Logger
}

// New creates a new server instance. TLS is enabled when both cert and
// key paths are set.
func New(handler http.Handler, port, tlsCert, tlsKey string) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         ":" + port,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		tlsCert: tlsCert,
		tlsKey:  tlsKey,
		logger:  logging.GetGlobalLogger().WithFields(logging.String("component", "server")),
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	if s.tlsCert != "" && s.tlsKey != "" {
		s.srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		go func() {
			s.logger.Info("Listening with TLS", logging.String("addr", s.srv.Addr))
			if err := s.srv.ListenAndServeTLS(s.tlsCert, s.tlsKey); err != nil && err != http.ErrServerClosed {
				s.logger.Error("HTTPS server failed", err)
			}
		}()
		return nil
	}

	go func() {
		s.logger.Info("Listening", logging.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight
// requests up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
