package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/n-car/rpckit/observability"
)

// Default paths served by Server.
const (
	DefaultHTTPPath      = "/rpc"
	DefaultWebSocketPath = "/ws"
)

// ServerConfig configures Server.
type ServerConfig struct {
	Address         string
	HTTPPath        string
	WebSocketPath   string
	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

// Server mounts the HTTP and WebSocket handlers of one engine on a listener.
type Server struct {
	cfg    ServerConfig
	http   *HTTPHandler
	ws     *WebSocketHandler
	logger observability.Logger
}

// NewServer builds a server for handler. An empty WebSocketPath disables
// WebSocket support.
func NewServer(handler Handler, cfg ServerConfig, opts ...Option) *Server {
	if cfg.HTTPPath == "" {
		cfg.HTTPPath = DefaultHTTPPath
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		cfg:    cfg,
		http:   NewHTTPHandler(handler, opts...),
		logger: buildOptions(opts).logger,
	}
	if cfg.WebSocketPath != "" {
		s.ws = NewWebSocketHandler(handler, opts...)
	}
	return s
}

// Handler returns the routing handler, for embedding into another server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.HTTPPath, s.http)
	if s.ws != nil {
		mux.Handle(s.cfg.WebSocketPath, s.ws)
	}
	return mux
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "transport.Server.Run")
	defer span.End()

	server := &http.Server{
		BaseContext: func(listener net.Listener) context.Context {
			return ctx
		},
		Addr:         s.cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.WithFields(map[string]interface{}{
		"address":       s.cfg.Address,
		"httpPath":      s.cfg.HTTPPath,
		"webSocketPath": s.cfg.WebSocketPath,
	}).Info("Starting RPC server")

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Warn("Context cancelled. Shutting down RPC server...")
		if s.ws != nil {
			s.ws.Close()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			observability.RecordError(span, err)
			s.logger.WithErr(err).Error("Error during server shutdown")
			return fmt.Errorf("error during server shutdown: %w", err)
		}
		s.logger.Info("RPC server shut down")
		return nil
	case err := <-errChan:
		observability.RecordError(span, err)
		s.logger.WithErr(err).Error("RPC server failed")
		return fmt.Errorf("server error: %w", err)
	}
}
