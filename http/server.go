// Package http serves the salary classifier over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"salaryclf/config"
)

type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	AllowedOrigins []string
	MaxUploadBytes int64
}

func DefaultServerConfig() ServerConfig {
	return ServerConfigFrom(config.Default().Http)
}

func ServerConfigFrom(cfg config.HttpConfig) ServerConfig {
	return ServerConfig{
		Port:           cfg.Port,
		Timeout:        cfg.Timeout,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}
}

// NewServer wires the API routes behind the middleware chain.
func NewServer(cfg ServerConfig, api *API) *Server {
	if api.Logger == nil {
		api.Logger = zap.NewNop()
	}
	if api.MaxUploadBytes == 0 {
		api.MaxUploadBytes = cfg.MaxUploadBytes
	}

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewHandler(cfg, api),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.Timeout,
			WriteTimeout:      cfg.Timeout,
			IdleTimeout:       120 * time.Second,
		},
		config: cfg,
		logger: api.Logger,
	}
}

// NewHandler returns the routed, middleware-wrapped handler.
func NewHandler(cfg ServerConfig, api *API) http.Handler {
	if api.Logger == nil {
		api.Logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	api.Register(mux)

	chain := Chain(
		RecoveryMiddleware(api.Logger),
		RequestIDMiddleware,
		LoggerMiddleware(api.Logger, api.Metrics),
		SecurityHeadersMiddleware,
		CORSMiddleware(cfg.AllowedOrigins),
		TimeoutMiddleware(cfg.Timeout),
		RequestSizeMiddleware(cfg.MaxUploadBytes),
	)
	return chain(mux)
}

// Start blocks serving until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.String("addr", s.server.Addr),
		zap.String("websocket", "/api/ws/predictions"))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func (s *Server) Addr() string {
	return s.server.Addr
}
