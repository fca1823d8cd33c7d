// Package server assembles the remote song store API: routes, middleware,
// the change feed and the peer relay.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/iudanet/chordkeeper/internal/server/feed"
	"github.com/iudanet/chordkeeper/internal/server/handlers"
	"github.com/iudanet/chordkeeper/internal/server/middleware"
	"github.com/iudanet/chordkeeper/internal/server/relay"
)

// Store is the persistence the API needs
type Store interface {
	handlers.SongStore
	handlers.Pinger
}

// Config параметры HTTP сервера
type Config struct {
	Addr            string
	Version         string
	JWT             handlers.JWTConfig
	// RelayJoinRate подключений к relay на IP за RelayJoinWindow
	RelayJoinRate   int
	RelayJoinWindow time.Duration
	ShutdownTimeout time.Duration
}

// Server is the HTTP front of the remote store
type Server struct {
	logger     *slog.Logger
	cfg        Config
	broker     *feed.Broker
	hub        *relay.Hub
	limiter    *middleware.RateLimiter
	httpServer *http.Server
}

// New creates a server over store. Run starts it.
func New(cfg Config, store Store, logger *slog.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		logger:  logger,
		cfg:     cfg,
		broker:  feed.NewBroker(logger, feed.DefaultBufferSize),
		hub:     relay.NewHub(logger),
		limiter: middleware.NewRateLimiter(cfg.RelayJoinRate, cfg.RelayJoinWindow, logger),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(store),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the root handler (used by tests with httptest)
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes(store Store) http.Handler {
	songs := handlers.NewSongsHandler(s.logger, store, s.broker)
	changes := handlers.NewChangesHandler(s.logger, s.broker)
	relayHandler := handlers.NewRelayHandler(s.logger, s.hub)
	health := handlers.NewHealthHandler(s.logger, store, s.cfg.Version)

	auth := middleware.AuthMiddleware(s.logger, s.cfg.JWT)
	joinLimit := middleware.RateLimitMiddleware(s.limiter, middleware.ByClientIP, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", health.Health)
	mux.Handle("GET /api/v1/songs", auth(http.HandlerFunc(songs.List)))
	mux.Handle("PUT /api/v1/songs/{id}", auth(http.HandlerFunc(songs.Upsert)))
	mux.Handle("DELETE /api/v1/songs/{id}", auth(http.HandlerFunc(songs.Delete)))
	mux.Handle("GET /api/v1/songs/{id}/arrangement", auth(http.HandlerFunc(songs.GetArrangement)))
	mux.Handle("GET /api/v1/changes", auth(http.HandlerFunc(changes.Stream)))
	// Гости сессии не обязаны иметь аккаунт: relay защищен только лимитом подключений
	mux.Handle("GET /api/v1/relay/{room}", joinLimit(http.HandlerFunc(relayHandler.Join)))

	return middleware.Chain(mux,
		middleware.RecoveryMiddleware(s.logger),
		middleware.LoggingWithSkip(s.logger, []string{"/api/v1/health"}),
	)
}

// Start запускает фоновые компоненты (relay hub) без HTTP listener'а
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run(ctx)
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", slog.String("addr", s.cfg.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		s.Close()
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	// Закрываем долгоживущие websocket потоки до Shutdown, иначе он будет ждать их
	s.Close()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Close stops the feed, the relay and the limiter. Idempotent.
func (s *Server) Close() {
	s.broker.Close()
	s.hub.Stop()
	s.limiter.Stop()
}
