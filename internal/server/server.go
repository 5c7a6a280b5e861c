package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tubeshelf/accounts/config"
	"github.com/tubeshelf/accounts/internal/db"
	"github.com/tubeshelf/accounts/internal/events"
	"github.com/tubeshelf/accounts/internal/handlers"
	"github.com/tubeshelf/accounts/internal/media"
	"github.com/tubeshelf/accounts/internal/metrics"
	"github.com/tubeshelf/accounts/internal/middleware"
	"github.com/tubeshelf/accounts/internal/mq"
	"github.com/tubeshelf/accounts/internal/services"
	"github.com/tubeshelf/accounts/internal/storage"
	"github.com/tubeshelf/accounts/internal/store"
)

const requestTimeout = 60 * time.Second

// Server wraps the HTTP server and the clients it owns.
type Server struct {
	httpServer *http.Server
	limiter    *middleware.RateLimiter
	logger     *slog.Logger
	closers    []func(context.Context) error
}

// New connects the configured backends and builds the router.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = s.closeAll(context.Background())
		}
	}()

	repo, err := s.openUserStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	objects, err := storage.Open(ctx, cfg.Media)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func(context.Context) error { return objects.Close() })

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	opts := []services.Option{
		services.WithLogger(logger),
		services.WithMetrics(collector),
		services.WithBcryptCost(cfg.Auth.BcryptCost),
	}
	broker, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		return nil, err
	}
	if broker != nil {
		s.closers = append(s.closers, func(context.Context) error { return broker.Close() })
		opts = append(opts, services.WithEvents(events.NewPublisher(broker, cfg.MQ.AccountChannel)))
	}

	tokens := services.NewTokenService(repo, cfg.Auth)
	userService := services.NewUserService(repo, tokens, media.NewUploader(objects), opts...)
	userHandler := handlers.NewUserHandler(userService, handlers.UserHandlerConfig{
		AccessTokenTTL:  tokens.AccessTTL(),
		RefreshTokenTTL: tokens.RefreshTTL(),
		TempDir:         cfg.Media.TempDir,
		MaxUploadBytes:  cfg.Media.MaxUploadBytes,
		Logger:          logger,
	})

	s.limiter = middleware.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst, logger)

	router := chi.NewRouter()
	router.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.NewLoggingMiddleware(logger, collector),
		middleware.NewCORSMiddleware(cfg.CORSOrigin),
		chimw.Timeout(requestTimeout),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Method(http.MethodGet, "/metrics", metrics.Handler(registry))
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, userHandler, s.limiter.Middleware)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8000
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ok = true
	return s, nil
}

func (s *Server) openUserStore(ctx context.Context, cfg config.Config) (services.UserRepository, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s.closers = append(s.closers, func(context.Context) error { return conn.Close() })
		return store.NewUserRepository(conn), nil
	case config.StoreBackendMongo:
		database, err := db.OpenMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		s.closers = append(s.closers, database.Client().Disconnect)
		repo := store.NewMongoUserRepository(database)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		return repo, nil
	case config.StoreBackendMemory:
		s.logger.Warn("using in-memory user store, accounts are lost on restart")
		return store.NewMemoryUserRepository(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases backend clients.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return errors.Join(err, s.closeAll(ctx))
}

func (s *Server) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
