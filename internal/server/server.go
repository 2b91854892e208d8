package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sapphybara/change-and-charm-api/config"
	"github.com/sapphybara/change-and-charm-api/internal/auth"
	"github.com/sapphybara/change-and-charm-api/internal/db"
	"github.com/sapphybara/change-and-charm-api/internal/handlers"
	"github.com/sapphybara/change-and-charm-api/internal/logger"
	"github.com/sapphybara/change-and-charm-api/internal/mail"
	"github.com/sapphybara/change-and-charm-api/internal/mq"
	"github.com/sapphybara/change-and-charm-api/internal/ratelimit"
	"github.com/sapphybara/change-and-charm-api/internal/services"
	"github.com/sapphybara/change-and-charm-api/internal/storage"
	"github.com/sapphybara/change-and-charm-api/internal/store"
	"github.com/sapphybara/change-and-charm-api/internal/telemetry"
	"github.com/unrolled/secure"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server wraps the HTTP server and the resources it owns.
type Server struct {
	httpServer *http.Server
	router     http.Handler
	closers    []func(context.Context) error
}

// Deps are the collaborators the router dispatches to.
type Deps struct {
	DB      handlers.Pinger
	Auth    *services.AuthService
	Bites   *services.BiteService
	Reviews *services.ReviewService
	Users   *services.UserService
	Limiter *ratelimit.Limiter
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// New connects every backing service selected by cfg and builds the router.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	s := &Server{}
	fail := func(err error) (*Server, error) {
		_ = s.close(context.Background())
		return nil, err
	}

	shutdownTracing, err := telemetry.InitTracing(ctx)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, shutdownTracing)

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	s.closers = append(s.closers, func(context.Context) error { return dbConn.Close() })

	var queue *mq.MQ
	if cfg.MQ.Backend != "" {
		if queue, err = mq.Open(ctx, cfg.MQ); err != nil {
			return fail(err)
		}
		s.closers = append(s.closers, func(context.Context) error { return queue.Close() })
	}
	mailer, err := mail.New(cfg.Mail, queue)
	if err != nil {
		return fail(err)
	}

	photoStore, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fail(err)
	}
	// a nil *PhotoStore must not become a non-nil interface
	var photos services.PhotoStore
	if photoStore != nil {
		photos = photoStore
		s.closers = append(s.closers, func(context.Context) error { return photoStore.Close() })
	}

	var limitStore ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, func(context.Context) error { return client.Close() })
		limitStore = ratelimit.NewRedisStore(client)
	}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return fail(err)
	}

	deps := newDeps(cfg, dbConn, mailer, photos)
	deps.Limiter = ratelimit.New(limitStore, cfg.RateLimit.Max, cfg.RateLimit.Window)
	deps.Metrics = metrics
	deps.Logger = slog.Default()

	s.router = NewRouter(cfg, deps)
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func newDeps(cfg config.Config, dbConn *sql.DB, mailer mail.Mailer, photos services.PhotoStore) Deps {
	userRepo := store.NewUserRepository(dbConn)
	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	return Deps{
		DB: dbConn,
		Auth: services.NewAuthService(userRepo, tokens, mailer, services.AuthOptions{
			BcryptCost:    cfg.Auth.BcryptCost,
			ResetTokenTTL: cfg.Auth.ResetTokenTTL,
		}),
		Bites:   services.NewBiteService(store.NewBiteRepository(dbConn)),
		Reviews: services.NewReviewService(store.NewReviewRepository(dbConn)),
		Users:   services.NewUserService(userRepo, photos),
	}
}

// NewRouter composes the middleware stages and mounts the API.
func NewRouter(cfg config.Config, deps Deps) http.Handler {
	errs := handlers.Errors{Development: cfg.IsDevelopment()}
	authH := handlers.NewAuthHandler(deps.Auth, handlers.CookieOptions{
		Name:   cfg.Auth.CookieName,
		TTL:    cfg.Auth.CookieTTL,
		Secure: cfg.Auth.SecureCookies,
	}, cfg.Auth.ResetPathPrefix, errs)

	headers := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "no-referrer",
		STSSeconds:         15552000,
		IsDevelopment:      !cfg.IsProduction(),
	})

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		func(next http.Handler) http.Handler { return otelhttp.NewHandler(next, "http.server") },
	)
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware)
	}
	router.Use(headers.Handler)
	if cfg.IsDevelopment() {
		router.Use(middleware.Logger)
	} else if deps.Logger != nil {
		router.Use(logger.AccessLog(deps.Logger))
	}
	router.Use(
		handlers.BodyLimit(handlers.DefaultBodyLimit),
		handlers.Sanitize(errs),
	)

	router.Get("/healthz", handlers.Healthz(deps.DB))
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}
	router.Route("/api", func(r chi.Router) {
		if deps.Limiter != nil {
			r.Use(deps.Limiter.Middleware)
		}
		r.Route("/bites", func(r chi.Router) {
			handlers.BiteRouter(r, deps.Bites, deps.Reviews, authH, errs)
		})
		r.Route("/reviews", func(r chi.Router) {
			handlers.ReviewRouter(r, deps.Reviews, authH, errs)
		})
		r.Route("/users", func(r chi.Router) {
			handlers.UserRouter(r, deps.Users, authH, cfg.Storage.MaxPhotoSize, errs)
		})
		r.NotFound(handlers.NotFound(errs))
		r.MethodNotAllowed(handlers.NotFound(errs))
	})
	router.NotFound(handlers.NotFound(errs))
	router.MethodNotAllowed(handlers.NotFound(errs))

	return router
}

// Router exposes the composed handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	slog.Info("server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and releases
// every backing connection.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.close(ctx))
}

func (s *Server) close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
