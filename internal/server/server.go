package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/platformai/sci-auth/config"
	"github.com/platformai/sci-auth/internal/db"
	"github.com/platformai/sci-auth/internal/handlers"
	"github.com/platformai/sci-auth/internal/mq"
	"github.com/platformai/sci-auth/internal/services"
	"github.com/platformai/sci-auth/internal/sso"
	"github.com/platformai/sci-auth/internal/store"
	"github.com/platformai/sci-auth/internal/token"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	events     *mq.Publisher
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	if err := db.Migrate(cfg.Database.Path); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	dbConn, err := db.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	tokens, err := token.NewService(jwtSecret)
	if err != nil {
		_ = dbConn.Close()
		return nil, errors.New("JWT_SECRET is required")
	}

	events, err := newEventPublisher(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	userService := services.NewUserService(userRepo)
	ssoClient := sso.NewClient(cfg.SSO.ValidateURL)

	authHandler := handlers.NewAuthHandler(
		userService,
		tokens,
		ssoClient,
		events,
		cfg.SSO.RedirectURL,
		cfg.SSO.CallbackURL,
	)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	handlers.AuthRouter(router, authHandler)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		events:     events,
	}, nil
}

func newEventPublisher(ctx context.Context, cfg config.MQConfig) (*mq.Publisher, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "rabbitmq":
		backend, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		return mq.NewPublisher(backend), nil
	case "pubsub":
		backend, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, fmt.Errorf("connect pubsub: %w", err)
		}
		return mq.NewPublisher(backend), nil
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	_ = s.events.Close()
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}
