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
	log "github.com/sirupsen/logrus"

	"github.com/plateauction/apiserver/config"
	"github.com/plateauction/apiserver/internal/db"
	"github.com/plateauction/apiserver/internal/handlers"
	"github.com/plateauction/apiserver/internal/hub"
	"github.com/plateauction/apiserver/internal/mq"
	"github.com/plateauction/apiserver/internal/notify"
	"github.com/plateauction/apiserver/internal/services"
	"github.com/plateauction/apiserver/internal/storage"
	"github.com/plateauction/apiserver/internal/store"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	bus        *mq.MQ
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if jwtSecret == "" {
		_ = dbConn.Close()
		return nil, errors.New("JWT_SECRET is required")
	}

	bus, err := openBus(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	objects, err := openStorage(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		if bus != nil {
			_ = bus.Close()
		}
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	plateRepo := store.NewPlateRepository(dbConn)
	bidRepo := store.NewBidRepository(dbConn)

	liveHub := hub.New()
	notifier := notify.New(bus)

	userService := services.NewUserService(userRepo)
	plateService := services.NewPlateService(plateRepo, objects)
	bidService := services.NewBidService(bidRepo, plateRepo, liveHub, notifier)

	authMiddleware := handlers.RequireAuth(jwtSecret)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/", handlers.Root)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, userService, notifier, jwtSecret)
	})
	router.Route("/plates", func(r chi.Router) {
		handlers.PlateRouter(r, plateService, userService, authMiddleware)
	})
	router.Route("/bids", func(r chi.Router) {
		handlers.BidRouter(r, bidService, userService, authMiddleware)
	})
	router.Route("/ws", func(r chi.Router) {
		handlers.LiveRouter(r, liveHub, bidService, plateService, jwtSecret)
	})

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
		bus:        bus,
	}, nil
}

// openBus builds the notification bus for the configured broker. An empty
// MQ_BACKEND disables outbound notifications.
func openBus(ctx context.Context, cfg config.Config) (*mq.MQ, error) {
	switch cfg.MQBackend {
	case "":
		log.Info("no MQ backend configured, notifications disabled")
		return nil, nil
	case config.BrokerRabbitMQ:
		backend, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return mq.New(backend), nil
	case config.BrokerPubSub:
		backend, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return mq.New(backend), nil
	case config.BrokerRedis:
		backend, err := mq.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return mq.New(backend), nil
	default:
		return nil, fmt.Errorf("unknown MQ backend %q", cfg.MQBackend)
	}
}

// openStorage builds the plate image object store. An empty STORAGE_BACKEND
// disables image uploads.
func openStorage(ctx context.Context, cfg config.Config) (*storage.Storage, error) {
	switch cfg.StorageBackend {
	case "":
		log.Info("no storage backend configured, plate images disabled")
		return nil, nil
	case config.StorageMinio:
		backend, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		s := storage.NewStorage(backend)
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case config.StorageGCS:
		backend, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		s := storage.NewStorage(backend)
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
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
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.bus != nil {
		_ = s.bus.Close()
	}
	return s.httpServer.Close()
}
