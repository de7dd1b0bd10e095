package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"ledger-core/internal/config"
	"ledger-core/internal/domain"
	"ledger-core/internal/handler"
	"ledger-core/internal/idempotency"
	"ledger-core/internal/repository"
	"ledger-core/internal/repository/memory"
	"ledger-core/internal/service"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// Server represents the HTTP server
type Server struct {
	router *mux.Router
	server *http.Server
	db     *sql.DB
	redis  *redis.Client
	store  domain.Store
	logger *slog.Logger
	port   string
}

// NewServer wires the store, the idempotency backend, services and routes
// selected by cfg.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{logger: logger}

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		s.store = memory.NewStore()
		logger.Info("Using in-memory store")
	default:
		if err := s.openDatabase(cfg); err != nil {
			return nil, err
		}
		s.store = repository.NewStore(s.db, logger)
	}

	records, err := s.idempotencyStore(cfg)
	if err != nil {
		s.close()
		return nil, err
	}
	guard := idempotency.NewGuard(records, cfg.IdempotencyTTL, logger)

	accountService := service.NewAccountService(s.store, domain.SystemClock{}, cfg.DefaultCurrency, logger)
	ledgerService := service.NewLedgerService(s.store, guard, domain.SystemClock{}, logger)

	accountHandler := handler.NewAccountHandler(accountService, logger)
	ledgerHandler := handler.NewLedgerHandler(ledgerService, logger)

	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))
	handler.RegisterRoutes(router, accountHandler, ledgerHandler)
	router.HandleFunc("/health", s.health).Methods("GET")

	s.router = router
	return s, nil
}

func (s *Server) openDatabase(cfg *config.Config) error {
	dsn := cfg.GetDBConnectionString()

	if cfg.RunMigrations {
		if err := repository.Migrate(dsn, s.logger); err != nil {
			return err
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}

	s.logger.Info("Successfully connected to database")
	s.db = db
	return nil
}

func (s *Server) idempotencyStore(cfg *config.Config) (idempotency.RecordStore, error) {
	switch cfg.IdempotencyBackend {
	case config.IdempotencyBackendRedis:
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		s.logger.Info("Using redis idempotency cache", "addr", cfg.RedisAddr)
		return idempotency.NewRedisStore(s.redis), nil
	case config.IdempotencyBackendMemory:
		return idempotency.NewMemoryStore(), nil
	default:
		return repository.NewIdempotencyRepository(s.db, s.logger), nil
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unavailable"})
		return
	}
	if s.redis != nil {
		if err := s.redis.Ping(r.Context()).Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "cache unavailable"})
			return
		}
	}

	json.NewEncoder(w).Encode(map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port string) (string, error) {
	// Create listener first to get actual port
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server", "port", s.port)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server failed to start", "error", err)
		}
	}()

	return s.port, nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.close()
	return err
}

func (s *Server) close() {
	if s.db != nil {
		s.db.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() string {
	return s.port
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// StartServer starts the server with the given configuration
func StartServer(cfg *config.Config) (*Server, string, error) {
	var logger *slog.Logger
	if cfg.ServerPort == "0" {
		// Test environment - use discard logger
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		return nil, "", err
	}

	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		server.close()
		return nil, "", err
	}

	return server, port, nil
}
