package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"loyalty-rewards-api/internal/cache"
	"loyalty-rewards-api/internal/config"
	"loyalty-rewards-api/internal/database"
	"loyalty-rewards-api/internal/handler"
	"loyalty-rewards-api/internal/logger"
	"loyalty-rewards-api/internal/metrics"
	"loyalty-rewards-api/internal/middleware"
	"loyalty-rewards-api/internal/rewards"
	"loyalty-rewards-api/internal/service"
	"loyalty-rewards-api/internal/tracing"
)

func main() {
	configFile := flag.String("config", "", "Path to a JSON config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, logCloser, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	tp, err := tracing.Init(cfg.Tracing)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	m := metrics.New()

	// Initialize database
	db, err := database.NewDB(cfg.Database.Path,
		database.WithLogger(log),
		database.WithMetrics(m),
		database.WithTracer(tp.Tracer()),
	)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ruleCache, closeCache, err := newRuleCache(cfg.Cache, log)
	if err != nil {
		log.Fatalf("Failed to initialize rule cache: %v", err)
	}
	defer closeCache()

	customers := database.NewCustomerRepository(db)
	businesses := database.NewBusinessRepository(db, ruleCache)
	visits := database.NewVisitRepository(db)
	legacy := database.NewLegacyLog(db)

	if cfg.Database.SeedDemo {
		if err := legacy.EnsureDemoSeed(context.Background()); err != nil {
			log.Fatalf("Failed to seed demo tables: %v", err)
		}
	}

	evaluator := rewards.NewEvaluator(businesses, visits, customers,
		rewards.WithLogger(log),
		rewards.WithMetrics(m),
	)

	// Initialize service
	svc := service.NewService(customers, businesses, visits, evaluator,
		service.WithLogger(log),
		service.WithDemoLog(legacy),
	)

	// Initialize handlers
	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
		Logger:      log,
	})

	// Setup router
	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Tracing(tp.Tracer()))
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Security.Origins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	h.Routes(r)

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", m.Handler())

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithFields(logrus.Fields{
		"addr":     addr,
		"database": db.Path(),
		"cache":    cfg.Cache.Backend,
		"tracing":  tp.Enabled(),
	}).Info("Starting HTTP server")

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Error closing server")
		}
		if err := tp.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("Error flushing traces")
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
	<-done
}

// newRuleCache builds the reward rule cache for the configured backend. A nil
// cache disables caching.
func newRuleCache(cfg config.CacheConfig, log logrus.FieldLogger) (*cache.RuleCache, func(), error) {
	switch strings.ToLower(cfg.Backend) {
	case "none":
		return nil, func() {}, nil
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		rc, err := cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		ruleCache := cache.NewRuleCache(rc, cfg.CacheTTL())
		// Rules cached by an earlier run may predate edits to the store.
		if err := ruleCache.Reset(ctx); err != nil {
			rc.Close()
			return nil, nil, err
		}
		log.WithField("addr", cfg.RedisAddr).Info("Using redis rule cache")
		return ruleCache, func() { rc.Close() }, nil
	default:
		return cache.NewRuleCache(cache.NewInMemoryCache(), cfg.CacheTTL()), func() {}, nil
	}
}
