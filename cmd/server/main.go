// Package main is the entry point for the accounts API server.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lunarlabs/accountd/internal/config"
	"github.com/lunarlabs/accountd/internal/database"
	"github.com/lunarlabs/accountd/internal/handler"
	"github.com/lunarlabs/accountd/internal/middleware"
	"github.com/lunarlabs/accountd/internal/pkg/captcha"
	"github.com/lunarlabs/accountd/internal/pkg/response"
	"github.com/lunarlabs/accountd/internal/repository"
	"github.com/lunarlabs/accountd/internal/service"
	"github.com/lunarlabs/accountd/internal/service/payment"
)

func main() {
	// Setup structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Info("Starting accounts API",
		slog.String("environment", cfg.Server.Environment),
		slog.Int("port", cfg.Server.Port),
	)

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	// Run migrations
	if err := db.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	// Connect to Redis
	redis, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()
	logger.Info("Connected to Redis")

	// Repositories
	pool := db.Pool()
	accountRepo := repository.NewAccountRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	apiKeyRepo := repository.NewAPIKeyRepository(pool)
	resetRepo := repository.NewResetRepository(pool)
	purchaseRepo := repository.NewPurchaseRepository(pool)

	// Services
	authService := service.NewAuthService(accountRepo, sessionRepo, apiKeyRepo, &cfg.Auth)
	apiKeyService := service.NewAPIKeyService(apiKeyRepo, &cfg.Auth)
	mailer := service.NewMailgunMailer(&cfg.Mailgun)
	resetService := service.NewResetService(accountRepo, resetRepo, sessionRepo, mailer, &cfg.Auth, &cfg.Mailgun, logger)
	entitlementService := service.NewEntitlementService(purchaseRepo)
	stripeService := payment.NewStripeService(entitlementService, &cfg.Stripe, logger)
	paypalService := payment.NewPayPalService(entitlementService, &cfg.PayPal, logger)
	manualService := payment.NewManualService(entitlementService)
	permissions := service.NewStaticPermissions(cfg.Auth.AdminAccounts)

	var captchaVerifier captcha.Verifier = captcha.Disabled{}
	if cfg.Captcha.Secret != "" {
		captchaVerifier = captcha.NewClient(cfg.Captcha.VerifyURL, cfg.Captcha.Secret)
	} else {
		logger.Warn("Captcha verification disabled: no secret configured")
	}

	// Authentication middleware backed by the services
	resolveSession := func(ctx context.Context, token string) (uuid.UUID, error) {
		session, err := authService.Resolve(ctx, token)
		if err != nil {
			return uuid.Nil, err
		}
		return session.AccountID, nil
	}
	requireSession := middleware.RequireSession(resolveSession)
	requireAuth := middleware.RequireAuth(apiKeyService.Authorize, resolveSession)

	// Handlers
	authHandler := handler.NewAuthHandler(authService, apiKeyService, resetService, entitlementService, captchaVerifier)
	paymentHandler := handler.NewPaymentHandler(stripeService, paypalService)
	adminHandler := handler.NewAdminHandler(entitlementService, manualService, apiKeyService, permissions)

	// Setup router
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Timeout(30 * time.Second))

	// Health check endpoints (no auth required)
	r.Get("/health", healthHandler(db, redis))
	r.Get("/ready", readyHandler(db, redis))
	r.Handle("/metrics", promhttp.Handler())

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Rate limiting for API routes
		r.Use(middleware.RateLimit(redis, middleware.DefaultRateLimitConfig()))

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			response.OK(w, map[string]string{
				"name":    "Accounts API",
				"version": "1.0.0",
			})
		})

		// Credential endpoints get a tighter per-client limit on top of
		// the general one.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByKey(redis, middleware.RateLimitConfig{
				RequestsPerMinute: 10,
				BurstSize:         5,
			}, middleware.CredentialEndpointKey(
				"/v1/auth/login",
				"/v1/auth/register",
				"/v1/auth/reset",
			)))
			r.Mount("/auth", authHandler.Routes(requireSession, requireAuth))
		})

		r.Mount("/payments", paymentHandler.Routes(requireSession))
		r.Mount("/admin", adminHandler.Routes(requireSession))
	})

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Shutting down server", slog.String("signal", sig.String()))

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	logger.Info("Server stopped gracefully")
}

// healthHandler returns a simple health check that always succeeds if the server is running.
func healthHandler(db *database.Postgres, redis *database.Redis) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

// readyHandler returns a readiness check that verifies database and Redis connections.
func readyHandler(db *database.Postgres, redis *database.Redis) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		// Check database connection
		if err := db.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","component":"database"}`))
			return
		}

		// Check Redis connection
		if err := redis.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","component":"redis"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","database":"connected","redis":"connected"}`))
	}
}
