package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"membership/internal/common/config"
	"membership/internal/common/logging"
	"membership/internal/common/metrics"
	"membership/internal/common/types"
	"membership/internal/membership/api"
	"membership/internal/membership/application"
	"membership/internal/membership/infrastructure/notify"
	"membership/internal/membership/infrastructure/postgres"
	"membership/internal/membership/infrastructure/stripe"
	"membership/internal/membership/infrastructure/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	startupCtx := logging.WithCorrelationID(context.Background(), types.NewCorrelationID())

	logging.InfoContext(startupCtx, "Starting membership service",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"log_level", cfg.LogLevel,
	)

	pool, err := cfg.NewPostgresPool(startupCtx)
	if err != nil {
		logging.ErrorContext(startupCtx, "Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	fee, err := types.NewMoneyFromString(cfg.MembershipFee, cfg.MembershipCurrency)
	if err != nil {
		logging.ErrorContext(startupCtx, "Invalid membership fee configuration", "error", err)
		os.Exit(1)
	}

	dataStore := postgres.NewDataStore(pool)
	locker := postgres.NewAdvisoryLocker(pool)

	payments := stripe.NewClient(cfg.PaymentAPIKey, cfg.PaymentAPIBaseURL)
	verifier := stripe.NewSignatureVerifier(cfg.PaymentWebhookSecret)

	walletSvc, err := newWalletService(cfg)
	if err != nil {
		logging.ErrorContext(startupCtx, "Failed to initialize wallet service", "error", err)
		os.Exit(1)
	}

	service := application.NewMembershipService(dataStore, payments, fee)
	cardService := application.NewCardPoolService(dataStore)
	scanService := application.NewScanService(dataStore)
	webhookHandler := application.NewPaymentEventHandler(verifier, locker, service, payments, dataStore)

	publisher := application.NewPublisher(
		dataStore,
		newMailer(cfg),
		walletSvc,
		newLedger(cfg),
		fee,
		time.Duration(cfg.PublishIntervalSeconds)*time.Second,
		cfg.PublishBatchSize,
	)
	publisherCtx, stopPublisher := context.WithCancel(context.Background())
	go publisher.Run(publisherCtx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(pool))
	mux.Handle("GET /metrics", metrics.Handler())

	apiHandler := api.NewHandler(service, cardService, scanService, webhookHandler)
	apiHandler.RegisterRoutes(mux)

	logging.InfoContext(startupCtx, "Membership context initialized")

	// Middleware chain: metrics -> correlation -> handler
	handler := metrics.Middleware(correlationMiddleware(mux))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logging.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down server")
	stopPublisher()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logging.Info("Server stopped")
}

// newMailer picks the configured mail backend.
func newMailer(cfg *config.Config) application.Mailer {
	if !cfg.EnableMail {
		return notify.LogMailer{}
	}
	return notify.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPFrom)
}

// newLedger picks the configured ledger backend.
func newLedger(cfg *config.Config) application.LedgerRecorder {
	if !cfg.EnableLedger || cfg.LedgerURL == "" {
		return notify.LogLedgerRecorder{}
	}
	return notify.NewHTTPLedgerRecorder(cfg.LedgerURL)
}

// newWalletService builds the wallet link service; disabled flags clear the
// base URLs so the service degrades to empty links.
func newWalletService(cfg *config.Config) (application.WalletService, error) {
	cardURL, passURL := cfg.CardWalletBaseURL, cfg.PassWalletBaseURL
	if !cfg.EnableWalletLink {
		cardURL, passURL = "", ""
	}
	return wallet.NewService(cardURL, passURL)
}

// requestTimeout is the maximum time allowed for processing a single request.
const requestTimeout = 5 * time.Second

// correlationMiddleware adds correlation ID and request timeout to each request.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corrID := types.CorrelationID(r.Header.Get("X-Correlation-ID"))
		if corrID.IsEmpty() {
			corrID = types.NewCorrelationID()
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		ctx = logging.WithCorrelationID(ctx, corrID)

		w.Header().Set("X-Correlation-ID", corrID.String())

		logging.InfoContext(ctx, "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// healthHandler returns basic health status.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// readyHandler checks if all dependencies are available.
func readyHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "unavailable",
				"error":  "database unreachable",
			})
			return
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ready",
		})
	}
}
