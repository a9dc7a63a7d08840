package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/claritylabs/claritycounsel/internal/blob"
	"github.com/claritylabs/claritycounsel/internal/database"
	"github.com/claritylabs/claritycounsel/internal/logging"
	"github.com/claritylabs/claritycounsel/internal/plan"
	"github.com/claritylabs/claritycounsel/internal/server"
	"github.com/claritylabs/claritycounsel/internal/simplify"
	"github.com/claritylabs/claritycounsel/internal/stripe"
)

// freePlanPeriod is how long a free-plan allowance lasts before the
// background loop restores it. Paid plans renew through provider events.
const freePlanPeriod = 30 * 24 * time.Hour

func main() {
	logger := logging.Setup(os.Getenv("LOG_LEVEL"))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "claritycounsel.db"
	}

	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%s", port)
	}

	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cfg := server.Config{
		Stripe: stripe.Config{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			BasicPriceID:  os.Getenv("STRIPE_BASIC_PRICE_ID"),
			ProPriceID:    os.Getenv("STRIPE_PRO_PRICE_ID"),
			SuccessURL:    baseURL + "/dashboard?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:     baseURL + "/pricing",
		},
		Blob: blob.Config{
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			Bucket:    os.Getenv("S3_BUCKET"),
			Region:    os.Getenv("S3_REGION"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
		},
		Simplify: simplify.Config{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			Model:   os.Getenv("OPENAI_MODEL"),
		},
		BaseURL: baseURL,
	}

	srv := server.New(db, cfg, logger)

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      3 * time.Minute, // simplification calls are slow
		IdleTimeout:       120 * time.Second,
	}

	// Background maintenance: expired-session cleanup, rate limiter pruning,
	// and the free-plan allowance reset.
	maintCtx, maintCancel := context.WithCancel(context.Background())
	defer maintCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.SessionStore().DeleteExpired(); err != nil {
					slog.Error("cleanup expired sessions", "error", err)
				} else if n > 0 {
					slog.Info("cleaned up expired sessions", "count", n)
				}
				srv.RateLimiter().Cleanup()
				resetFreeAllowances(srv)
			case <-maintCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("claritycounsel starting", "addr", ":"+port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	maintCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func resetFreeAllowances(srv *server.Server) {
	subs := srv.SubscriptionStore()
	due, err := subs.ListFreeResetDue(time.Now().UTC().Add(-freePlanPeriod))
	if err != nil {
		slog.Error("list free subscriptions due for reset", "error", err)
		return
	}
	for _, sub := range due {
		if _, err := subs.ResetUsage(sub.UserID, plan.Allowance(plan.Free)); err != nil {
			slog.Error("reset free allowance", "error", err, "user_id", sub.UserID)
			continue
		}
		slog.Info("free allowance reset", "user_id", sub.UserID)
	}
}
