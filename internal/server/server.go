package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/claritylabs/claritycounsel/internal/blob"
	"github.com/claritylabs/claritycounsel/internal/handler"
	"github.com/claritylabs/claritycounsel/internal/middleware"
	"github.com/claritylabs/claritycounsel/internal/simplify"
	"github.com/claritylabs/claritycounsel/internal/store"
	"github.com/claritylabs/claritycounsel/internal/stripe"
	"github.com/claritylabs/claritycounsel/internal/usage"
)

type Config struct {
	Stripe   stripe.Config
	Blob     blob.Config
	Simplify simplify.Config
	BaseURL  string
}

type Server struct {
	db                *sql.DB
	userStore         *store.UserStore
	sessionStore      *store.SessionStore
	subscriptionStore *store.SubscriptionStore
	documentStore     *store.DocumentStore
	authH             *handler.AuthHandler
	subscriptionH     *handler.SubscriptionHandler
	documentH         *handler.DocumentHandler
	webhookH          *handler.WebhookHandler
	stripeClient      *stripe.Client
	rateLimiter       *middleware.RateLimiter
	logger            *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	userStore := store.NewUserStore(db)
	sessionStore := store.NewSessionStore(db)
	subscriptionStore := store.NewSubscriptionStore(db)
	documentStore := store.NewDocumentStore(db)

	var stripeClient *stripe.Client
	if cfg.Stripe.SecretKey != "" {
		stripeClient = stripe.NewClient(cfg.Stripe)
	}

	blobStore := blob.New(cfg.Blob)
	simplifier := simplify.NewClient(cfg.Simplify)
	gate := usage.NewGate(subscriptionStore)

	authH := handler.NewAuthHandler(userStore, sessionStore, logger.With("component", "auth"))
	subscriptionH := handler.NewSubscriptionHandler(subscriptionStore, userStore, stripeClient, logger.With("component", "subscription"))
	documentH := handler.NewDocumentHandler(documentStore, blobStore, gate, simplifier, logger.With("component", "document"))

	var webhookH *handler.WebhookHandler
	if stripeClient != nil {
		webhookH = handler.NewWebhookHandler(stripeClient, subscriptionStore, logger.With("component", "webhook"))
	}

	return &Server{
		db:                db,
		userStore:         userStore,
		sessionStore:      sessionStore,
		subscriptionStore: subscriptionStore,
		documentStore:     documentStore,
		authH:             authH,
		subscriptionH:     subscriptionH,
		documentH:         documentH,
		webhookH:          webhookH,
		stripeClient:      stripeClient,
		rateLimiter:       middleware.NewRateLimiter(),
		logger:            logger,
	}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// SubscriptionStore returns the subscription store for the reset loop.
func (s *Server) SubscriptionStore() *store.SubscriptionStore {
	return s.subscriptionStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)

	// Auth routes (public, rate-limited)
	mux.Handle("POST /api/signup", s.rateLimited(s.authH.Signup))
	mux.Handle("POST /api/signin", s.rateLimited(s.authH.Signin))

	// Stripe webhook (public, no auth; signature-verified)
	if s.webhookH != nil {
		mux.HandleFunc("POST /webhooks/stripe", s.webhookH.HandleStripeWebhook)
	}

	// Protected routes
	authMw := middleware.RequireAuth(s.sessionStore)
	protected := func(h http.HandlerFunc) http.Handler {
		return authMw(h)
	}

	mux.Handle("POST /api/logout", protected(s.authH.Logout))
	mux.Handle("GET /api/me", protected(s.authH.Me))

	mux.Handle("POST /api/subscription/select-plan", protected(s.subscriptionH.SelectPlan))
	mux.Handle("GET /api/subscription", protected(s.subscriptionH.Get))
	mux.Handle("GET /api/subscription/verify", protected(s.subscriptionH.Verify))
	mux.Handle("POST /api/billing-portal", protected(s.subscriptionH.BillingPortal))

	mux.Handle("POST /api/documents", protected(s.documentH.Upload))
	mux.Handle("GET /api/documents", protected(s.documentH.List))
	mux.Handle("GET /api/documents/{id}", protected(s.documentH.Get))
	mux.Handle("DELETE /api/documents/{id}", protected(s.documentH.Delete))
	mux.Handle("POST /api/documents/{id}/simplify", protected(s.documentH.Simplify))

	return middleware.RequestLogger(s.logger)(mux)
}

func (s *Server) rateLimited(h http.HandlerFunc) http.Handler {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP, 10, time.Minute)
	return rl(h)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
