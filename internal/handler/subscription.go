package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	stripeapi "github.com/stripe/stripe-go/v82"

	"github.com/claritylabs/claritycounsel/internal/auth"
	"github.com/claritylabs/claritycounsel/internal/plan"
	"github.com/claritylabs/claritycounsel/internal/store"
	"github.com/claritylabs/claritycounsel/internal/stripe"
)

// fallbackBillingPeriod stands in for the provider's period end when the
// authoritative lookup is unavailable.
const fallbackBillingPeriod = 30 * 24 * time.Hour

type SubscriptionHandler struct {
	subscriptionStore *store.SubscriptionStore
	userStore         *store.UserStore
	stripeClient      *stripe.Client
	logger            *slog.Logger
}

func NewSubscriptionHandler(ss *store.SubscriptionStore, us *store.UserStore, sc *stripe.Client, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionStore: ss,
		userStore:         us,
		stripeClient:      sc,
		logger:            logger,
	}
}

// SelectPlan starts a plan change. Free plans apply to the ledger
// immediately; paid plans only register intent with the payment provider and
// take effect when the webhook confirms payment.
func (h *SubscriptionHandler) SelectPlan(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req struct {
		Plan string `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	p, err := plan.Parse(req.Plan)
	if err != nil {
		writeError(w, http.StatusBadRequest, "plan must be FREE, BASIC, or PRO")
		return
	}

	if !p.Paid() {
		if _, err := h.subscriptionStore.Upsert(userID, p, plan.Allowance(p), nil, nil); err != nil {
			h.logger.Error("apply free plan", "error", err, "user_id", userID)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}

	if h.stripeClient == nil {
		writeError(w, http.StatusServiceUnavailable, "billing not configured")
		return
	}

	user, err := h.userStore.GetByID(userID)
	if err != nil || user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	url, err := h.stripeClient.CreateCheckoutSession(user.Email, userID, p)
	if err != nil {
		h.logger.Error("create checkout session", "error", err, "user_id", userID)
		writeError(w, http.StatusBadGateway, "failed to start checkout")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"checkoutUrl": url})
}

// Get returns the user's subscription. A user who has never selected a plan
// gets a distinguishable 404, not a generic failure.
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptionStore.GetByUserID(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("get subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sub == nil {
		writeError(w, http.StatusNotFound, "no plan selected")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// Verify applies a completed checkout when the user returns from the hosted
// payment page before the webhook has landed. It goes through the same
// idempotent path as the webhook, so both can run in either order.
func (h *SubscriptionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if h.stripeClient == nil {
		writeError(w, http.StatusServiceUnavailable, "billing not configured")
		return
	}

	sess, err := h.stripeClient.RetrieveCheckoutSession(sessionID)
	if err != nil {
		h.logger.Error("retrieve checkout session", "error", err)
		writeError(w, http.StatusBadGateway, "failed to verify checkout")
		return
	}
	if sess.PaymentStatus != stripeapi.CheckoutSessionPaymentStatusPaid {
		writeJSON(w, http.StatusOK, map[string]bool{"success": false})
		return
	}

	userID, p, ok := checkoutMetadata(sess.Metadata)
	if !ok || userID != auth.UserID(r.Context()) {
		writeError(w, http.StatusBadRequest, "checkout session does not match user")
		return
	}

	stripeSubID := ""
	if sess.Subscription != nil {
		stripeSubID = sess.Subscription.ID
	}
	renewalDate := h.periodEnd(stripeSubID)

	_, err = h.subscriptionStore.ApplyCheckoutCompleted("checkout:"+sess.ID, userID, p, plan.Allowance(p), renewalDate, stripeSubID)
	if err != nil && !errors.Is(err, store.ErrDuplicateEvent) {
		h.logger.Error("apply verified checkout", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// BillingPortal returns a provider-hosted portal URL for managing the paid
// subscription.
func (h *SubscriptionHandler) BillingPortal(w http.ResponseWriter, r *http.Request) {
	if h.stripeClient == nil {
		writeError(w, http.StatusServiceUnavailable, "billing not configured")
		return
	}
	sub, err := h.subscriptionStore.GetByUserID(auth.UserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sub == nil {
		writeError(w, http.StatusNotFound, "no plan selected")
		return
	}
	if sub.StripeSubscriptionID == nil {
		writeError(w, http.StatusBadRequest, "no billing account")
		return
	}

	returnURL := r.Header.Get("Referer")
	if returnURL == "" {
		returnURL = "/dashboard"
	}
	url, err := h.stripeClient.CreateBillingPortalSession(*sub.StripeSubscriptionID, returnURL)
	if err != nil {
		h.logger.Error("create billing portal session", "error", err)
		writeError(w, http.StatusBadGateway, "failed to create portal session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// checkoutMetadata extracts the user id and plan attached at
// checkout-initiation time.
func checkoutMetadata(meta map[string]string) (int64, plan.Plan, bool) {
	userID, err := strconv.ParseInt(meta[stripe.MetadataUserID], 10, 64)
	if err != nil || userID <= 0 {
		return 0, "", false
	}
	p, err := plan.Parse(meta[stripe.MetadataPlan])
	if err != nil {
		return 0, "", false
	}
	return userID, p, true
}

func (h *SubscriptionHandler) periodEnd(stripeSubID string) time.Time {
	return renewalFromProvider(h.stripeClient, h.logger, stripeSubID)
}
