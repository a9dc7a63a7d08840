package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	stripeapi "github.com/stripe/stripe-go/v82"

	"github.com/claritylabs/claritycounsel/internal/plan"
	"github.com/claritylabs/claritycounsel/internal/store"
	"github.com/claritylabs/claritycounsel/internal/stripe"
)

const maxWebhookBody = 65536

// WebhookHandler reconciles asynchronous payment provider events against the
// usage ledger. Events are verified, filtered, and applied idempotently; once
// the signature checks out the delivery is always acknowledged so the
// provider stops retrying non-actionable events.
type WebhookHandler struct {
	stripeClient      *stripe.Client
	subscriptionStore *store.SubscriptionStore
	logger            *slog.Logger
}

func NewWebhookHandler(sc *stripe.Client, ss *store.SubscriptionStore, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		stripeClient:      sc,
		subscriptionStore: ss,
		logger:            logger,
	}
}

func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	// Signature verification needs the raw, unparsed body bytes.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := h.stripeClient.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		h.handleCheckoutCompleted(event)
	case "invoice.paid":
		h.handleInvoicePaid(event)
	case "customer.subscription.deleted":
		h.handleSubscriptionDeleted(event)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) handleCheckoutCompleted(event stripeapi.Event) {
	var sess stripeapi.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.logger.Warn("unmarshal checkout session", "error", err)
		return
	}

	userID, p, ok := checkoutMetadata(sess.Metadata)
	if !ok {
		h.logger.Warn("checkout session missing metadata", "session_id", sess.ID)
		return
	}

	stripeSubID := ""
	if sess.Subscription != nil {
		stripeSubID = sess.Subscription.ID
	}
	renewalDate := renewalFromProvider(h.stripeClient, h.logger, stripeSubID)

	_, err := h.subscriptionStore.ApplyCheckoutCompleted("checkout:"+sess.ID, userID, p, plan.Allowance(p), renewalDate, stripeSubID)
	if errors.Is(err, store.ErrDuplicateEvent) {
		h.logger.Debug("checkout already applied", "session_id", sess.ID)
		return
	}
	if err != nil {
		h.logger.Error("apply checkout", "error", err, "session_id", sess.ID)
		return
	}
	h.logger.Info("checkout completed", "user_id", userID, "plan", p)
}

// getSubscriptionIDFromInvoice extracts the subscription ID from an
// invoice's parent.
func getSubscriptionIDFromInvoice(invoice stripeapi.Invoice) string {
	if invoice.Parent != nil &&
		invoice.Parent.SubscriptionDetails != nil &&
		invoice.Parent.SubscriptionDetails.Subscription != nil {
		return invoice.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}

func (h *WebhookHandler) handleInvoicePaid(event stripeapi.Event) {
	var invoice stripeapi.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		h.logger.Warn("unmarshal invoice", "error", err)
		return
	}

	subID := getSubscriptionIDFromInvoice(invoice)
	if subID == "" {
		return
	}

	sub, err := h.subscriptionStore.GetByStripeID(subID)
	if err != nil {
		h.logger.Error("get subscription for invoice", "error", err, "stripe_subscription_id", subID)
		return
	}
	if sub == nil {
		// The checkout event has not landed yet; the renewal will be
		// covered by the allowance granted when it does.
		h.logger.Debug("invoice for unknown subscription", "stripe_subscription_id", subID)
		return
	}

	renewalDate := time.Now().UTC().Add(fallbackBillingPeriod)
	if invoice.PeriodEnd > 0 {
		renewalDate = time.Unix(invoice.PeriodEnd, 0).UTC()
	}
	err = h.subscriptionStore.ApplyRenewal("invoice:"+invoice.ID, subID, plan.Allowance(sub.Plan), renewalDate)
	if errors.Is(err, store.ErrDuplicateEvent) {
		h.logger.Debug("renewal already applied", "invoice_id", invoice.ID)
		return
	}
	if err != nil {
		h.logger.Error("apply renewal", "error", err, "invoice_id", invoice.ID)
		return
	}
	h.logger.Info("allowance renewed", "user_id", sub.UserID, "plan", sub.Plan)
}

func (h *WebhookHandler) handleSubscriptionDeleted(event stripeapi.Event) {
	var stripeSub stripeapi.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		h.logger.Warn("unmarshal subscription", "error", err)
		return
	}

	// Cancellation is a downgrade, not a deletion: the ledger row survives
	// with the free plan's allowance.
	if err := h.subscriptionStore.DowngradeToFree(stripeSub.ID, plan.Allowance(plan.Free)); err != nil {
		h.logger.Error("downgrade canceled subscription", "error", err, "stripe_subscription_id", stripeSub.ID)
		return
	}
	h.logger.Info("subscription canceled, downgraded to free", "stripe_subscription_id", stripeSub.ID)
}

// renewalFromProvider fetches the authoritative billing period end, falling
// back to one period from now when the provider lookup is unavailable.
func renewalFromProvider(c *stripe.Client, logger *slog.Logger, stripeSubID string) time.Time {
	if stripeSubID != "" {
		end, err := c.SubscriptionPeriodEnd(stripeSubID)
		if err == nil {
			return end
		}
		logger.Warn("fetch subscription period end", "error", err, "stripe_subscription_id", stripeSubID)
	}
	return time.Now().UTC().Add(fallbackBillingPeriod)
}
