// Package stripe wraps the payment provider API behind the narrow surface
// the rest of the application needs.
package stripe

import (
	"fmt"
	"strconv"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/claritylabs/claritycounsel/internal/plan"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	BasicPriceID  string
	ProPriceID    string
	SuccessURL    string
	CancelURL     string
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// MetadataUserID and MetadataPlan are the checkout session metadata keys the
// webhook reads back to learn who paid and for which plan.
const (
	MetadataUserID = "userId"
	MetadataPlan   = "plan"
)

// CreateCheckoutSession starts a hosted checkout for a paid plan. The user id
// and target plan ride along as session metadata; nothing is persisted locally
// until the provider confirms payment.
func (c *Client) CreateCheckoutSession(email string, userID int64, p plan.Plan) (string, error) {
	params := &stripe.CheckoutSessionParams{
		CustomerEmail: stripe.String(email),
		Mode:          stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(c.PriceIDForPlan(p)),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(c.cfg.SuccessURL),
		CancelURL:  stripe.String(c.cfg.CancelURL),
	}
	params.AddMetadata(MetadataUserID, strconv.FormatInt(userID, 10))
	params.AddMetadata(MetadataPlan, string(p))

	sess, err := checksession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// RetrieveCheckoutSession fetches a checkout session by id.
func (c *Client) RetrieveCheckoutSession(id string) (*stripe.CheckoutSession, error) {
	sess, err := checksession.Get(id, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session: %w", err)
	}
	return sess, nil
}

// SubscriptionPeriodEnd returns the authoritative end of the current billing
// period for a provider subscription. Webhook bodies are not trusted for this.
func (c *Client) SubscriptionPeriodEnd(subID string) (time.Time, error) {
	sub, err := subscription.Get(subID, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("retrieve subscription: %w", err)
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		return time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("subscription %s has no items", subID)
}

// CreateBillingPortalSession returns a portal URL for the customer that owns
// the given provider subscription.
func (c *Client) CreateBillingPortalSession(stripeSubID, returnURL string) (string, error) {
	sub, err := subscription.Get(stripeSubID, nil)
	if err != nil {
		return "", fmt.Errorf("retrieve subscription: %w", err)
	}
	if sub.Customer == nil {
		return "", fmt.Errorf("subscription %s has no customer", stripeSubID)
	}
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(sub.Customer.ID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

// PriceIDForPlan returns the provider price ID for a paid plan.
func (c *Client) PriceIDForPlan(p plan.Plan) string {
	if p == plan.Pro {
		return c.cfg.ProPriceID
	}
	return c.cfg.BasicPriceID
}

// ConstructWebhookEvent verifies the signature over the raw payload and
// returns the parsed event.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, sigHeader, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}
