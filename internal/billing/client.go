package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const stripeAPIBase = "https://api.stripe.com/v1"

// Client is a minimal Stripe REST client covering checkout and billing
// portal sessions. Requests are form-encoded per the Stripe API.
type Client struct {
	httpClient *http.Client
	secretKey  string
	baseURL    string
}

// NewClient constructs a Client for the given secret key.
func NewClient(secretKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		secretKey:  secretKey,
		baseURL:    stripeAPIBase,
	}
}

// CheckoutSessionParams describes a subscription checkout session.
type CheckoutSessionParams struct {
	PriceID           string
	CustomerEmail     string
	ClientReferenceID string
	SuccessURL        string
	CancelURL         string
	Metadata          map[string]string
	IdempotencyKey    string
}

// HostedSession is the subset of a Stripe session response we consume.
type HostedSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckoutSession creates a hosted checkout session. The organization
// id travels as client_reference_id so the webhook can attribute the
// resulting subscription.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (HostedSession, error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", params.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("customer_email", params.CustomerEmail)
	form.Set("client_reference_id", params.ClientReferenceID)
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	for key, value := range params.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", key), value)
	}
	return c.post(ctx, "/checkout/sessions", form, params.IdempotencyKey)
}

// CreatePortalSession creates a billing portal session for a customer.
func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (HostedSession, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", returnURL)
	return c.post(ctx, "/billing_portal/sessions", form, "")
}

func (c *Client) post(ctx context.Context, path string, form url.Values, idempotencyKey string) (HostedSession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return HostedSession{}, fmt.Errorf("billing: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return HostedSession{}, fmt.Errorf("billing: stripe request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(res.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return HostedSession{}, fmt.Errorf("billing: stripe api: %s", apiErr.Error.Message)
		}
		return HostedSession{}, fmt.Errorf("billing: stripe api status %d", res.StatusCode)
	}

	var session HostedSession
	if err := json.NewDecoder(res.Body).Decode(&session); err != nil {
		return HostedSession{}, fmt.Errorf("billing: decode stripe response: %w", err)
	}
	return session, nil
}
