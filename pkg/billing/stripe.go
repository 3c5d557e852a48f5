package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultStripeURL is the Stripe API base
const DefaultStripeURL = "https://api.stripe.com"

// StripeConfig configures the Stripe REST client
type StripeConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration

	// Prices maps each plan to its Stripe price id
	Prices map[Plan]string

	SuccessURL string
	CancelURL  string
}

// StripeProvider talks to the Stripe REST API with form-encoded requests
type StripeProvider struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	prices     map[Plan]string
	plans      map[string]Plan
	successURL string
	cancelURL  string
}

// NewStripeProvider creates a Stripe client. Outbound requests are traced with otelhttp.
func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultStripeURL
	}

	plans := make(map[string]Plan, len(cfg.Prices))
	for plan, price := range cfg.Prices {
		plans[price] = plan
	}

	return &StripeProvider{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
		prices:     cfg.Prices,
		plans:      plans,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
	}
}

// PlanForPrice maps a Stripe price id back to a plan
func (p *StripeProvider) PlanForPrice(priceID string) (Plan, bool) {
	plan, ok := p.plans[priceID]
	return plan, ok
}

// CreateCheckoutSession opens a subscription checkout. The reference id is
// stored as subscription metadata so webhooks can find the owner again.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	price, ok := p.prices[req.Plan]
	if !ok || price == "" {
		return nil, fmt.Errorf("no price configured for plan %s", req.Plan)
	}
	quantity := req.Seats
	if quantity <= 0 {
		quantity = 1
	}

	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", price)
	form.Set("line_items[0][quantity]", strconv.Itoa(quantity))
	form.Set("success_url", p.successURL)
	form.Set("cancel_url", p.cancelURL)
	form.Set("client_reference_id", req.ReferenceID)
	form.Set("metadata[reference_id]", req.ReferenceID)
	form.Set("subscription_data[metadata][reference_id]", req.ReferenceID)
	form.Set("subscription_data[metadata][plan]", string(req.Plan))
	if req.CustomerID != "" {
		form.Set("customer", req.CustomerID)
	} else if req.CustomerEmail != "" {
		form.Set("customer_email", req.CustomerEmail)
	}

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, &out); err != nil {
		return nil, err
	}
	return &CheckoutSession{ID: out.ID, URL: out.URL}, nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*ProviderSubscription, error) {
	var out stripeSubscription
	var err error
	if atPeriodEnd {
		form := url.Values{}
		form.Set("cancel_at_period_end", "true")
		err = p.do(ctx, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(subscriptionID), form, &out)
	} else {
		err = p.do(ctx, http.MethodDelete, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, &out)
	}
	if err != nil {
		return nil, err
	}
	return p.convert(&out), nil
}

func (p *StripeProvider) RestoreSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	form := url.Values{}
	form.Set("cancel_at_period_end", "false")

	var out stripeSubscription
	if err := p.do(ctx, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(subscriptionID), form, &out); err != nil {
		return nil, err
	}
	return p.convert(&out), nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	var out stripeSubscription
	if err := p.do(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, &out); err != nil {
		return nil, err
	}
	return p.convert(&out), nil
}

// CreatePortalSession returns a customer portal URL
func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", returnURL)

	var out struct {
		URL string `json:"url"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/billing_portal/sessions", form, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// StripeAPIError is an error answer from the Stripe API
type StripeAPIError struct {
	StatusCode int
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *StripeAPIError) Error() string {
	return fmt.Sprintf("stripe returned status %d (%s): %s", e.StatusCode, e.Type, e.Message)
}

func (p *StripeProvider) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(p.apiKey, "")
	req.Header.Set("User-Agent", "entitle-billing/1.0")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if method == http.MethodPost {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach stripe: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read stripe response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Error StripeAPIError `json:"error"`
		}
		_ = json.Unmarshal(payload, &envelope)
		apiErr := envelope.Error
		apiErr.StatusCode = resp.StatusCode
		return &apiErr
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode stripe response: %w", err)
	}
	return nil
}

// stripeSubscription is the subset of the Stripe subscription object we read
type stripeSubscription struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			Quantity int `json:"quantity"`
			Price    struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (p *StripeProvider) convert(s *stripeSubscription) *ProviderSubscription {
	out := &ProviderSubscription{
		ID:                s.ID,
		CustomerID:        s.Customer,
		ReferenceID:       s.Metadata["reference_id"],
		Status:            SubscriptionStatus(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
	if s.CurrentPeriodEnd > 0 {
		end := time.Unix(s.CurrentPeriodEnd, 0).UTC()
		out.PeriodEnd = &end
	}
	if len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		out.Seats = item.Quantity
		if plan, ok := p.plans[item.Price.ID]; ok {
			out.Plan = plan
		}
	}
	if out.Plan == "" {
		out.Plan = Plan(s.Metadata["plan"])
	}
	return out
}

// ParseSubscriptionEvent decodes the subscription object of a webhook event
func (p *StripeProvider) ParseSubscriptionEvent(raw json.RawMessage) (*ProviderSubscription, error) {
	var s stripeSubscription
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode subscription: %w", err)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("subscription object has no id")
	}
	return p.convert(&s), nil
}
