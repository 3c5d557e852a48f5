package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStripe(t *testing.T, handler http.HandlerFunc) *StripeProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewStripeProvider(StripeConfig{
		APIKey:  "sk_test_123",
		BaseURL: server.URL,
		Prices: map[Plan]string{
			PlanPro:        "price_pro",
			PlanProYearly:  "price_pro_yearly",
			PlanTeam:       "price_team",
			PlanTeamYearly: "price_team_yearly",
		},
		SuccessURL: "https://app.example.com/billing?success=true",
		CancelURL:  "https://app.example.com/pricing?canceled=true",
	})
}

const subscriptionJSON = `{
	"id": "sub_123",
	"customer": "cus_9",
	"status": "active",
	"cancel_at_period_end": true,
	"current_period_end": 1775000000,
	"metadata": {"reference_id": "org_acme"},
	"items": {"data": [{"quantity": 12, "price": {"id": "price_team_yearly"}}]}
}`

func TestStripeCreateCheckoutSession(t *testing.T) {
	provider := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "sk_test_123", user)
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "subscription", r.PostForm.Get("mode"))
		assert.Equal(t, "price_team", r.PostForm.Get("line_items[0][price]"))
		assert.Equal(t, "10", r.PostForm.Get("line_items[0][quantity]"))
		assert.Equal(t, "org_acme", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "org_acme", r.PostForm.Get("subscription_data[metadata][reference_id]"))
		assert.Equal(t, "owner@example.com", r.PostForm.Get("customer_email"))
		assert.Equal(t, "https://app.example.com/billing?success=true", r.PostForm.Get("success_url"))
		assert.Equal(t, "https://app.example.com/pricing?canceled=true", r.PostForm.Get("cancel_url"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_1","url":"https://checkout.stripe.com/c/cs_1"}`))
	})

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutRequest{
		Plan:          PlanTeam,
		ReferenceID:   "org_acme",
		CustomerEmail: "owner@example.com",
		Seats:         10,
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", session.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_1", session.URL)
}

func TestStripeCheckoutUnknownPrice(t *testing.T) {
	provider := NewStripeProvider(StripeConfig{APIKey: "sk_test", Prices: map[Plan]string{}})

	_, err := provider.CreateCheckoutSession(context.Background(), CheckoutRequest{Plan: PlanPro, ReferenceID: "usr_1"})
	assert.Error(t, err)
}

func TestStripeCancelSubscription(t *testing.T) {
	t.Run("at period end", func(t *testing.T) {
		provider := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/subscriptions/sub_123", r.URL.Path)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "true", r.PostForm.Get("cancel_at_period_end"))
			_, _ = w.Write([]byte(subscriptionJSON))
		})

		sub, err := provider.CancelSubscription(context.Background(), "sub_123", true)
		require.NoError(t, err)
		assert.Equal(t, "sub_123", sub.ID)
		assert.Equal(t, "cus_9", sub.CustomerID)
		assert.Equal(t, "org_acme", sub.ReferenceID)
		assert.Equal(t, PlanTeamYearly, sub.Plan)
		assert.Equal(t, 12, sub.Seats)
		assert.True(t, sub.CancelAtPeriodEnd)
		require.NotNil(t, sub.PeriodEnd)
		assert.Equal(t, time.Unix(1775000000, 0).UTC(), *sub.PeriodEnd)
	})

	t.Run("immediately", func(t *testing.T) {
		provider := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			assert.Equal(t, "/v1/subscriptions/sub_123", r.URL.Path)
			_, _ = w.Write([]byte(`{"id":"sub_123","status":"canceled","metadata":{"reference_id":"org_acme","plan":"team"}}`))
		})

		sub, err := provider.CancelSubscription(context.Background(), "sub_123", false)
		require.NoError(t, err)
		assert.Equal(t, StatusCanceled, sub.Status)
		assert.Equal(t, PlanTeam, sub.Plan)
		assert.Nil(t, sub.PeriodEnd)
	})
}

func TestStripeAPIError(t *testing.T) {
	provider := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`))
	})

	_, err := provider.GetSubscription(context.Background(), "sub_123")
	require.Error(t, err)

	var apiErr *StripeAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusPaymentRequired, apiErr.StatusCode)
	assert.Equal(t, "card_declined", apiErr.Code)
	assert.Equal(t, "Your card was declined.", apiErr.Message)
}

func TestStripePortalSession(t *testing.T) {
	provider := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/billing_portal/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "cus_9", r.PostForm.Get("customer"))
		assert.Equal(t, "https://app.example.com/billing", r.PostForm.Get("return_url"))
		_, _ = w.Write([]byte(`{"url":"https://billing.stripe.com/p/session_1"}`))
	})

	url, err := provider.CreatePortalSession(context.Background(), "cus_9", "https://app.example.com/billing")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.com/p/session_1", url)
}

func TestParseSubscriptionEvent(t *testing.T) {
	provider := NewStripeProvider(StripeConfig{Prices: map[Plan]string{PlanTeamYearly: "price_team_yearly"}})

	sub, err := provider.ParseSubscriptionEvent(json.RawMessage(subscriptionJSON))
	require.NoError(t, err)
	assert.Equal(t, PlanTeamYearly, sub.Plan)

	plan, ok := provider.PlanForPrice("price_team_yearly")
	assert.True(t, ok)
	assert.Equal(t, PlanTeamYearly, plan)

	_, err = provider.ParseSubscriptionEvent(json.RawMessage(`{"status":"active"}`))
	assert.Error(t, err)
}
