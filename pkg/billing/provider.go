package billing

import "context"

// Provider is the external payment provider. Every call is made only after
// the Gate has authorized the caller.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	// CancelSubscription cancels at the end of the current period, or
	// immediately when atPeriodEnd is false.
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*ProviderSubscription, error)
	RestoreSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}
