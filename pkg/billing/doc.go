// Package billing mediates every subscription change with the payment provider.
//
// # Gate
//
// Gate.Authorize is consulted before any provider call. It reads membership
// live from the directory store:
//
//	usr_... reference: the user themselves, any action
//	org_... reference: view needs membership, upgrade/cancel/restore need the owner
//
// # Subscriptions
//
// Plans are pro and pro_yearly for users, team and team_yearly for
// organizations. Local rows and cached tiers change only after the provider
// confirms, either in the response to a cancel/restore call or through a
// signed webhook:
//
//	provider := billing.NewStripeProvider(billing.StripeConfig{APIKey: key, Prices: prices})
//	service := billing.NewService(provider, billing.NewSQLSubscriptionStore(db), directory,
//		billing.WithInvalidator(tierCache))
//	router.Handle("/api/v1/billing/webhook", billing.NewWebhookHandler(service, provider, secret))
//
// Service.Reconcile re-reads every subscription from the provider and repairs
// tiers after missed webhooks.
package billing
