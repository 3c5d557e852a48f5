package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/entitle/pkg/entitlement"
	"github.com/platinummonkey/entitle/pkg/observability"
	"github.com/platinummonkey/entitle/pkg/orgs"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Directory is the part of the directory store billing reads and writes
type Directory interface {
	MembershipLookup
	GetUser(ctx context.Context, id string) (*orgs.User, error)
	CountMembers(ctx context.Context, orgID string) (int, error)
	SetUserTier(ctx context.Context, id string, tier entitlement.Tier) error
	SetOrganizationSubscription(ctx context.Context, id string, tier entitlement.Tier, seats int) error
}

// Invalidator drops cached tier snapshots
type Invalidator interface {
	Invalidate(ctx context.Context, referenceID string) error
}

// Service runs billing operations. Every provider call is preceded by a Gate
// check, and local state only changes after the provider confirms.
type Service struct {
	gate     *Gate
	provider Provider
	subs     SubscriptionStore
	dir      Directory
	cache    Invalidator
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	now      func() time.Time

	portalReturnURL string
	reconcileLimit  int
}

// Option configures a Service
type Option func(*Service)

func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithInvalidator sets the tier cache flushed after subscription changes
func WithInvalidator(c Invalidator) Option {
	return func(s *Service) { s.cache = c }
}

// WithPortalReturnURL sets the default URL the billing portal returns to
func WithPortalReturnURL(url string) Option {
	return func(s *Service) { s.portalReturnURL = url }
}

// WithReconcileConcurrency bounds concurrent provider reads during Reconcile
func WithReconcileConcurrency(n int) Option {
	return func(s *Service) { s.reconcileLimit = n }
}

// NewService creates a billing service
func NewService(provider Provider, subs SubscriptionStore, dir Directory, opts ...Option) *Service {
	s := &Service{
		provider:       provider,
		subs:           subs,
		dir:            dir,
		tracer:         observability.Tracer(),
		now:            time.Now,
		reconcileLimit: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = observability.GetLogger(context.Background())
	}
	s.gate = NewGate(dir, s.logger, s.metrics)
	return s
}

// Gate returns the service's billing gate
func (s *Service) Gate() *Gate {
	return s.gate
}

func (s *Service) startSpan(ctx context.Context, name, userID, referenceID string) (context.Context, trace.Span) {
	return observability.StartSpan(ctx, s.tracer, "billing", name,
		observability.AttrUserID.String(userID),
		observability.AttrReferenceID.String(referenceID),
	)
}

// callProvider times a provider call and wraps its failure as a provider error
func (s *Service) callProvider(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.ObserveProviderCall(operation, start, err)
	if err != nil {
		s.logger.WithError(err).WithField("operation", operation).Warn("Payment provider call failed")
		return entitlement.ProviderError(err)
	}
	return nil
}

// UpgradePersonal opens a checkout for the caller's own Pro subscription
func (s *Service) UpgradePersonal(ctx context.Context, userID string, plan Plan) (session *CheckoutSession, err error) {
	ctx, span := s.startSpan(ctx, "UpgradePersonal", userID, userID)
	defer func() { observability.EndSpan(span, err) }()

	if plan != PlanPro && plan != PlanProYearly {
		return nil, entitlement.InvalidInput("Personal subscriptions use the pro or pro_yearly plan")
	}
	if _, err := s.gate.Require(ctx, userID, userID, ActionUpgrade); err != nil {
		return nil, err
	}

	return s.checkout(ctx, userID, CheckoutRequest{Plan: plan, ReferenceID: userID})
}

// UpgradeOrganization opens a Team checkout for an organization. Only the
// owner may do this. Seats default to 10 and may not be fewer than the
// current member count.
func (s *Service) UpgradeOrganization(ctx context.Context, userID, orgID string, plan Plan, seats int) (session *CheckoutSession, err error) {
	ctx, span := s.startSpan(ctx, "UpgradeOrganization", userID, orgID)
	defer func() { observability.EndSpan(span, err) }()

	if plan != PlanTeam && plan != PlanTeamYearly {
		return nil, entitlement.InvalidInput("Organizations use the team or team_yearly plan")
	}
	if seats == 0 {
		seats = orgs.DefaultSeats
	}
	if seats < 0 {
		return nil, entitlement.InvalidInput("Seats must be a positive number")
	}

	ref, err := s.gate.Require(ctx, userID, orgID, ActionUpgrade)
	if err != nil {
		return nil, err
	}
	if ref.Kind != ReferenceOrganization {
		return nil, entitlement.InvalidInput("Team plans belong to an organization")
	}

	count, err := s.dir.CountMembers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if seats < count {
		return nil, entitlement.InvalidInput(fmt.Sprintf("Seats cannot be fewer than the organization's %d members", count))
	}

	span.SetAttributes(observability.AttrSeats.Int(seats))
	return s.checkout(ctx, userID, CheckoutRequest{Plan: plan, ReferenceID: orgID, Seats: seats})
}

func (s *Service) checkout(ctx context.Context, userID string, req CheckoutRequest) (*CheckoutSession, error) {
	user, err := s.dir.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	req.CustomerEmail = user.Email

	existing, err := s.subs.GetSubscription(ctx, req.ReferenceID)
	switch {
	case err == nil:
		req.CustomerID = existing.ProviderCustomerID
	case !errors.Is(err, entitlement.ErrNotFound):
		return nil, err
	}

	var session *CheckoutSession
	err = s.callProvider("create_checkout_session", func() error {
		var perr error
		session, perr = s.provider.CreateCheckoutSession(ctx, req)
		return perr
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id":      userID,
		"reference_id": req.ReferenceID,
		"plan":         string(req.Plan),
	}).Info("Checkout session created")
	return session, nil
}

// CancelSubscription schedules the subscription to end at the period end
func (s *Service) CancelSubscription(ctx context.Context, userID, referenceID string) (sub *Subscription, err error) {
	ctx, span := s.startSpan(ctx, "CancelSubscription", userID, referenceID)
	defer func() { observability.EndSpan(span, err) }()

	if _, err := s.gate.Require(ctx, userID, referenceID, ActionCancel); err != nil {
		return nil, err
	}
	current, err := s.providerBacked(ctx, referenceID)
	if err != nil {
		return nil, err
	}
	if current.CancelAtPeriodEnd {
		return current, nil
	}

	var updated *ProviderSubscription
	err = s.callProvider("cancel_subscription", func() error {
		var perr error
		updated, perr = s.provider.CancelSubscription(ctx, current.ProviderSubscriptionID, true)
		return perr
	})
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, referenceID, updated)
}

// RestoreSubscription undoes a scheduled cancellation
func (s *Service) RestoreSubscription(ctx context.Context, userID, referenceID string) (sub *Subscription, err error) {
	ctx, span := s.startSpan(ctx, "RestoreSubscription", userID, referenceID)
	defer func() { observability.EndSpan(span, err) }()

	if _, err := s.gate.Require(ctx, userID, referenceID, ActionRestore); err != nil {
		return nil, err
	}
	current, err := s.providerBacked(ctx, referenceID)
	if err != nil {
		return nil, err
	}
	if !current.CancelAtPeriodEnd {
		return nil, entitlement.InvalidInput("Subscription is not scheduled for cancellation")
	}

	var updated *ProviderSubscription
	err = s.callProvider("restore_subscription", func() error {
		var perr error
		updated, perr = s.provider.RestoreSubscription(ctx, current.ProviderSubscriptionID)
		return perr
	})
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, referenceID, updated)
}

// GetSubscription returns the local subscription. Any member may view an
// organization's subscription.
func (s *Service) GetSubscription(ctx context.Context, userID, referenceID string) (*Subscription, error) {
	if _, err := s.gate.Require(ctx, userID, referenceID, ActionView); err != nil {
		return nil, err
	}
	sub, err := s.subs.GetSubscription(ctx, referenceID)
	if errors.Is(err, entitlement.ErrNotFound) {
		return nil, entitlement.NotFound("No subscription found")
	}
	return sub, err
}

// CreatePortalSession returns a provider portal URL. The portal can cancel
// and change plans, so it needs the same authority as upgrading.
func (s *Service) CreatePortalSession(ctx context.Context, userID, referenceID, returnURL string) (url string, err error) {
	ctx, span := s.startSpan(ctx, "CreatePortalSession", userID, referenceID)
	defer func() { observability.EndSpan(span, err) }()

	if _, err := s.gate.Require(ctx, userID, referenceID, ActionUpgrade); err != nil {
		return "", err
	}
	current, err := s.providerBacked(ctx, referenceID)
	if err != nil {
		return "", err
	}
	if current.ProviderCustomerID == "" {
		return "", entitlement.InvalidInput("Subscription has no billing account")
	}
	if returnURL == "" {
		returnURL = s.portalReturnURL
	}

	err = s.callProvider("create_portal_session", func() error {
		var perr error
		url, perr = s.provider.CreatePortalSession(ctx, current.ProviderCustomerID, returnURL)
		return perr
	})
	return url, err
}

// CancelOrganizationSubscription ends an organization's subscription
// immediately. It is called before the organization is deleted; having
// nothing to cancel is not an error.
func (s *Service) CancelOrganizationSubscription(ctx context.Context, userID, orgID string) (err error) {
	ctx, span := s.startSpan(ctx, "CancelOrganizationSubscription", userID, orgID)
	defer func() { observability.EndSpan(span, err) }()

	if _, err := s.gate.Require(ctx, userID, orgID, ActionCancel); err != nil {
		return err
	}
	current, err := s.subs.GetSubscription(ctx, orgID)
	if errors.Is(err, entitlement.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.ProviderSubscriptionID == "" || current.Status == StatusCanceled {
		return nil
	}

	var updated *ProviderSubscription
	err = s.callProvider("cancel_subscription", func() error {
		var perr error
		updated, perr = s.provider.CancelSubscription(ctx, current.ProviderSubscriptionID, false)
		return perr
	})
	if err != nil {
		return err
	}
	_, err = s.apply(ctx, orgID, updated)
	return err
}

func (s *Service) providerBacked(ctx context.Context, referenceID string) (*Subscription, error) {
	sub, err := s.subs.GetSubscription(ctx, referenceID)
	if errors.Is(err, entitlement.ErrNotFound) {
		return nil, entitlement.NotFound("No active subscription found")
	}
	if err != nil {
		return nil, err
	}
	if sub.ProviderSubscriptionID == "" {
		return nil, entitlement.NotFound("No active subscription found")
	}
	return sub, nil
}

// Apply records provider-confirmed subscription state: the subscription row,
// the cached tier on the user or organization, and the tier cache.
func (s *Service) Apply(ctx context.Context, ps *ProviderSubscription) (*Subscription, error) {
	return s.apply(ctx, ps.ReferenceID, ps)
}

func (s *Service) apply(ctx context.Context, referenceID string, ps *ProviderSubscription) (*Subscription, error) {
	ref, err := ParseReference(referenceID)
	if err != nil {
		return nil, err
	}
	if ps.Plan.Valid() && !ref.Accepts(ps.Plan) {
		return nil, entitlement.InvalidInput(fmt.Sprintf("Plan %s does not apply to %s", ps.Plan, referenceID))
	}

	sub := &Subscription{
		ReferenceID:            referenceID,
		Plan:                   ps.Plan,
		Status:                 ps.Status,
		Seats:                  ps.Seats,
		ProviderCustomerID:     ps.CustomerID,
		ProviderSubscriptionID: ps.ID,
		CancelAtPeriodEnd:      ps.CancelAtPeriodEnd,
		PeriodEnd:              ps.PeriodEnd,
		UpdatedAt:              s.now().UTC(),
	}
	if existing, err := s.subs.GetSubscription(ctx, referenceID); err == nil {
		sub.ID = existing.ID
		if sub.ProviderCustomerID == "" {
			sub.ProviderCustomerID = existing.ProviderCustomerID
		}
	} else if !errors.Is(err, entitlement.ErrNotFound) {
		return nil, err
	}
	// the directory row goes first so a deleted user or organization never
	// gets a subscription row back
	tier := sub.EffectiveTier()
	switch ref.Kind {
	case ReferencePersonal:
		err = s.dir.SetUserTier(ctx, referenceID, tier)
	case ReferenceOrganization:
		seats := sub.Seats
		if seats <= 0 {
			seats = orgs.DefaultSeats
		}
		err = s.dir.SetOrganizationSubscription(ctx, referenceID, tier, seats)
	}
	if errors.Is(err, entitlement.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrReferenceGone, referenceID)
	}
	if err != nil {
		return nil, err
	}

	if err := s.subs.UpsertSubscription(ctx, sub); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, referenceID); err != nil {
			s.logger.WithError(err).WithField("reference_id", referenceID).Warn("Failed to invalidate tier cache")
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"reference_id": referenceID,
		"plan":         string(sub.Plan),
		"status":       string(sub.Status),
		"tier":         string(tier),
	}).Info("Subscription state applied")
	return sub, nil
}

// Reconcile re-reads every provider-backed subscription and applies it.
// It repairs tiers after missed webhooks. Failures are logged and counted;
// the first is returned after all subscriptions have been tried.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	subs, err := s.subs.ListSubscriptions(ctx)
	if err != nil {
		return 0, err
	}

	limit := s.reconcileLimit
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	results := make([]error, len(subs))
	for i, sub := range subs {
		i, sub := i, sub
		g.Go(func() error {
			var ps *ProviderSubscription
			err := s.callProvider("get_subscription", func() error {
				var perr error
				ps, perr = s.provider.GetSubscription(gctx, sub.ProviderSubscriptionID)
				return perr
			})
			if err == nil {
				_, err = s.apply(gctx, sub.ReferenceID, ps)
			}
			if errors.Is(err, ErrReferenceGone) {
				err = s.subs.DeleteSubscription(gctx, sub.ReferenceID)
				if err == nil {
					s.logger.WithField("reference_id", sub.ReferenceID).Info("Dropped subscription of deleted reference")
				}
			}
			if err != nil {
				s.logger.WithError(err).WithField("reference_id", sub.ReferenceID).Warn("Failed to reconcile subscription")
			}
			results[i] = err
			return nil
		})
	}
	_ = g.Wait()

	applied := 0
	var first error
	for _, err := range results {
		if err == nil {
			applied++
		} else if first == nil {
			first = err
		}
	}
	return applied, first
}
