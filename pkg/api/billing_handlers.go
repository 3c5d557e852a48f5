package api

import (
	"net/http"

	"github.com/platinummonkey/entitle/pkg/billing"
	"github.com/platinummonkey/entitle/pkg/httputil"
)

type upgradeRequest struct {
	Plan  string `json:"plan"`
	Seats int    `json:"seats,omitempty"`
}

type portalRequest struct {
	ReturnURL string `json:"returnUrl,omitempty"`
}

type portalResponse struct {
	URL string `json:"url"`
}

// upgradePersonal opens a Pro checkout for the caller
func (s *Server) upgradePersonal(w http.ResponseWriter, r *http.Request) {
	var req upgradeRequest
	if !httputil.DecodeJSONOrError(w, r, &req) {
		return
	}
	plan, err := billing.ParsePlan(req.Plan)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	session, err := s.deps.Billing.UpgradePersonal(r.Context(), userID(r), plan)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, session)
}

// upgradeOrganization opens a Team checkout for an organization
func (s *Server) upgradeOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.PathParamOrError(w, r, "id")
	if !ok {
		return
	}
	var req upgradeRequest
	if !httputil.DecodeJSONOrError(w, r, &req) {
		return
	}
	plan, err := billing.ParsePlan(req.Plan)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	session, err := s.deps.Billing.UpgradeOrganization(r.Context(), userID(r), orgID, plan, req.Seats)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, session)
}

func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	referenceID, ok := httputil.PathParamOrError(w, r, "reference_id")
	if !ok {
		return
	}

	sub, err := s.deps.Billing.GetSubscription(r.Context(), userID(r), referenceID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

func (s *Server) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	referenceID, ok := httputil.PathParamOrError(w, r, "reference_id")
	if !ok {
		return
	}

	sub, err := s.deps.Billing.CancelSubscription(r.Context(), userID(r), referenceID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

func (s *Server) restoreSubscription(w http.ResponseWriter, r *http.Request) {
	referenceID, ok := httputil.PathParamOrError(w, r, "reference_id")
	if !ok {
		return
	}

	sub, err := s.deps.Billing.RestoreSubscription(r.Context(), userID(r), referenceID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

func (s *Server) createPortalSession(w http.ResponseWriter, r *http.Request) {
	referenceID, ok := httputil.PathParamOrError(w, r, "reference_id")
	if !ok {
		return
	}
	var req portalRequest
	if !httputil.DecodeJSONOrError(w, r, &req) {
		return
	}

	url, err := s.deps.Billing.CreatePortalSession(r.Context(), userID(r), referenceID, req.ReturnURL)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, portalResponse{URL: url})
}
