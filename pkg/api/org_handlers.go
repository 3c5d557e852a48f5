package api

import (
	"net/http"

	"github.com/platinummonkey/entitle/pkg/entitlement"
	"github.com/platinummonkey/entitle/pkg/httputil"
	"github.com/platinummonkey/entitle/pkg/orgs"
)

type createOrganizationRequest struct {
	Name string `json:"name"`
}

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

type setActiveRequest struct {
	OrganizationID string `json:"organizationId"`
}

type setActiveResponse struct {
	ActiveOrganizationID string `json:"activeOrganizationId"`
}

// accessResponse is the evaluated access plus what the player needs to place the paywall
type accessResponse struct {
	entitlement.Access
	PaywallThreshold float64 `json:"paywallThreshold"`
	UpgradePrompt    string  `json:"upgradePrompt"`
}

// createOrganization creates an organization owned by the caller
func (s *Server) createOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if !httputil.DecodeJSONOrError(w, r, &req) {
		return
	}

	org, err := s.deps.Orgs.CreateOrganization(r.Context(), userID(r), req.Name)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, org)
}

// listOrganizations lists the caller's organizations with their role in each
func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Orgs.ListForUser(r.Context(), userID(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"organizations": list})
}

func (s *Server) getOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.PathParamOrError(w, r, "id")
	if !ok {
		return
	}

	details, err := s.deps.Orgs.GetOrganization(r.Context(), userID(r), orgID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, details)
}

func (s *Server) deleteOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.PathParamOrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.deps.Orgs.DeleteOrganization(r.Context(), userID(r), orgID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// inviteMember invites an email address into the organization
func (s *Server) inviteMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.PathParamOrError(w, r, "id")
	if !ok {
		return
	}
	var req inviteRequest
	if !httputil.DecodeJSONOrError(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = "member"
	}

	inv, err := s.deps.Orgs.Invite(r.Context(), orgID, userID(r), req.Email, req.Role)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, inv)
}

func (s *Server) listInvitations(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.PathParamOrError(w, r, "id")
	if !ok {
		return
	}

	invitations, err := s.deps.Orgs.ListInvitations(r.Context(), userID(r), orgID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if invitations == nil {
		invitations = []*orgs.Invitation{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"invitations": invitations})
}

func (s *Server) cancelInvitation(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.PathParamOrError(w, r, "id")
	if !ok {
		return
	}
	invitationID, ok := httputil.PathParamOrError(w, r, "invitation_id")
	if !ok {
		return
	}

	if err := s.deps.Orgs.CancelInvitation(r.Context(), userID(r), orgID, invitationID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.PathParamOrError(w, r, "token")
	if !ok {
		return
	}

	membership, err := s.deps.Orgs.AcceptInvitation(r.Context(), token, userID(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, membership)
}

// removeMember removes a member. Removing yourself is leaving.
func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.PathParamOrError(w, r, "id")
	if !ok {
		return
	}
	targetID, ok := httputil.PathParamOrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := s.deps.Orgs.Remove(r.Context(), orgID, userID(r), targetID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) changeRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.PathParamOrError(w, r, "id")
	if !ok {
		return
	}
	targetID, ok := httputil.PathParamOrError(w, r, "user_id")
	if !ok {
		return
	}
	var req changeRoleRequest
	if !httputil.DecodeJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Role, "role") {
		return
	}

	if err := s.deps.Orgs.ChangeRole(r.Context(), orgID, userID(r), targetID, req.Role); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// setActiveOrganization validates the selection. The request layer stores it
// in the session it signs.
func (s *Server) setActiveOrganization(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if !httputil.DecodeJSONOrError(w, r, &req) {
		return
	}

	if err := s.deps.Orgs.SetActive(r.Context(), userID(r), req.OrganizationID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, setActiveResponse{ActiveOrganizationID: req.OrganizationID})
}

// getAccess answers for anonymous callers too
func (s *Server) getAccess(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Access.GetAccess(r.Context(), sessionOrNil(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, accessResponse{
		Access:           result,
		PaywallThreshold: entitlement.PaywallThreshold(result),
		UpgradePrompt:    entitlement.UpgradePrompt(result),
	})
}
