// Package httputil provides the JSON plumbing shared by the API handlers.
//
// Every failure leaves the API through WriteError, which maps the
// entitlement error kind to a status:
//
//	unauthenticated     401
//	unauthorized        403
//	not_found           404
//	invalid_input       400
//	seat_limit_reached  409, details carry current and limit
//	no_admin_available  409
//	provider_error      502
//	anything else       500 with a generic message
//
// Handlers parse bodies with DecodeJSONOrError and return early when it
// reports false; the error answer is already written:
//
//	var req inviteRequest
//	if !httputil.DecodeJSONOrError(w, r, &req) {
//		return
//	}
package httputil
