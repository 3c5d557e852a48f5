// Package access answers "what may this session do" for the request layer.
//
// It gathers the personal and active-organization tiers from the tier cache,
// checks membership of the active organization against the live directory,
// and hands the result to entitlement.Evaluate. Nothing here writes.
package access
