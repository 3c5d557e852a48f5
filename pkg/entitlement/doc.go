// Package entitlement computes what a caller may do and defines the error
// taxonomy shared by every entitlement operation.
//
// Evaluate is a pure function of its Input: the effective tier is team when
// the active organization is on the team plan, otherwise pro when the personal
// subscription is pro, otherwise free. Capabilities only grow along
// team > pro > free.
//
//	access := entitlement.Evaluate(entitlement.Input{
//		Authenticated: true,
//		PersonalTier:  entitlement.TierPro,
//	})
//	access.CanWatchFullVideos // true
//	access.CanAccessAPI       // false
//
// Operations return *Error values with a Kind that maps one to one onto
// transport status codes. Use KindOf or errors.Is with the Err* sentinels.
package entitlement
