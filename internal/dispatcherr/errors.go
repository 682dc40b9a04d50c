// Package dispatcherr defines the closed set of wire-visible error codes
// shared by every subsystem (spec §6); the mapping from code to HTTP status
// is internal/httpapi's statusForCode. Subsystems raise their own per-package sentinel errors (e.g.
// dispatch.ErrInvalidState, account.ErrConflict); the wire layer's classify
// function is the single place that reclassifies those sentinels into a
// Code via errors.Is, so every subsystem stays free of any dependency on
// the wire layer's vocabulary.
package dispatcherr

// Code is one of the closed set of error codes from spec §6.
type Code string

const (
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodeForbidden      Code = "FORBIDDEN"
	CodeNotFound       Code = "RESOURCE_NOT_FOUND"
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeInvalidState   Code = "INVALID_STATE"
	CodeRateLimited    Code = "RATE_LIMITED"
	CodeRiskPaused     Code = "RISK_PAUSED"
	CodeSessionInvalid Code = "SESSION_INVALID"
	CodeInternal       Code = "INTERNAL_ERROR"
)
