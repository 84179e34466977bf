package lti

import (
	"errors"
	"fmt"
)

// Validation and service errors. Handlers log these with full detail but only
// surface generic messages to the caller.
var (
	// ErrUnknownPlatform: login initiation for an issuer with no registration.
	ErrUnknownPlatform = errors.New("unknown platform")
	// ErrStateNotFoundOrExpired: launch state missing, already consumed, or past TTL.
	ErrStateNotFoundOrExpired = errors.New("state not found or expired")
	// ErrUnknownIssuer: id_token iss has no platform registration.
	ErrUnknownIssuer = errors.New("unknown issuer")
	// ErrUnknownSigningKey: id_token kid absent from the platform key set even after refresh.
	ErrUnknownSigningKey = errors.New("unknown signing key")
	// ErrInvalidToken: signature, audience, expiry or nonce check failed.
	ErrInvalidToken = errors.New("invalid token")

	// ErrNoActiveLaunch: a service call was made without a validated launch session.
	ErrNoActiveLaunch = errors.New("no active launch")
	// ErrInvalidScoreMaximum: scoreMaximum must be > 0.
	ErrInvalidScoreMaximum = errors.New("scoreMaximum must be greater than zero")
	// ErrInvalidProgressEnum: activityProgress/gradingProgress outside the AGS vocabulary.
	ErrInvalidProgressEnum = errors.New("invalid progress value")
	// ErrMembershipsURLMissing: launch token carried no NRPS memberships endpoint.
	ErrMembershipsURLMissing = errors.New("memberships url missing from launch")
)

// UpstreamError wraps a non-2xx response from a platform service endpoint.
// The body is kept for diagnostics and for surfacing platform 4xx verbatim.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Body)
}

// Transient reports whether the failure is safe to retry for idempotent reads
// (platform 5xx). Platform 4xx are rejections and must not be retried.
func (e *UpstreamError) Transient() bool {
	return e.Status >= 500
}
