package validation

import (
	"context"
	"time"
)

// Repository defines storage for launch state: the state/nonce pair minted at
// login initiation and consumed exactly once at launch validation. State is
// the sole shared mutable resource between the two redirects, so the consume
// must be atomic.
type Repository interface {
	// CreateLaunchState stores a state with its nonce, intended target and expiry.
	CreateLaunchState(ctx context.Context, state, nonce, issuer, targetLinkURI string, exp time.Time) error
	// ConsumeLaunchState atomically loads and invalidates a state, returning
	// its data. ok=false if not found, already used or expired; no two calls
	// may both succeed for the same state.
	ConsumeLaunchState(ctx context.Context, state string) (nonce, issuer, targetLinkURI string, ok bool, err error)
	// Disconnect gracefully closes resources.
	Disconnect()
}
