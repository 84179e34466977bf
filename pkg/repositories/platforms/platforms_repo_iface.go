package platforms

import (
	"context"
	"time"
)

// Platform is a trusted LMS registration: the endpoints and key set needed to
// validate inbound launches from, and authenticate outbound calls to, one
// platform issuer.
type Platform struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name,omitempty"`
	Issuer        string    `json:"issuer"`
	ClientID      string    `json:"client_id"`
	AuthEndpoint  string    `json:"auth_endpoint"`
	TokenEndpoint string    `json:"token_endpoint"`
	KeySetURL     string    `json:"key_set_url"`
	// DeploymentIDs optionally pins the deployments accepted from this
	// platform, comma-separated. Empty accepts any deployment.
	DeploymentIDs string    `json:"deployment_ids,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// UpsertOutcome reports what an upsert actually did, so registration at
// startup can be logged explicitly instead of silently swallowed.
type UpsertOutcome int

const (
	OutcomeCreated UpsertOutcome = iota
	OutcomeUpdated
)

// Repository defines storage for platform registrations.
type Repository interface {
	// Health is a simple check to verify repository works.
	Health() error
	// Disconnect gracefully closes resources. Should be safe to call on shutdown.
	Disconnect()
	// UpsertPlatform inserts or updates the registration keyed by issuer and
	// reports whether it was created or updated.
	UpsertPlatform(ctx context.Context, p *Platform) (UpsertOutcome, error)
	// GetPlatformByIssuer returns the registration for an issuer, nil if absent.
	GetPlatformByIssuer(ctx context.Context, issuer string) (*Platform, error)
	// ListPlatforms returns all registrations.
	ListPlatforms(ctx context.Context) ([]*Platform, error)
	// DeletePlatformByID deletes a registration by its numeric ID.
	DeletePlatformByID(ctx context.Context, id int64) error
}
