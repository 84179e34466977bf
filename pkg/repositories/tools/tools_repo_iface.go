package tools

import (
	"context"
	"time"
)

// Tool represents a tool registration record, created via the admin UI and
// read by the launch forms. Registrations are created and deleted; there is
// no update-in-place.
type Tool struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	ClientID           string    `json:"client_id"`
	LoginInitiationURL string    `json:"login_initiation_url"`
	TargetLinkURL      string    `json:"target_link_url"`
	KeySetURL          string    `json:"key_set_url"`
	CreatedAt          time.Time `json:"created_at"`
}

// Repository defines storage operations for tool registrations.
type Repository interface {
	// Health is a simple check to verify repository works.
	Health() error
	// Disconnect gracefully closes resources. Should be safe to call on shutdown.
	Disconnect()
	// RegisterTool inserts a new tool registration and returns its ID.
	RegisterTool(ctx context.Context, t *Tool) (int64, error)
	// ListTools returns all registered tools.
	ListTools(ctx context.Context) ([]*Tool, error)
	// GetToolByID returns a tool by its ID.
	GetToolByID(ctx context.Context, id int64) (*Tool, error)
	// DeleteToolByID deletes a tool by its numeric ID.
	DeleteToolByID(ctx context.Context, id int64) error
}
