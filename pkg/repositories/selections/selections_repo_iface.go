package selections

import (
	"context"
	"time"
)

// Selection is a persisted deep-link content item chosen during a deep
// linking launch. ContentItemJSON holds the raw content item exactly as it
// was emitted in the response JWT, so it round-trips verbatim.
type Selection struct {
	ID              int64     `json:"id"`
	ClientID        string    `json:"client_id"`
	Title           string    `json:"title,omitempty"`
	URL             string    `json:"url"`
	ContentItemJSON string    `json:"content_item_json"`
	CreatedAt       time.Time `json:"created_at"`
}

// Repository defines storage for deep-link selections.
type Repository interface {
	Health() error
	Disconnect()
	CreateSelection(ctx context.Context, sel *Selection) (int64, error)
	ListSelections(ctx context.Context) ([]*Selection, error)
	GetSelectionByID(ctx context.Context, id int64) (*Selection, error)
	DeleteSelectionByID(ctx context.Context, id int64) error
}
