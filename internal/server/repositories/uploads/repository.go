// Package uploads stores the storage index: one row per upload event,
// mapping a client-facing file key onto the object that holds its bytes.
package uploads

import (
	"context"
	"time"

	"github.com/dmitrijs2005/imagingdesk/internal/server/models"
)

// Repository is the storage index as seen by the services.
type Repository interface {
	// Create inserts a new upload row and fills in Seq and CreatedAt.
	Create(ctx context.Context, upload *models.Upload) error
	// GetByID returns the upload or common.ErrorNotFound.
	GetByID(ctx context.Context, id string) (*models.Upload, error)
	// MarkCompleted flips a pending upload to completed at the given time.
	MarkCompleted(ctx context.Context, id string, at time.Time) error
	// List returns the newest uploads first, optionally restricted to one owner.
	List(ctx context.Context, ownerID *string, limit int) ([]*models.Upload, error)
	// FindByKeys returns every completed upload whose file key is in keys,
	// optionally restricted to one owner.
	FindByKeys(ctx context.Context, keys []string, ownerID *string) ([]models.IndexRecord, error)
}
