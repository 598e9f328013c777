package repomanager

import (
	"context"

	"github.com/dmitrijs2005/imagingdesk/internal/server/repositories/uploads"
)

// RepositoryManager vends the storage index for one backend.
type RepositoryManager interface {
	// RunMigrations brings the backend schema up to date.
	RunMigrations(ctx context.Context) error
	// Uploads returns the storage index outside of any transaction.
	Uploads() uploads.Repository
	// WithTx runs fn against a repository bound to a single unit of work.
	WithTx(ctx context.Context, fn func(ctx context.Context, repo uploads.Repository) error) error
}
