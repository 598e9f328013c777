package repomanager

import (
	"context"

	"github.com/dmitrijs2005/imagingdesk/internal/server/repositories/uploads"
)

// DynamoRepositoryManager vends the DynamoDB-backed storage index. The table
// and its file_key index are provisioned outside the service.
type DynamoRepositoryManager struct {
	repo *uploads.DynamoRepository
}

// NewDynamoRepositoryManager constructs a DynamoDB-backed RepositoryManager.
func NewDynamoRepositoryManager(client uploads.DynamoAPI, tableName string) RepositoryManager {
	return &DynamoRepositoryManager{repo: uploads.NewDynamoRepository(client, tableName)}
}

func (m *DynamoRepositoryManager) RunMigrations(ctx context.Context) error {
	return nil
}

func (m *DynamoRepositoryManager) Uploads() uploads.Repository {
	return m.repo
}

// WithTx calls fn directly: every write the index makes is a single
// conditional item update.
func (m *DynamoRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, repo uploads.Repository) error) error {
	return fn(ctx, m.repo)
}
