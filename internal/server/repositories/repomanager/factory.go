package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/dmitrijs2005/imagingdesk/internal/server/config"
	"github.com/dmitrijs2005/imagingdesk/internal/server/repositories/uploads"
)

var (
	openDB = func(dsn string) (*sql.DB, error) {
		return sql.Open("pgx", dsn)
	}

	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newDynamoClient = func(cfg aws.Config) uploads.DynamoAPI {
		return dynamodb.NewFromConfig(cfg)
	}
)

// New opens the storage index backend selected by cfg.IndexBackend. The
// returned close function releases the backend's resources.
func New(ctx context.Context, cfg *config.Config) (RepositoryManager, func() error, error) {
	switch cfg.IndexBackend {
	case config.IndexBackendPostgres, "":
		db, err := openDB(cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("db init error: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("db ping error: %w", err)
		}
		m, err := NewPostgresRepositoryManager(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return m, db.Close, nil

	case config.IndexBackendDynamoDB:
		awsCfg, err := loadDefaultAWSConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.S3RootUser,
				cfg.S3RootPassword,
				"",
			)))
		if err != nil {
			return nil, nil, fmt.Errorf("aws config error: %w", err)
		}
		m := NewDynamoRepositoryManager(newDynamoClient(awsCfg), cfg.DynamoDBTable)
		return m, func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
	}
}
