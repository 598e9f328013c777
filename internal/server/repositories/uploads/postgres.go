package uploads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/imagingdesk/internal/common"
	"github.com/dmitrijs2005/imagingdesk/internal/dbx"
	"github.com/dmitrijs2005/imagingdesk/internal/server/models"
	"github.com/dmitrijs2005/imagingdesk/internal/server/objectkey"
)

// PostgresRepository implements the storage index over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const uploadColumns = `id, seq, user_id, file_key, file_name, bucket_name, display_name, content_type, upload_status, created_at, uploaded_at`

// Create inserts a new upload row. Seq and CreatedAt are assigned by the database.
func (r *PostgresRepository) Create(ctx context.Context, upload *models.Upload) error {
	query := `
		INSERT INTO uploads (id, user_id, file_key, file_name, bucket_name, display_name, content_type, upload_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		upload.ID, upload.UserID, upload.FileKey, upload.FileName, upload.BucketName,
		upload.DisplayName, upload.ContentType, upload.UploadStatus,
	).Scan(&upload.Seq, &upload.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByID returns a single upload row.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE id=$1`

	u, err := scanUpload(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select upload: %w", err)
	}
	return u, nil
}

// MarkCompleted marks a pending upload as completed. Exactly one row must be
// affected; an upload that is no longer pending yields ErrUploadAlreadyCompleted.
func (r *PostgresRepository) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE uploads SET upload_status='completed', uploaded_at=$1 WHERE id=$2 AND upload_status='pending'`
	res, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark uploaded: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrUploadAlreadyCompleted
	default:
		return fmt.Errorf("wrong rows affected count: %d", n)
	}
}

// List returns up to limit uploads, newest first.
func (r *PostgresRepository) List(ctx context.Context, ownerID *string, limit int) ([]*models.Upload, error) {
	var (
		query string
		args  []any
	)
	if ownerID != nil {
		query = `SELECT ` + uploadColumns + ` FROM uploads WHERE user_id=$1 ORDER BY seq DESC LIMIT $2`
		args = []any{*ownerID, limit}
	} else {
		query = `SELECT ` + uploadColumns + ` FROM uploads ORDER BY seq DESC LIMIT $1`
		args = []any{limit}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select uploads: %w", err)
	}
	defer rows.Close()

	var result []*models.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// FindByKeys returns every completed upload indexed under one of keys.
// The storage key of each record is derived from its file_name and
// bucket_name columns.
func (r *PostgresRepository) FindByKeys(ctx context.Context, keys []string, ownerID *string) ([]models.IndexRecord, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	query, args := findByKeysQuery(keys, ownerID)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select index records: %w", err)
	}
	defer rows.Close()

	var result []models.IndexRecord
	for rows.Next() {
		var (
			rec        models.IndexRecord
			fileName   string
			bucketName sql.NullString
			uploadedAt sql.NullTime
		)
		if err := rows.Scan(&rec.FileKey, &fileName, &bucketName, &rec.DisplayName, &rec.OwnerID, &uploadedAt, &rec.Seq); err != nil {
			return nil, err
		}

		row := objectkey.Row{FileName: fileName}
		if bucketName.Valid {
			row.BucketPrefix = &bucketName.String
		}
		rec.StorageKey = objectkey.Build(row)
		if rec.DisplayName == "" {
			rec.DisplayName = objectkey.BaseName(fileName)
		}
		if uploadedAt.Valid {
			t := uploadedAt.Time
			rec.UploadedAt = &t
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

const findByKeysSQL = `SELECT file_key, file_name, bucket_name, display_name, user_id, uploaded_at, seq FROM uploads ` +
	`WHERE upload_status='completed' AND file_key = ANY($1)`

// findByKeysQuery binds all keys as a single text[] parameter, so the
// statement has at most two parameters however many keys are asked for.
func findByKeysQuery(keys []string, ownerID *string) (string, []any) {
	query := findByKeysSQL
	args := []any{keys}
	if ownerID != nil {
		query += ` AND user_id=$2`
		args = append(args, *ownerID)
	}
	return query + ` ORDER BY file_key, uploaded_at DESC NULLS LAST, seq DESC`, args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(s scanner) (*models.Upload, error) {
	var (
		u          models.Upload
		bucketName sql.NullString
		uploadedAt sql.NullTime
	)
	if err := s.Scan(&u.ID, &u.Seq, &u.UserID, &u.FileKey, &u.FileName, &bucketName,
		&u.DisplayName, &u.ContentType, &u.UploadStatus, &u.CreatedAt, &uploadedAt); err != nil {
		return nil, err
	}
	if bucketName.Valid {
		u.BucketName = &bucketName.String
	}
	if uploadedAt.Valid {
		t := uploadedAt.Time
		u.UploadedAt = &t
	}
	return &u, nil
}
