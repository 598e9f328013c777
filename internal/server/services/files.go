// Package services contains server-side business logic. FileService ties the
// storage index, the object store and the access policy together: it hands
// out upload slots, completes uploads, resolves client file keys and signs
// or streams downloads.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/imagingdesk/internal/common"
	"github.com/dmitrijs2005/imagingdesk/internal/server/access"
	"github.com/dmitrijs2005/imagingdesk/internal/server/config"
	"github.com/dmitrijs2005/imagingdesk/internal/server/filekeys"
	"github.com/dmitrijs2005/imagingdesk/internal/server/models"
	"github.com/dmitrijs2005/imagingdesk/internal/server/objectkey"
	"github.com/dmitrijs2005/imagingdesk/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/imagingdesk/internal/server/repositories/uploads"
	"github.com/dmitrijs2005/imagingdesk/internal/server/resolver"
	"github.com/dmitrijs2005/imagingdesk/internal/server/storage"
)

// Listing bounds for ListUploads.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// MaxResolveKeys is the most distinct keys one ResolveKeys call accepts.
const MaxResolveKeys = 10000

// ObjectStore is the object storage the service signs URLs for and reads from.
type ObjectStore interface {
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error)
	Open(ctx context.Context, key string) (*storage.Object, error)
}

// SignedURL is a time-limited download link for one object.
type SignedURL struct {
	URL       string
	Key       string
	ExpiresAt time.Time
	ExpiresIn time.Duration
}

// FileService implements the file-facing API operations.
type FileService struct {
	repomanager   repomanager.RepositoryManager
	store         ObjectStore
	policy        *access.Policy
	resolver      *resolver.Resolver
	presignExpiry time.Duration
	now           func() time.Time
}

// NewFileService constructs a FileService. observer may be nil.
func NewFileService(m repomanager.RepositoryManager, store ObjectStore, policy *access.Policy,
	cfg *config.Config, observer resolver.Observer) *FileService {
	return &FileService{
		repomanager:   m,
		store:         store,
		policy:        policy,
		resolver:      resolver.New(m.Uploads(), policy, observer),
		presignExpiry: cfg.PresignExpiry,
		now:           time.Now,
	}
}

// ResolveKeys normalizes the raw fileKeys payload and resolves every key for
// the requester.
func (s *FileService) ResolveKeys(ctx context.Context, id access.Identity, raw json.RawMessage) ([]models.ResolvedKey, error) {
	keys := filekeys.Normalize(raw)

	distinct := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		distinct[k] = struct{}{}
		if len(distinct) > MaxResolveKeys {
			return nil, fmt.Errorf("%w: more than %d distinct file keys", common.ErrorInvalidRequest, MaxResolveKeys)
		}
	}

	return s.resolver.Resolve(ctx, keys, id)
}

// SignedURL signs a GET for key if id may read it. expiresIn is the
// requested lifetime in seconds; zero means the configured default.
func (s *FileService) SignedURL(ctx context.Context, id access.Identity, key string, expiresIn int64) (*SignedURL, error) {
	if err := s.checkRead(id, key); err != nil {
		return nil, err
	}

	expiry := storage.ExpiryWindow(expiresIn, s.presignExpiry)
	issued := s.now().UTC()

	url, err := s.store.PresignGet(ctx, key, expiry)
	if err != nil {
		return nil, err
	}

	return &SignedURL{
		URL:       url,
		Key:       key,
		ExpiresAt: issued.Add(expiry),
		ExpiresIn: expiry,
	}, nil
}

// Download opens key for streaming if id may read it. The caller closes the body.
func (s *FileService) Download(ctx context.Context, id access.Identity, key string) (*storage.Object, error) {
	if err := s.checkRead(id, key); err != nil {
		return nil, err
	}
	return s.store.Open(ctx, key)
}

func (s *FileService) checkRead(id access.Identity, key string) error {
	if !access.WellFormed(key) {
		return common.ErrorInvalidKey
	}
	if !s.policy.CanRead(id, key) {
		return common.ErrorForbidden
	}
	return nil
}

// CreateUpload allocates an object key in the caller's folder, records a
// pending upload and returns a presigned PUT for it. fileKey is the
// client-facing key the upload is indexed under; when empty the storage key
// itself is used.
func (s *FileService) CreateUpload(ctx context.Context, id access.Identity, fileName, contentType, fileKey string) (*models.UploadTicket, error) {
	if id.UserID == "" || strings.Contains(id.UserID, "/") {
		return nil, common.ErrorUnauthorized
	}

	name := cleanFileName(fileName)
	if name == "" {
		return nil, fmt.Errorf("%w: file name is required", common.ErrorInvalidRequest)
	}

	uploadID := uuid.New().String()
	t := s.now().UTC()
	relative := fmt.Sprintf("%s/%04d/%02d/%02d/%s/%s", id.UserID, t.Year(), t.Month(), t.Day(), uploadID, name)

	row := objectkey.Row{FileName: relative}
	if root := s.policy.Root(); root != "" {
		row.BucketPrefix = &root
	}
	storageKey := objectkey.Build(row)

	fileKey = strings.TrimSpace(fileKey)
	if fileKey == "" {
		fileKey = storageKey
	} else if err := checkKeyOwner(ctx, s.repomanager.Uploads(), fileKey, id.UserID); err != nil {
		return nil, err
	}

	url, err := s.store.PresignPut(ctx, storageKey, contentType, s.presignExpiry)
	if err != nil {
		return nil, err
	}

	upload := &models.Upload{
		ID:           uploadID,
		UserID:       id.UserID,
		FileKey:      fileKey,
		FileName:     relative,
		BucketName:   row.BucketPrefix,
		DisplayName:  name,
		ContentType:  contentType,
		UploadStatus: common.UploadStatusPending,
	}
	if err := s.repomanager.Uploads().Create(ctx, upload); err != nil {
		return nil, fmt.Errorf("error creating upload: %w", err)
	}

	return &models.UploadTicket{
		Upload:     upload,
		StorageKey: storageKey,
		URL:        url,
		ExpiresAt:  t.Add(s.presignExpiry),
	}, nil
}

// CompleteUpload marks the caller's pending upload as completed, which makes
// it visible to key resolution. Elevated identities may complete any upload.
func (s *FileService) CompleteUpload(ctx context.Context, id access.Identity, uploadID string) (*models.Upload, error) {
	var result *models.Upload

	err := s.repomanager.WithTx(ctx, func(ctx context.Context, repo uploads.Repository) error {
		u, err := repo.GetByID(ctx, uploadID)
		if err != nil {
			return err
		}
		if u.UserID != id.UserID && !s.policy.IsElevated(id) {
			return common.ErrorForbidden
		}
		if err := checkKeyOwner(ctx, repo, u.FileKey, u.UserID); err != nil {
			return err
		}

		at := s.now().UTC()
		if err := repo.MarkCompleted(ctx, uploadID, at); err != nil {
			return err
		}

		u.UploadStatus = common.UploadStatusCompleted
		u.UploadedAt = &at
		result = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListUploads returns the newest uploads visible to id. owner narrows the
// listing for elevated identities and is ignored for everyone else.
func (s *FileService) ListUploads(ctx context.Context, id access.Identity, owner string, limit int) ([]*models.Upload, error) {
	var ownerFilter *string
	if o, filtered := s.policy.OwnerFilter(id); filtered {
		ownerFilter = &o
	} else if owner = strings.TrimSpace(owner); owner != "" {
		ownerFilter = &owner
	}

	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	return s.repomanager.Uploads().List(ctx, ownerFilter, limit)
}

// checkKeyOwner fails with ErrorForbidden when a completed upload of fileKey
// belongs to someone other than owner. A file key stays with the user who
// first completed an upload under it.
func checkKeyOwner(ctx context.Context, repo uploads.Repository, fileKey, owner string) error {
	records, err := repo.FindByKeys(ctx, []string{fileKey}, nil)
	if err != nil {
		return fmt.Errorf("error checking file key owner: %w", err)
	}
	for _, r := range records {
		if r.OwnerID != owner {
			return fmt.Errorf("%w: file key belongs to another user", common.ErrorForbidden)
		}
	}
	return nil
}

// cleanFileName keeps the last path segment of a client-supplied name.
func cleanFileName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSpace(objectkey.BaseName(name))
	switch name {
	case "", ".", "..":
		return ""
	}
	return name
}
