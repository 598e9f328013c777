// Package models defines server-side data models persisted in the storage
// index and returned by the resolver.
package models

import "time"

// Upload is one row of the storage index. Every upload event creates a new
// row; re-uploading under the same FileKey adds a row instead of changing
// the old one.
type Upload struct {
	// ID identifies the upload row.
	ID string
	// UserID is the owner of the uploaded artifact.
	UserID string
	// FileKey is the canonical key clients use to reference the artifact.
	FileKey string
	// FileName is the object path below BucketName.
	FileName string
	// BucketName is the optional key prefix the object is stored under.
	BucketName *string
	// DisplayName is the original client-side file name.
	DisplayName string
	// ContentType is the declared MIME type (DICOM, spreadsheet, PDF ...).
	ContentType string
	// UploadStatus is "pending" until the client confirms the PUT.
	UploadStatus string
	// Seq increases with insertion order and breaks uploaded_at ties.
	Seq int64
	// CreatedAt is when the upload slot was allocated.
	CreatedAt time.Time
	// UploadedAt is set when the upload completes.
	UploadedAt *time.Time
}

// IndexRecord is the read-only view of an upload the resolver works with.
type IndexRecord struct {
	FileKey     string
	StorageKey  string
	DisplayName string
	OwnerID     string
	UploadedAt  *time.Time
	Seq         int64
}

// ResolvedKey is the resolution result for one requested key.
type ResolvedKey struct {
	OriginalKey string
	StorageKey  string
	DisplayName string
	// OwnerID is nil for fallback results.
	OwnerID *string
	// UploadedAt is nil for fallback results and for unusable timestamps.
	UploadedAt *time.Time
	// Resolved is true when an index record was selected.
	Resolved bool
}

// UploadTicket is handed to the client to PUT an artifact directly to
// object storage.
type UploadTicket struct {
	Upload     *Upload
	StorageKey string
	URL        string
	ExpiresAt  time.Time
}
