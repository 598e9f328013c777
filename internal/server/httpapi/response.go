package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/imagingdesk/internal/common"
	"github.com/dmitrijs2005/imagingdesk/internal/server/models"
	"github.com/dmitrijs2005/imagingdesk/internal/server/objectkey"
)

// isoTime matches the millisecond ISO-8601 form browsers produce.
const isoTime = "2006-01-02T15:04:05.000Z07:00"

type errorResponse struct {
	Error string `json:"error"`
}

type resolvedKeyResponse struct {
	OriginalKey string  `json:"originalKey"`
	S3Key       string  `json:"s3Key"`
	FileName    string  `json:"fileName"`
	UserID      *string `json:"userId"`
	UploadedAt  *string `json:"uploadedAt"`
	Resolved    bool    `json:"resolved"`
}

type resolveResponse struct {
	ResolvedKeys []resolvedKeyResponse `json:"resolvedKeys"`
}

type signedURLResponse struct {
	URL       string `json:"url"`
	Key       string `json:"key"`
	ExpiresAt string `json:"expiresAt"`
	ExpiresIn int64  `json:"expiresIn"`
}

type createUploadResponse struct {
	ID        string `json:"id"`
	FileKey   string `json:"fileKey"`
	S3Key     string `json:"s3Key"`
	UploadURL string `json:"uploadUrl"`
	ExpiresAt string `json:"expiresAt"`
}

type uploadResponse struct {
	ID          string  `json:"id"`
	UserID      string  `json:"userId"`
	FileKey     string  `json:"fileKey"`
	S3Key       string  `json:"s3Key"`
	FileName    string  `json:"fileName"`
	ContentType string  `json:"contentType,omitempty"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"createdAt"`
	UploadedAt  *string `json:"uploadedAt"`
}

type listUploadsResponse struct {
	Uploads []uploadResponse `json:"uploads"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(isoTime)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toResolvedKeys(keys []models.ResolvedKey) []resolvedKeyResponse {
	out := make([]resolvedKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, resolvedKeyResponse{
			OriginalKey: k.OriginalKey,
			S3Key:       k.StorageKey,
			FileName:    k.DisplayName,
			UserID:      k.OwnerID,
			UploadedAt:  formatTimePtr(k.UploadedAt),
			Resolved:    k.Resolved,
		})
	}
	return out
}

func toUpload(u *models.Upload) uploadResponse {
	return uploadResponse{
		ID:          u.ID,
		UserID:      u.UserID,
		FileKey:     u.FileKey,
		S3Key:       objectkey.Build(objectkey.Row{FileName: u.FileName, BucketPrefix: u.BucketName}),
		FileName:    u.DisplayName,
		ContentType: u.ContentType,
		Status:      u.UploadStatus,
		CreatedAt:   formatTime(u.CreatedAt),
		UploadedAt:  formatTimePtr(u.UploadedAt),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrorInvalidRequest), errors.Is(err, common.ErrorInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrorForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrUploadAlreadyCompleted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err to the client. Internal failures are logged and
// answered with a generic message.
func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, status, errorResponse{Error: common.ErrorInternal.Error()})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
