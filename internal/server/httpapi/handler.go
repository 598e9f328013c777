package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/imagingdesk/internal/common"
	"github.com/dmitrijs2005/imagingdesk/internal/server/objectkey"
)

type resolveRequest struct {
	FileKeys json.RawMessage `json:"fileKeys"`
}

type signedURLRequest struct {
	Key       string `json:"key"`
	ExpiresIn int64  `json:"expiresIn"`
}

type createUploadRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	FileKey     string `json:"fileKey"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", common.ErrorInvalidRequest, err)
	}
	return nil
}

func (s *HTTPServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())

	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	keys, err := s.files.ResolveKeys(r.Context(), id, req.FileKeys)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info(r.Context(), "resolved file keys", "count", len(keys), "user_id", id.UserID)
	writeJSON(w, http.StatusOK, resolveResponse{ResolvedKeys: toResolvedKeys(keys)})
}

func (s *HTTPServer) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())

	var req signedURLRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	signed, err := s.files.SignedURL(r.Context(), id, req.Key, req.ExpiresIn)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, signedURLResponse{
		URL:       signed.URL,
		Key:       signed.Key,
		ExpiresAt: formatTime(signed.ExpiresAt),
		ExpiresIn: int64(signed.ExpiresIn.Seconds()),
	})
}

func (s *HTTPServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	key := r.URL.Query().Get("key")

	obj, err := s.files.Download(r.Context(), id, key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer obj.Body.Close()

	h := w.Header()
	h.Set("Content-Type", obj.ContentType)
	if obj.ContentLength >= 0 {
		h.Set("Content-Length", strconv.FormatInt(obj.ContentLength, 10))
	}
	if cd := mime.FormatMediaType("attachment", map[string]string{"filename": objectkey.BaseName(key)}); cd != "" {
		h.Set("Content-Disposition", cd)
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, obj.Body); err != nil {
		s.logger.Warn(r.Context(), "download interrupted", "key", key, "error", err)
	}
}

func (s *HTTPServer) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())

	var req createUploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	ticket, err := s.files.CreateUpload(r.Context(), id, req.FileName, strings.TrimSpace(req.ContentType), req.FileKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info(r.Context(), "upload allocated", "upload_id", ticket.Upload.ID, "user_id", id.UserID)
	writeJSON(w, http.StatusCreated, createUploadResponse{
		ID:        ticket.Upload.ID,
		FileKey:   ticket.Upload.FileKey,
		S3Key:     ticket.StorageKey,
		UploadURL: ticket.URL,
		ExpiresAt: formatTime(ticket.ExpiresAt),
	})
}

func (s *HTTPServer) handleCompleteUpload(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())

	u, err := s.files.CompleteUpload(r.Context(), id, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info(r.Context(), "upload completed", "upload_id", u.ID, "user_id", id.UserID)
	writeJSON(w, http.StatusOK, toUpload(u))
}

func (s *HTTPServer) handleListUploads(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	q := r.URL.Query()

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: limit must be an integer", common.ErrorInvalidRequest))
			return
		}
		limit = n
	}

	list, err := s.files.ListUploads(r.Context(), id, q.Get("owner"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := listUploadsResponse{Uploads: make([]uploadResponse, 0, len(list))}
	for _, u := range list {
		resp.Uploads = append(resp.Uploads, toUpload(u))
	}
	writeJSON(w, http.StatusOK, resp)
}
