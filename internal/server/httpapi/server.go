// Package httpapi serves the imagingdesk JSON API over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/imagingdesk/internal/logging"
	"github.com/dmitrijs2005/imagingdesk/internal/server/access"
	"github.com/dmitrijs2005/imagingdesk/internal/server/metrics"
	"github.com/dmitrijs2005/imagingdesk/internal/server/models"
	"github.com/dmitrijs2005/imagingdesk/internal/server/ratelimit"
	"github.com/dmitrijs2005/imagingdesk/internal/server/services"
	"github.com/dmitrijs2005/imagingdesk/internal/server/storage"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// FileService is the business logic behind the API.
type FileService interface {
	ResolveKeys(ctx context.Context, id access.Identity, raw json.RawMessage) ([]models.ResolvedKey, error)
	SignedURL(ctx context.Context, id access.Identity, key string, expiresIn int64) (*services.SignedURL, error)
	Download(ctx context.Context, id access.Identity, key string) (*storage.Object, error)
	CreateUpload(ctx context.Context, id access.Identity, fileName, contentType, fileKey string) (*models.UploadTicket, error)
	CompleteUpload(ctx context.Context, id access.Identity, uploadID string) (*models.Upload, error)
	ListUploads(ctx context.Context, id access.Identity, owner string, limit int) ([]*models.Upload, error)
}

// HTTPServer routes API requests to the FileService.
type HTTPServer struct {
	address         string
	files           FileService
	logger          logging.Logger
	jwtSecret       []byte
	limiter         *ratelimit.Limiter
	metrics         *metrics.HTTPMetrics
	shutdownTimeout time.Duration
}

// NewHTTPServer constructs the API server. limiter and m may be nil.
func NewHTTPServer(addr string, l logging.Logger, files FileService, secretKey string,
	limiter *ratelimit.Limiter, m *metrics.HTTPMetrics, shutdownTimeout time.Duration) *HTTPServer {
	return &HTTPServer{
		address:         addr,
		logger:          l.With("module", "http_server"),
		files:           files,
		jwtSecret:       []byte(secretKey),
		limiter:         limiter,
		metrics:         m,
		shutdownTimeout: shutdownTimeout,
	}
}

// Handler returns the routed API handler.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "GET /healthz", false, s.handleHealth)

	s.handle(mux, "POST /api/files/resolve", true, s.handleResolve)
	s.handle(mux, "POST /api/files/signed-url", true, s.handleSignedURL)
	s.handle(mux, "GET /api/files/download", true, s.handleDownload)

	s.handle(mux, "POST /api/uploads", true, s.handleCreateUpload)
	s.handle(mux, "GET /api/uploads", true, s.handleListUploads)
	s.handle(mux, "POST /api/uploads/{id}/complete", true, s.handleCompleteUpload)

	return mux
}

// handle registers h under pattern with the middleware chain. Authenticated
// routes reject requests without a valid bearer token.
func (s *HTTPServer) handle(mux *http.ServeMux, pattern string, authenticated bool, h http.HandlerFunc) {
	var next http.Handler = h
	if authenticated {
		next = s.requireIdentity(next)
	}
	next = s.rateLimit(next)
	next = s.identify(next)
	next = s.instrument(pattern, next)
	mux.Handle(pattern, next)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve is Run on an existing listener.
func (s *HTTPServer) Serve(ctx context.Context, listen net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		done <- srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-done
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}
