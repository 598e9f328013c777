package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/imagingdesk/internal/common"
	"github.com/dmitrijs2005/imagingdesk/internal/logging"
	"github.com/dmitrijs2005/imagingdesk/internal/server/access"
	"github.com/dmitrijs2005/imagingdesk/internal/server/auth"
	"github.com/dmitrijs2005/imagingdesk/internal/server/metrics"
	"github.com/dmitrijs2005/imagingdesk/internal/server/models"
	"github.com/dmitrijs2005/imagingdesk/internal/server/ratelimit"
	"github.com/dmitrijs2005/imagingdesk/internal/server/services"
	"github.com/dmitrijs2005/imagingdesk/internal/server/storage"
)

const testSecret = "test-secret"

// ---- fakes ----

type fakeFiles struct {
	lastID  access.Identity
	lastRaw json.RawMessage

	resolved   []models.ResolvedKey
	resolveErr error

	signed  *services.SignedURL
	signErr error

	obj     *storage.Object
	openErr error

	ticket    *models.UploadTicket
	createErr error
	created   []string

	completed   *models.Upload
	completeErr error
	completeID  string

	list      []*models.Upload
	listErr   error
	listOwner string
	listLimit int
}

func (f *fakeFiles) ResolveKeys(ctx context.Context, id access.Identity, raw json.RawMessage) ([]models.ResolvedKey, error) {
	f.lastID, f.lastRaw = id, raw
	return f.resolved, f.resolveErr
}

func (f *fakeFiles) SignedURL(ctx context.Context, id access.Identity, key string, expiresIn int64) (*services.SignedURL, error) {
	f.lastID = id
	return f.signed, f.signErr
}

func (f *fakeFiles) Download(ctx context.Context, id access.Identity, key string) (*storage.Object, error) {
	f.lastID = id
	return f.obj, f.openErr
}

func (f *fakeFiles) CreateUpload(ctx context.Context, id access.Identity, fileName, contentType, fileKey string) (*models.UploadTicket, error) {
	f.lastID = id
	f.created = []string{fileName, contentType, fileKey}
	return f.ticket, f.createErr
}

func (f *fakeFiles) CompleteUpload(ctx context.Context, id access.Identity, uploadID string) (*models.Upload, error) {
	f.lastID, f.completeID = id, uploadID
	return f.completed, f.completeErr
}

func (f *fakeFiles) ListUploads(ctx context.Context, id access.Identity, owner string, limit int) ([]*models.Upload, error) {
	f.lastID, f.listOwner, f.listLimit = id, owner, limit
	return f.list, f.listErr
}

// ---- helpers ----

func newTestServer(t *testing.T, files FileService, limiter *ratelimit.Limiter, m *metrics.HTTPMetrics) http.Handler {
	t.Helper()
	return NewHTTPServer("127.0.0.1:0", logging.Nop(), files, testSecret, limiter, m, time.Second).Handler()
}

func token(t *testing.T, id access.Identity) string {
	t.Helper()
	tok, err := auth.GenerateToken(id, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, h http.Handler, method, target, tok string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	if tok != "" {
		req.Header.Set(common.AuthorizationHeaderName, common.BearerPrefix+tok)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

var (
	clientID = access.Identity{UserID: "u1", Role: access.RoleClient}
	staffID  = access.Identity{UserID: "s1", Role: access.RoleStaff}
)

// ---- tests ----

func TestHealthz_NoAuth(t *testing.T) {
	h := newTestServer(t, &fakeFiles{}, nil, nil)
	rec := do(t, h, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestAuth(t *testing.T) {
	h := newTestServer(t, &fakeFiles{}, nil, nil)

	rec := do(t, h, http.MethodPost, "/api/files/resolve", "", `{"fileKeys":[]}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/files/resolve", "garbage", `{"fileKeys":[]}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"invalid token"}`, rec.Body.String())

	expired, err := auth.GenerateToken(clientID, []byte(testSecret), -time.Minute)
	require.NoError(t, err)
	rec = do(t, h, http.MethodPost, "/api/files/resolve", expired, `{"fileKeys":[]}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"token expired"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/api/files/resolve", strings.NewReader(`{}`))
	req.Header.Set(common.AuthorizationHeaderName, "Basic abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResolve_OK(t *testing.T) {
	up := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	owner := "u1"
	f := &fakeFiles{resolved: []models.ResolvedKey{
		{OriginalKey: "a", StorageKey: "uploads/u1/a.dcm", DisplayName: "a.dcm", OwnerID: &owner, UploadedAt: &up, Resolved: true},
		{OriginalKey: "dir/b.pdf", StorageKey: "dir/b.pdf", DisplayName: "b.pdf"},
	}}
	h := newTestServer(t, f, nil, nil)

	rec := do(t, h, http.MethodPost, "/api/files/resolve", token(t, clientID), `{"fileKeys":["a","dir/b.pdf"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"resolvedKeys":[
		{"originalKey":"a","s3Key":"uploads/u1/a.dcm","fileName":"a.dcm","userId":"u1","uploadedAt":"2024-05-01T09:00:00.000Z","resolved":true},
		{"originalKey":"dir/b.pdf","s3Key":"dir/b.pdf","fileName":"b.pdf","userId":null,"uploadedAt":null,"resolved":false}
	]}`, rec.Body.String())
	assert.Equal(t, clientID, f.lastID)
	assert.JSONEq(t, `["a","dir/b.pdf"]`, string(f.lastRaw))
}

func TestResolve_EmptyResultIsArray(t *testing.T) {
	h := newTestServer(t, &fakeFiles{resolved: []models.ResolvedKey{}}, nil, nil)
	rec := do(t, h, http.MethodPost, "/api/files/resolve", token(t, clientID), `{"fileKeys":"not-a-list"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"resolvedKeys":[]}`, rec.Body.String())
}

func TestResolve_IndexFailureIs500(t *testing.T) {
	f := &fakeFiles{resolveErr: errors.New("storage index lookup: connection refused")}
	h := newTestServer(t, f, nil, nil)

	rec := do(t, h, http.MethodPost, "/api/files/resolve", token(t, clientID), `{"fileKeys":["a"]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestResolve_BadBody(t *testing.T) {
	h := newTestServer(t, &fakeFiles{}, nil, nil)
	rec := do(t, h, http.MethodPost, "/api/files/resolve", token(t, clientID), `{"fileKeys":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignedURL(t *testing.T) {
	exp := time.Date(2024, 5, 1, 9, 15, 0, 0, time.UTC)
	f := &fakeFiles{signed: &services.SignedURL{URL: "https://s3/x", Key: "uploads/u1/a", ExpiresAt: exp, ExpiresIn: 15 * time.Minute}}
	h := newTestServer(t, f, nil, nil)

	rec := do(t, h, http.MethodPost, "/api/files/signed-url", token(t, clientID), `{"key":"uploads/u1/a"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"https://s3/x","key":"uploads/u1/a","expiresAt":"2024-05-01T09:15:00.000Z","expiresIn":900}`, rec.Body.String())

	f.signErr = common.ErrorForbidden
	rec = do(t, h, http.MethodPost, "/api/files/signed-url", token(t, clientID), `{"key":"uploads/u2/a"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	f.signErr = common.ErrorInvalidKey
	rec = do(t, h, http.MethodPost, "/api/files/signed-url", token(t, clientID), `{"key":"../a"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownload(t *testing.T) {
	f := &fakeFiles{obj: &storage.Object{
		Body:          io.NopCloser(strings.NewReader("DICM")),
		ContentType:   "application/dicom",
		ContentLength: 4,
	}}
	h := newTestServer(t, f, nil, nil)

	rec := do(t, h, http.MethodGet, "/api/files/download?key=uploads/u1/study%201.dcm", token(t, clientID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DICM", rec.Body.String())
	assert.Equal(t, "application/dicom", rec.Header().Get("Content-Type"))
	assert.Equal(t, "4", rec.Header().Get("Content-Length"))
	assert.Equal(t, `attachment; filename="study 1.dcm"`, rec.Header().Get("Content-Disposition"))

	f.obj, f.openErr = nil, common.ErrorNotFound
	rec = do(t, h, http.MethodGet, "/api/files/download?key=uploads/u1/x", token(t, clientID), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateUpload(t *testing.T) {
	exp := time.Date(2024, 5, 1, 9, 15, 0, 0, time.UTC)
	f := &fakeFiles{ticket: &models.UploadTicket{
		Upload:     &models.Upload{ID: "id1", FileKey: "fk"},
		StorageKey: "uploads/u1/2024/5/1/id1/a.pdf",
		URL:        "https://s3/put",
		ExpiresAt:  exp,
	}}
	h := newTestServer(t, f, nil, nil)

	rec := do(t, h, http.MethodPost, "/api/uploads", token(t, clientID), `{"fileName":"a.pdf","contentType":" application/pdf ","fileKey":"fk"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":"id1","fileKey":"fk","s3Key":"uploads/u1/2024/5/1/id1/a.pdf","uploadUrl":"https://s3/put","expiresAt":"2024-05-01T09:15:00.000Z"}`, rec.Body.String())
	assert.Equal(t, []string{"a.pdf", "application/pdf", "fk"}, f.created)

	f.createErr = common.ErrorInvalidRequest
	rec = do(t, h, http.MethodPost, "/api/uploads", token(t, clientID), `{"fileName":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompleteUpload(t *testing.T) {
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	uploaded := created.Add(time.Minute)
	bucket := "uploads"
	f := &fakeFiles{completed: &models.Upload{
		ID: "id1", UserID: "u1", FileKey: "fk", FileName: "u1/a.pdf", BucketName: &bucket,
		DisplayName: "a.pdf", UploadStatus: common.UploadStatusCompleted, CreatedAt: created, UploadedAt: &uploaded,
	}}
	h := newTestServer(t, f, nil, nil)

	rec := do(t, h, http.MethodPost, "/api/uploads/id1/complete", token(t, clientID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "id1", f.completeID)
	assert.JSONEq(t, `{"id":"id1","userId":"u1","fileKey":"fk","s3Key":"uploads/u1/a.pdf","fileName":"a.pdf","status":"completed","createdAt":"2024-05-01T09:00:00.000Z","uploadedAt":"2024-05-01T09:01:00.000Z"}`, rec.Body.String())

	f.completeErr = common.ErrUploadAlreadyCompleted
	rec = do(t, h, http.MethodPost, "/api/uploads/id1/complete", token(t, clientID), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListUploads(t *testing.T) {
	f := &fakeFiles{list: []*models.Upload{{ID: "id1", UserID: "u2", FileName: "u2/a.pdf", UploadStatus: "pending"}}}
	h := newTestServer(t, f, nil, nil)

	rec := do(t, h, http.MethodGet, "/api/uploads?owner=u2&limit=5", token(t, staffID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u2", f.listOwner)
	assert.Equal(t, 5, f.listLimit)

	var resp listUploadsResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Uploads, 1)
	assert.Nil(t, resp.Uploads[0].UploadedAt)

	rec = do(t, h, http.MethodGet, "/api/uploads?limit=abc", token(t, staffID), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.list = nil
	rec = do(t, h, http.MethodGet, "/api/uploads", token(t, clientID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"uploads":[]}`, rec.Body.String())
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(t, &fakeFiles{}, nil, nil)
	rec := do(t, h, http.MethodGet, "/api/files/resolve", token(t, clientID), "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRateLimit(t *testing.T) {
	lim := ratelimit.New(2, time.Minute)
	h := newTestServer(t, &fakeFiles{resolved: []models.ResolvedKey{}}, lim, nil)

	tok := token(t, clientID)
	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodPost, "/api/files/resolve", tok, `{"fileKeys":[]}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/files/resolve", tok, `{"fileKeys":[]}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = do(t, h, http.MethodPost, "/api/files/resolve", token(t, staffID), `{"fileKeys":[]}`)
	assert.Equal(t, http.StatusOK, rec.Code, "other users have their own budget")
}

func TestLimitKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "addr:10.0.0.1", limitKey(req))

	req = req.WithContext(context.WithValue(req.Context(), identityKey, clientID))
	assert.Equal(t, "user:u1", limitKey(req))
}

func TestInstrument_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewHTTPMetricsWithRegistry(reg)
	h := newTestServer(t, &fakeFiles{resolved: []models.ResolvedKey{}}, nil, m)

	do(t, h, http.MethodPost, "/api/files/resolve", token(t, clientID), `{"fileKeys":[]}`)
	do(t, h, http.MethodPost, "/api/files/resolve", "", `{"fileKeys":[]}`)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST /api/files/resolve", "POST", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST /api/files/resolve", "POST", "401")))
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewHTTPServer(ln.Addr().String(), logging.Nop(), &fakeFiles{}, testSecret, nil, nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{common.ErrorInvalidRequest, http.StatusBadRequest},
		{common.ErrorInvalidKey, http.StatusBadRequest},
		{common.ErrorUnauthorized, http.StatusUnauthorized},
		{common.ErrTokenExpired, http.StatusUnauthorized},
		{common.ErrorForbidden, http.StatusForbidden},
		{common.ErrorNotFound, http.StatusNotFound},
		{common.ErrUploadAlreadyCompleted, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusTeapot, map[string]int{"a": 1})
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "{\"a\":1}\n", rec.Body.String())
	assert.True(t, bytes.HasSuffix(rec.Body.Bytes(), []byte("\n")))
}
