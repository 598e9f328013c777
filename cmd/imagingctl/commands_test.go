package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/imagingdesk/internal/server/access"
	"github.com/dmitrijs2005/imagingdesk/internal/server/auth"
	"github.com/dmitrijs2005/imagingdesk/internal/server/config"
	"github.com/dmitrijs2005/imagingdesk/internal/server/models"
	"github.com/dmitrijs2005/imagingdesk/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/imagingdesk/internal/server/repositories/uploads"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(strings.NewReader(stdin), &out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type fakeIndex struct {
	uploads.Repository
	records  []models.IndexRecord
	owner    *string
	migrated bool
	migErr   error
}

func (f *fakeIndex) FindByKeys(ctx context.Context, keys []string, ownerID *string) ([]models.IndexRecord, error) {
	f.owner = ownerID
	return f.records, nil
}

type fakeManager struct{ idx *fakeIndex }

func (m fakeManager) RunMigrations(ctx context.Context) error {
	m.idx.migrated = true
	return m.idx.migErr
}
func (m fakeManager) Uploads() uploads.Repository { return m.idx }
func (m fakeManager) WithTx(ctx context.Context, fn func(context.Context, uploads.Repository) error) error {
	return fn(ctx, m.idx)
}

func withIndex(t *testing.T, idx *fakeIndex) *config.Config {
	t.Helper()
	var seen config.Config
	orig := openIndex
	openIndex = func(ctx context.Context, cfg *config.Config) (repomanager.RepositoryManager, func() error, error) {
		seen = *cfg
		return fakeManager{idx: idx}, func() error { return nil }, nil
	}
	t.Cleanup(func() { openIndex = orig })
	return &seen
}

func TestNormalize(t *testing.T) {
	out, err := run(t, "", "normalize", `["a", {"key":"b"}, "", null, {"s3_key":"c"}]`)
	require.NoError(t, err)

	var keys []string
	require.NoError(t, json.Unmarshal([]byte(out), &keys))
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	out, err = run(t, `{"not":"a list"}`, "normalize")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestObjectKey(t *testing.T) {
	out, err := run(t, "", "objectkey", "u1/a.pdf", "--prefix", " uploads ")
	require.NoError(t, err)
	assert.Equal(t, "uploads/u1/a.pdf\n", out)

	out, err = run(t, "", "objectkey", "u1/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "u1/a.pdf\n", out)

	_, err = run(t, "", "objectkey")
	require.Error(t, err)
}

func TestDevToken(t *testing.T) {
	out, err := run(t, "", "dev-token", "--user", "u1", "--role", "staff", "--secret", "s3cr3t", "--ttl", "5m")
	require.NoError(t, err)

	id, err := auth.ParseToken(strings.TrimSpace(out), []byte("s3cr3t"))
	require.NoError(t, err)
	assert.Equal(t, access.Identity{UserID: "u1", Role: "staff"}, id)

	_, err = run(t, "", "dev-token")
	require.Error(t, err, "--user is required")
}

func TestDevToken_UsesConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"secret_key":"from-file"}`), 0o600))

	out, err := run(t, "", "-c", path, "dev-token", "--user", "u1")
	require.NoError(t, err)
	_, err = auth.ParseToken(strings.TrimSpace(out), []byte("from-file"))
	require.NoError(t, err)

	_, err = run(t, "", "-c", filepath.Join(t.TempDir(), "missing.json"), "dev-token", "--user", "u1")
	require.Error(t, err)
}

func TestMigrate(t *testing.T) {
	idx := &fakeIndex{}
	seen := withIndex(t, idx)

	out, err := run(t, "", "migrate", "--dsn", "postgres://x", "--backend", "postgres")
	require.NoError(t, err)
	assert.True(t, idx.migrated)
	assert.Equal(t, "postgres://x", seen.DatabaseDSN)
	assert.Contains(t, out, "storage index (postgres) is up to date")

	idx.migErr = errors.New("boom")
	_, err = run(t, "", "migrate")
	require.ErrorContains(t, err, "migrate: boom")
}

func TestResolve(t *testing.T) {
	up := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	idx := &fakeIndex{records: []models.IndexRecord{
		{FileKey: "b", StorageKey: "uploads/u1/b.dcm", DisplayName: "b.dcm", OwnerID: "u1", UploadedAt: &up, Seq: 1},
	}}
	withIndex(t, idx)

	out, err := run(t, "", "resolve", "--user", "u1", "--role", "client", `["a", {"key":"b"}]`)
	require.NoError(t, err)
	require.NotNil(t, idx.owner)
	assert.Equal(t, "u1", *idx.owner)

	var got []models.ResolvedKey
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	assert.False(t, got[0].Resolved)
	assert.Equal(t, "a", got[0].StorageKey)
	assert.True(t, got[1].Resolved)
	assert.Equal(t, "uploads/u1/b.dcm", got[1].StorageKey)

	_, err = run(t, "", "resolve", `["a"]`)
	require.NoError(t, err)
	assert.Nil(t, idx.owner, "admin is the default role and is not filtered")
}
