// Package resolver maps canonical file keys onto the authoritative storage
// objects recorded in the storage index.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/imagingdesk/internal/server/access"
	"github.com/dmitrijs2005/imagingdesk/internal/server/models"
	"github.com/dmitrijs2005/imagingdesk/internal/server/objectkey"
)

// Index is the storage-index query the resolver depends on. ownerID == nil
// means no owner filter. Implementations return every matching record; the
// resolver picks the authoritative one.
type Index interface {
	FindByKeys(ctx context.Context, keys []string, ownerID *string) ([]models.IndexRecord, error)
}

// Observer receives resolution outcomes. It may be nil.
type Observer interface {
	ObserveResolution(resolved, fallback int)
}

// Resolver resolves canonical keys for a requester.
type Resolver struct {
	index    Index
	policy   *access.Policy
	observer Observer
}

// New constructs a Resolver.
func New(index Index, policy *access.Policy, observer Observer) *Resolver {
	return &Resolver{index: index, policy: policy, observer: observer}
}

// Resolve returns exactly one ResolvedKey per input key, in input order.
// Keys with no visible index record resolve to themselves. An index failure
// fails the whole call.
func (r *Resolver) Resolve(ctx context.Context, keys []string, requester access.Identity) ([]models.ResolvedKey, error) {
	if len(keys) == 0 {
		return []models.ResolvedKey{}, nil
	}

	var ownerFilter *string
	if owner, filtered := r.policy.OwnerFilter(requester); filtered {
		ownerFilter = &owner
	}

	records, err := r.index.FindByKeys(ctx, distinct(keys), ownerFilter)
	if err != nil {
		return nil, fmt.Errorf("storage index lookup: %w", err)
	}

	latest := Latest(records)

	result := make([]models.ResolvedKey, 0, len(keys))
	resolved := 0
	for _, key := range keys {
		rec, ok := latest[key]
		if !ok {
			result = append(result, Fallback(key))
			continue
		}
		resolved++
		owner := rec.OwnerID
		result = append(result, models.ResolvedKey{
			OriginalKey: key,
			StorageKey:  rec.StorageKey,
			DisplayName: rec.DisplayName,
			OwnerID:     &owner,
			UploadedAt:  ValidTime(rec.UploadedAt),
			Resolved:    true,
		})
	}

	if r.observer != nil {
		r.observer.ObserveResolution(resolved, len(keys)-resolved)
	}

	return result, nil
}

// Fallback is the result for a key without an index record.
func Fallback(key string) models.ResolvedKey {
	return models.ResolvedKey{
		OriginalKey: key,
		StorageKey:  key,
		DisplayName: objectkey.BaseName(key),
	}
}

// Latest picks, per file key, the record with the most recent upload time.
// Records without a usable time lose to any record that has one; remaining
// ties go to the record with the higher Seq, then to the later position in
// records.
func Latest(records []models.IndexRecord) map[string]models.IndexRecord {
	latest := make(map[string]models.IndexRecord, len(records))
	for _, rec := range records {
		cur, ok := latest[rec.FileKey]
		if !ok || newer(rec, cur) {
			latest[rec.FileKey] = rec
		}
	}
	return latest
}

// newer reports whether a should replace b. Equal records prefer a, which
// makes later records win full ties.
func newer(a, b models.IndexRecord) bool {
	at, bt := ValidTime(a.UploadedAt), ValidTime(b.UploadedAt)
	switch {
	case at != nil && bt == nil:
		return true
	case at == nil && bt != nil:
		return false
	case at != nil && bt != nil && !at.Equal(*bt):
		return at.After(*bt)
	}
	return a.Seq >= b.Seq
}

// ValidTime returns t in UTC, or nil when t is nil or the zero time.
func ValidTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func distinct(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
