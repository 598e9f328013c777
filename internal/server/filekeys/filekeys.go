// Package filekeys reduces the file references clients send to an ordered
// list of canonical keys.
//
// Clients reference stored artifacts either by the raw key string or by a
// record copied from an earlier response, e.g. {"key": "..."}, {"s3_key": ...},
// {"s3Key": ...} or {"path": ...}. Everything else is ignored: malformed input
// never fails a request, it only yields fewer keys.
package filekeys

import (
	"bytes"
	"encoding/json"
)

// Kind tells which wire shape a FileKey was decoded from.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindObject
)

// objectFields lists the record fields checked for a key, highest priority first.
var objectFields = []string{"key", "s3_key", "s3Key", "path"}

// FileKey is one client-submitted file reference. Decoding never fails:
// unusable values decode to KindInvalid with an empty Key.
type FileKey struct {
	Kind Kind
	Key  string
}

// Valid reports whether the reference carries a usable key.
func (k FileKey) Valid() bool {
	return k.Kind != KindInvalid && k.Key != ""
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *FileKey) UnmarshalJSON(b []byte) error {
	*k = FileKey{}

	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err == nil && s != "" {
			*k = FileKey{Kind: KindString, Key: s}
		}
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(b, &fields); err != nil {
			return nil
		}
		for _, name := range objectFields {
			raw, ok := fields[name]
			if !ok {
				continue
			}
			var s string
			if err := json.Unmarshal(raw, &s); err == nil && s != "" {
				*k = FileKey{Kind: KindObject, Key: s}
				return nil
			}
		}
	}

	return nil
}

// Normalize decodes a JSON value holding file references and returns the
// canonical keys in input order. Duplicates are kept. Anything other than a
// JSON array yields an empty, non-nil slice.
func Normalize(raw json.RawMessage) []string {
	var refs []FileKey
	if err := json.Unmarshal(raw, &refs); err != nil {
		return []string{}
	}
	return Keys(refs)
}

// Keys extracts the keys of the valid references, preserving order.
func Keys(refs []FileKey) []string {
	keys := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.Valid() {
			keys = append(keys, r.Key)
		}
	}
	return keys
}

// NormalizeValue is Normalize for values already decoded into Go types,
// as produced by encoding/json into an any, or built by hand.
func NormalizeValue(v any) []string {
	switch items := v.(type) {
	case []string:
		keys := make([]string, 0, len(items))
		for _, s := range items {
			if s != "" {
				keys = append(keys, s)
			}
		}
		return keys
	case []any:
		keys := make([]string, 0, len(items))
		for _, item := range items {
			if key, ok := valueKey(item); ok {
				keys = append(keys, key)
			}
		}
		return keys
	case []map[string]any:
		keys := make([]string, 0, len(items))
		for _, item := range items {
			if key, ok := valueKey(item); ok {
				keys = append(keys, key)
			}
		}
		return keys
	default:
		return []string{}
	}
}

func valueKey(item any) (string, bool) {
	switch v := item.(type) {
	case string:
		return v, v != ""
	case map[string]any:
		for _, name := range objectFields {
			if s, ok := v[name].(string); ok && s != "" {
				return s, true
			}
		}
	case map[string]string:
		for _, name := range objectFields {
			if s := v[name]; s != "" {
				return s, true
			}
		}
	}
	return "", false
}
