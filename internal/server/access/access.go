// Package access decides whether an identity may read a stored object.
//
// The same Policy answers both questions the server asks: which owner filter
// the resolver applies to storage-index lookups, and whether a caller may
// sign or download a given object key.
package access

import (
	"strings"
)

// Well-known roles. Any other role string is treated as non-elevated.
const (
	RoleAdmin  = "admin"
	RoleStaff  = "staff"
	RoleClient = "client"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Role   string
}

// Policy holds the elevated role set and the object root under which
// per-user upload folders live.
type Policy struct {
	elevated map[string]struct{}
	root     string
}

// NewPolicy builds a Policy. Role names are compared case-insensitively.
// root is the upload key prefix (e.g. "uploads"); it may be empty.
func NewPolicy(elevatedRoles []string, root string) *Policy {
	p := &Policy{
		elevated: make(map[string]struct{}, len(elevatedRoles)),
		root:     strings.Trim(strings.TrimSpace(root), "/"),
	}
	for _, r := range elevatedRoles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			p.elevated[r] = struct{}{}
		}
	}
	return p
}

// DefaultPolicy treats admin and staff as elevated.
func DefaultPolicy(root string) *Policy {
	return NewPolicy([]string{RoleAdmin, RoleStaff}, root)
}

// IsElevated reports whether id may bypass per-owner isolation.
func (p *Policy) IsElevated(id Identity) bool {
	_, ok := p.elevated[strings.ToLower(strings.TrimSpace(id.Role))]
	return ok
}

// OwnerFilter returns the owner id storage-index lookups must be restricted
// to. filtered is false for elevated identities.
func (p *Policy) OwnerFilter(id Identity) (owner string, filtered bool) {
	if p.IsElevated(id) {
		return "", false
	}
	return id.UserID, true
}

// CanRead reports whether id may obtain objectKey. Elevated identities may
// read any well-formed key; everyone else only keys inside their own folder,
// i.e. "<root>/<userID>/..." (or "<userID>/..." without a root).
func (p *Policy) CanRead(id Identity, objectKey string) bool {
	if !WellFormed(objectKey) {
		return false
	}
	if p.IsElevated(id) {
		return true
	}
	if id.UserID == "" {
		return false
	}
	return strings.HasPrefix(objectKey, p.UserPrefix(id.UserID))
}

// UserPrefix is the key prefix of userID's upload folder, with trailing slash.
func (p *Policy) UserPrefix(userID string) string {
	if p.root == "" {
		return userID + "/"
	}
	return p.root + "/" + userID + "/"
}

// Root returns the normalized upload root.
func (p *Policy) Root() string {
	return p.root
}

// WellFormed rejects empty keys, absolute keys, empty segments and
// "." / ".." segments.
func WellFormed(objectKey string) bool {
	if objectKey == "" || strings.HasPrefix(objectKey, "/") {
		return false
	}
	for _, seg := range strings.Split(objectKey, "/") {
		switch seg {
		case "", ".", "..":
			return false
		}
	}
	return true
}
