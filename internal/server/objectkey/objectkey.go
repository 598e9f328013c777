// Package objectkey derives bucket-relative S3 object keys from stored rows.
package objectkey

import "strings"

// Row is the part of a stored upload row that addresses its object.
// BucketPrefix is nil when the column is NULL.
type Row struct {
	FileName     string
	BucketPrefix *string
}

// Build returns BucketPrefix + "/" + FileName when the prefix is non-blank
// after trimming, and FileName alone otherwise. An empty file name under a
// prefix yields "prefix/".
func Build(row Row) string {
	var prefix string
	if row.BucketPrefix != nil {
		prefix = strings.TrimSpace(*row.BucketPrefix)
	}
	return Join(prefix, row.FileName)
}

// Join is Build for plain strings.
func Join(prefix, fileName string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return fileName
	}
	return prefix + "/" + fileName
}

// BaseName returns the last path segment of key, i.e. everything after the
// final "/", or key itself when it has no slash.
func BaseName(key string) string {
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[i+1:]
	}
	return key
}
