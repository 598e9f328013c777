// Package common defines shared constants and sentinel errors used across
// the imagingdesk server, repositories and operator tooling. Callers should
// use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")

	// Request validation errors.
	ErrorInvalidRequest = errors.New("invalid request")
	ErrorInvalidKey     = errors.New("invalid object key")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired = errors.New("token expired")

	// Upload lifecycle errors.
	ErrUploadAlreadyCompleted = errors.New("upload already completed")
)
