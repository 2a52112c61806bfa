// Package common defines shared constants and sentinel errors used across
// the sync engine's layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")

	// Token lifecycle errors (homeserver session).
	ErrTokenExpired = errors.New("token expired")
)
