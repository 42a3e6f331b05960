// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned by repositories when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by repositories when a unique constraint is violated.
var ErrDuplicate = errors.New("duplicate")

// Kind is the machine-readable failure category carried as the oops code of
// every error returned by this package's services.
type Kind string

// Failure kinds.
const (
	KindInvalidKeyFormat     Kind = "INVALID_KEY_FORMAT"
	KindUnsupportedKeyType   Kind = "UNSUPPORTED_KEY_TYPE"
	KindInvalidKeyData       Kind = "INVALID_KEY_DATA"
	KindDuplicateKey         Kind = "DUPLICATE_KEY"
	KindKeyNotFound          Kind = "KEY_NOT_FOUND"
	KindInvalidChallenge     Kind = "INVALID_CHALLENGE"
	KindChallengeExpired     Kind = "CHALLENGE_EXPIRED"
	KindAuthenticationFailed Kind = "AUTHENTICATION_FAILED"
	KindSessionNotFound      Kind = "SESSION_NOT_FOUND"
	KindSessionExpired       Kind = "SESSION_EXPIRED"
	KindStorage              Kind = "STORAGE_ERROR"
)

// PublicAuthFailure is the only message a client ever sees for a failed
// authentication attempt, whatever the underlying kind.
const PublicAuthFailure = "authentication failed"

// KindOf returns the failure kind of err, or the empty Kind if err is nil or
// was not produced by this package.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, ok := oopsErr.Code().(string)
	if !ok {
		return ""
	}
	return Kind(code)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// PublicMessage returns the message safe to show to a remote client.
// Every failure on the authentication path collapses to PublicAuthFailure so
// that a hostile client cannot enumerate keys, challenges, or sessions.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindInvalidKeyFormat, KindUnsupportedKeyType, KindInvalidKeyData:
		return "invalid public key"
	case KindDuplicateKey:
		return "public key could not be registered"
	default:
		return PublicAuthFailure
	}
}

// storageError wraps a repository failure as STORAGE_ERROR.
func storageError(operation string, err error) error {
	return oops.Code(string(KindStorage)).
		With("operation", operation).
		Wrap(err)
}
