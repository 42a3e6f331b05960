// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"golang.org/x/crypto/ssh"
)

// Supported public key algorithms.
const (
	KeyTypeRSA       = ssh.KeyAlgoRSA
	KeyTypeED25519   = ssh.KeyAlgoED25519
	KeyTypeECDSA256  = ssh.KeyAlgoECDSA256
	KeyTypeECDSA384  = ssh.KeyAlgoECDSA384
	KeyTypeECDSA521  = ssh.KeyAlgoECDSA521
	minKeyDataLength = 20
)

var supportedKeyTypes = map[string]struct{}{
	KeyTypeRSA:      {},
	KeyTypeED25519:  {},
	KeyTypeECDSA256: {},
	KeyTypeECDSA384: {},
	KeyTypeECDSA521: {},
}

// IsSupportedKeyType reports whether keyType is an accepted algorithm tag.
func IsSupportedKeyType(keyType string) bool {
	_, ok := supportedKeyTypes[keyType]
	return ok
}

// ParsedKey is an authorized_keys style line split into its parts.
type ParsedKey struct {
	Type        string
	Base64Key   string
	Comment     string
	KeyBytes    []byte
	Fingerprint string
}

// AuthorizedKey returns "type base64" without the comment.
func (k *ParsedKey) AuthorizedKey() string {
	return k.Type + " " + k.Base64Key
}

// ParsePublicKey parses an authorized_keys style line such as
// "ssh-ed25519 AAAAC3Nza... alice@laptop".
//
// The key blob must decode from base64 and must itself be an SSH wire-format
// key of the declared type.
func ParsePublicKey(raw string) (*ParsedKey, error) {
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return nil, oops.Code(string(KindInvalidKeyFormat)).
			With("fields", len(fields)).
			Errorf("public key must have at least a type and key field")
	}

	keyType, encoded := fields[0], fields[1]
	if !IsSupportedKeyType(keyType) {
		return nil, oops.Code(string(KindUnsupportedKeyType)).
			With("key_type", keyType).
			Errorf("unsupported key type %q", keyType)
	}

	keyBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, oops.Code(string(KindInvalidKeyData)).
			With("key_type", keyType).
			Wrapf(err, "key data is not valid base64")
	}
	if len(keyBytes) < minKeyDataLength {
		return nil, oops.Code(string(KindInvalidKeyData)).
			With("key_type", keyType).
			With("length", len(keyBytes)).
			Errorf("key data too short")
	}

	pub, err := ssh.ParsePublicKey(keyBytes)
	if err != nil {
		return nil, oops.Code(string(KindInvalidKeyData)).
			With("key_type", keyType).
			Wrapf(err, "key data is not an SSH public key")
	}
	if pub.Type() != keyType {
		return nil, oops.Code(string(KindInvalidKeyData)).
			With("key_type", keyType).
			With("embedded_type", pub.Type()).
			Errorf("key data does not match declared key type")
	}

	return &ParsedKey{
		Type:        keyType,
		Base64Key:   encoded,
		Comment:     strings.Join(fields[2:], " "),
		KeyBytes:    keyBytes,
		Fingerprint: Fingerprint(keyBytes),
	}, nil
}

// Fingerprint computes the OpenSSH SHA256 fingerprint of a wire-format key:
// "SHA256:" followed by unpadded standard base64 of the digest.
func Fingerprint(keyBytes []byte) string {
	sum := sha256.Sum256(keyBytes)
	return "SHA256:" + base64.RawStdEncoding.EncodeToString(sum[:])
}

// RegisteredKey is a public key bound to a player.
type RegisteredKey struct {
	ID          ulid.ULID
	PlayerID    ulid.ULID
	Name        string
	KeyType     string
	KeyBytes    []byte
	Fingerprint string
	LastUsedAt  *time.Time // nil until first successful authentication
	CreatedAt   time.Time
}

// NewRegisteredKey creates a validated RegisteredKey from a parsed key.
func NewRegisteredKey(playerID ulid.ULID, name string, parsed *ParsedKey, now time.Time) (*RegisteredKey, error) {
	if playerID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code(string(KindInvalidKeyFormat)).Errorf("player ID cannot be zero")
	}
	if parsed == nil {
		return nil, oops.Code(string(KindInvalidKeyFormat)).Errorf("parsed key cannot be nil")
	}
	if name == "" {
		name = parsed.Comment
	}
	return &RegisteredKey{
		ID:          ulid.Make(),
		PlayerID:    playerID,
		Name:        name,
		KeyType:     parsed.Type,
		KeyBytes:    parsed.KeyBytes,
		Fingerprint: parsed.Fingerprint,
		CreatedAt:   now,
	}, nil
}

// AuthorizedKey renders the key as "type base64", the stored public_key form.
func (k *RegisteredKey) AuthorizedKey() string {
	return k.KeyType + " " + base64.StdEncoding.EncodeToString(k.KeyBytes)
}

// KeyRepository manages public key persistence.
type KeyRepository interface {
	// Create stores a new key. Returns an error wrapping ErrDuplicate if the
	// fingerprint is already registered to any player.
	Create(ctx context.Context, key *RegisteredKey) error

	// GetByFingerprint retrieves a key by fingerprint.
	GetByFingerprint(ctx context.Context, fingerprint string) (*RegisteredKey, error)

	// ListByPlayer retrieves all keys owned by a player, oldest first.
	ListByPlayer(ctx context.Context, playerID ulid.ULID) ([]*RegisteredKey, error)

	// UpdateLastUsed sets the last-used timestamp of a key.
	UpdateLastUsed(ctx context.Context, id ulid.ULID, at time.Time) error

	// DeleteOwned removes a key only if it is owned by playerID. Returns an
	// error wrapping ErrNotFound if no such key exists for that player.
	DeleteOwned(ctx context.Context, playerID, id ulid.ULID) error
}
