// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package authtest provides in-memory repositories and SSH key helpers for
// testing code built on the auth package.
package authtest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/holomush/keyauth/internal/auth"
)

// TestKey is a freshly generated SSH key pair.
type TestKey struct {
	Signer        ssh.Signer
	AuthorizedKey string // "type base64 comment"
	Fingerprint   string
}

// NewTestKey generates a key pair of the given SSH key type.
func NewTestKey(t testing.TB, keyType string) *TestKey {
	t.Helper()

	var priv crypto.Signer
	var err error
	switch keyType {
	case auth.KeyTypeED25519:
		_, priv, err = ed25519.GenerateKey(rand.Reader)
	case auth.KeyTypeECDSA256:
		priv, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case auth.KeyTypeECDSA384:
		priv, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case auth.KeyTypeECDSA521:
		priv, err = ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	case auth.KeyTypeRSA:
		priv, err = rsa.GenerateKey(rand.Reader, 2048)
	default:
		t.Fatalf("authtest: unsupported key type %q", keyType)
	}
	require.NoError(t, err)

	signer, err := ssh.NewSignerFromSigner(priv)
	require.NoError(t, err)

	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey())))
	return &TestKey{
		Signer:        signer,
		AuthorizedKey: line + " test@authtest",
		Fingerprint:   ssh.FingerprintSHA256(signer.PublicKey()),
	}
}

// NewED25519Key is shorthand for NewTestKey(t, auth.KeyTypeED25519).
func NewED25519Key(t testing.TB) *TestKey {
	t.Helper()
	return NewTestKey(t, auth.KeyTypeED25519)
}

// Sign returns the SSH wire-format signature over data. RSA keys sign with
// rsa-sha2-256.
func (k *TestKey) Sign(t testing.TB, data []byte) []byte {
	t.Helper()
	if k.Signer.PublicKey().Type() == auth.KeyTypeRSA {
		return k.SignWithAlgorithm(t, data, ssh.KeyAlgoRSASHA256)
	}
	sig, err := k.Signer.Sign(rand.Reader, data)
	require.NoError(t, err)
	return ssh.Marshal(sig)
}

// SignWithAlgorithm signs data with an explicit signature algorithm.
func (k *TestKey) SignWithAlgorithm(t testing.TB, data []byte, algorithm string) []byte {
	t.Helper()
	algSigner, ok := k.Signer.(ssh.AlgorithmSigner)
	require.True(t, ok, "signer does not support explicit algorithms")
	sig, err := algSigner.SignWithAlgorithm(rand.Reader, data, algorithm)
	require.NoError(t, err)
	return ssh.Marshal(sig)
}
