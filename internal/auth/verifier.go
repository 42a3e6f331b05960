// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"github.com/samber/oops"
	"golang.org/x/crypto/ssh"
)

// SignatureVerifier checks a signature over a challenge nonce.
//
// Verify returns (true, nil) only for a cryptographically valid signature.
// It returns (false, nil) when the signature does not verify or its algorithm
// is not allowed for keyType, and (false, err) when the key or signature
// cannot be decoded at all.
type SignatureVerifier interface {
	Verify(keyType string, keyBytes, nonce, signature []byte) (bool, error)
}

// allowedSignatureFormats lists the SSH signature formats accepted per key type.
// SHA-1 "ssh-rsa" signatures are deliberately absent.
var allowedSignatureFormats = map[string][]string{
	KeyTypeRSA:      {ssh.KeyAlgoRSASHA256, ssh.KeyAlgoRSASHA512},
	KeyTypeED25519:  {ssh.KeyAlgoED25519},
	KeyTypeECDSA256: {ssh.KeyAlgoECDSA256},
	KeyTypeECDSA384: {ssh.KeyAlgoECDSA384},
	KeyTypeECDSA521: {ssh.KeyAlgoECDSA521},
}

// SSHVerifier verifies SSH wire-format signatures (string format, string blob)
// using golang.org/x/crypto/ssh.
type SSHVerifier struct{}

// NewSSHVerifier creates an SSHVerifier.
func NewSSHVerifier() *SSHVerifier {
	return &SSHVerifier{}
}

// AllowsSignatureFormat reports whether a signature in format may be used with
// a key of keyType.
func AllowsSignatureFormat(keyType, format string) bool {
	for _, allowed := range allowedSignatureFormats[keyType] {
		if allowed == format {
			return true
		}
	}
	return false
}

// Verify implements SignatureVerifier.
func (v *SSHVerifier) Verify(keyType string, keyBytes, nonce, signature []byte) (bool, error) {
	if !IsSupportedKeyType(keyType) {
		return false, oops.Code(string(KindUnsupportedKeyType)).
			With("key_type", keyType).
			Errorf("unsupported key type %q", keyType)
	}

	pub, err := ssh.ParsePublicKey(keyBytes)
	if err != nil {
		return false, oops.Code(string(KindInvalidKeyData)).
			With("key_type", keyType).
			Wrapf(err, "parse public key")
	}
	if pub.Type() != keyType {
		return false, oops.Code(string(KindInvalidKeyData)).
			With("key_type", keyType).
			With("embedded_type", pub.Type()).
			Errorf("key data does not match declared key type")
	}

	var sig ssh.Signature
	if err := ssh.Unmarshal(signature, &sig); err != nil {
		return false, oops.Code(string(KindAuthenticationFailed)).
			With("key_type", keyType).
			Wrapf(err, "decode signature")
	}

	// Reject before doing any crypto when the declared algorithm cannot belong
	// to this key.
	if !AllowsSignatureFormat(keyType, sig.Format) || len(sig.Rest) > 0 {
		return false, nil
	}

	if err := pub.Verify(nonce, &sig); err != nil {
		return false, nil
	}
	return true, nil
}
