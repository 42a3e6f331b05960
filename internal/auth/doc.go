// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides passwordless public-key authentication and session
// lifecycle management for HoloMUSH.
//
// # Flow
//
// A player registers one or more SSH public keys. On each connection the
// gateway asks for a challenge bound to a key fingerprint, relays the nonce to
// the client, and submits the client's signature. A valid signature yields the
// owning player ID, and a session token is issued that the gateway presents on
// every later request.
//
// # Components
//
//   - KeyRegistry - parses, fingerprints, and stores public keys
//   - SignatureVerifier - per-algorithm SSH signature verification
//   - ChallengeService - single-use, short-lived challenges over a ChallengeStore
//   - SessionManager - session tokens, expiry, and character binding
//   - Service - the facade the network layer calls
//   - Sweeper - background eviction of expired challenges and sessions
//
// # Errors
//
// Every operation returns errors carrying one of the Kind codes defined in
// errors.go. Use KindOf to inspect them and PublicMessage to render the
// single client-facing message for the authentication path.
package auth
