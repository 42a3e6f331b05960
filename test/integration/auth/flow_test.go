// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package auth_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"golang.org/x/crypto/ssh"

	"github.com/holomush/keyauth/internal/auth"
	"github.com/holomush/keyauth/internal/auth/events"
)

type playerKey struct {
	signer        ssh.Signer
	authorizedKey string
	fingerprint   string
}

func newPlayerKey() *playerKey {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	Expect(err).NotTo(HaveOccurred())
	signer, err := ssh.NewSignerFromKey(priv)
	Expect(err).NotTo(HaveOccurred())
	return &playerKey{
		signer:        signer,
		authorizedKey: strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey()))) + " player@laptop",
		fingerprint:   ssh.FingerprintSHA256(signer.PublicKey()),
	}
}

func (k *playerKey) sign(data []byte) []byte {
	sig, err := k.signer.Sign(rand.Reader, data)
	Expect(err).NotTo(HaveOccurred())
	return ssh.Marshal(sig)
}

func nextEvent(msgs <-chan *message.Message) auth.SessionEvent {
	var msg *message.Message
	Eventually(msgs, 5*time.Second).Should(Receive(&msg))
	msg.Ack()
	event, err := events.Decode(msg)
	Expect(err).NotTo(HaveOccurred())
	return event
}

var _ = Describe("Public key authentication", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		service *auth.Service
		msgs    <-chan *message.Message
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(env.ctx)
		DeferCleanup(func() { cancel() })

		var err error
		msgs, err = env.pubSub.Subscribe(ctx, events.DefaultTopic)
		Expect(err).NotTo(HaveOccurred())
		service = env.newService()
	})

	login := func(key *playerKey, device string) (*auth.Session, string) {
		ch, err := service.StartChallenge(ctx, key.fingerprint)
		Expect(err).NotTo(HaveOccurred())
		session, token, err := service.CompleteChallenge(ctx, ch.ID, key.sign(ch.Nonce), device)
		Expect(err).NotTo(HaveOccurred())
		return session, token
	}

	Describe("full session lifecycle", func() {
		It("registers a key, logs in, binds a character, and logs out", func() {
			player := env.createPlayer("alice")
			key := newPlayerKey()

			registered, err := service.RegisterKey(ctx, player, key.authorizedKey, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(registered.Fingerprint).To(Equal(key.fingerprint))
			Expect(registered.Name).To(Equal("player@laptop"))

			session, token := login(key, "telnet 198.51.100.4")
			Expect(session.PlayerUsername).To(Equal("alice"))
			Expect(token).NotTo(BeEmpty())
			Expect(nextEvent(msgs).Type).To(Equal(auth.EventSessionCreated))

			keys, err := service.ListKeys(ctx, player)
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(HaveLen(1))
			Expect(keys[0].LastUsedAt).NotTo(BeNil(), "login records key usage")

			info, err := service.ValidateSession(ctx, token)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.SessionID).To(Equal(session.ID))
			Expect(info.Character.IsBound()).To(BeFalse())

			characterID, realmID := ulid.Make(), ulid.Make()
			Expect(service.AttachCharacter(ctx, session.ID, characterID, "Mirabel", realmID)).To(Succeed())
			attached := nextEvent(msgs)
			Expect(attached.Type).To(Equal(auth.EventCharacterAttached))
			Expect(attached.CharacterID).To(HaveValue(Equal(characterID)))

			info, err = service.ValidateSession(ctx, token)
			Expect(err).NotTo(HaveOccurred())
			bound, ok := info.Character.Bound()
			Expect(ok).To(BeTrue())
			Expect(bound.CharacterName).To(Equal("Mirabel"))
			Expect(bound.RealmID).To(Equal(realmID))

			Expect(service.DetachCharacter(ctx, session.ID)).To(Succeed())
			Expect(nextEvent(msgs).Type).To(Equal(auth.EventCharacterDetached))

			Expect(service.Logout(ctx, token)).To(Succeed())
			Expect(nextEvent(msgs).Type).To(Equal(auth.EventSessionInvalidated))

			_, err = service.ValidateSession(ctx, token)
			Expect(auth.IsKind(err, auth.KindSessionNotFound)).To(BeTrue())
		})
	})

	Describe("challenge handling", func() {
		It("consumes a challenge exactly once", func() {
			player := env.createPlayer("bob")
			key := newPlayerKey()
			_, err := service.RegisterKey(ctx, player, key.authorizedKey, "desktop")
			Expect(err).NotTo(HaveOccurred())

			ch, err := service.StartChallenge(ctx, key.fingerprint)
			Expect(err).NotTo(HaveOccurred())
			sig := key.sign(ch.Nonce)

			_, _, err = service.CompleteChallenge(ctx, ch.ID, sig, "")
			Expect(err).NotTo(HaveOccurred())

			_, _, err = service.CompleteChallenge(ctx, ch.ID, sig, "")
			Expect(auth.IsKind(err, auth.KindInvalidChallenge)).To(BeTrue())
			Expect(auth.PublicMessage(err)).To(Equal(auth.PublicAuthFailure))
		})

		It("rejects a signature from a different key", func() {
			player := env.createPlayer("carol")
			key := newPlayerKey()
			_, err := service.RegisterKey(ctx, player, key.authorizedKey, "")
			Expect(err).NotTo(HaveOccurred())

			ch, err := service.StartChallenge(ctx, key.fingerprint)
			Expect(err).NotTo(HaveOccurred())

			_, _, err = service.CompleteChallenge(ctx, ch.ID, newPlayerKey().sign(ch.Nonce), "")
			Expect(auth.IsKind(err, auth.KindAuthenticationFailed)).To(BeTrue())
		})

		It("refuses to issue a challenge for an unknown fingerprint", func() {
			_, err := service.StartChallenge(ctx, newPlayerKey().fingerprint)
			Expect(auth.IsKind(err, auth.KindKeyNotFound)).To(BeTrue())
			Expect(auth.PublicMessage(err)).To(Equal(auth.PublicAuthFailure))
		})
	})

	Describe("key management", func() {
		It("rejects a key registered to another player", func() {
			alice := env.createPlayer("dave")
			bob := env.createPlayer("erin")
			key := newPlayerKey()

			_, err := service.RegisterKey(ctx, alice, key.authorizedKey, "")
			Expect(err).NotTo(HaveOccurred())
			_, err = service.RegisterKey(ctx, bob, key.authorizedKey, "")
			Expect(auth.IsKind(err, auth.KindDuplicateKey)).To(BeTrue())
		})

		It("revokes sessions when a key is removed with revocation", func() {
			player := env.createPlayer("frank")
			key := newPlayerKey()
			registered, err := service.RegisterKey(ctx, player, key.authorizedKey, "")
			Expect(err).NotTo(HaveOccurred())

			_, token := login(key, "web")
			Expect(service.RemoveKey(ctx, player, registered.ID, true)).To(Succeed())

			_, err = service.ValidateSession(ctx, token)
			Expect(auth.IsKind(err, auth.KindSessionNotFound)).To(BeTrue())
			_, err = service.StartChallenge(ctx, key.fingerprint)
			Expect(auth.IsKind(err, auth.KindKeyNotFound)).To(BeTrue())
		})
	})

	Describe("session expiry", func() {
		It("reports expired sessions and removes them on validation", func() {
			now := time.Now()
			clock := func() time.Time { return now }
			expiring := env.newService(auth.WithClock(clock), auth.WithSessionTTL(time.Minute))

			player := env.createPlayer("grace")
			key := newPlayerKey()
			_, err := expiring.RegisterKey(ctx, player, key.authorizedKey, "")
			Expect(err).NotTo(HaveOccurred())

			ch, err := expiring.StartChallenge(ctx, key.fingerprint)
			Expect(err).NotTo(HaveOccurred())
			_, token, err := expiring.CompleteChallenge(ctx, ch.ID, key.sign(ch.Nonce), "")
			Expect(err).NotTo(HaveOccurred())

			now = now.Add(2 * time.Minute)
			_, err = expiring.ValidateSession(ctx, token)
			Expect(auth.IsKind(err, auth.KindSessionExpired)).To(BeTrue())

			_, err = expiring.ValidateSession(ctx, token)
			Expect(auth.IsKind(err, auth.KindSessionNotFound)).To(BeTrue())
		})

		It("logs out every device for a player", func() {
			player := env.createPlayer("heidi")
			key := newPlayerKey()
			_, err := service.RegisterKey(ctx, player, key.authorizedKey, "")
			Expect(err).NotTo(HaveOccurred())

			login(key, "telnet")
			login(key, "web")

			sessions, err := service.PlayerSessions(ctx, player)
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions).To(HaveLen(2))

			n, err := service.LogoutEverywhere(ctx, player)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(2)))

			sessions, err = service.PlayerSessions(ctx, player)
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions).To(BeEmpty())
		})
	})
})
