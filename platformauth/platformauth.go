// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package platformauth implements the challenge-side handshake from
// spec §4.7. The challenge container never signs; it only verifies
// sr25519 signatures produced by the controlling validator and issues
// short-lived session tokens.
package platformauth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	schnorrkel "github.com/ChainSafe/go-schnorrkel"

	"github.com/luxfi/platform-validator/utils/constants"
)

var (
	ErrChallengeMismatch = errors.New("platformauth: challenge id mismatch")
	ErrTimestampDrift    = errors.New("platformauth: timestamp outside allowed drift")
	ErrReplayedNonce     = errors.New("platformauth: nonce already used")
	ErrInvalidSignature  = errors.New("platformauth: invalid signature")
	ErrNoSession         = errors.New("platformauth: no active session for hotkey")
	ErrSessionExpired    = errors.New("platformauth: session expired")
	ErrTokenMismatch     = errors.New("platformauth: session token mismatch")
)

// signingContextLabel is the sr25519 signing context label; the
// signed message itself is "auth:{challenge_id}:{timestamp}:{nonce}".
const signingContextLabel = "auth"

// AuthRequest is the validator's handshake request.
type AuthRequest struct {
	Hotkey      string
	PublicKey   [32]byte
	ChallengeID string
	Timestamp   time.Time
	Nonce       [16]byte
	Signature   [64]byte
}

// Session is issued on a successful handshake.
type Session struct {
	Token     [32]byte
	Hotkey    string
	ExpiresAt time.Time
}

// SignatureVerifier verifies an sr25519 signature over msg by pub.
// Abstracted so tests can substitute a deterministic fake; production
// code uses schnorrkelVerifier.
type SignatureVerifier interface {
	Verify(pub [32]byte, sig [64]byte, msg []byte) bool
}

type schnorrkelVerifier struct{}

func (schnorrkelVerifier) Verify(pub [32]byte, sig [64]byte, msg []byte) bool {
	p := schnorrkel.NewPublicKey(pub)
	s, err := schnorrkel.NewSignature(sig)
	if err != nil {
		return false
	}
	transcript := schnorrkel.NewSigningContext([]byte(signingContextLabel), msg)
	return p.Verify(s, transcript)
}

// VerifySignature checks an sr25519 signature over msg by pub,
// independent of any Verifier's nonce/session state. It exists for
// callers (e.g. the public /consensus/verify wire endpoint) that only
// need raw signature verification.
func VerifySignature(pub [32]byte, sig [64]byte, msg []byte) bool {
	return schnorrkelVerifier{}.Verify(pub, sig, msg)
}

type nonceRecord struct {
	seenAt time.Time
}

// Verifier tracks the replay-protection nonce set and the one active
// session per hotkey.
type Verifier struct {
	mu sync.Mutex

	challengeID string
	sigVerifier SignatureVerifier

	nonces   map[[16]byte]nonceRecord
	sessions map[string]Session
}

// NewVerifier constructs a Verifier bound to challengeID, using real
// sr25519 verification.
func NewVerifier(challengeID string) *Verifier {
	return NewVerifierWithSignatureVerifier(challengeID, schnorrkelVerifier{})
}

// NewVerifierWithSignatureVerifier constructs a Verifier with a
// caller-supplied SignatureVerifier, primarily for tests.
func NewVerifierWithSignatureVerifier(challengeID string, sv SignatureVerifier) *Verifier {
	return &Verifier{
		challengeID: challengeID,
		sigVerifier: sv,
		nonces:      make(map[[16]byte]nonceRecord),
		sessions:    make(map[string]Session),
	}
}

// authMessage renders the exact byte string signed by the validator.
func authMessage(challengeID string, timestamp time.Time, nonce [16]byte) []byte {
	return []byte(fmt.Sprintf("auth:%s:%d:%x", challengeID, timestamp.Unix(), nonce))
}

// Handshake validates req and, on success, issues a new Session for
// req.Hotkey, invalidating any prior session for that hotkey.
func (v *Verifier) Handshake(req AuthRequest, now time.Time) (Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if req.ChallengeID != v.challengeID {
		return Session{}, ErrChallengeMismatch
	}

	drift := now.Sub(req.Timestamp)
	if drift < 0 {
		drift = -drift
	}
	if drift > constants.AuthTimestampDrift {
		return Session{}, ErrTimestampDrift
	}

	if _, seen := v.nonces[req.Nonce]; seen {
		return Session{}, ErrReplayedNonce
	}

	msg := authMessage(req.ChallengeID, req.Timestamp, req.Nonce)
	if !v.sigVerifier.Verify(req.PublicKey, req.Signature, msg) {
		return Session{}, ErrInvalidSignature
	}

	v.nonces[req.Nonce] = nonceRecord{seenAt: now}

	var token [32]byte
	if _, err := rand.Read(token[:]); err != nil {
		return Session{}, fmt.Errorf("platformauth: generating session token: %w", err)
	}

	session := Session{
		Token:     token,
		Hotkey:    req.Hotkey,
		ExpiresAt: now.Add(constants.AuthSessionTTL),
	}
	v.sessions[req.Hotkey] = session
	return session, nil
}

// ValidateToken checks that token is the current, unexpired session
// token for hotkey.
func (v *Verifier) ValidateToken(hotkey string, token [32]byte, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	s, ok := v.sessions[hotkey]
	if !ok {
		return ErrNoSession
	}
	if now.After(s.ExpiresAt) {
		return ErrSessionExpired
	}
	if s.Token != token {
		return ErrTokenMismatch
	}
	return nil
}

// GCNonces drops nonces older than 2x the timestamp drift window.
func (v *Verifier) GCNonces(now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for n, rec := range v.nonces {
		if now.Sub(rec.seenAt) > constants.AuthNonceRetention {
			delete(v.nonces, n)
		}
	}
}
