// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package submitcrypto implements the authenticated encryption and
// hashing primitives used by the commit-reveal submission pipeline
// (spec §4.5). Symmetric encryption is NaCl secretbox: a 32-byte key
// and 24-byte nonce, which is exactly the contract the spec requires.
package submitcrypto

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeySize is the length in bytes of a submission encryption key.
	KeySize = 32
	// NonceSize is the length in bytes of a submission nonce.
	NonceSize = 24
	// HashSize is the length in bytes of every hash produced here.
	HashSize = sha256.Size
)

// ErrDecryptionFailed is returned when authentication of the
// ciphertext fails, i.e. the key, nonce, or data was tampered with.
var ErrDecryptionFailed = errors.New("submitcrypto: decryption failed")

// Key is a 32-byte symmetric submission key.
type Key [KeySize]byte

// Nonce is a 24-byte submission nonce.
type Nonce [NonceSize]byte

// Hash is a 32-byte SHA-256 digest.
type Hash [HashSize]byte

// Encrypt seals data under key and nonce using an authenticated
// symmetric cipher, returning ciphertext with an appended auth tag.
func Encrypt(data []byte, key Key, nonce Nonce) []byte {
	return secretbox.Seal(nil, data, (*[NonceSize]byte)(&nonce), (*[KeySize]byte)(&key))
}

// Decrypt opens ciphertext produced by Encrypt. It fails if the
// ciphertext was tampered with or encrypted under a different
// key/nonce.
func Decrypt(ciphertext []byte, key Key, nonce Nonce) ([]byte, error) {
	plaintext, ok := secretbox.Open(nil, ciphertext, (*[NonceSize]byte)(&nonce), (*[KeySize]byte)(&key))
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// HashKey returns SHA-256(key), used to bind a submission to a key
// without revealing it before reveal.
func HashKey(key Key) Hash {
	return Hash(sha256.Sum256(key[:]))
}

// ContentHash returns SHA-256(data), verified against the revealed
// plaintext for ownership (spec §4.6).
func ContentHash(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// SubmissionHashInput carries every field folded into SubmissionHash,
// deliberately excluding the encrypted payload so acknowledgements are
// binding to semantic content rather than ciphertext.
type SubmissionHashInput struct {
	ChallengeID  string
	MinerHotkey  string
	MinerColdkey string
	KeyHash      Hash
	Nonce        Nonce
	ContentHash  Hash
	Epoch        uint64
}

// SubmissionHash computes SHA-256 over
// (challenge_id || miner_hotkey || miner_coldkey || key_hash || nonce
// || content_hash || epoch). It is deterministic over every field
// except the encrypted payload, allowing validators to acknowledge a
// submission before the reveal key is known.
func SubmissionHash(in SubmissionHashInput) Hash {
	h := sha256.New()
	writeLenPrefixed(h, []byte(in.ChallengeID))
	writeLenPrefixed(h, []byte(in.MinerHotkey))
	writeLenPrefixed(h, []byte(in.MinerColdkey))
	h.Write(in.KeyHash[:])
	h.Write(in.Nonce[:])
	h.Write(in.ContentHash[:])
	var epochBuf [8]byte
	binary.BigEndian.PutUint64(epochBuf[:], in.Epoch)
	h.Write(epochBuf[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// writeLenPrefixed hashes a length prefix ahead of s so that variable
// length fields cannot be confused with each other by concatenation
// (e.g. ("ab","c") vs ("a","bc")).
func writeLenPrefixed(h interface{ Write([]byte) (int, error) }, s []byte) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(s)))
	h.Write(lenBuf[:])
	h.Write(s)
}
