// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package submitcrypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(b byte) Key {
	var k Key
	for i := range k {
		k[i] = b
	}
	return k
}

func testNonce(b byte) Nonce {
	var n Nonce
	for i := range n {
		n[i] = b
	}
	return n
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(1)
	nonce := testNonce(2)
	plaintext := []byte("agent source bundle")

	ct := Encrypt(plaintext, key, nonce)
	pt, err := Decrypt(ct, key, nonce)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	ct := Encrypt([]byte("data"), testKey(1), testNonce(2))
	_, err := Decrypt(ct, testKey(9), testNonce(2))
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	ct := Encrypt([]byte("data"), testKey(1), testNonce(2))
	ct[0] ^= 0xFF
	_, err := Decrypt(ct, testKey(1), testNonce(2))
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestHashKeyDeterministic(t *testing.T) {
	k := testKey(5)
	require.Equal(t, HashKey(k), HashKey(k))
}

func TestContentHashDeterministic(t *testing.T) {
	require.Equal(t, ContentHash([]byte("x")), ContentHash([]byte("x")))
	require.NotEqual(t, ContentHash([]byte("x")), ContentHash([]byte("y")))
}

func TestSubmissionHashExcludesEncryptedData(t *testing.T) {
	in := SubmissionHashInput{
		ChallengeID:  "chal-1",
		MinerHotkey:  "hot",
		MinerColdkey: "cold",
		KeyHash:      HashKey(testKey(1)),
		Nonce:        testNonce(2),
		ContentHash:  ContentHash([]byte("plaintext")),
		Epoch:        42,
	}
	h1 := SubmissionHash(in)
	h2 := SubmissionHash(in)
	require.Equal(t, h1, h2)
}

func TestSubmissionHashDistinguishesFieldBoundaries(t *testing.T) {
	a := SubmissionHash(SubmissionHashInput{ChallengeID: "ab", MinerHotkey: "c"})
	b := SubmissionHash(SubmissionHashInput{ChallengeID: "a", MinerHotkey: "bc"})
	require.NotEqual(t, a, b)
}

func TestSubmissionHashSensitiveToEveryField(t *testing.T) {
	base := SubmissionHashInput{
		ChallengeID:  "chal-1",
		MinerHotkey:  "hot",
		MinerColdkey: "cold",
		KeyHash:      HashKey(testKey(1)),
		Nonce:        testNonce(2),
		ContentHash:  ContentHash([]byte("plaintext")),
		Epoch:        42,
	}
	baseHash := SubmissionHash(base)

	withDifferentEpoch := base
	withDifferentEpoch.Epoch = 43
	require.NotEqual(t, baseHash, SubmissionHash(withDifferentEpoch))

	withDifferentHotkey := base
	withDifferentHotkey.MinerHotkey = "other"
	require.NotEqual(t, baseHash, SubmissionHash(withDifferentHotkey))
}
