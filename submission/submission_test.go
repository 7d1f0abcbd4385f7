// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package submission

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/platform-validator/platformerr"
	"github.com/luxfi/platform-validator/submitcrypto"
)

func buildSubmission(t *testing.T, miner string, plaintext []byte, epoch uint64) (EncryptedSubmission, submitcrypto.Key) {
	t.Helper()
	var key submitcrypto.Key
	var nonce submitcrypto.Nonce
	for i := range key {
		key[i] = byte(i + 1)
	}
	for i := range nonce {
		nonce[i] = byte(i + 2)
	}

	encrypted := submitcrypto.Encrypt(plaintext, key, nonce)
	contentHash := submitcrypto.ContentHash(plaintext)
	keyHash := submitcrypto.HashKey(key)

	in := submitcrypto.SubmissionHashInput{
		ChallengeID:  "chal-1",
		MinerHotkey:  miner,
		MinerColdkey: miner + "-cold",
		KeyHash:      keyHash,
		Nonce:        nonce,
		ContentHash:  contentHash,
		Epoch:        epoch,
	}
	hash := submitcrypto.SubmissionHash(in)

	return EncryptedSubmission{
		SubmissionHash: hash,
		ContentHash:    contentHash,
		ChallengeID:    "chal-1",
		MinerHotkey:    miner,
		MinerColdkey:   miner + "-cold",
		EncryptedData:  encrypted,
		KeyHash:        keyHash,
		Nonce:          nonce,
		Epoch:          epoch,
	}, key
}

func TestAddSubmissionHappyPath(t *testing.T) {
	m := NewManager(time.Hour)
	enc, _ := buildSubmission(t, "miner-a", []byte("agent code"), 1)
	require.NoError(t, m.AddSubmission(enc, time.Now()))

	state, ok := m.State(enc.SubmissionHash)
	require.True(t, ok)
	require.Equal(t, WaitingForAcks, state)
}

func TestAddSubmissionRejectsBannedMiner(t *testing.T) {
	m := NewManager(time.Hour)
	m.BanHotkey("miner-a")
	enc, _ := buildSubmission(t, "miner-a", []byte("x"), 1)
	require.ErrorIs(t, m.AddSubmission(enc, time.Now()), ErrBannedMiner)
}

func TestAddSubmissionRejectsHashMismatch(t *testing.T) {
	m := NewManager(time.Hour)
	enc, _ := buildSubmission(t, "miner-a", []byte("x"), 1)
	enc.Epoch = 999 // invalidate the hash without recomputing it
	require.ErrorIs(t, m.AddSubmission(enc, time.Now()), ErrHashMismatch)
}

func TestAddSubmissionRejectsDuplicate(t *testing.T) {
	m := NewManager(time.Hour)
	enc, _ := buildSubmission(t, "miner-a", []byte("x"), 1)
	require.NoError(t, m.AddSubmission(enc, time.Now()))
	require.ErrorIs(t, m.AddSubmission(enc, time.Now()), ErrDuplicate)
}

func TestAddAckQuorumCrossingReturnsTrueOnce(t *testing.T) {
	m := NewManager(time.Hour)
	enc, _ := buildSubmission(t, "miner-a", []byte("x"), 1)
	require.NoError(t, m.AddSubmission(enc, time.Now()))

	const total = uint64(1000)

	crossed, err := m.AddAck(Ack{SubmissionHash: enc.SubmissionHash, ValidatorHotkey: "v1", ValidatorStake: 400}, total)
	require.NoError(t, err)
	require.False(t, crossed)

	crossed, err = m.AddAck(Ack{SubmissionHash: enc.SubmissionHash, ValidatorHotkey: "v2", ValidatorStake: 200}, total)
	require.NoError(t, err)
	require.True(t, crossed) // 600/1000 = 0.6 >= 0.5

	state, _ := m.State(enc.SubmissionHash)
	require.Equal(t, WaitingForKey, state)

	// A further ack never returns true again for this submission.
	crossed, err = m.AddAck(Ack{SubmissionHash: enc.SubmissionHash, ValidatorHotkey: "v3", ValidatorStake: 400}, total)
	require.NoError(t, err)
	require.False(t, crossed)
}

func TestAddAckDuplicateValidatorIsNoop(t *testing.T) {
	m := NewManager(time.Hour)
	enc, _ := buildSubmission(t, "miner-a", []byte("x"), 1)
	require.NoError(t, m.AddSubmission(enc, time.Now()))

	const total = uint64(1000)
	m.AddAck(Ack{SubmissionHash: enc.SubmissionHash, ValidatorHotkey: "v1", ValidatorStake: 600}, total)
	crossed, err := m.AddAck(Ack{SubmissionHash: enc.SubmissionHash, ValidatorHotkey: "v1", ValidatorStake: 600}, total)
	require.NoError(t, err)
	require.False(t, crossed) // already acked, stake not double-counted
}

func TestRevealKeyHappyPath(t *testing.T) {
	m := NewManager(time.Hour)
	enc, key := buildSubmission(t, "miner-a", []byte("agent code"), 1)
	require.NoError(t, m.AddSubmission(enc, time.Now()))
	m.AddAck(Ack{SubmissionHash: enc.SubmissionHash, ValidatorHotkey: "v1", ValidatorStake: 1000}, 1000)

	result, err := m.RevealKey(Reveal{SubmissionHash: enc.SubmissionHash, Key: key})
	require.NoError(t, err)
	require.Equal(t, []byte("agent code"), result.Plaintext)
	require.Equal(t, "miner-a", result.MinerHotkey)

	state, _ := m.State(enc.SubmissionHash)
	require.Equal(t, Verified, state)
}

func TestVerifiedAndPendingEncryptedLookups(t *testing.T) {
	m := NewManager(time.Hour)
	enc, key := buildSubmission(t, "miner-a", []byte("agent code"), 1)
	require.NoError(t, m.AddSubmission(enc, time.Now()))

	_, ok := m.Verified(enc.SubmissionHash)
	require.False(t, ok, "not revealed yet")
	pending, ok := m.PendingEncrypted(enc.SubmissionHash)
	require.True(t, ok)
	require.Equal(t, enc.SubmissionHash, pending.SubmissionHash)

	m.AddAck(Ack{SubmissionHash: enc.SubmissionHash, ValidatorHotkey: "v1", ValidatorStake: 1000}, 1000)
	_, err := m.RevealKey(Reveal{SubmissionHash: enc.SubmissionHash, Key: key})
	require.NoError(t, err)

	verified, ok := m.Verified(enc.SubmissionHash)
	require.True(t, ok)
	require.Equal(t, []byte("agent code"), verified.Plaintext)
	_, ok = m.PendingEncrypted(enc.SubmissionHash)
	require.False(t, ok, "reveal removes the pending entry")
}

func TestRevealKeyRequiresWaitingForKey(t *testing.T) {
	m := NewManager(time.Hour)
	enc, key := buildSubmission(t, "miner-a", []byte("x"), 1)
	require.NoError(t, m.AddSubmission(enc, time.Now()))

	_, err := m.RevealKey(Reveal{SubmissionHash: enc.SubmissionHash, Key: key})
	require.ErrorIs(t, err, ErrNotWaitingForKey)
}

func TestRevealKeyWrongKeyFails(t *testing.T) {
	m := NewManager(time.Hour)
	enc, _ := buildSubmission(t, "miner-a", []byte("x"), 1)
	require.NoError(t, m.AddSubmission(enc, time.Now()))
	m.AddAck(Ack{SubmissionHash: enc.SubmissionHash, ValidatorHotkey: "v1", ValidatorStake: 1000}, 1000)

	var wrongKey submitcrypto.Key
	_, err := m.RevealKey(Reveal{SubmissionHash: enc.SubmissionHash, Key: wrongKey})
	require.ErrorIs(t, err, ErrKeyMismatch)

	state, _ := m.State(enc.SubmissionHash)
	require.Equal(t, Failed, state)
}

func TestRevealKeyDuplicateContentFails(t *testing.T) {
	m := NewManager(time.Hour)

	encA, keyA := buildSubmission(t, "miner-a", []byte("same content"), 1)
	require.NoError(t, m.AddSubmission(encA, time.Now()))
	m.AddAck(Ack{SubmissionHash: encA.SubmissionHash, ValidatorHotkey: "v1", ValidatorStake: 1000}, 1000)
	_, err := m.RevealKey(Reveal{SubmissionHash: encA.SubmissionHash, Key: keyA})
	require.NoError(t, err)

	encB, keyB := buildSubmission(t, "miner-b", []byte("same content"), 2)
	require.NoError(t, m.AddSubmission(encB, time.Now()))
	m.AddAck(Ack{SubmissionHash: encB.SubmissionHash, ValidatorHotkey: "v1", ValidatorStake: 1000}, 1000)
	_, err = m.RevealKey(Reveal{SubmissionHash: encB.SubmissionHash, Key: keyB})
	require.ErrorIs(t, err, ErrDuplicateContent)
}

func TestIsBannedChecksEitherKey(t *testing.T) {
	m := NewManager(time.Hour)
	m.BanColdkey("cold-x")
	require.True(t, m.IsBanned("unrelated-hotkey", "cold-x"))
	require.False(t, m.IsBanned("unrelated-hotkey", "cold-y"))
}

func TestCleanupExpiredDropsStalePending(t *testing.T) {
	m := NewManager(time.Minute)
	enc, _ := buildSubmission(t, "miner-a", []byte("x"), 1)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, m.AddSubmission(enc, old))

	removed := m.CleanupExpired(time.Now())
	require.Len(t, removed, 1)
	require.Equal(t, enc.SubmissionHash, removed[0])

	_, ok := m.State(enc.SubmissionHash)
	require.False(t, ok)
}

func TestCleanupExpiredKeepsFreshPending(t *testing.T) {
	m := NewManager(time.Hour)
	enc, _ := buildSubmission(t, "miner-a", []byte("x"), 1)
	require.NoError(t, m.AddSubmission(enc, time.Now()))

	removed := m.CleanupExpired(time.Now())
	require.Empty(t, removed)
}

func TestKindClassifiesSentinelErrors(t *testing.T) {
	require.Equal(t, platformerr.Policy, Kind(ErrBannedMiner))
	require.Equal(t, platformerr.Crypto, Kind(ErrHashMismatch))
	require.Equal(t, platformerr.Crypto, Kind(ErrDuplicateContent))
	require.Equal(t, platformerr.Validation, Kind(ErrUnknownSubmission))
	require.Equal(t, platformerr.Internal, Kind(errors.New("something else")))
}
