// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package submission implements the commit-reveal submission manager
// (spec §4.6): encrypt-submit, stake-weighted acknowledge, reveal-key,
// and ownership verification, plus additive-only ban lists.
package submission

import (
	"errors"
	"sync"
	"time"

	"github.com/luxfi/platform-validator/platformerr"
	"github.com/luxfi/platform-validator/submitcrypto"
)

// State is a submission's position in the commit-reveal FSM.
type State uint8

const (
	WaitingForAcks State = iota
	WaitingForKey
	Verified
	Failed
)

func (s State) String() string {
	switch s {
	case WaitingForAcks:
		return "WaitingForAcks"
	case WaitingForKey:
		return "WaitingForKey"
	case Verified:
		return "Verified"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// QuorumFraction is the fraction of total network stake that must ack
// a submission before it advances to WaitingForKey.
const QuorumFraction = 0.5

var (
	ErrBannedMiner       = errors.New("submission: miner is banned")
	ErrHashMismatch      = errors.New("submission: submission hash does not match computed hash")
	ErrDuplicate         = errors.New("submission: duplicate submission hash")
	ErrNotWaitingForKey  = errors.New("submission: submission is not in WaitingForKey state")
	ErrKeyMismatch       = errors.New("submission: revealed key does not match key hash")
	ErrContentMismatch   = errors.New("submission: decrypted content hash does not match submitted content hash")
	ErrDuplicateContent  = errors.New("submission: content already submitted by a different miner")
	ErrUnknownSubmission = errors.New("submission: unknown submission hash")
)

// EncryptedSubmission is a miner's commit, keyed by SubmissionHash.
type EncryptedSubmission struct {
	SubmissionHash submitcrypto.Hash
	ContentHash    submitcrypto.Hash
	ChallengeID    string
	MinerHotkey    string
	MinerColdkey   string
	EncryptedData  []byte
	KeyHash        submitcrypto.Hash
	Nonce          submitcrypto.Nonce
	Epoch          uint64
	SubmittedAt    time.Time
}

// Ack is one validator's acknowledgement of a submission.
type Ack struct {
	SubmissionHash  submitcrypto.Hash
	ValidatorHotkey string
	ValidatorStake  uint64
}

// Reveal supplies the decryption key for a previously acked
// submission.
type Reveal struct {
	SubmissionHash submitcrypto.Hash
	Key            submitcrypto.Key
}

// VerifiedSubmission is emitted by RevealKey on success.
type VerifiedSubmission struct {
	SubmissionHash submitcrypto.Hash
	MinerHotkey    string
	Plaintext      []byte
}

type pendingSubmission struct {
	submission      EncryptedSubmission
	state           State
	failureReason   error
	totalStakeAcked uint64
	ackedValidators map[string]struct{}
	createdAt       time.Time
}

// Manager tracks pending and verified submissions and the ban set. It
// owns the pending/verified maps and bans directly, the way
// networking/benchlist.manager owns its benched-node map.
type Manager struct {
	mu sync.RWMutex

	timeout time.Duration

	pending  map[submitcrypto.Hash]*pendingSubmission
	verified map[submitcrypto.Hash]VerifiedSubmission

	// dedup maps content hash to the miner hotkey that first submitted
	// it, so a later reveal of the same content under a different
	// miner is rejected as duplicate content.
	dedup map[submitcrypto.Hash]string

	bannedHotkeys  map[string]struct{}
	bannedColdkeys map[string]struct{}
}

// NewManager constructs a Manager. timeout bounds how long a
// submission may remain in a WaitingFor* state before CleanupExpired
// drops it.
func NewManager(timeout time.Duration) *Manager {
	return &Manager{
		timeout:        timeout,
		pending:        make(map[submitcrypto.Hash]*pendingSubmission),
		verified:       make(map[submitcrypto.Hash]VerifiedSubmission),
		dedup:          make(map[submitcrypto.Hash]string),
		bannedHotkeys:  make(map[string]struct{}),
		bannedColdkeys: make(map[string]struct{}),
	}
}

// BanHotkey adds hotkey to the ban set. Bans are additive-only during
// runtime (spec §4.6): there is no UnbanHotkey.
func (m *Manager) BanHotkey(hotkey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bannedHotkeys[hotkey] = struct{}{}
}

// BanColdkey adds coldkey to the ban set.
func (m *Manager) BanColdkey(coldkey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bannedColdkeys[coldkey] = struct{}{}
}

// IsBanned reports whether either hotkey or coldkey is banned.
func (m *Manager) IsBanned(hotkey, coldkey string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isBannedLocked(hotkey, coldkey)
}

func (m *Manager) isBannedLocked(hotkey, coldkey string) bool {
	if _, ok := m.bannedHotkeys[hotkey]; ok {
		return true
	}
	_, ok := m.bannedColdkeys[coldkey]
	return ok
}

// AddSubmission registers enc as a new pending submission. It rejects
// banned miners, hash mismatches (submissionHash must equal the
// recomputed submitcrypto.SubmissionHash over enc's fields), and
// duplicate submission hashes.
func (m *Manager) AddSubmission(enc EncryptedSubmission, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isBannedLocked(enc.MinerHotkey, enc.MinerColdkey) {
		return ErrBannedMiner
	}

	want := submitcrypto.SubmissionHash(submitcrypto.SubmissionHashInput{
		ChallengeID:  enc.ChallengeID,
		MinerHotkey:  enc.MinerHotkey,
		MinerColdkey: enc.MinerColdkey,
		KeyHash:      enc.KeyHash,
		Nonce:        enc.Nonce,
		ContentHash:  enc.ContentHash,
		Epoch:        enc.Epoch,
	})
	if want != enc.SubmissionHash {
		return ErrHashMismatch
	}

	if _, exists := m.pending[enc.SubmissionHash]; exists {
		return ErrDuplicate
	}
	if _, exists := m.verified[enc.SubmissionHash]; exists {
		return ErrDuplicate
	}

	m.pending[enc.SubmissionHash] = &pendingSubmission{
		submission:      enc,
		state:           WaitingForAcks,
		ackedValidators: make(map[string]struct{}),
		createdAt:       now,
	}
	return nil
}

// AddAck records ack against its submission's running acked stake. It
// is a no-op (returns false, nil) if the validator already acked.
// Returns true exactly once: on the ack that crosses QuorumFraction of
// totalNetworkStake, which also transitions the submission to
// WaitingForKey.
func (m *Manager) AddAck(ack Ack, totalNetworkStake uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[ack.SubmissionHash]
	if !ok {
		return false, ErrUnknownSubmission
	}
	if p.state != WaitingForAcks {
		return false, nil
	}
	if _, already := p.ackedValidators[ack.ValidatorHotkey]; already {
		return false, nil
	}

	p.ackedValidators[ack.ValidatorHotkey] = struct{}{}
	p.totalStakeAcked += ack.ValidatorStake

	if totalNetworkStake == 0 {
		return false, nil
	}
	if float64(p.totalStakeAcked)/float64(totalNetworkStake) >= QuorumFraction {
		p.state = WaitingForKey
		return true, nil
	}
	return false, nil
}

// RevealKey completes the reveal step for a submission in
// WaitingForKey: it verifies the key against KeyHash, decrypts the
// payload, verifies ContentHash against the decrypted plaintext
// (ownership verification), and checks the dedup index for earlier
// content under a different miner.
func (m *Manager) RevealKey(r Reveal) (VerifiedSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[r.SubmissionHash]
	if !ok {
		return VerifiedSubmission{}, ErrUnknownSubmission
	}
	if p.state != WaitingForKey {
		return VerifiedSubmission{}, ErrNotWaitingForKey
	}

	if submitcrypto.HashKey(r.Key) != p.submission.KeyHash {
		p.state = Failed
		p.failureReason = ErrKeyMismatch
		return VerifiedSubmission{}, ErrKeyMismatch
	}

	plaintext, err := submitcrypto.Decrypt(p.submission.EncryptedData, r.Key, p.submission.Nonce)
	if err != nil {
		p.state = Failed
		p.failureReason = err
		return VerifiedSubmission{}, err
	}

	if submitcrypto.ContentHash(plaintext) != p.submission.ContentHash {
		p.state = Failed
		p.failureReason = ErrContentMismatch
		return VerifiedSubmission{}, ErrContentMismatch
	}

	if owner, exists := m.dedup[p.submission.ContentHash]; exists && owner != p.submission.MinerHotkey {
		p.state = Failed
		p.failureReason = ErrDuplicateContent
		return VerifiedSubmission{}, ErrDuplicateContent
	}

	p.state = Verified
	result := VerifiedSubmission{
		SubmissionHash: r.SubmissionHash,
		MinerHotkey:    p.submission.MinerHotkey,
		Plaintext:      plaintext,
	}
	m.verified[r.SubmissionHash] = result
	m.dedup[p.submission.ContentHash] = p.submission.MinerHotkey
	delete(m.pending, r.SubmissionHash)

	return result, nil
}

// State returns the current state of a tracked submission.
func (m *Manager) State(hash submitcrypto.Hash) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.pending[hash]; ok {
		return p.state, true
	}
	if _, ok := m.verified[hash]; ok {
		return Verified, true
	}
	return 0, false
}

// Verified returns the decrypted VerifiedSubmission for hash, if its
// reveal has already completed successfully.
func (m *Manager) Verified(hash submitcrypto.Hash) (VerifiedSubmission, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.verified[hash]
	return v, ok
}

// PendingEncrypted returns the still-encrypted commit for hash, if it
// has not yet been revealed.
func (m *Manager) PendingEncrypted(hash submitcrypto.Hash) (EncryptedSubmission, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pending[hash]
	if !ok {
		return EncryptedSubmission{}, false
	}
	return p.submission, true
}

// Kind classifies one of this package's sentinel errors by
// platformerr.Kind, for callers that need the §7 retry/terminal
// decision without switching on the sentinel directly. It does not
// change the sentinels themselves: existing errors.Is(err, ErrX)
// checks keep working unmodified.
func Kind(err error) platformerr.Kind {
	switch {
	case errors.Is(err, ErrBannedMiner):
		return platformerr.Policy
	case errors.Is(err, ErrHashMismatch),
		errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrKeyMismatch),
		errors.Is(err, ErrContentMismatch),
		errors.Is(err, ErrDuplicateContent):
		return platformerr.Crypto
	case errors.Is(err, ErrUnknownSubmission), errors.Is(err, ErrNotWaitingForKey):
		return platformerr.Validation
	default:
		return platformerr.Internal
	}
}

// CleanupExpired drops any pending submission in a WaitingFor* state
// whose age exceeds the configured timeout, returning the hashes
// removed.
func (m *Manager) CleanupExpired(now time.Time) []submitcrypto.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []submitcrypto.Hash
	for hash, p := range m.pending {
		if now.Sub(p.createdAt) > m.timeout {
			removed = append(removed, hash)
			delete(m.pending, hash)
		}
	}
	return removed
}
