// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package statestore holds per-challenge opaque state across
// hot-reloads and migrations (spec §4.11), with checksummed snapshots
// retained FIFO up to a configurable limit.
package statestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/luxfi/platform-validator/utils/constants"
)

// ErrChecksumMismatch is returned by Restore when a snapshot's data
// no longer matches its recorded checksum.
var ErrChecksumMismatch = errors.New("statestore: snapshot checksum mismatch")

// Snapshot is a point-in-time capture of a challenge's opaque state.
type Snapshot struct {
	ChallengeID string
	Version     string
	CreatedAt   time.Time
	Data        []byte
	Checksum    string
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewSnapshot builds a Snapshot over data, computing its checksum.
func NewSnapshot(challengeID, version string, data []byte, now time.Time) Snapshot {
	return Snapshot{
		ChallengeID: challengeID,
		Version:     version,
		CreatedAt:   now,
		Data:        data,
		Checksum:    checksum(data),
	}
}

// Verify reports whether the snapshot's data matches its checksum.
func (s Snapshot) Verify() bool {
	return checksum(s.Data) == s.Checksum
}

// Store holds the live opaque state and retained snapshots for one
// challenge.
type Store struct {
	mu           sync.RWMutex
	challengeID  string
	data         []byte
	snapshots    []Snapshot
	maxSnapshots int
}

// New constructs a Store with the default snapshot retention from
// utils/constants.
func New(challengeID string) *Store {
	return NewWithMaxSnapshots(challengeID, constants.DefaultMaxSnapshots)
}

// NewWithMaxSnapshots constructs a Store with a custom snapshot
// retention limit.
func NewWithMaxSnapshots(challengeID string, maxSnapshots int) *Store {
	return &Store{challengeID: challengeID, maxSnapshots: maxSnapshots}
}

// Get returns a copy of the current opaque state.
func (s *Store) Get() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.data...)
}

// Set replaces the current opaque state.
func (s *Store) Set(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
}

// CreateSnapshot snapshots the current state under version, retaining
// at most maxSnapshots, dropping the oldest first (FIFO).
func (s *Store) CreateSnapshot(version string, now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := NewSnapshot(s.challengeID, version, s.data, now)
	s.snapshots = append(s.snapshots, snap)
	if len(s.snapshots) > s.maxSnapshots {
		s.snapshots = s.snapshots[len(s.snapshots)-s.maxSnapshots:]
	}
	return snap
}

// Restore replaces the current state with snapshot's data, failing if
// the snapshot's checksum does not verify.
func (s *Store) Restore(snapshot Snapshot) error {
	if !snapshot.Verify() {
		return ErrChecksumMismatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), snapshot.Data...)
	return nil
}

// ListSnapshots returns every retained snapshot, oldest first.
func (s *Store) ListSnapshots() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Snapshot(nil), s.snapshots...)
}

// LatestSnapshot returns the most recently created snapshot, if any.
func (s *Store) LatestSnapshot() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.snapshots) == 0 {
		return Snapshot{}, false
	}
	return s.snapshots[len(s.snapshots)-1], true
}

// Clear empties the current state. Retained snapshots are unaffected.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
}
