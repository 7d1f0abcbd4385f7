// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package progress is the live per-evaluation progress store (spec
// §4.14): an append-only log keyed by evaluation id, with secondary
// indexes by agent and by validator, and TTL-based eviction of
// terminal entries.
package progress

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Status is the lifecycle state of one evaluation as reported by the
// most recent Update for it.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Update is one append-only progress record.
type Update struct {
	EvaluationID    string
	AgentHash       string
	ValidatorHotkey string
	Status          Status
	TasksCompleted  int
	TasksTotal      int
	Message         string
	UpdatedAt       time.Time
	CompletedAt     time.Time // zero unless Status.Terminal()
}

// DefaultTTL is how long a terminal evaluation's history is retained
// before Sweep evicts it.
const DefaultTTL = 15 * time.Minute

// evaluationRecord holds the full update history for one evaluation id.
type evaluationRecord struct {
	updates []Update
}

func (r *evaluationRecord) latest() Update {
	return r.updates[len(r.updates)-1]
}

// Store is the process-wide progress store. All live progress records
// are owned here (spec §1 ownership); it is safe for concurrent use.
type Store struct {
	mu  sync.RWMutex
	ttl time.Duration
	now func() time.Time

	byID        map[string]*evaluationRecord
	byAgent     map[string][]string // agent hash -> evaluation ids, insertion order
	byValidator map[string][]string // validator hotkey -> evaluation ids, insertion order
}

// New builds a Store. ttl <= 0 uses DefaultTTL.
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		ttl:         ttl,
		now:         time.Now,
		byID:        make(map[string]*evaluationRecord),
		byAgent:     make(map[string][]string),
		byValidator: make(map[string][]string),
	}
}

// Append records u as the newest update for its evaluation id,
// indexing it by agent and validator on first sight.
func (s *Store) Append(u Update) {
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = s.now()
	}
	if u.Status.Terminal() && u.CompletedAt.IsZero() {
		u.CompletedAt = u.UpdatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[u.EvaluationID]
	if !ok {
		rec = &evaluationRecord{}
		s.byID[u.EvaluationID] = rec
		s.byAgent[u.AgentHash] = append(s.byAgent[u.AgentHash], u.EvaluationID)
		s.byValidator[u.ValidatorHotkey] = append(s.byValidator[u.ValidatorHotkey], u.EvaluationID)
	}
	rec.updates = append(rec.updates, u)
}

// ByID returns the full update history for evaluationID, oldest first.
func (s *Store) ByID(evaluationID string) ([]Update, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[evaluationID]
	if !ok {
		return nil, false
	}
	out := make([]Update, len(rec.updates))
	copy(out, rec.updates)
	return out, true
}

// LatestForAgent returns the most recent update across every
// evaluation belonging to agentHash.
func (s *Store) LatestForAgent(agentHash string) (Update, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byAgent[agentHash]
	if len(ids) == 0 {
		return Update{}, false
	}
	var latest Update
	var found bool
	for _, id := range ids {
		rec, ok := s.byID[id]
		if !ok {
			continue
		}
		u := rec.latest()
		if !found || u.UpdatedAt.After(latest.UpdatedAt) {
			latest = u
			found = true
		}
	}
	return latest, found
}

// ListByAgent returns the latest update for every evaluation belonging
// to agentHash, most recently updated first.
func (s *Store) ListByAgent(agentHash string) []Update {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestPerID(s.byAgent[agentHash])
}

// ListByValidator returns the latest update for every evaluation
// assigned to validatorHotkey, most recently updated first.
func (s *Store) ListByValidator(validatorHotkey string) []Update {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestPerID(s.byValidator[validatorHotkey])
}

// ListRunning returns the latest update for every evaluation whose
// latest status is not terminal, most recently updated first.
func (s *Store) ListRunning() []Update {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Update
	for _, rec := range s.byID {
		u := rec.latest()
		if !u.Status.Terminal() {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// latestPerID must be called with s.mu held.
func (s *Store) latestPerID(ids []string) []Update {
	if len(ids) == 0 {
		return nil
	}
	out := make([]Update, 0, len(ids))
	for _, id := range ids {
		rec, ok := s.byID[id]
		if !ok {
			continue
		}
		out = append(out, rec.latest())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Sweep evicts every evaluation whose latest update is terminal and
// whose CompletedAt is older than the store's TTL.
func (s *Store) Sweep() {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range s.byID {
		u := rec.latest()
		if u.Status.Terminal() && u.CompletedAt.Before(cutoff) {
			delete(s.byID, id)
			s.removeID(s.byAgent, u.AgentHash, id)
			s.removeID(s.byValidator, u.ValidatorHotkey, id)
		}
	}
}

// removeID must be called with s.mu held.
func (s *Store) removeID(index map[string][]string, key, id string) {
	ids := index[key]
	for i, existing := range ids {
		if existing == id {
			index[key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(index[key]) == 0 {
		delete(index, key)
	}
}

// Run periodically sweeps expired terminal entries until ctx is
// cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.ttl / 2
		if interval <= 0 {
			interval = DefaultTTL / 2
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
