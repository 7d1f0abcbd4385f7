// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package agentdir is an in-memory implementation of
// httpapi.AgentDirectory, shaped the way stake.Registry shapes its
// concurrency-safe map. Production deployments back AgentDirectory
// with the Postgres/SQLite store instead (spec §1, external
// collaborator); this package lets cmd/validator run standalone
// without one. Every write is also durably persisted through a
// database.Database (luxfi/database/memdb by default), so Agent can
// serve a cold lookup from the backing store even if it never went
// through this process's in-memory indexes.
package agentdir

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"

	"github.com/luxfi/platform-validator/httpapi"
)

// Directory is a concurrency-safe httpapi.AgentDirectory backed by an
// in-memory index for status/miner queries and a database.Database
// for durable per-hash lookups.
type Directory struct {
	mu     sync.RWMutex
	agents map[string]httpapi.AgentRecord
	db     database.Database
}

// New constructs an empty Directory backed by an in-memory
// database.Database (memdb).
func New() *Directory {
	return NewWithDB(memdb.New())
}

// NewWithDB constructs an empty Directory backed by db, letting
// deployments supply a durable database.Database implementation in
// place of the in-memory default.
func NewWithDB(db database.Database) *Directory {
	return &Directory{
		agents: make(map[string]httpapi.AgentRecord),
		db:     db,
	}
}

// Put records or replaces an agent's directory entry.
func (d *Directory) Put(rec httpapi.AgentRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[rec.Hash] = rec
	return d.persist(rec)
}

// SetStatus updates an already-known agent's status in place,
// reporting whether the agent was found.
func (d *Directory) SetStatus(agentHash, status string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.agents[agentHash]
	if !ok {
		return false, nil
	}
	rec.Status = status
	d.agents[agentHash] = rec
	return true, d.persist(rec)
}

// persist must be called with d.mu held.
func (d *Directory) persist(rec httpapi.AgentRecord) error {
	if d.db == nil {
		return nil
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("agentdir: marshaling %q: %w", rec.Hash, err)
	}
	if err := d.db.Put([]byte(rec.Hash), b); err != nil {
		return fmt.Errorf("agentdir: persisting %q: %w", rec.Hash, err)
	}
	return nil
}

// Agent implements httpapi.AgentDirectory. It serves from the
// in-memory index first, falling back to the backing database.Database
// for a hash this process has not indexed (e.g. restored after a
// restart from a durable db).
func (d *Directory) Agent(agentHash string) (httpapi.AgentRecord, bool) {
	d.mu.RLock()
	rec, ok := d.agents[agentHash]
	d.mu.RUnlock()
	if ok {
		return rec, true
	}
	return d.loadFromDB(agentHash)
}

func (d *Directory) loadFromDB(agentHash string) (httpapi.AgentRecord, bool) {
	if d.db == nil {
		return httpapi.AgentRecord{}, false
	}
	has, err := d.db.Has([]byte(agentHash))
	if err != nil || !has {
		return httpapi.AgentRecord{}, false
	}
	b, err := d.db.Get([]byte(agentHash))
	if err != nil {
		return httpapi.AgentRecord{}, false
	}
	var rec httpapi.AgentRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return httpapi.AgentRecord{}, false
	}

	d.mu.Lock()
	d.agents[rec.Hash] = rec
	d.mu.Unlock()
	return rec, true
}

// AgentsByStatus implements httpapi.AgentDirectory, returning matches
// sorted by Hash for a deterministic response ordering.
func (d *Directory) AgentsByStatus(status string) []httpapi.AgentRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]httpapi.AgentRecord, 0)
	for _, rec := range d.agents {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	sortByHash(out)
	return out
}

// AgentsByMiner implements httpapi.AgentDirectory.
func (d *Directory) AgentsByMiner(hotkey string) []httpapi.AgentRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]httpapi.AgentRecord, 0)
	for _, rec := range d.agents {
		if rec.MinerHotkey == hotkey {
			out = append(out, rec)
		}
	}
	sortByHash(out)
	return out
}

func sortByHash(recs []httpapi.AgentRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Hash < recs[j].Hash })
}
