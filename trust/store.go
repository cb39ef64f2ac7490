// Copyright (C) 2025 agentmesh
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package trust

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/agentmesh/fabric/identity"
	"github.com/agentmesh/fabric/internal/atomicfile"
	"github.com/agentmesh/fabric/internal/logger"
)

// Store is the interface PubSub (read) and any admin surface (write)
// consume. Single-writer, multi-reader semantics: Lookup/List may
// observe a snapshot that is up to one mutation stale.
type Store interface {
	// Lookup returns the trust level for agentID, Unknown if never seen.
	Lookup(agentID identity.AgentID) Level
	// Upsert adds or updates a contact, overwriting any existing entry
	// with the same AgentID. LastSeen is only ever advanced forward.
	Upsert(c Contact) error
	// Remove deletes a contact. Idempotent.
	Remove(agentID identity.AgentID) error
	// List returns a snapshot of all known contacts.
	List() []Contact
	// Touch records an observation of agentID at the given time,
	// creating an Unknown-trust contact if one doesn't already exist.
	Touch(agentID identity.AgentID, at time.Time) error
}

// FileStore is a Store backed by a single JSON file with atomic
// replacement. A malformed file on load surfaces via the returned error
// from NewFileStore and the caller is expected to start with an empty
// store rather than fail the whole agent, per spec.
type FileStore struct {
	mu       sync.RWMutex
	path     string
	contacts map[identity.AgentID]Contact
	log      logger.Logger
}

// fileRecord is the JSON-serializable form of a Contact (identity.AgentID
// doesn't marshal directly to readable JSON).
type fileRecord struct {
	AgentID    string    `json:"agent_id"`
	TrustLevel int       `json:"trust_level"`
	Label      string    `json:"label,omitempty"`
	AddedAt    time.Time `json:"added_at"`
	LastSeen   time.Time `json:"last_seen,omitempty"`
}

// NewFileStore loads path (if present) into memory. A missing file
// yields an empty store with no error; a malformed file yields an empty
// store and an error the caller may log (policy: surfaces as storage
// error, store starts empty - spec.md §4.2).
func NewFileStore(path string, log logger.Logger) (*FileStore, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	s := &FileStore{
		path:     path,
		contacts: make(map[identity.AgentID]Contact),
		log:      log,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("trust: read %s: %w", path, err)
	}

	var records []fileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		log.Warn("contact store file malformed, starting empty", logger.String("path", path), logger.Error(err))
		return s, fmt.Errorf("trust: parse %s: %w", path, err)
	}
	for _, r := range records {
		id, err := identity.AgentIDFromHex(r.AgentID)
		if err != nil {
			continue
		}
		s.contacts[id] = Contact{
			AgentID:    id,
			TrustLevel: Level(r.TrustLevel),
			Label:      r.Label,
			AddedAt:    r.AddedAt,
			LastSeen:   r.LastSeen,
		}
	}
	return s, nil
}

func (s *FileStore) Lookup(agentID identity.AgentID) Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.contacts[agentID]; ok {
		return c.TrustLevel
	}
	return Unknown
}

func (s *FileStore) Upsert(c Contact) error {
	s.mu.Lock()
	if existing, ok := s.contacts[c.AgentID]; ok {
		if c.LastSeen.Before(existing.LastSeen) {
			c.LastSeen = existing.LastSeen
		}
		if c.AddedAt.IsZero() {
			c.AddedAt = existing.AddedAt
		}
	}
	if c.AddedAt.IsZero() {
		c.AddedAt = time.Now()
	}
	s.contacts[c.AgentID] = c
	err := s.flushLocked()
	s.mu.Unlock()
	return err
}

func (s *FileStore) Remove(agentID identity.AgentID) error {
	s.mu.Lock()
	delete(s.contacts, agentID)
	err := s.flushLocked()
	s.mu.Unlock()
	return err
}

func (s *FileStore) List() []Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, c)
	}
	return out
}

func (s *FileStore) Touch(agentID identity.AgentID, at time.Time) error {
	s.mu.Lock()
	c, ok := s.contacts[agentID]
	if !ok {
		c = Contact{AgentID: agentID, TrustLevel: Unknown, AddedAt: at}
	}
	if at.After(c.LastSeen) {
		c.LastSeen = at
	}
	s.contacts[agentID] = c
	err := s.flushLocked()
	s.mu.Unlock()
	return err
}

// flushLocked serializes the store and atomically replaces the backing
// file. Caller must hold s.mu.
func (s *FileStore) flushLocked() error {
	if s.path == "" {
		return nil
	}
	records := make([]fileRecord, 0, len(s.contacts))
	for _, c := range s.contacts {
		records = append(records, fileRecord{
			AgentID:    c.AgentID.String(),
			TrustLevel: int(c.TrustLevel),
			Label:      c.Label,
			AddedAt:    c.AddedAt,
			LastSeen:   c.LastSeen,
		})
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("trust: marshal: %w", err)
	}
	return atomicfile.Write(s.path, data, 0600)
}
