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

package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/agentmesh/fabric/internal/atomicfile"
	"github.com/agentmesh/fabric/tasklist"
)

// Store is the snapshot backend a Manager drives. FileStore is the
// default; an alternate pgx-backed store is provided in postgres.go for
// deployments that want snapshots alongside contacts in one database.
type Store interface {
	// Save writes a new snapshot of list and prunes down to the
	// backend's retention policy.
	Save(list *tasklist.TaskList) error
	// Load scans existing snapshots newest-first and returns the first
	// one that parses. Returns ErrNoLoadableSnapshot if none do.
	Load() (*tasklist.TaskList, error)
}

const snapshotPrefix = "snapshot-"
const snapshotSuffix = ".json"

// FileStore persists snapshots as numbered files in a directory, each
// written with the write-temp/fsync/rename idiom, retaining only the
// most recent Retention of them.
type FileStore struct {
	dir       string
	retention int
	seq       uint64
}

// NewFileStore returns a FileStore rooted at dir, creating it if
// necessary, and primes its sequence counter from any snapshots already
// present so new writes keep increasing file names.
func NewFileStore(dir string, retention int) (*FileStore, error) {
	if retention < 1 {
		retention = 1
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("persistence: create snapshot dir: %w", err)
	}
	s := &FileStore{dir: dir, retention: retention}
	if seqs, err := s.listSeqsDesc(); err == nil && len(seqs) > 0 {
		s.seq = seqs[0]
	}
	return s, nil
}

func (s *FileStore) path(seq uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%020d%s", snapshotPrefix, seq, snapshotSuffix))
}

// listSeqsDesc returns every snapshot sequence number found in dir,
// newest (highest) first.
func (s *FileStore) listSeqsDesc() ([]uint64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var seqs []uint64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix)
		seq, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] > seqs[j] })
	return seqs, nil
}

// Save encodes list and writes it as the next snapshot file, then
// prunes anything beyond Retention.
func (s *FileStore) Save(list *tasklist.TaskList) error {
	data, err := encodeSnapshot(list)
	if err != nil {
		return err
	}
	s.seq++
	if err := atomicfile.Write(s.path(s.seq), data, 0600); err != nil {
		return fmt.Errorf("persistence: write snapshot: %w", err)
	}
	return s.pruneLocked()
}

func (s *FileStore) pruneLocked() error {
	seqs, err := s.listSeqsDesc()
	if err != nil {
		return fmt.Errorf("persistence: list snapshots: %w", err)
	}
	if len(seqs) <= s.retention {
		return nil
	}
	for _, seq := range seqs[s.retention:] {
		_ = os.Remove(s.path(seq))
	}
	return nil
}

// Load scans newest-first, returning the first snapshot that decodes
// cleanly. Unreadable or malformed candidates are skipped rather than
// failing the whole load.
func (s *FileStore) Load() (*tasklist.TaskList, error) {
	seqs, err := s.listSeqsDesc()
	if err != nil {
		return nil, fmt.Errorf("persistence: list snapshots: %w", err)
	}
	for _, seq := range seqs {
		data, err := os.ReadFile(s.path(seq))
		if err != nil {
			continue
		}
		list, err := decodeSnapshot(data)
		if err != nil {
			continue
		}
		return list, nil
	}
	return nil, ErrNoLoadableSnapshot
}
