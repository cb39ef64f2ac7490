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

// Package persistence periodically snapshots a tasklist.TaskList to
// durable storage and restores it on startup, per the checkpoint and
// degraded/strict failure policy described for this system's task list
// store.
package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/agentmesh/fabric/internal/logger"
	"github.com/agentmesh/fabric/tasklist"
)

// Metrics is an optional observer of checkpoint activity. A nil
// Metrics (the default) is a no-op.
type Metrics interface {
	ObserveSnapshotDuration(d time.Duration)
	IncSnapshotFailure()
}

// Manager drives checkpointing of one TaskList against one Store. The
// zero value is not usable; construct with NewManager.
type Manager struct {
	cfg     Config
	store   Store
	list    *tasklist.TaskList
	log     logger.Logger
	metrics Metrics

	mu          sync.Mutex
	pending     uint64
	dirtySince  time.Time
	degraded    bool
	lastSuccess time.Time
}

// SetMetrics attaches an optional metrics observer.
func (m *Manager) SetMetrics(metrics Metrics) {
	m.metrics = metrics
}

// NewManager wires store to list. It does not read the store; call
// Load for that.
func NewManager(cfg Config, store Store, list *tasklist.TaskList, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Manager{cfg: cfg, store: store, list: list, log: log}
}

// Load restores list's state from the most recent loadable snapshot,
// merging it into m.list in place. Absence of any loadable snapshot is
// reported via ErrNoLoadableSnapshot, which is not itself fatal in
// either mode: callers proceed with an empty list. Any other store
// failure is returned as ErrPersistenceUnavailable in strict mode; in
// degraded mode it is logged, the manager is marked degraded and Load
// returns nil.
func (m *Manager) Load() error {
	restored, err := m.store.Load()
	if err != nil {
		if err == ErrNoLoadableSnapshot {
			return err
		}
		if m.cfg.Mode == Strict {
			return ErrPersistenceUnavailable
		}
		m.log.Warn("persistence: load failed, starting degraded", logger.Error(err))
		m.setDegraded(true)
		return nil
	}
	m.list.Merge(restored.Delta(0))
	m.list.SetLastPublishedVersion(restored.LastPublishedVersion())
	return nil
}

// NotifyMutation records that list changed, starting the T_dirty timer
// on the first call since the last successful checkpoint. Callers
// (synctask's wrapper methods, remote-delta application) call this
// once per applied mutation.
func (m *Manager) NotifyMutation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == 0 {
		m.dirtySince = time.Now()
	}
	m.pending++
}

// Degraded reports whether the last checkpoint or load attempt failed
// in degraded mode.
func (m *Manager) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

// LastCheckpoint returns the time of the last successful snapshot
// write, or the zero time if none has succeeded yet.
func (m *Manager) LastCheckpoint() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSuccess
}

func (m *Manager) setDegraded(v bool) {
	m.mu.Lock()
	m.degraded = v
	m.mu.Unlock()
}

// shouldCheckpointLocked reports whether M or T_dirty has been
// exceeded. Caller holds m.mu.
func (m *Manager) shouldCheckpointLocked() bool {
	if m.pending == 0 {
		return false
	}
	if m.pending >= m.cfg.CheckpointMutations {
		return true
	}
	return time.Since(m.dirtySince) >= m.cfg.CheckpointInterval
}

// Run polls every CheckpointInterval/4 (capped at one second minimum)
// for a triggered checkpoint, until ctx is cancelled, at which point it
// performs one final flush per the graceful-shutdown trigger.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.CheckpointInterval / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			due := m.shouldCheckpointLocked()
			m.mu.Unlock()
			if due {
				if err := m.Flush(); err != nil {
					m.log.Error("persistence: checkpoint failed, halting", logger.Error(err))
					return
				}
			}
		case <-ctx.Done():
			if err := m.Flush(); err != nil {
				m.log.Warn("persistence: final checkpoint failed", logger.Error(err))
			}
			return
		}
	}
}

// Flush performs an explicit checkpoint regardless of trigger state.
// In strict mode a write failure is returned as ErrPersistenceUnavailable
// and the caller should halt the checkpoint loop; in degraded mode the
// failure is absorbed, the degraded flag is set, and nil is returned.
func (m *Manager) Flush() error {
	start := time.Now()
	err := m.store.Save(m.list)
	if m.metrics != nil {
		m.metrics.ObserveSnapshotDuration(time.Since(start))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		if m.metrics != nil {
			m.metrics.IncSnapshotFailure()
		}
		if m.cfg.Mode == Strict {
			return ErrPersistenceUnavailable
		}
		m.degraded = true
		m.log.Warn("persistence: snapshot write failed, degraded", logger.Error(err))
		return nil
	}
	m.pending = 0
	m.degraded = false
	m.lastSuccess = time.Now()
	return nil
}
