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

import "time"

// Mode selects how storage failures are handled.
type Mode int

const (
	// Degraded is the default: storage failures do not halt the agent,
	// the runtime marks state degraded and keeps serving from memory,
	// and periodic checkpoints keep retrying.
	Degraded Mode = iota
	// Strict surfaces storage failures as ErrPersistenceUnavailable at
	// startup and halts the checkpoint loop on any later write failure.
	Strict
)

// CurrentFormatVersion is the snapshot envelope format this build
// writes. Load accepts CurrentFormatVersion and CurrentFormatVersion-1.
const CurrentFormatVersion uint32 = 1

// Config parameterizes a Manager's checkpoint policy and storage
// backend.
type Config struct {
	// Dir is the directory snapshot files live in (FileStore only).
	Dir string
	// Retention is the number of most recent snapshots kept on disk;
	// older ones are pruned after each successful write. R=3 per spec.
	Retention int
	// CheckpointMutations is M: a checkpoint fires after this many
	// mutations have accumulated since the last snapshot.
	CheckpointMutations uint64
	// CheckpointInterval is T_dirty: a checkpoint fires this long after
	// the first unsnapshotted mutation, regardless of count.
	CheckpointInterval time.Duration
	// Mode selects degraded vs strict failure handling.
	Mode Mode
}

// DefaultConfig returns the spec's stated defaults: M=50, T_dirty=60s,
// R=3, degraded mode.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                 dir,
		Retention:           3,
		CheckpointMutations: 50,
		CheckpointInterval:  60 * time.Second,
		Mode:                Degraded,
	}
}
