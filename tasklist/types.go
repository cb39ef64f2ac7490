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

package tasklist

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"

	"github.com/agentmesh/fabric/identity"
)

// TaskId is a 256-bit content hash of (title, creator, creation time).
// Stable and collision-resistant; two agents computing a TaskId for
// the same (title, creator, timestamp) always agree.
type TaskId [32]byte

// String renders the id as lowercase hex.
func (id TaskId) String() string { return hex.EncodeToString(id[:]) }

// Less gives the deterministic byte-order used to append unordered
// members to an observed ordering.
func (id TaskId) Less(other TaskId) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// computeTaskId hashes (title, creator, createdAt) into a TaskId.
func computeTaskId(title string, creator identity.AgentID, createdAt int64) TaskId {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write(creator[:])
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(createdAt))
	h.Write(ts[:])
	var out TaskId
	copy(out[:], h.Sum(nil))
	return out
}

// SortTaskIds returns ids sorted in the deterministic byte order used
// for appending unordered members at query time.
func SortTaskIds(ids []TaskId) []TaskId {
	out := append([]TaskId(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// CheckState is the discriminant of a CheckboxState.
type CheckState int

const (
	Empty CheckState = iota
	Claimed
	Done
)

func (s CheckState) String() string {
	switch s {
	case Empty:
		return "empty"
	case Claimed:
		return "claimed"
	case Done:
		return "done"
	default:
		return "invalid"
	}
}

// CheckboxState is one OR-Set element recording a claim or completion
// event. Empty itself is never added to the set -- the absence of any
// element is what Empty means; Empty exists as a CheckState value only
// so ObservedCheckState has something to return when the set is bare.
type CheckboxState struct {
	State     CheckState
	AgentID   identity.AgentID
	Timestamp int64
}

// ObservedCheckState derives a task's observable checkbox state from
// the live elements of its checkbox OR-Set: Done dominates Claimed
// dominates Empty; ties within a state level break by latest
// timestamp, then larger AgentId.
func ObservedCheckState(elements []CheckboxState) CheckboxState {
	var bestDone, bestClaimed *CheckboxState
	for i := range elements {
		e := elements[i]
		switch e.State {
		case Done:
			if bestDone == nil || wins(e, *bestDone) {
				bestDone = &elements[i]
			}
		case Claimed:
			if bestClaimed == nil || wins(e, *bestClaimed) {
				bestClaimed = &elements[i]
			}
		}
	}
	if bestDone != nil {
		return *bestDone
	}
	if bestClaimed != nil {
		return *bestClaimed
	}
	return CheckboxState{State: Empty}
}

// wins reports whether candidate should replace current under the
// latest-timestamp-then-larger-agent-id tiebreak.
func wins(candidate, current CheckboxState) bool {
	if candidate.Timestamp != current.Timestamp {
		return candidate.Timestamp > current.Timestamp
	}
	return candidate.AgentID.String() > current.AgentID.String()
}
