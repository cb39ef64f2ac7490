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

// Package crdt implements the conflict-free replicated data types the
// rest of this module synchronizes over gossip: vector clocks, an
// add-wins OR-Set, and a vector-clock-dominant LWW-Register. Every
// primitive here is commutative, associative and idempotent under
// Merge, which is the only property the gossip layer above it relies
// on.
package crdt

import (
	"bytes"
	"encoding/gob"
	"sort"

	"github.com/agentmesh/fabric/identity"
)

// Ordering is the result of comparing two vector clocks.
type Ordering int

const (
	Equal Ordering = iota
	Less
	Greater
	Concurrent
)

// VectorClock maps an AgentId to a monotonically non-decreasing
// counter. The zero value is an empty, valid clock.
type VectorClock struct {
	counters map[identity.AgentID]uint64
}

// NewVectorClock returns an empty clock.
func NewVectorClock() VectorClock {
	return VectorClock{counters: make(map[identity.AgentID]uint64)}
}

// Increment returns a copy of the clock with the counter for agentID
// bumped by one; the receiver is left unchanged (callers replace it,
// e.g. `vc = vc.Increment(id)`).
func (vc VectorClock) Increment(agentID identity.AgentID) VectorClock {
	out := vc.Clone()
	out.counters[agentID] = out.counters[agentID] + 1
	return out
}

// Get returns the counter for agentID, zero if never observed.
func (vc VectorClock) Get(agentID identity.AgentID) uint64 {
	return vc.counters[agentID]
}

// Clone returns an independent copy.
func (vc VectorClock) Clone() VectorClock {
	out := NewVectorClock()
	for k, v := range vc.counters {
		out.counters[k] = v
	}
	return out
}

// Merge returns the pointwise maximum of vc and other.
func (vc VectorClock) Merge(other VectorClock) VectorClock {
	out := vc.Clone()
	for k, v := range other.counters {
		if v > out.counters[k] {
			out.counters[k] = v
		}
	}
	return out
}

// Compare implements the standard vector-clock partial order.
func (vc VectorClock) Compare(other VectorClock) Ordering {
	lessSeen, greaterSeen := false, false

	ids := make(map[identity.AgentID]struct{})
	for k := range vc.counters {
		ids[k] = struct{}{}
	}
	for k := range other.counters {
		ids[k] = struct{}{}
	}

	for id := range ids {
		a, b := vc.counters[id], other.counters[id]
		switch {
		case a < b:
			lessSeen = true
		case a > b:
			greaterSeen = true
		}
	}

	switch {
	case !lessSeen && !greaterSeen:
		return Equal
	case lessSeen && !greaterSeen:
		return Less
	case !lessSeen && greaterSeen:
		return Greater
	default:
		return Concurrent
	}
}

// Dominates reports whether vc happens-after-or-equal other, i.e.
// Compare returns Greater or Equal.
func (vc VectorClock) Dominates(other VectorClock) bool {
	c := vc.Compare(other)
	return c == Greater || c == Equal
}

// AgentIDs returns the set of agents this clock has observed, sorted
// for deterministic iteration (e.g. canonical encoding for a snapshot).
func (vc VectorClock) AgentIDs() []identity.AgentID {
	out := make([]identity.AgentID, 0, len(vc.counters))
	for k := range vc.counters {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// IsEmpty reports whether the clock has never been incremented.
func (vc VectorClock) IsEmpty() bool {
	return len(vc.counters) == 0
}

// GobEncode and GobDecode let VectorClock cross gob boundaries (the
// task list delta envelope, persistence snapshots) despite its backing
// map being unexported: gob otherwise silently drops unexported fields
// instead of erroring, which would zero out every clock on the wire.
func (vc VectorClock) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(vc.counters); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (vc *VectorClock) GobDecode(data []byte) error {
	counters := make(map[identity.AgentID]uint64)
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&counters); err != nil {
		return err
	}
	vc.counters = counters
	return nil
}
