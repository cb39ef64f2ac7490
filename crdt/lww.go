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

package crdt

import (
	"sync"

	"github.com/agentmesh/fabric/identity"
)

// LWWRegister is a last-writer-wins register dominated by vector clock
// rather than wall-clock time: a write only takes effect if its clock
// dominates the register's current clock, or, when the two clocks are
// concurrent, if its origin AgentId is lexicographically larger. A write
// whose clock equals the current clock is ignored.
type LWWRegister[T any] struct {
	mu     sync.RWMutex
	value  T
	clock  VectorClock
	origin identity.AgentID
	set    bool
}

// NewLWWRegister returns an unset register. Reading Value before the
// first Set returns the zero value of T.
func NewLWWRegister[T any]() *LWWRegister[T] {
	return &LWWRegister[T]{clock: NewVectorClock()}
}

// Set writes value with clock and origin, applying the same dominance
// rule as Merge would for a remote write. Returns true if the write
// took effect.
func (r *LWWRegister[T]) Set(value T, clock VectorClock, origin identity.AgentID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wins(clock, origin) {
		r.value = value
		r.clock = clock
		r.origin = origin
		r.set = true
		return true
	}
	return false
}

// wins reports whether a write with (clock, origin) should replace the
// current register state. Caller holds r.mu.
func (r *LWWRegister[T]) wins(clock VectorClock, origin identity.AgentID) bool {
	if !r.set {
		return true
	}
	switch clock.Compare(r.clock) {
	case Greater:
		return true
	case Less:
		return false
	case Equal:
		// Identical clock: treat as a no-op re-delivery, not a new
		// write, so idempotent re-application doesn't flip origin.
		return false
	default: // Concurrent
		return origin.String() > r.origin.String()
	}
}

// Value returns the current value, its vector clock, and whether the
// register has ever been set.
func (r *LWWRegister[T]) Value() (value T, clock VectorClock, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value, r.clock, r.set
}

// Clock returns the register's current vector clock.
func (r *LWWRegister[T]) Clock() VectorClock {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clock
}

// Merge folds other's state into r using the same dominance rule as Set.
func (r *LWWRegister[T]) Merge(other *LWWRegister[T]) {
	other.mu.RLock()
	value, clock, origin, set := other.value, other.clock, other.origin, other.set
	other.mu.RUnlock()
	if !set {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wins(clock, origin) {
		r.value = value
		r.clock = clock
		r.origin = origin
		r.set = true
	}
}
