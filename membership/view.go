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

package membership

import (
	"math/rand"
	"sync"
	"time"

	"github.com/agentmesh/fabric/identity"
)

// peerInfo is what the view tracks about one peer, active or passive.
type peerInfo struct {
	id       identity.MachineID
	addr     string
	addedAt  time.Time
}

// views holds the active and passive partial views plus capacity
// bookkeeping. Both views preserve insertion order so eviction can
// follow the oldest-first rule the shuffle/promotion operations need.
type views struct {
	mu sync.RWMutex

	activeCap  int
	passiveCap int

	activeOrder []identity.MachineID
	active      map[identity.MachineID]*peerInfo

	passiveOrder []identity.MachineID
	passive      map[identity.MachineID]*peerInfo

	degraded bool
}

func newViews(activeCap, passiveCap int) *views {
	return &views{
		activeCap:  activeCap,
		passiveCap: passiveCap,
		active:     make(map[identity.MachineID]*peerInfo),
		passive:    make(map[identity.MachineID]*peerInfo),
	}
}

// addActive inserts id into the active view, evicting the oldest
// active member to the passive view if the view is already at
// capacity. Returns the evicted peer, if any.
func (v *views) addActive(id identity.MachineID, addr string) (evicted *peerInfo) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.active[id]; ok {
		return nil
	}
	// A peer admitted to the active view must leave the passive one:
	// active and passive are disjoint at every quiescent observation
	// (spec §3), and leaving id in both would let a later
	// promotePassiveLocked pick it again and append a duplicate into
	// activeOrder.
	if _, ok := v.passive[id]; ok {
		delete(v.passive, id)
		v.passiveOrder = removeID(v.passiveOrder, id)
	}
	if len(v.activeOrder) >= v.activeCap && len(v.activeOrder) > 0 {
		oldestID := v.activeOrder[0]
		v.activeOrder = v.activeOrder[1:]
		evicted = v.active[oldestID]
		delete(v.active, oldestID)
	}
	v.active[id] = &peerInfo{id: id, addr: addr, addedAt: time.Now()}
	v.activeOrder = append(v.activeOrder, id)
	v.degraded = false
	if evicted != nil {
		v.addPassiveLocked(evicted.id, evicted.addr)
	}
	return evicted
}

func (v *views) addPassiveLocked(id identity.MachineID, addr string) {
	if id == (identity.MachineID{}) {
		return
	}
	if _, ok := v.active[id]; ok {
		return
	}
	if _, ok := v.passive[id]; ok {
		return
	}
	if len(v.passiveOrder) >= v.passiveCap && len(v.passiveOrder) > 0 {
		oldestID := v.passiveOrder[0]
		v.passiveOrder = v.passiveOrder[1:]
		delete(v.passive, oldestID)
	}
	v.passive[id] = &peerInfo{id: id, addr: addr, addedAt: time.Now()}
	v.passiveOrder = append(v.passiveOrder, id)
}

// addPassive is addPassiveLocked with its own lock, for callers
// outside the view (the shuffle fold-in path).
func (v *views) addPassive(id identity.MachineID, addr string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.addPassiveLocked(id, addr)
}

// removeActive removes id from the active view and, if promote is
// true, moves a random passive peer into the now-vacant active slot.
// Returns the promoted peer, or nil if none was available (the view
// is left degraded in that case).
func (v *views) removeActive(id identity.MachineID, promote bool) *peerInfo {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.active[id]; !ok {
		return nil
	}
	delete(v.active, id)
	v.activeOrder = removeID(v.activeOrder, id)

	if !promote {
		return nil
	}
	return v.promotePassiveLocked()
}

func (v *views) promotePassiveLocked() *peerInfo {
	for len(v.passiveOrder) > 0 {
		idx := rand.Intn(len(v.passiveOrder))
		id := v.passiveOrder[idx]
		v.passiveOrder = append(v.passiveOrder[:idx], v.passiveOrder[idx+1:]...)
		info := v.passive[id]
		delete(v.passive, id)

		// Defensive: active and passive are kept disjoint by addActive
		// evicting from passive on admission, so this should never
		// fire, but a promotion must never create a duplicate
		// activeOrder entry if it somehow does.
		if _, alreadyActive := v.active[id]; alreadyActive {
			continue
		}

		v.active[id] = info
		v.activeOrder = append(v.activeOrder, id)
		v.degraded = false
		return info
	}
	v.degraded = true
	return nil
}

func (v *views) removePassive(id identity.MachineID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.passive[id]; !ok {
		return
	}
	delete(v.passive, id)
	v.passiveOrder = removeID(v.passiveOrder, id)
}

func removeID(s []identity.MachineID, id identity.MachineID) []identity.MachineID {
	for i, cur := range s {
		if cur == id {
			return append(s[:i:i], s[i+1:]...)
		}
	}
	return s
}

func (v *views) isActive(id identity.MachineID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.active[id]
	return ok
}

func (v *views) activeSnapshot() []identity.MachineID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]identity.MachineID, len(v.activeOrder))
	copy(out, v.activeOrder)
	return out
}

func (v *views) passiveSnapshot() []identity.MachineID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]identity.MachineID, len(v.passiveOrder))
	copy(out, v.passiveOrder)
	return out
}

func (v *views) activeAddr(id identity.MachineID) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	info, ok := v.active[id]
	if !ok {
		return "", false
	}
	return info.addr, true
}

func (v *views) randomActive(exclude identity.MachineID) (identity.MachineID, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	candidates := make([]identity.MachineID, 0, len(v.activeOrder))
	for _, id := range v.activeOrder {
		if id != exclude {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return identity.MachineID{}, false
	}
	return candidates[rand.Intn(len(candidates))], true
}

// sample returns up to n distinct peers drawn from the union of the
// active and passive views, for a Shuffle exchange.
func (v *views) sample(n int) []identity.MachineID {
	v.mu.RLock()
	pool := make([]identity.MachineID, 0, len(v.activeOrder)+len(v.passiveOrder))
	pool = append(pool, v.activeOrder...)
	pool = append(pool, v.passiveOrder...)
	v.mu.RUnlock()

	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if n > len(pool) {
		n = len(pool)
	}
	return pool[:n]
}

func (v *views) isDegraded() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.degraded
}

func (v *views) activeLen() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.activeOrder)
}

func (v *views) passiveLen() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.passiveOrder)
}
