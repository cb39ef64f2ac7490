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

package pubsub

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// dedupCache is the message-ID dedup cache: capacity-bounded by LRU
// eviction and additionally swept on a timer so an ID doesn't linger
// past its TTL just because the cache never filled up.
type dedupCache struct {
	mu    sync.Mutex
	cache *lru.Cache[[32]byte, time.Time]
	ttl   time.Duration
}

func newDedupCache(capacity int, ttl time.Duration) *dedupCache {
	c, err := lru.New[[32]byte, time.Time](capacity)
	if err != nil {
		// Only returns an error for a non-positive size; the caller-
		// supplied capacity is always a positive constant here.
		panic(err)
	}
	return &dedupCache{cache: c, ttl: ttl}
}

// Contains reports whether id is present and not yet expired. An
// expired entry is evicted as a side effect.
func (d *dedupCache) Contains(id [32]byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	seenAt, ok := d.cache.Get(id)
	if !ok {
		return false
	}
	if time.Since(seenAt) > d.ttl {
		d.cache.Remove(id)
		return false
	}
	return true
}

// Add records id as seen now.
func (d *dedupCache) Add(id [32]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache.Add(id, time.Now())
}

// sweep removes every entry older than the TTL. Run periodically so
// cold topics don't hold stale entries indefinitely under the
// capacity ceiling.
func (d *dedupCache) sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	for _, id := range d.cache.Keys() {
		seenAt, ok := d.cache.Peek(id)
		if ok && now.Sub(seenAt) > d.ttl {
			d.cache.Remove(id)
		}
	}
}

// runSweeper runs sweep on interval until stop is closed.
func (d *dedupCache) runSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.sweep()
		case <-stop:
			return
		}
	}
}
