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

import "time"

// Config holds the tunables of the dedup cache and per-subscription
// delivery path.
type Config struct {
	// DedupCapacity is C_dedup: the LRU cache's maximum entry count.
	DedupCapacity int
	// DedupTTL is T_dedup: how long a message-ID is remembered
	// regardless of capacity pressure.
	DedupTTL time.Duration
	// DedupSweepInterval is how often the cache is swept for entries
	// past DedupTTL, independent of LRU eviction.
	DedupSweepInterval time.Duration
	// SubscriptionInboxCapacity bounds each Subscription's delivery
	// channel; a full inbox drops its oldest pending message at that
	// one handle rather than blocking delivery to other subscribers.
	SubscriptionInboxCapacity int
	// HistoryPerTopic bounds how many recent frames per topic are kept
	// for anti-entropy fetch requests to draw on.
	HistoryPerTopic int
}

// DefaultConfig returns the base-specification defaults.
func DefaultConfig() Config {
	return Config{
		DedupCapacity:             10000,
		DedupTTL:                  5 * time.Minute,
		DedupSweepInterval:        30 * time.Second,
		SubscriptionInboxCapacity: 256,
		HistoryPerTopic:           500,
	}
}
