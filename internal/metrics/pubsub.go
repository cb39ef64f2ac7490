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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PubsubPublished counts messages this node has published to a
	// topic.
	PubsubPublished = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pubsub",
			Name:      "messages_published_total",
			Help:      "Total number of messages published",
		},
		[]string{"topic"},
	)

	// PubsubDelivered counts messages handed to a local subscriber.
	PubsubDelivered = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pubsub",
			Name:      "messages_delivered_total",
			Help:      "Total number of messages delivered to local subscribers",
		},
		[]string{"topic"},
	)

	// PubsubRebroadcast counts messages forwarded on to the active view
	// after local processing.
	PubsubRebroadcast = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pubsub",
			Name:      "messages_rebroadcast_total",
			Help:      "Total number of messages rebroadcast",
		},
		[]string{"topic"},
	)

	// PubsubDropped counts incoming frames rejected during the
	// decode/dedup/verify/trust pipeline, labeled by topic and reason.
	PubsubDropped = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pubsub",
			Name:      "messages_dropped_total",
			Help:      "Total number of messages dropped before delivery",
		},
		[]string{"topic", "reason"}, // decode_error, duplicate, unknown_sender, signature_invalid, blocked
	)

	// PubsubFanoutZero counts publishes whose active view was empty at
	// send time.
	PubsubFanoutZero = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pubsub",
			Name:      "fanout_zero_total",
			Help:      "Total number of publishes with no active-view peers to send to",
		},
		[]string{"topic"},
	)

	// PubsubInboxDrops counts deliveries dropped because a
	// subscriber's inbox channel was full.
	PubsubInboxDrops = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pubsub",
			Name:      "inbox_drops_total",
			Help:      "Total number of deliveries dropped due to a full subscriber inbox",
		},
		[]string{"topic"},
	)
)

// PubsubAdapter implements pubsub.Metrics against the counters in this
// file, without internal/metrics importing the pubsub package.
type PubsubAdapter struct{}

func (PubsubAdapter) IncPublished(topic string)        { PubsubPublished.WithLabelValues(topic).Inc() }
func (PubsubAdapter) IncDelivered(topic string)        { PubsubDelivered.WithLabelValues(topic).Inc() }
func (PubsubAdapter) IncRebroadcast(topic string)      { PubsubRebroadcast.WithLabelValues(topic).Inc() }
func (PubsubAdapter) IncFanoutZero(topic string)       { PubsubFanoutZero.WithLabelValues(topic).Inc() }
func (PubsubAdapter) IncInboxDrop(topic string)        { PubsubInboxDrops.WithLabelValues(topic).Inc() }
func (PubsubAdapter) IncDropped(topic, reason string)  { PubsubDropped.WithLabelValues(topic, reason).Inc() }
