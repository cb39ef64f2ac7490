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
	// JoinsInitiated counts JOIN requests this node has sent toward a
	// contact peer.
	JoinsInitiated = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "joins_initiated_total",
			Help:      "Total number of partial-view joins initiated",
		},
	)

	// JoinsCompleted counts JOIN attempts that concluded with this node
	// placed in at least one peer's active view, labeled by outcome.
	JoinsCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "joins_completed_total",
			Help:      "Total number of joins completed",
		},
		[]string{"status"}, // success, failure
	)

	// ShuffleRounds counts passive-view shuffle exchanges performed.
	ShuffleRounds = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "shuffle_rounds_total",
			Help:      "Total number of passive-view shuffle rounds performed",
		},
	)

	// PeerFailures counts peers evicted from the active view by the
	// failure detector, labeled by reason.
	PeerFailures = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "peer_failures_total",
			Help:      "Total number of peers evicted from the active view",
		},
		[]string{"reason"}, // missed_probes, suspect_timeout
	)
)

// ViewSizes is the capability RegisterViewGauges reads from on every
// scrape. membership.Manager satisfies it structurally without this
// package importing membership.
type ViewSizes interface {
	ActiveViewSize() int
	PassiveViewSize() int
}

// RegisterViewGauges wires live active/passive view size gauges to
// viewer. The node composition layer calls this once at startup.
func RegisterViewGauges(viewer ViewSizes) {
	promauto.With(Registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "active_view_size",
			Help:      "Current number of peers in the active view",
		},
		func() float64 { return float64(viewer.ActiveViewSize()) },
	)
	promauto.With(Registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "passive_view_size",
			Help:      "Current number of peers in the passive view",
		},
		func() float64 { return float64(viewer.PassiveViewSize()) },
	)
}
