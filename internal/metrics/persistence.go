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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PersistenceSnapshotDuration tracks how long a checkpoint write
	// takes.
	PersistenceSnapshotDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "snapshot_duration_seconds",
			Help:      "Snapshot checkpoint write duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	// PersistenceSnapshotFailures counts failed checkpoint writes.
	PersistenceSnapshotFailures = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "snapshot_failures_total",
			Help:      "Total number of failed snapshot writes",
		},
	)
)

// PersistenceAdapter implements persistence.Metrics against the
// collectors in this file.
type PersistenceAdapter struct{}

func (PersistenceAdapter) ObserveSnapshotDuration(d time.Duration) {
	PersistenceSnapshotDuration.Observe(d.Seconds())
}

func (PersistenceAdapter) IncSnapshotFailure() { PersistenceSnapshotFailures.Inc() }
