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
	// CRDTMerges counts remote deltas merged into a task list CRDT.
	CRDTMerges = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crdt",
			Name:      "merges_total",
			Help:      "Total number of remote deltas merged",
		},
	)

	// TaskListVersion is the current local version counter of a synced
	// task list.
	TaskListVersion = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasklist",
			Name:      "version",
			Help:      "Current version of the task list CRDT",
		},
	)
)

// TaskListAdapter implements tasklist.Metrics against the collectors in
// this file.
type TaskListAdapter struct{}

func (TaskListAdapter) IncMerge()            { CRDTMerges.Inc() }
func (TaskListAdapter) SetVersion(v uint64)  { TaskListVersion.Set(float64(v)) }
