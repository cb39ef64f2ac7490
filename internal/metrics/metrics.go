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

// Package metrics exposes this agent's Prometheus metrics: crypto
// operation counters, membership view-size gauges, pubsub traffic
// counters, CRDT merge/version gauges, and persistence checkpoint
// timing, all registered against a private Registry rather than the
// global default so an agent embedded alongside other instrumented
// code never collides with it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mesh"

// Registry is the private metric registry every collector in this
// package registers against. Handler, which exposes it over HTTP, lives
// in server.go.
var Registry = prometheus.NewRegistry()
