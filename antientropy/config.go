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

package antientropy

import "time"

// Config holds the anti-entropy round tunables.
type Config struct {
	// Interval is I_ae: how often a reconciliation round runs.
	Interval time.Duration
	// SampleSize is S_ae: how many random active peers each round
	// reconciles against.
	SampleSize int
	// RoundTimeout bounds how long a round waits on one peer's summary
	// or fetch reply before moving on.
	RoundTimeout time.Duration
}

// DefaultConfig returns the base-specification defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Second,
		SampleSize:   3,
		RoundTimeout: 5 * time.Second,
	}
}
