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

// Package trust implements the local contact trust store: the mapping
// from a sender's AgentID to the trust level that gates delivery,
// rebroadcast, and surfacing of its messages.
package trust

import (
	"time"

	"github.com/agentmesh/fabric/identity"
)

// Level is the four-valued trust label a local operator attaches to a
// sender.
type Level int

const (
	// Unknown is the default for a sender observed for the first time.
	Unknown Level = iota
	Known
	Trusted
	Blocked
)

// String renders the trust level for logs and CLI output.
func (l Level) String() string {
	switch l {
	case Unknown:
		return "unknown"
	case Known:
		return "known"
	case Trusted:
		return "trusted"
	case Blocked:
		return "blocked"
	default:
		return "invalid"
	}
}

// Contact is one entry in the trust store.
type Contact struct {
	AgentID    identity.AgentID
	TrustLevel Level
	Label      string
	AddedAt    time.Time
	LastSeen   time.Time // zero if never observed
}
