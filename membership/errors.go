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

import "errors"

var (
	// ErrNoPeersAvailable is returned by Join when no bootstrap peer
	// acknowledges within the join timeout.
	ErrNoPeersAvailable = errors.New("membership: no peers available")
	// ErrUnknownControlMessage is returned when a "_membership" frame
	// decodes to a payload this build doesn't recognise.
	ErrUnknownControlMessage = errors.New("membership: unknown control message")
)
