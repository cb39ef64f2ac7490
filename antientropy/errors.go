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

import "errors"

// ErrNoActivePeers describes why a round was skipped when there is no
// active-view peer to reconcile against. RunRound does not return it
// directly (a skipped round is not a failure); it exists so tests and
// logging call sites have a named sentinel to reference.
var ErrNoActivePeers = errors.New("antientropy: no active peers available")

// errRoundTimeout is returned internally when a peer doesn't answer a
// summary or fetch request within cfg.RoundTimeout. RunRound logs it,
// records the round as a partial_failure and moves on to the next
// sampled peer.
var errRoundTimeout = errors.New("antientropy: round timed out waiting for peer reply")
