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

// Package tasklist implements the gossip-synchronized collaborative
// task list CRDT: tasks with an add-wins checkbox state, LWW metadata
// fields, list-wide ordering and a changelog of deltas for
// incremental sync.
package tasklist

import "errors"

var (
	ErrTaskNotFound      = errors.New("tasklist: task not found")
	ErrInvalidTransition  = errors.New("tasklist: invalid checkbox transition")
	ErrInvalidReorder    = errors.New("tasklist: reorder sequence is not a permutation of members")
	ErrMergeIncompatible = errors.New("tasklist: incompatible snapshot/delta format")
)
