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

package persistence

import "errors"

// ErrPersistenceUnavailable is returned in strict mode by Load when the
// store cannot be read, and by Flush on a snapshot write failure.
var ErrPersistenceUnavailable = errors.New("persistence: unavailable")

// ErrNoLoadableSnapshot is returned by Load when no candidate snapshot
// (of up to Retention kept) parses as a valid envelope. Not itself an
// error condition in degraded mode: callers start from an empty list.
var ErrNoLoadableSnapshot = errors.New("persistence: no loadable snapshot")

// ErrMalformedSnapshot is returned by decodeSnapshot for a candidate
// that fails to parse as the versioned JSON envelope, or whose
// format_version is unsupported.
var ErrMalformedSnapshot = errors.New("persistence: malformed snapshot")
