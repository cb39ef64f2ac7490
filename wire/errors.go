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

package wire

import "errors"

var (
	// ErrInvalidFormat is returned for truncated or otherwise malformed frames.
	ErrInvalidFormat = errors.New("wire: invalid format")
	// ErrUnsupportedVersion is returned when the leading version byte isn't one this decoder understands.
	ErrUnsupportedVersion = errors.New("wire: unsupported version")
	// ErrMessageTooLarge is returned when a length field would overflow its declared width.
	ErrMessageTooLarge = errors.New("wire: message too large")
	// ErrSignatureInvalid is returned when a decoded frame's signature does not verify.
	ErrSignatureInvalid = errors.New("wire: signature invalid")
)
