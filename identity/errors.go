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

package identity

import "errors"

// Error categories from the identity taxonomy.
var (
	ErrKeyGeneration    = errors.New("identity: key generation failed")
	ErrInvalidKey       = errors.New("identity: invalid key material")
	ErrPeerIDMismatch   = errors.New("identity: derived id does not match claimed id")
	ErrSignatureInvalid = errors.New("identity: signature verification failed")
	ErrCertificateMissing = errors.New("identity: agent certificate missing")
	ErrStorage          = errors.New("identity: storage error")
)
