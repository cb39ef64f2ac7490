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

// Package identity implements the three-layer machine/agent/user
// cryptographic identity system: keypair generation, stable id
// derivation, and agent-certificate issuance and verification.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
)

// idSize is the byte length of every identifier type.
const idSize = 32

// domain separators keep MachineId, AgentId and UserId from ever
// colliding even if the same public key were reused across layers.
const (
	domainMachine = "agentmesh/id/machine/v1"
	domainAgent   = "agentmesh/id/agent/v1"
	domainUser    = "agentmesh/id/user/v1"
)

// MachineID identifies a physical or virtual host's transport-binding
// key. It is never equal to an AgentID or UserID at the type level even
// when the underlying bytes collide.
type MachineID [idSize]byte

// AgentID identifies a portable logical agent identity.
type AgentID [idSize]byte

// UserID identifies the human operator who may own several agents.
type UserID [idSize]byte

// String renders the identifier as lowercase hex.
func (id MachineID) String() string { return hex.EncodeToString(id[:]) }
func (id AgentID) String() string   { return hex.EncodeToString(id[:]) }
func (id UserID) String() string    { return hex.EncodeToString(id[:]) }

// IsZero reports whether the identifier was never assigned.
func (id MachineID) IsZero() bool { return id == MachineID{} }
func (id AgentID) IsZero() bool   { return id == AgentID{} }
func (id UserID) IsZero() bool    { return id == UserID{} }

func deriveID(domain string, publicKey []byte) [idSize]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write(publicKey)
	var out [idSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DeriveMachineID computes a MachineID from a machine public key.
func DeriveMachineID(publicKey []byte) MachineID { return MachineID(deriveID(domainMachine, publicKey)) }

// DeriveAgentID computes an AgentID from an agent public key.
func DeriveAgentID(publicKey []byte) AgentID { return AgentID(deriveID(domainAgent, publicKey)) }

// DeriveUserID computes a UserID from a user public key.
func DeriveUserID(publicKey []byte) UserID { return UserID(deriveID(domainUser, publicKey)) }

// VerifyMachineID checks that id was derived from publicKey, returning
// ErrPeerIDMismatch otherwise. Used to detect key-substitution attacks
// during peer introduction.
func VerifyMachineID(id MachineID, publicKey []byte) error {
	if DeriveMachineID(publicKey) != id {
		return ErrPeerIDMismatch
	}
	return nil
}

// VerifyAgentID checks that id was derived from publicKey.
func VerifyAgentID(id AgentID, publicKey []byte) error {
	if DeriveAgentID(publicKey) != id {
		return ErrPeerIDMismatch
	}
	return nil
}

// VerifyUserID checks that id was derived from publicKey.
func VerifyUserID(id UserID, publicKey []byte) error {
	if DeriveUserID(publicKey) != id {
		return ErrPeerIDMismatch
	}
	return nil
}

// AgentIDFromHex parses a lowercase-hex AgentID, for CLI/config input.
func AgentIDFromHex(s string) (AgentID, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != idSize {
		return AgentID{}, ErrInvalidKey
	}
	var id AgentID
	copy(id[:], b)
	return id, nil
}

// MachineIDFromHex parses a lowercase-hex MachineID, used by transports
// that exchange identities as text (e.g. the websocket handshake).
func MachineIDFromHex(s string) (MachineID, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != idSize {
		return MachineID{}, ErrInvalidKey
	}
	var id MachineID
	copy(id[:], b)
	return id, nil
}
