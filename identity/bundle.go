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

// Bundle exclusively owns a node's machine and agent keypairs, and
// optionally a user keypair plus the certificate binding it to the
// agent. Invariant: MachineID/AgentID/UserID are always the derivation
// of the corresponding keypair's public key.
type Bundle struct {
	MachineKeypair *Keypair
	AgentKeypair   *Keypair
	UserKeypair    *Keypair // nil if this agent is not bound to a user

	MachineID MachineID
	AgentID   AgentID
	UserID    UserID // zero if UserKeypair is nil

	Certificate *AgentCertificate // nil if UserKeypair is nil
}

// GenerateBundle creates fresh machine and agent keypairs, and - if
// userKeypair is supplied - issues an AgentCertificate signed by it.
// Fails with ErrKeyGeneration if either scheme invocation fails.
func GenerateBundle(userKeypair *Keypair) (*Bundle, error) {
	machineKP, err := GenerateKeypair()
	if err != nil {
		return nil, ErrKeyGeneration
	}
	agentKP, err := GenerateKeypair()
	if err != nil {
		return nil, ErrKeyGeneration
	}

	b := &Bundle{
		MachineKeypair: machineKP,
		AgentKeypair:   agentKP,
		MachineID:      DeriveMachineID(machineKP.PublicKeyBytes()),
		AgentID:        DeriveAgentID(agentKP.PublicKeyBytes()),
	}

	if userKeypair != nil {
		b.UserKeypair = userKeypair
		b.UserID = DeriveUserID(userKeypair.PublicKeyBytes())
		b.Certificate = IssueCertificate(userKeypair, b.AgentID)
	}

	return b, nil
}

// HasUser reports whether this bundle is bound to a user identity.
func (b *Bundle) HasUser() bool { return b.UserKeypair != nil }

// Close zeroes all key material owned by the bundle.
func (b *Bundle) Close() {
	if b.MachineKeypair != nil {
		b.MachineKeypair.Close()
	}
	if b.AgentKeypair != nil {
		b.AgentKeypair.Close()
	}
	if b.UserKeypair != nil {
		b.UserKeypair.Close()
	}
}
