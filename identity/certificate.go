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

import (
	"encoding/binary"
	"time"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
)

// AgentCertificate binds a UserID to an AgentID, signed by the user's
// secret key. It is immutable once issued.
type AgentCertificate struct {
	UserID    UserID
	AgentID   AgentID
	IssuedAt  int64 // unix seconds
	Signature []byte
}

// canonicalCertificateBytes builds the deterministic signing input for
// an AgentCertificate: fixed-width concatenation of userID, agentID and
// issuedAt as 8 big-endian bytes (every field but the signature).
func canonicalCertificateBytes(userID UserID, agentID AgentID, issuedAt int64) []byte {
	buf := make([]byte, 0, idSize*2+8)
	buf = append(buf, userID[:]...)
	buf = append(buf, agentID[:]...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(issuedAt))
	buf = append(buf, ts[:]...)
	return buf
}

// IssueCertificate signs a certificate binding agentID to the identity
// behind userKeypair.
func IssueCertificate(userKeypair *Keypair, agentID AgentID) *AgentCertificate {
	userID := DeriveUserID(userKeypair.PublicKeyBytes())
	issuedAt := time.Now().Unix()
	sig := userKeypair.Sign(canonicalCertificateBytes(userID, agentID, issuedAt))
	return &AgentCertificate{
		UserID:    userID,
		AgentID:   agentID,
		IssuedAt:  issuedAt,
		Signature: sig,
	}
}

// Verify checks the certificate's signature against the user's public
// key. Returns ErrSignatureInvalid on mismatch.
func (c *AgentCertificate) Verify(userPublicKey *mldsa65.PublicKey) error {
	if DeriveUserID(packPublicKey(userPublicKey)) != c.UserID {
		return ErrPeerIDMismatch
	}
	msg := canonicalCertificateBytes(c.UserID, c.AgentID, c.IssuedAt)
	return Verify(userPublicKey, msg, c.Signature)
}

func packPublicKey(pub *mldsa65.PublicKey) []byte {
	b := make([]byte, mldsa65.PublicKeySize)
	pub.Pack((*[mldsa65.PublicKeySize]byte)(b))
	return b
}
