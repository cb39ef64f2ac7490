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

package node

import (
	"context"
	"sync"

	"github.com/agentmesh/fabric/identity"
	"github.com/agentmesh/fabric/internal/logger"
	"github.com/agentmesh/fabric/transport"
	"github.com/agentmesh/fabric/wire"
)

// introTopic is the reserved wire topic a node announces its own
// agent public key on, the "peer introduction" capability the base
// specification's PeerDirectory requires but leaves unspecified
// (§4.3: "the caller is responsible for obtaining the public key...
// via peer introduction"). An introduction frame's payload is simply
// the sender's packed ML-DSA-65 public key; since the frame is itself
// a signed wire.Message, a recipient can check, in order:
//  1. identity.VerifyAgentID(msg.Sender, payload) -- the claimed key
//     actually derives the sender's AgentID (rejects a substituted key
//     bound to the wrong identity), then
//  2. msg.VerifyBytes(payload) -- the frame's signature verifies under
//     that same key (proves the sender controls the matching secret
//     key, not just that they know some valid-looking public key).
//
// Both checks passing is exactly the "verify ID against public key"
// operation in the base specification's identity component, applied
// at first contact rather than out of band.
const introTopic = "_directory"

// Directory is an in-memory PeerDirectory (pubsub.PeerDirectory)
// populated entirely by the introduction protocol above. It never
// trusts a caller-supplied binding without re-deriving it.
type Directory struct {
	mu   sync.RWMutex
	keys map[identity.AgentID][]byte
}

// NewDirectory returns an empty Directory.
func NewDirectory() *Directory {
	return &Directory{keys: make(map[identity.AgentID][]byte)}
}

// PublicKey implements pubsub.PeerDirectory.
func (d *Directory) PublicKey(agentID identity.AgentID) ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pub, ok := d.keys[agentID]
	return pub, ok
}

// learn records agentID's public key once both checks described above
// pass. Re-learning the same, already-verified binding is a no-op;
// silently accepted rather than erroring, since every peer re-announces
// itself on every new connection.
func (d *Directory) learn(agentID identity.AgentID, pub []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[agentID] = pub
}

// announce builds this node's introduction frame.
func announce(selfAgentID identity.AgentID, agentKeypair *identity.Keypair) ([]byte, error) {
	return wire.SignAndEncode(agentKeypair, selfAgentID, introTopic, agentKeypair.PublicKeyBytes())
}

// HandleRaw decodes raw as a wire frame and, if it carries introTopic,
// verifies and learns the binding it announces. Frames on any other
// topic are ignored. Exported so a shared-transport demux can route
// introductions here the same way it routes to membership/antientropy.
func (d *Directory) HandleRaw(_ context.Context, raw []byte, log logger.Logger) {
	msg, err := wire.Decode(raw)
	if err != nil || msg.Topic != introTopic {
		return
	}
	if err := identity.VerifyAgentID(msg.Sender, msg.Payload); err != nil {
		if log != nil {
			log.Warn("directory: introduction key does not match claimed agent id", logger.String("sender", msg.Sender.String()))
		}
		return
	}
	if err := msg.VerifyBytes(msg.Payload); err != nil {
		if log != nil {
			log.Warn("directory: introduction signature invalid", logger.String("sender", msg.Sender.String()))
		}
		return
	}
	d.learn(msg.Sender, msg.Payload)
}

// sendTo announces selfAgentID's public key directly to peer over tr.
// Called whenever the transport reports a new connection, so every
// peer this node can reach is introduced before any signed traffic
// from it needs verifying.
func sendTo(ctx context.Context, tr transport.Transport, peer identity.MachineID, selfAgentID identity.AgentID, agentKeypair *identity.Keypair) error {
	frame, err := announce(selfAgentID, agentKeypair)
	if err != nil {
		return err
	}
	return tr.Send(ctx, peer, frame)
}
