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

// Package transport defines the capability the gossip core consumes
// for peer-addressed send, broadcast and connection events. Concrete
// QUIC/post-quantum transport is out of scope for this module; the
// loopback and websocket subpackages provide real implementations
// usable for local multi-process testing and small deployments.
package transport

import (
	"context"

	"github.com/agentmesh/fabric/identity"
)

// EventKind discriminates the Event stream variants.
type EventKind int

const (
	PeerConnected EventKind = iota
	PeerDisconnected
	NatTypeDetected
	ExternalAddressDiscovered
)

// Event is one item from a Transport's event stream.
type Event struct {
	Kind    EventKind
	Peer    identity.MachineID
	Detail  string // free-form, e.g. NAT type name or discovered address
}

// Transport is the capability the gossip core consumes: peer-addressed
// send, best-effort broadcast, local identity, and a connection event
// stream. The core is polymorphic over this interface; concrete
// implementations (loopback, websocket, a future QUIC transport) are
// injected at agent construction.
type Transport interface {
	// Send delivers bytes to exactly one peer, or returns an error if
	// it could not be handed off (no delivery guarantee beyond that).
	Send(ctx context.Context, peerID identity.MachineID, payload []byte) error
	// Broadcast delivers bytes to each of peerIDs, at most once per
	// recipient. A partial failure is reported but does not roll back
	// the sends that succeeded.
	Broadcast(ctx context.Context, peerIDs []identity.MachineID, payload []byte) error
	// LocalPeerID returns this node's own MachineID as the transport sees it.
	LocalPeerID() identity.MachineID
	// SubscribeEvents returns a channel of connection-lifecycle events.
	// The channel is closed when ctx is cancelled.
	SubscribeEvents(ctx context.Context) <-chan Event
	// Receive blocks until the next inbound payload arrives from any
	// peer, or ctx is cancelled. A composed node runs one shared
	// Receive loop that routes each payload to its component by topic.
	Receive(ctx context.Context) (payload []byte, from identity.MachineID, err error)
}
