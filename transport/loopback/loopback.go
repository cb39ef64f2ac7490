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

// Package loopback provides an in-process transport.Transport
// implementation backed by a shared Network registry. It exists for
// single-binary multi-node tests and local smoke testing of the
// gossip/pubsub/tasklist stack without standing up real sockets.
package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentmesh/fabric/identity"
	"github.com/agentmesh/fabric/transport"
)

// Network is a shared in-memory registry of loopback peers. All peers
// created from the same Network can Send/Broadcast to each other.
type Network struct {
	mu    sync.RWMutex
	peers map[identity.MachineID]*Peer
}

// NewNetwork returns an empty peer registry.
func NewNetwork() *Network {
	return &Network{peers: make(map[identity.MachineID]*Peer)}
}

// inboxMsg pairs a delivered payload with the peer that sent it, so
// Receive can report provenance the way a real socket-backed transport
// would (each connection already knows who is on the other end).
type inboxMsg struct {
	from    identity.MachineID
	payload []byte
}

// Peer is one node's loopback transport.Transport.
type Peer struct {
	net    *Network
	selfID identity.MachineID
	inbox  chan inboxMsg
	events chan transport.Event
	mu     sync.Mutex
	closed bool
}

// NewPeer registers and returns a new Peer on net under selfID.
// inboxCapacity bounds how many unread messages may queue before Send
// to this peer starts blocking the caller.
func (n *Network) NewPeer(selfID identity.MachineID, inboxCapacity int) *Peer {
	p := &Peer{
		net:    n,
		selfID: selfID,
		inbox:  make(chan inboxMsg, inboxCapacity),
		events: make(chan transport.Event, 64),
	}
	n.mu.Lock()
	n.peers[selfID] = p
	n.mu.Unlock()

	n.mu.RLock()
	for id, other := range n.peers {
		if id == selfID {
			continue
		}
		other.emit(transport.Event{Kind: transport.PeerConnected, Peer: selfID})
		p.emit(transport.Event{Kind: transport.PeerConnected, Peer: id})
	}
	n.mu.RUnlock()
	return p
}

// Close removes p from its network and notifies peers of the disconnect.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.net.mu.Lock()
	delete(p.net.peers, p.selfID)
	peers := make([]*Peer, 0, len(p.net.peers))
	for _, other := range p.net.peers {
		peers = append(peers, other)
	}
	p.net.mu.Unlock()

	for _, other := range peers {
		other.emit(transport.Event{Kind: transport.PeerDisconnected, Peer: p.selfID})
	}
	close(p.events)
}

func (p *Peer) emit(e transport.Event) {
	select {
	case p.events <- e:
	default:
	}
}

// Send delivers payload directly into the recipient's inbox channel.
func (p *Peer) Send(ctx context.Context, peerID identity.MachineID, payload []byte) error {
	p.net.mu.RLock()
	recipient, ok := p.net.peers[peerID]
	p.net.mu.RUnlock()
	if !ok {
		return fmt.Errorf("loopback: unknown peer %s", peerID)
	}
	select {
	case recipient.inbox <- inboxMsg{from: p.selfID, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast sends payload to every id in peerIDs, collecting (not
// short-circuiting on) per-recipient failures.
func (p *Peer) Broadcast(ctx context.Context, peerIDs []identity.MachineID, payload []byte) error {
	var firstErr error
	for _, id := range peerIDs {
		if err := p.Send(ctx, id, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LocalPeerID returns this peer's own MachineID.
func (p *Peer) LocalPeerID() identity.MachineID { return p.selfID }

// SubscribeEvents returns a new channel fed from the peer's single
// lifecycle-event stream. Each call makes its own channel, and
// concurrent callers split the events between them; loopback only
// expects one consumer.
func (p *Peer) SubscribeEvents(ctx context.Context) <-chan transport.Event {
	out := make(chan transport.Event)
	go func() {
		defer close(out)
		for {
			select {
			case e, ok := <-p.events:
				if !ok {
					return
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Receive blocks until a message arrives in this peer's inbox or ctx
// is cancelled.
func (p *Peer) Receive(ctx context.Context) ([]byte, identity.MachineID, error) {
	select {
	case msg := <-p.inbox:
		return msg.payload, msg.from, nil
	case <-ctx.Done():
		return nil, identity.MachineID{}, ctx.Err()
	}
}

var _ transport.Transport = (*Peer)(nil)
