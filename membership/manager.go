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

// Package membership implements the HyParView-style partial-view
// overlay: a bounded active view for epidemic dissemination and a
// larger bounded passive view as a standby pool, maintained by
// periodic shuffles and failure-driven promotion. Every control
// message (join, forward-join, disconnect, shuffle, neighbor, probe,
// ack) travels as a signed wire.Message on the reserved "_membership"
// topic. Messages are signed on send; HandleRaw decodes and acts on
// them without verifying the signature or consulting a trust store.
package membership

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/agentmesh/fabric/identity"
	"github.com/agentmesh/fabric/internal/logger"
	"github.com/agentmesh/fabric/transport"
	"github.com/agentmesh/fabric/wire"
)

// BootstrapPeer is one entry in the list Join dials.
type BootstrapPeer struct {
	ID   identity.MachineID
	Addr string
}

// Manager drives one node's participation in the partial-view overlay.
// Construct with New and call Run to start its background tasks.
type Manager struct {
	cfg Config
	log logger.Logger

	selfMachineID identity.MachineID
	selfAgentID   identity.AgentID
	agentKeypair  *identity.Keypair

	transport transport.Transport

	views *views

	mu          sync.Mutex
	joinWaiters map[identity.MachineID]chan struct{}
	ackSink     chan identity.MachineID

	onPeerVerifiedFailure func(id identity.MachineID)
}

// New constructs a Manager. transport must already be reachable (e.g.
// Listen called, for the websocket transport) before Run is invoked.
func New(cfg Config, selfMachineID identity.MachineID, selfAgentID identity.AgentID, agentKeypair *identity.Keypair, tr transport.Transport, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Manager{
		cfg:           cfg,
		log:           log,
		selfMachineID: selfMachineID,
		selfAgentID:   selfAgentID,
		agentKeypair:  agentKeypair,
		transport:     tr,
		views:         newViews(cfg.ActiveViewSize, cfg.PassiveViewSize),
		joinWaiters:   make(map[identity.MachineID]chan struct{}),
	}
}

// Run starts the receive-dispatch loop, the shuffle ticker and the
// liveness-probe ticker. It blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); m.receiveLoop(ctx) }()
	go func() { defer wg.Done(); m.shuffleLoop(ctx) }()
	go func() { defer wg.Done(); m.probeLoop(ctx) }()
	wg.Wait()
}

// RunBackground starts only the shuffle and probe tickers, without
// this Manager's own receiveLoop. A composed node running several
// components off one shared transport calls this instead of Run, and
// feeds inbound frames to HandleRaw itself from its own demux loop.
// Blocks until ctx is cancelled.
func (m *Manager) RunBackground(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); m.shuffleLoop(ctx) }()
	go func() { defer wg.Done(); m.probeLoop(ctx) }()
	wg.Wait()
}

// ActiveView returns a snapshot copy of the current active view.
func (m *Manager) ActiveView() []identity.MachineID { return m.views.activeSnapshot() }

// PassiveView returns a snapshot copy of the current passive view.
func (m *Manager) PassiveView() []identity.MachineID { return m.views.passiveSnapshot() }

// ActiveViewSize returns the current number of peers in the active
// view. Used by internal/metrics to expose a live gauge without that
// package importing identity-typed view contents.
func (m *Manager) ActiveViewSize() int { return len(m.views.activeSnapshot()) }

// PassiveViewSize returns the current number of peers in the passive
// view.
func (m *Manager) PassiveViewSize() int { return len(m.views.passiveSnapshot()) }

// IsDegraded reports whether the active view is below capacity with
// an empty passive view to promote from.
func (m *Manager) IsDegraded() bool { return m.views.isDegraded() }

// Join sends a join request to each bootstrap peer, asking it to
// forward the request through a bounded random walk of length
// cfg.WalkLength. Returns once at least one peer has added this node
// to its active view, or ErrNoPeersAvailable after cfg.JoinTimeout.
// Transports that need an explicit connection step before Send works
// (websocket) must already be dialed to every bootstrap.Addr before
// Join is called; loopback and other always-addressable transports
// have nothing to set up first.
func (m *Manager) Join(ctx context.Context, bootstrap []BootstrapPeer) error {
	if len(bootstrap) == 0 {
		return ErrNoPeersAvailable
	}

	waitCh := make(chan struct{}, 1)
	m.mu.Lock()
	m.joinWaiters[m.selfMachineID] = waitCh
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.joinWaiters, m.selfMachineID)
		m.mu.Unlock()
	}()

	joinCtx, cancel := context.WithTimeout(ctx, m.cfg.JoinTimeout)
	defer cancel()

	for _, peer := range bootstrap {
		if err := m.sendControl(joinCtx, peer.ID, kindJoin, joinBody{Joiner: m.selfMachineID}); err != nil {
			m.log.Warn("join: send failed", logger.String("peer", peer.ID.String()), logger.Error(err))
		}
	}

	select {
	case <-waitCh:
		return nil
	case <-joinCtx.Done():
		return fmt.Errorf("%w: no acceptance within %s", ErrNoPeersAvailable, m.cfg.JoinTimeout)
	}
}

func (m *Manager) sendControl(ctx context.Context, to identity.MachineID, kind controlKind, body interface{}) error {
	payload, err := encodeControl(kind, body)
	if err != nil {
		return err
	}
	frame, err := wire.SignAndEncode(m.agentKeypair, m.selfAgentID, Topic, payload)
	if err != nil {
		return fmt.Errorf("membership: sign control message: %w", err)
	}
	return m.transport.Send(ctx, to, frame)
}

// receiveLoop pulls frames directly off the transport and hands each
// one to HandleRaw. Only valid when this Manager is the sole consumer
// of the transport's Receive stream (as in package tests, where each
// node under test has its own isolated loopback peer). A composed
// node running membership alongside pubsub and anti-entropy on one
// shared transport instead routes by topic through a single demux
// loop and calls HandleRaw directly; see the top-level node package.
func (m *Manager) receiveLoop(ctx context.Context) {
	for {
		raw, from, err := m.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Warn("membership: receive failed", logger.Error(err))
			continue
		}
		m.HandleRaw(ctx, from, raw)
	}
}

// HandleRaw decodes raw as a wire frame and, if it carries the
// reserved membership topic, dispatches it to the control-message
// handler. Frames on any other topic are ignored. Exported so a
// shared-transport demux can route membership traffic here without
// this Manager running its own Receive loop.
func (m *Manager) HandleRaw(ctx context.Context, from identity.MachineID, raw []byte) {
	msg, err := wire.Decode(raw)
	if err != nil {
		return
	}
	if msg.Topic != Topic {
		return
	}
	m.handleControl(ctx, from, msg)
}

func (m *Manager) handleControl(ctx context.Context, from identity.MachineID, msg *wire.Message) {
	kind, rest, err := decodeControlKind(msg.Payload)
	if err != nil {
		m.log.Warn("membership: malformed control message", logger.Error(err))
		return
	}

	switch kind {
	case kindJoin:
		var body joinBody
		if decodeBody(rest, &body) != nil {
			return
		}
		m.onJoin(ctx, from, body)
	case kindForwardJoin:
		var body forwardJoinBody
		if decodeBody(rest, &body) != nil {
			return
		}
		m.onForwardJoin(ctx, from, body)
	case kindDisconnect:
		m.onDisconnect(from)
	case kindShuffleRequest:
		var body shuffleRequestBody
		if decodeBody(rest, &body) != nil {
			return
		}
		m.onShuffleRequest(ctx, from, body)
	case kindShuffleReply:
		var body shuffleReplyBody
		if decodeBody(rest, &body) != nil {
			return
		}
		m.onShuffleReply(body)
	case kindNeighbor:
		var body neighborBody
		if decodeBody(rest, &body) != nil {
			return
		}
		m.onNeighbor(from, body)
	case kindProbe:
		var body probeBody
		if decodeBody(rest, &body) != nil {
			return
		}
		_ = m.sendControl(ctx, from, kindAck, ackBody{Nonce: body.Nonce})
	case kindAck:
		m.mu.Lock()
		sink := m.ackSink
		m.mu.Unlock()
		if sink != nil {
			select {
			case sink <- from:
			default:
			}
		}
	}
}

// onJoin is called on a node that directly received a join request
// (the joiner's own first hop). It always admits the joiner to its
// active view, then forwards the join through the random walk.
func (m *Manager) onJoin(ctx context.Context, from identity.MachineID, body joinBody) {
	m.admitActive(body.Joiner, "")
	_ = m.sendControl(ctx, body.Joiner, kindNeighbor, neighborBody{})

	for _, peer := range m.views.activeSnapshot() {
		if peer == body.Joiner || peer == from {
			continue
		}
		_ = m.sendControl(ctx, peer, kindForwardJoin, forwardJoinBody{Joiner: body.Joiner, TTL: m.cfg.WalkLength - 1})
	}
}

// onForwardJoin implements the bounded random walk: while TTL remains,
// forward to a random active peer other than the sender; once it
// reaches zero (or this node has no other active peers), admit the
// joiner here.
func (m *Manager) onForwardJoin(ctx context.Context, from identity.MachineID, body forwardJoinBody) {
	if body.TTL <= 0 {
		m.admitActive(body.Joiner, body.JoinerAddr)
		_ = m.sendControl(ctx, body.Joiner, kindNeighbor, neighborBody{})
		return
	}
	next, ok := m.views.randomActive(from)
	if !ok {
		m.admitActive(body.Joiner, body.JoinerAddr)
		_ = m.sendControl(ctx, body.Joiner, kindNeighbor, neighborBody{})
		return
	}
	_ = m.sendControl(ctx, next, kindForwardJoin, forwardJoinBody{Joiner: body.Joiner, JoinerAddr: body.JoinerAddr, TTL: body.TTL - 1})
}

func (m *Manager) admitActive(id identity.MachineID, addr string) {
	if id == m.selfMachineID {
		return
	}
	m.views.addActive(id, addr)
}

func (m *Manager) notifyJoinWaiter(joiner identity.MachineID) {
	m.mu.Lock()
	ch, ok := m.joinWaiters[joiner]
	m.mu.Unlock()
	if ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (m *Manager) onDisconnect(from identity.MachineID) {
	m.views.removeActive(from, true)
}

func (m *Manager) onShuffleRequest(ctx context.Context, from identity.MachineID, body shuffleRequestBody) {
	for _, id := range body.Sample {
		m.views.addPassive(id, "")
	}
	reply := m.views.sample(m.cfg.ShuffleSampleSize)
	_ = m.sendControl(ctx, from, kindShuffleReply, shuffleReplyBody{Sample: reply})
}

func (m *Manager) onShuffleReply(body shuffleReplyBody) {
	for _, id := range body.Sample {
		m.views.addPassive(id, "")
	}
}

func (m *Manager) onNeighbor(from identity.MachineID, body neighborBody) {
	m.views.addActive(from, "")
	m.notifyJoinWaiter(m.selfMachineID)
}

// shuffleLoop runs Shuffle at cfg.ShuffleInterval until ctx is done.
func (m *Manager) shuffleLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ShuffleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Shuffle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Shuffle picks a random active peer and exchanges a sample of this
// node's own active+passive view with it.
func (m *Manager) Shuffle(ctx context.Context) {
	peer, ok := m.views.randomActive(identity.MachineID{})
	if !ok {
		return
	}
	sample := m.views.sample(m.cfg.ShuffleSampleSize)
	if err := m.sendControl(ctx, peer, kindShuffleRequest, shuffleRequestBody{Sample: sample, TTL: m.cfg.WalkLength}); err != nil {
		m.log.Warn("shuffle: send failed", logger.String("peer", peer.String()), logger.Error(err))
	}
}

// probeLoop sends a liveness probe to every active peer every
// cfg.ProbeInterval, tracking consecutive misses and escalating a peer
// through suspect to failed per the base specification's failure
// model.
func (m *Manager) probeLoop(ctx context.Context) {
	misses := make(map[identity.MachineID]int)
	suspectSince := make(map[identity.MachineID]time.Time)
	// pending tracks, for each peer probed in the most recent round,
	// whether an ack has arrived since that probe was sent. A peer
	// still pending at the next tick missed that round's probe.
	pending := make(map[identity.MachineID]bool)

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	acks := make(chan identity.MachineID, 64)
	m.setAckSink(acks)
	defer m.setAckSink(nil)

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			active := m.views.activeSnapshot()
			activeSet := make(map[identity.MachineID]bool, len(active))
			for _, peer := range active {
				activeSet[peer] = true
				if pending[peer] {
					misses[peer]++
				} else {
					misses[peer] = 0
				}
				pending[peer] = true
				nonce := rand.Uint64()
				if err := m.sendControl(ctx, peer, kindProbe, probeBody{Nonce: nonce}); err != nil {
					m.log.Warn("probe: send failed", logger.String("peer", peer.String()), logger.Error(err))
				}
			}
			for peer := range misses {
				if !activeSet[peer] {
					delete(misses, peer)
					delete(pending, peer)
					delete(suspectSince, peer)
				}
			}
			for peer, n := range misses {
				if n >= m.cfg.MissedProbesBeforeSuspect {
					if _, already := suspectSince[peer]; !already {
						suspectSince[peer] = now
					}
				} else {
					delete(suspectSince, peer)
				}
			}
			for peer, since := range suspectSince {
				if now.Sub(since) >= m.cfg.SuspectTimeout {
					m.declareFailed(peer)
					delete(suspectSince, peer)
					delete(misses, peer)
					delete(pending, peer)
				}
			}
		case peer := <-acks:
			pending[peer] = false
			delete(suspectSince, peer)
		case <-ctx.Done():
			return
		}
	}
}

// setAckSink lets handleControl hand acks to the probe loop's
// bookkeeping goroutine instead of tracking per-nonce round trips,
// since the failure model only cares about "did this peer answer
// anything recently", not which probe it answered.
func (m *Manager) setAckSink(ch chan identity.MachineID) {
	m.mu.Lock()
	m.ackSink = ch
	m.mu.Unlock()
}

// OnPeerFailure removes peer from the active view, promoting a random
// passive peer into the vacated slot if one is available (the active
// view is left degraded otherwise), and invokes the configured failure
// callback. Duplicate calls for a peer already absent from the active
// view are no-ops. Called by the probe loop once a peer is declared
// failed, and safe to call directly from a transport's own connection-
// loss notification for transports that can detect that faster than
// the probe/suspect timers would.
func (m *Manager) OnPeerFailure(peer identity.MachineID) {
	if !m.views.isActive(peer) {
		return
	}
	m.views.removeActive(peer, true)
	if m.onPeerVerifiedFailure != nil {
		m.onPeerVerifiedFailure(peer)
	}
}

func (m *Manager) declareFailed(peer identity.MachineID) { m.OnPeerFailure(peer) }

// OnPeerFailureFunc registers a callback invoked whenever a peer is
// declared failed, after it has already been removed from the active
// view (and a passive peer promoted, if available).
func (m *Manager) OnPeerFailureFunc(fn func(id identity.MachineID)) {
	m.onPeerVerifiedFailure = fn
}
