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

// Package pubsub implements topic-addressed epidemic broadcast over
// the active view membership maintains: publish-and-forget sends to
// every active peer, decode-verify-dedup-deliver-rebroadcast on
// receipt, and trust-filtered delivery to local subscribers.
package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentmesh/fabric/identity"
	"github.com/agentmesh/fabric/internal/logger"
	"github.com/agentmesh/fabric/transport"
	"github.com/agentmesh/fabric/trust"
	"github.com/agentmesh/fabric/wire"
)

// ActiveViewer is the membership capability PubSub consumes: the
// current active-view peer set to broadcast and rebroadcast into.
type ActiveViewer interface {
	ActiveView() []identity.MachineID
}

// PeerDirectory resolves an AgentID to its ML-DSA-65 public key bytes,
// as learned via peer introduction, an AgentCertificate chain, or any
// other out-of-band binding. PubSub never creates this binding itself.
type PeerDirectory interface {
	PublicKey(agentID identity.AgentID) ([]byte, bool)
}

// Metrics is an optional set of counters PubSub increments as it
// processes traffic. A nil Metrics is a valid no-op.
type Metrics interface {
	IncPublished(topic string)
	IncDelivered(topic string)
	IncDropped(topic, reason string)
	IncRebroadcast(topic string)
	// IncFanoutZero counts a Publish whose active view was empty: the
	// message is retained in dedup/history for anti-entropy to serve
	// later, but went out to no one at publish time.
	IncFanoutZero(topic string)
	// IncInboxDrop counts a Delivery dropped because a subscriber's
	// inbox channel was full.
	IncInboxDrop(topic string)
}

// PubSub is one node's epidemic broadcast engine.
type PubSub struct {
	cfg Config
	log logger.Logger

	selfAgentID  identity.AgentID
	agentKeypair *identity.Keypair

	transport  transport.Transport
	membership ActiveViewer
	directory  PeerDirectory
	trustStore trust.Store
	metrics    Metrics

	dedup   *dedupCache
	history *history

	subsMu sync.RWMutex
	subs   map[string]map[*Subscription]struct{}

	stop chan struct{}
}

// New constructs a PubSub engine. Run must be called to start its
// receive-dispatch loop and dedup-cache sweeper.
func New(cfg Config, selfAgentID identity.AgentID, agentKeypair *identity.Keypair, tr transport.Transport, membership ActiveViewer, directory PeerDirectory, trustStore trust.Store, metrics Metrics, log logger.Logger) *PubSub {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &PubSub{
		cfg:          cfg,
		log:          log,
		selfAgentID:  selfAgentID,
		agentKeypair: agentKeypair,
		transport:    tr,
		membership:   membership,
		directory:    directory,
		trustStore:   trustStore,
		metrics:      metrics,
		dedup:        newDedupCache(cfg.DedupCapacity, cfg.DedupTTL),
		history:      newHistory(cfg.HistoryPerTopic),
		subs:         make(map[string]map[*Subscription]struct{}),
		stop:         make(chan struct{}),
	}
}

// Run starts the receive loop and the dedup-cache sweeper. It blocks
// until ctx is cancelled. Only valid when this PubSub is the sole
// consumer of the transport's Receive stream; a composed node instead
// routes application-topic frames here via OnIncoming from a single
// shared demux loop, same as membership and antientropy.
func (p *PubSub) Run(ctx context.Context) {
	go p.dedup.runSweeper(p.cfg.DedupSweepInterval, p.stop)
	defer close(p.stop)

	for {
		raw, from, err := p.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("pubsub: receive failed", logger.Error(err))
			continue
		}
		p.OnIncoming(ctx, raw, from)
	}
}

// RunBackground starts only the dedup-cache sweeper, without this
// PubSub's own receive loop. A composed node calls this and routes
// frames to OnIncoming itself from a shared demux loop. Blocks until
// ctx is cancelled.
func (p *PubSub) RunBackground(ctx context.Context) {
	go func() {
		<-ctx.Done()
		close(p.stop)
	}()
	p.dedup.runSweeper(p.cfg.DedupSweepInterval, p.stop)
}

// Subscribe returns a handle delivering every future message published
// on topic that passes verification and is not from a Blocked sender.
func (p *PubSub) Subscribe(topic string) *Subscription {
	sub := &Subscription{topic: topic, ch: make(chan Delivery, p.cfg.SubscriptionInboxCapacity), ps: p}

	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	if p.subs[topic] == nil {
		p.subs[topic] = make(map[*Subscription]struct{})
	}
	p.subs[topic][sub] = struct{}{}
	return sub
}

func (p *PubSub) removeSubscription(sub *Subscription) {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	if set, ok := p.subs[sub.topic]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(p.subs, sub.topic)
		}
	}
}

// Publish signs and encodes payload for topic, records its own
// message-ID in the dedup cache so an echo of this publish arriving
// back through the mesh is recognised as already-seen, and
// fire-and-forget sends it to every peer in the active view.
func (p *PubSub) Publish(ctx context.Context, topic string, payload []byte) error {
	frame, err := wire.SignAndEncode(p.agentKeypair, p.selfAgentID, topic, payload)
	if err != nil {
		return fmt.Errorf("pubsub: publish: %w", err)
	}
	msg, err := wire.Decode(frame)
	if err != nil {
		return fmt.Errorf("pubsub: publish: re-decode own frame: %w", err)
	}
	p.dedup.Add(msg.ID())
	p.history.record(topic, msg.ID(), frame)

	if p.metrics != nil {
		p.metrics.IncPublished(topic)
	}

	peers := p.membership.ActiveView()
	if len(peers) == 0 && p.metrics != nil {
		p.metrics.IncFanoutZero(topic)
	}
	for _, peer := range peers {
		if err := p.transport.Send(ctx, peer, frame); err != nil {
			p.log.Warn("pubsub: publish send failed", logger.String("peer", peer.String()), logger.Error(err))
		}
	}
	return nil
}

// OnIncoming implements the base specification's seven-step receive
// contract: decode, dedup check, verify, trust filter, dedup insert,
// local delivery, rebroadcast.
//
// The rebroadcast exclusion set is the immediate sourcePeer only. The
// base specification describes excluding "source_peer" (a transport
// identity) and "sender" (the AgentID that signed the message) from
// the active view; those are different identity spaces with no
// directory mapping required to exist between them, so this
// implementation excludes by sourcePeer alone. In practice this still
// satisfies the intent (never bounce a message straight back down the
// link it arrived on); it can occasionally re-send one hop further
// back to the original signer if that signer also happens to be a
// different active-view peer than sourcePeer, which is a redundant,
// harmless send caught by the recipient's own dedup cache.
func (p *PubSub) OnIncoming(ctx context.Context, raw []byte, sourcePeer identity.MachineID) {
	msg, err := wire.Decode(raw)
	if err != nil {
		p.dropped("", "decode_error")
		return
	}

	id := msg.ID()
	if p.dedup.Contains(id) {
		p.dropped(msg.Topic, "duplicate")
		return
	}

	pub, ok := p.directory.PublicKey(msg.Sender)
	if !ok {
		p.dropped(msg.Topic, "unknown_sender")
		return
	}
	if err := msg.VerifyBytes(pub); err != nil {
		p.dropped(msg.Topic, "signature_invalid")
		return
	}

	level := p.trustStore.Lookup(msg.Sender)
	if level == trust.Blocked {
		p.dropped(msg.Topic, "blocked")
		return
	}

	p.dedup.Add(id)
	p.history.record(msg.Topic, id, raw)

	p.deliverLocal(Delivery{Sender: msg.Sender, Topic: msg.Topic, Payload: msg.Payload, Verified: true, TrustLevel: level})

	p.rebroadcast(ctx, raw, sourcePeer)
}

// Topics returns the topics this node currently has at least one
// local subscriber for. Anti-entropy uses this to scope which topics
// it reconciles with peers.
func (p *PubSub) Topics() []string {
	p.subsMu.RLock()
	defer p.subsMu.RUnlock()
	out := make([]string, 0, len(p.subs))
	for topic := range p.subs {
		out = append(out, topic)
	}
	return out
}

// Summarize returns the message IDs this node has recently seen for
// topic, for anti-entropy's summary exchange.
func (p *PubSub) Summarize(topic string) [][32]byte { return p.history.ids(topic) }

// Fetch returns the raw frame for a message ID this node still holds
// in its per-topic history, for anti-entropy's fetch-reply step.
func (p *PubSub) Fetch(topic string, id [32]byte) ([]byte, bool) { return p.history.get(topic, id) }

func (p *PubSub) deliverLocal(d Delivery) {
	p.subsMu.RLock()
	defer p.subsMu.RUnlock()
	for sub := range p.subs[d.Topic] {
		// deliver hands d to sub unless sub raced its own Unsubscribe
		// or a concurrent deliver refilled the freed slot first; it
		// reports whether an older message was evicted to make room.
		if sub.deliver(d) && p.metrics != nil {
			p.metrics.IncInboxDrop(d.Topic)
		}
		if p.metrics != nil {
			p.metrics.IncDelivered(d.Topic)
		}
	}
}

func (p *PubSub) rebroadcast(ctx context.Context, raw []byte, sourcePeer identity.MachineID) {
	for _, peer := range p.membership.ActiveView() {
		if peer == sourcePeer {
			continue
		}
		if err := p.transport.Send(ctx, peer, raw); err != nil {
			p.log.Warn("pubsub: rebroadcast send failed", logger.String("peer", peer.String()), logger.Error(err))
			continue
		}
	}
	if p.metrics != nil {
		p.metrics.IncRebroadcast("")
	}
}

func (p *PubSub) dropped(topic, reason string) {
	if p.metrics != nil {
		p.metrics.IncDropped(topic, reason)
	}
}
