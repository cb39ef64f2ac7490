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

// Package node composes identity, trust, transport, membership,
// pubsub, anti-entropy, task-list sync and persistence into one
// running agent, matching the data flow the base specification
// describes end to end: agent operations -> CRDT mutation -> delta ->
// sync -> sign -> pubsub publish -> transport broadcast -> peers'
// transport receive -> codec verify -> pubsub dedup+trust filter ->
// sync apply -> CRDT merge -> local observers notified.
//
// A Node owns exactly one transport.Receive loop (see §9's "message
// passing over shared mutation" design note on avoiding racing
// consumers of one inbound stream) and demultiplexes inbound frames by
// topic to membership, anti-entropy, the peer directory, or pubsub.
package node

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/agentmesh/fabric/antientropy"
	"github.com/agentmesh/fabric/identity"
	"github.com/agentmesh/fabric/internal/logger"
	"github.com/agentmesh/fabric/internal/metrics"
	"github.com/agentmesh/fabric/membership"
	"github.com/agentmesh/fabric/persistence"
	"github.com/agentmesh/fabric/pubsub"
	"github.com/agentmesh/fabric/synctask"
	"github.com/agentmesh/fabric/tasklist"
	"github.com/agentmesh/fabric/transport"
	"github.com/agentmesh/fabric/trust"
	"github.com/agentmesh/fabric/wire"
)

// topicOf peeks at raw's declared topic without verifying its
// signature, so the demux loop can route it without duplicating any
// handler's own decode-then-verify work. A frame that fails even this
// much parsing routes to pubsub, which decodes (and drops) it again;
// no component skips its own decode step on this hint alone.
func topicOf(raw []byte) string {
	msg, err := wire.Decode(raw)
	if err != nil {
		return ""
	}
	return msg.Topic
}

// Config aggregates every component's tunables. DefaultConfig wires
// each sub-config's own base-specification defaults together.
type Config struct {
	Membership  membership.Config
	Pubsub      pubsub.Config
	AntiEntropy antientropy.Config
}

// DefaultConfig returns the base-specification defaults for every
// component.
func DefaultConfig() Config {
	return Config{
		Membership:  membership.DefaultConfig(),
		Pubsub:      pubsub.DefaultConfig(),
		AntiEntropy: antientropy.DefaultConfig(),
	}
}

// EventKind discriminates AgentEvent variants (base specification §6:
// "on_event() -> stream of AgentEvent").
type EventKind int

const (
	PeerConnected EventKind = iota
	PeerDisconnected
	NetworkJoined
	NetworkLeft
	TaskListUpdated
)

// AgentEvent is one item from Node.Events.
type AgentEvent struct {
	Kind  EventKind
	Peer  identity.MachineID
	Topic string
}

// Node is one running agent: its identity, trust store, transport
// binding, and the membership/pubsub/anti-entropy gossip stack built
// on top of it. Construct with New, then call Run in its own
// goroutine before Join or any TaskList use.
type Node struct {
	bundle *identity.Bundle
	trust  trust.Store
	tr     transport.Transport
	log    logger.Logger

	directory   *Directory
	membership  *membership.Manager
	pubsub      *pubsub.PubSub
	antientropy *antientropy.Manager

	events chan AgentEvent

	mu    sync.Mutex
	lists map[string]*listBinding
}

type listBinding struct {
	sync  *synctask.Sync
	persi *persistence.Manager
}

// New constructs a Node. tr must already be reachable (Listen called,
// for the websocket transport); loopback peers need no such step.
func New(cfg Config, bundle *identity.Bundle, trustStore trust.Store, tr transport.Transport, log logger.Logger) *Node {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	directory := NewDirectory()

	mgr := membership.New(cfg.Membership, bundle.MachineID, bundle.AgentID, bundle.AgentKeypair, tr, log)
	metrics.RegisterViewGauges(mgr)

	ps := pubsub.New(cfg.Pubsub, bundle.AgentID, bundle.AgentKeypair, tr, mgr, directory, trustStore, metrics.PubsubAdapter{}, log)

	ae := antientropy.New(cfg.AntiEntropy, bundle.AgentID, bundle.AgentKeypair, tr, mgr, ps, ps, log)
	ae.SetMetrics(metrics.AntiEntropyAdapter{})

	return &Node{
		bundle:      bundle,
		trust:       trustStore,
		tr:          tr,
		log:         log,
		directory:   directory,
		membership:  mgr,
		pubsub:      ps,
		antientropy: ae,
		events:      make(chan AgentEvent, 256),
		lists:       make(map[string]*listBinding),
	}
}

// Events returns the node's AgentEvent stream. Reads should keep up;
// a full channel drops the oldest-pending event rather than blocking
// the demux loop, the same backpressure policy pubsub applies to a
// slow subscriber.
func (n *Node) Events() <-chan AgentEvent { return n.events }

func (n *Node) emit(e AgentEvent) {
	select {
	case n.events <- e:
	default:
		select {
		case <-n.events:
		default:
		}
		select {
		case n.events <- e:
		default:
		}
	}
}

// Run starts the node's single demux loop plus every component's
// background tickers (shuffle/probe, dedup sweep, anti-entropy
// rounds) and the transport event watcher that drives peer
// introduction. Blocks until ctx is cancelled.
func (n *Node) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); n.demuxLoop(ctx) }()
	go func() { defer wg.Done(); n.membership.RunBackground(ctx) }()
	go func() { defer wg.Done(); n.pubsub.RunBackground(ctx) }()
	go func() { defer wg.Done(); n.antientropy.RunBackground(ctx) }()
	go n.watchTransportEvents(ctx)
	wg.Wait()
}

// demuxLoop is the node's sole consumer of tr.Receive, routing each
// frame by its (unverified, cheaply decoded) topic to exactly one
// handler: membership's reserved topic, anti-entropy's reserved topic,
// the peer-directory introduction topic, or pubsub for everything
// else.
func (n *Node) demuxLoop(ctx context.Context) {
	for {
		raw, from, err := n.tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n.log.Warn("node: receive failed", logger.Error(err))
			continue
		}
		n.route(ctx, from, raw)
	}
}

func (n *Node) route(ctx context.Context, from identity.MachineID, raw []byte) {
	switch topicOf(raw) {
	case membership.Topic:
		n.membership.HandleRaw(ctx, from, raw)
	case antientropy.Topic:
		n.antientropy.HandleRaw(ctx, from, raw)
	case introTopic:
		n.directory.HandleRaw(ctx, raw, n.log)
	default:
		n.pubsub.OnIncoming(ctx, raw, from)
	}
}

// watchTransportEvents introduces this node to every newly connected
// peer and turns transport connection events into AgentEvents.
func (n *Node) watchTransportEvents(ctx context.Context) {
	for ev := range n.tr.SubscribeEvents(ctx) {
		switch ev.Kind {
		case transport.PeerConnected:
			if err := sendTo(ctx, n.tr, ev.Peer, n.bundle.AgentID, n.bundle.AgentKeypair); err != nil {
				n.log.Warn("node: introduction send failed", logger.String("peer", ev.Peer.String()), logger.Error(err))
			}
			n.emit(AgentEvent{Kind: PeerConnected, Peer: ev.Peer})
		case transport.PeerDisconnected:
			n.emit(AgentEvent{Kind: PeerDisconnected, Peer: ev.Peer})
		}
	}
}

// Join joins the partial-view overlay through bootstrap, and emits
// NetworkJoined once at least one peer has acknowledged.
func (n *Node) Join(ctx context.Context, bootstrap []membership.BootstrapPeer) error {
	if err := n.membership.Join(ctx, bootstrap); err != nil {
		return err
	}
	n.emit(AgentEvent{Kind: NetworkJoined})
	return nil
}

// ActiveView returns the current active-view peer set.
func (n *Node) ActiveView() []identity.MachineID { return n.membership.ActiveView() }

// Bundle returns this node's identity bundle.
func (n *Node) Bundle() *identity.Bundle { return n.bundle }

// MetricsHandler returns the Prometheus HTTP handler for every
// collector this node's components register against (§4.12): crypto,
// membership view sizes, pubsub traffic, CRDT merges, persistence
// timing. A surrounding process mounts this on its own mux; Node
// itself never opens a listener.
func (n *Node) MetricsHandler() http.Handler { return metrics.Handler() }

// NewTaskList creates a fresh TaskList, binds it to topic via a
// synctask.Sync, subscribes and starts applying remote deltas, and
// (if store is non-nil) attaches a persistence.Manager that loads any
// existing snapshot before Start so a restart resumes where it left
// off. The returned Sync's Updates channel coalesces into a
// TaskListUpdated AgentEvent.
func (n *Node) NewTaskList(ctx context.Context, topic string, store persistence.Store, persistCfg persistence.Config) (*synctask.Sync, error) {
	n.mu.Lock()
	if _, exists := n.lists[topic]; exists {
		n.mu.Unlock()
		return nil, fmt.Errorf("node: topic %q already bound to a task list", topic)
	}
	n.mu.Unlock()

	list := tasklist.New(n.bundle.AgentID)
	list.SetMetrics(metrics.TaskListAdapter{})

	var persi *persistence.Manager
	if store != nil {
		persi = persistence.NewManager(persistCfg, store, list, n.log)
		persi.SetMetrics(metrics.PersistenceAdapter{})
		if err := persi.Load(); err != nil && err != persistence.ErrNoLoadableSnapshot {
			return nil, err
		}
	}

	sync := synctask.New(list, n.pubsub, topic, n.log)
	if err := sync.Start(ctx); err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.lists[topic] = &listBinding{sync: sync, persi: persi}
	n.mu.Unlock()

	go n.forwardUpdates(ctx, topic, sync, persi)

	if persi != nil {
		go persi.Run(ctx)
	}

	return sync, nil
}

func (n *Node) forwardUpdates(ctx context.Context, topic string, sync *synctask.Sync, persi *persistence.Manager) {
	for {
		select {
		case <-sync.Updates():
			if persi != nil {
				persi.NotifyMutation()
			}
			n.emit(AgentEvent{Kind: TaskListUpdated, Topic: topic})
		case <-ctx.Done():
			return
		}
	}
}

// Close flushes every attached persistence manager (the "graceful
// shutdown" checkpoint trigger) and removes this node from its
// transport's peer registry, where the transport supports it.
func (n *Node) Close() {
	n.mu.Lock()
	lists := make([]*listBinding, 0, len(n.lists))
	for _, b := range n.lists {
		lists = append(lists, b)
	}
	n.mu.Unlock()

	for _, b := range lists {
		if b.persi == nil {
			continue
		}
		if err := b.persi.Flush(); err != nil {
			n.log.Warn("node: shutdown flush failed", logger.Error(err))
		}
	}

	switch closer := n.tr.(type) {
	case interface{ Close() error }:
		if err := closer.Close(); err != nil {
			n.log.Warn("node: transport close failed", logger.Error(err))
		}
	case interface{ Close() }:
		closer.Close()
	}
}
