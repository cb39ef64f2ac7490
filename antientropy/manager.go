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

// Package antientropy repairs missed messages -- from network
// partitions or a peer's dedup-cache eviction -- by periodically
// sampling a few active-view peers, exchanging per-topic summaries of
// recently seen message IDs, and fetching the raw bytes behind
// whatever this node is found to be missing. Recovered frames are fed
// back into the pubsub engine's normal receive path, so they go
// through verification, local delivery and rebroadcast exactly as if
// they had arrived the first time.
package antientropy

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

// ActiveViewer is the membership capability this package samples
// peers from.
type ActiveViewer interface {
	ActiveView() []identity.MachineID
}

// Summarizer is the pubsub capability this package reconciles
// against: which topics matter locally, what has been seen for one,
// and the raw bytes behind an ID still held in its history window.
type Summarizer interface {
	Topics() []string
	Summarize(topic string) [][32]byte
	Fetch(topic string, id [32]byte) ([]byte, bool)
}

// Deliverer feeds a recovered frame back into the normal receive path.
type Deliverer interface {
	OnIncoming(ctx context.Context, raw []byte, sourcePeer identity.MachineID)
}

// Metrics is an optional observer of round activity. A nil Metrics
// (the default) is a no-op.
type Metrics interface {
	IncRoundStarted()
	IncRoundCompleted(status string)
	IncMessagesRecovered(n int)
	ObserveRoundDuration(d time.Duration)
}

type pendingReply struct {
	kind controlKind
	ch   chan []byte
}

// Manager drives one node's anti-entropy rounds.
type Manager struct {
	cfg Config
	log logger.Logger

	selfAgentID  identity.AgentID
	agentKeypair *identity.Keypair

	transport  transport.Transport
	membership ActiveViewer
	summarizer Summarizer
	deliverer  Deliverer
	metrics    Metrics

	mu      sync.Mutex
	pending map[uint64]pendingReply
}

// New constructs a Manager. Run starts its background round ticker
// and receive-dispatch loop.
func New(cfg Config, selfAgentID identity.AgentID, agentKeypair *identity.Keypair, tr transport.Transport, membership ActiveViewer, summarizer Summarizer, deliverer Deliverer, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Manager{
		cfg:          cfg,
		log:          log,
		selfAgentID:  selfAgentID,
		agentKeypair: agentKeypair,
		transport:    tr,
		membership:   membership,
		summarizer:   summarizer,
		deliverer:    deliverer,
		pending:      make(map[uint64]pendingReply),
	}
}

// SetMetrics attaches an optional metrics observer.
func (m *Manager) SetMetrics(metrics Metrics) {
	m.metrics = metrics
}

// Run starts the receive-dispatch loop and the round ticker. It
// blocks until ctx is cancelled. Only valid when this Manager is the
// sole consumer of the transport's Receive stream; a composed node
// instead routes "_antientropy"-topic frames to HandleRaw from a
// shared demux loop, same as membership.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); m.receiveLoop(ctx) }()
	go func() { defer wg.Done(); m.roundLoop(ctx) }()
	wg.Wait()
}

// RunBackground starts only the round ticker, without this Manager's
// own receiveLoop. A composed node calls this and routes
// "_antientropy"-topic frames to HandleRaw itself from a shared demux
// loop. Blocks until ctx is cancelled.
func (m *Manager) RunBackground(ctx context.Context) {
	m.roundLoop(ctx)
}

func (m *Manager) receiveLoop(ctx context.Context) {
	for {
		raw, from, err := m.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Warn("antientropy: receive failed", logger.Error(err))
			continue
		}
		m.HandleRaw(ctx, from, raw)
	}
}

// HandleRaw decodes raw as a wire frame and, if it carries the
// reserved anti-entropy topic, dispatches it. Exported so a shared-
// transport demux can route here without this Manager owning its own
// Receive loop.
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
		return
	}
	switch kind {
	case kindSummaryRequest:
		var body summaryRequestBody
		if decodeBody(rest, &body) != nil {
			return
		}
		m.onSummaryRequest(ctx, from, body)
	case kindSummaryReply:
		var body summaryReplyBody
		if decodeBody(rest, &body) != nil {
			return
		}
		m.resolvePending(body.Nonce, rest)
	case kindFetchRequest:
		var body fetchRequestBody
		if decodeBody(rest, &body) != nil {
			return
		}
		m.onFetchRequest(ctx, from, body)
	case kindFetchReply:
		var body fetchReplyBody
		if decodeBody(rest, &body) != nil {
			return
		}
		m.resolvePending(body.Nonce, rest)
	}
}

// resolvePending hands the still-gob-encoded body bytes (rest, i.e.
// the control payload minus its one-byte kind tag) to whichever
// reconcileWith/fetchMissing call is waiting on this nonce.
func (m *Manager) resolvePending(nonce uint64, rest []byte) {
	m.mu.Lock()
	p, ok := m.pending[nonce]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case p.ch <- rest:
	default:
	}
}

func (m *Manager) await(nonce uint64, kind controlKind) chan []byte {
	ch := make(chan []byte, 1)
	m.mu.Lock()
	m.pending[nonce] = pendingReply{kind: kind, ch: ch}
	m.mu.Unlock()
	return ch
}

func (m *Manager) forget(nonce uint64) {
	m.mu.Lock()
	delete(m.pending, nonce)
	m.mu.Unlock()
}

func (m *Manager) sendControl(ctx context.Context, to identity.MachineID, kind controlKind, body interface{}) error {
	payload, err := encodeControl(kind, body)
	if err != nil {
		return err
	}
	frame, err := wire.SignAndEncode(m.agentKeypair, m.selfAgentID, Topic, payload)
	if err != nil {
		return fmt.Errorf("antientropy: sign control message: %w", err)
	}
	return m.transport.Send(ctx, to, frame)
}

// roundLoop runs a reconciliation round at cfg.Interval until ctx is
// done.
func (m *Manager) roundLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.RunRound(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunRound samples up to cfg.SampleSize random active peers and
// reconciles against each in turn. Errors reconciling with one peer
// (timeout, send failure) are logged and do not abort the round.
func (m *Manager) RunRound(ctx context.Context) {
	topics := m.summarizer.Topics()
	if len(topics) == 0 {
		return
	}
	peers := m.membership.ActiveView()
	if len(peers) == 0 {
		m.log.Debug("antientropy: round skipped", logger.Error(ErrNoActivePeers))
		return
	}

	start := time.Now()
	if m.metrics != nil {
		m.metrics.IncRoundStarted()
	}
	status := "success"
	sample := samplePeers(peers, m.cfg.SampleSize)
	for _, peer := range sample {
		if err := m.reconcileWith(ctx, peer, topics); err != nil {
			m.log.Warn("antientropy: round with peer failed", logger.String("peer", peer.String()), logger.Error(err))
			status = "partial_failure"
		}
	}
	if m.metrics != nil {
		m.metrics.IncRoundCompleted(status)
		m.metrics.ObserveRoundDuration(time.Since(start))
	}
}

func (m *Manager) reconcileWith(ctx context.Context, peer identity.MachineID, topics []string) error {
	roundCtx, cancel := context.WithTimeout(ctx, m.cfg.RoundTimeout)
	defer cancel()

	nonce := rand.Uint64()
	replyCh := m.await(nonce, kindSummaryReply)
	defer m.forget(nonce)

	if err := m.sendControl(roundCtx, peer, kindSummaryRequest, summaryRequestBody{Nonce: nonce, Topics: topics}); err != nil {
		return err
	}

	var rest []byte
	select {
	case rest = <-replyCh:
	case <-roundCtx.Done():
		return errRoundTimeout
	}

	var reply summaryReplyBody
	if err := decodeBody(rest, &reply); err != nil {
		return err
	}

	for i, topic := range reply.Topics {
		missing := diffMissing(m.summarizer.Summarize(topic), reply.IDs[i])
		if len(missing) == 0 {
			continue
		}
		if err := m.fetchMissing(roundCtx, peer, topic, missing); err != nil {
			m.log.Warn("antientropy: fetch failed", logger.String("peer", peer.String()), logger.String("topic", topic), logger.Error(err))
		}
	}
	return nil
}

func (m *Manager) fetchMissing(ctx context.Context, peer identity.MachineID, topic string, ids [][32]byte) error {
	nonce := rand.Uint64()
	replyCh := m.await(nonce, kindFetchReply)
	defer m.forget(nonce)

	if err := m.sendControl(ctx, peer, kindFetchRequest, fetchRequestBody{Nonce: nonce, Topic: topic, IDs: ids}); err != nil {
		return err
	}

	var rest []byte
	select {
	case rest = <-replyCh:
	case <-ctx.Done():
		return errRoundTimeout
	}

	var reply fetchReplyBody
	if err := decodeBody(rest, &reply); err != nil {
		return err
	}

	for _, frame := range reply.Frames {
		m.deliverer.OnIncoming(ctx, frame, peer)
	}
	if m.metrics != nil && len(reply.Frames) > 0 {
		m.metrics.IncMessagesRecovered(len(reply.Frames))
	}
	return nil
}

func (m *Manager) onSummaryRequest(ctx context.Context, from identity.MachineID, body summaryRequestBody) {
	ids := make([][][32]byte, len(body.Topics))
	for i, topic := range body.Topics {
		ids[i] = m.summarizer.Summarize(topic)
	}
	_ = m.sendControl(ctx, from, kindSummaryReply, summaryReplyBody{Nonce: body.Nonce, Topics: body.Topics, IDs: ids})
}

func (m *Manager) onFetchRequest(ctx context.Context, from identity.MachineID, body fetchRequestBody) {
	var outIDs [][32]byte
	var outFrames [][]byte
	for _, id := range body.IDs {
		if raw, ok := m.summarizer.Fetch(body.Topic, id); ok {
			outIDs = append(outIDs, id)
			outFrames = append(outFrames, raw)
		}
	}
	_ = m.sendControl(ctx, from, kindFetchReply, fetchReplyBody{Nonce: body.Nonce, Topic: body.Topic, IDs: outIDs, Frames: outFrames})
}

// diffMissing returns the entries in remote that are not in local.
func diffMissing(local, remote [][32]byte) [][32]byte {
	have := make(map[[32]byte]bool, len(local))
	for _, id := range local {
		have[id] = true
	}
	var missing [][32]byte
	for _, id := range remote {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// samplePeers returns up to n entries from peers in random order,
// without replacement.
func samplePeers(peers []identity.MachineID, n int) []identity.MachineID {
	if n >= len(peers) {
		out := make([]identity.MachineID, len(peers))
		copy(out, peers)
		rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out
	}
	idx := rand.Perm(len(peers))[:n]
	out := make([]identity.MachineID, n)
	for i, j := range idx {
		out[i] = peers[j]
	}
	return out
}
