// Copyright (C) 2025 agentmesh
//
// SPDX-License-Identifier: LGPL-3.0-or-later

package node

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentmesh/fabric/identity"
	"github.com/agentmesh/fabric/membership"
	"github.com/agentmesh/fabric/persistence"
	"github.com/agentmesh/fabric/tasklist"
	"github.com/agentmesh/fabric/transport/loopback"
	"github.com/agentmesh/fabric/trust"
)

// memTrust is a fixed-level trust.Store stub, the same shape pubsub's
// own tests use.
type memTrust struct {
	level trust.Level
}

func (m *memTrust) Lookup(identity.AgentID) trust.Level     { return m.level }
func (m *memTrust) Upsert(trust.Contact) error              { return nil }
func (m *memTrust) Remove(identity.AgentID) error           { return nil }
func (m *memTrust) List() []trust.Contact                   { return nil }
func (m *memTrust) Touch(identity.AgentID, time.Time) error { return nil }

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Membership.ShuffleInterval = 20 * time.Millisecond
	cfg.Membership.ProbeInterval = 10 * time.Millisecond
	cfg.Membership.SuspectTimeout = 30 * time.Millisecond
	cfg.Membership.MissedProbesBeforeSuspect = 2
	cfg.AntiEntropy.Interval = 20 * time.Millisecond
	return cfg
}

func newTestNode(t *testing.T, net *loopback.Network) *Node {
	t.Helper()
	bundle, err := identity.GenerateBundle(nil)
	require.NoError(t, err)
	t.Cleanup(bundle.AgentKeypair.Close)
	t.Cleanup(bundle.MachineKeypair.Close)

	peer := net.NewPeer(bundle.MachineID, 64)
	return New(fastConfig(), bundle, &memTrust{level: trust.Known}, peer, nil)
}

func joinAndWait(t *testing.T, ctx context.Context, joiner, bootstrap *Node) {
	t.Helper()
	bootstrapPeers := []membership.BootstrapPeer{{ID: bootstrap.Bundle().MachineID}}
	require.NoError(t, joiner.Join(ctx, bootstrapPeers))
	require.Eventually(t, func() bool {
		for _, id := range bootstrap.ActiveView() {
			if id == joiner.Bundle().MachineID {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

// TestPubSubRoundTrip exercises scenario 1 end to end: two composed
// nodes join the overlay, introduce themselves, and a message published
// on one arrives, verified, at the other.
func TestPubSubRoundTrip(t *testing.T) {
	net := loopback.NewNetwork()
	a := newTestNode(t, net)
	b := newTestNode(t, net)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go a.Run(ctx)
	go b.Run(ctx)

	joinAndWait(t, ctx, b, a)

	sub := b.pubsub.Subscribe("greetings")
	require.Eventually(t, func() bool {
		_, ok := b.directory.PublicKey(a.Bundle().AgentID)
		return ok
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, a.pubsub.Publish(ctx, "greetings", []byte("hello")))

	select {
	case d := <-sub.C():
		require.Equal(t, "greetings", d.Topic)
		require.Equal(t, []byte("hello"), d.Payload)
		require.True(t, d.Verified)
		require.Equal(t, a.Bundle().AgentID, d.Sender)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

// TestTaskListConvergence exercises scenario 2: two nodes each bind a
// TaskList to the same topic; a task added on one side, then claimed
// on the other, converges to the same observed state on both.
func TestTaskListConvergence(t *testing.T) {
	net := loopback.NewNetwork()
	a := newTestNode(t, net)
	b := newTestNode(t, net)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go a.Run(ctx)
	go b.Run(ctx)

	joinAndWait(t, ctx, b, a)
	require.Eventually(t, func() bool {
		_, ok := b.directory.PublicKey(a.Bundle().AgentID)
		return ok
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := a.directory.PublicKey(b.Bundle().AgentID)
		return ok
	}, time.Second, 5*time.Millisecond)

	syncA, err := a.NewTaskList(ctx, "tasks", nil, persistence.Config{})
	require.NoError(t, err)
	syncB, err := b.NewTaskList(ctx, "tasks", nil, persistence.Config{})
	require.NoError(t, err)

	now := int64(1000)
	taskID, err := syncA.AddTask(ctx, "write design doc", "", 1, now)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, snap := range syncB.List().ObservedTasks() {
			if snap.ID == taskID {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, syncB.ClaimTask(ctx, taskID, now+1))

	require.Eventually(t, func() bool {
		for _, snap := range syncA.List().ObservedTasks() {
			if snap.ID == taskID && snap.State.State == tasklist.Claimed && snap.State.AgentID == b.Bundle().AgentID {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

// TestBlockedSenderDropped exercises scenario 4: a node that has
// blocked a peer's AgentID never delivers that peer's messages
// locally, even though the signature itself verifies.
func TestBlockedSenderDropped(t *testing.T) {
	net := loopback.NewNetwork()
	bundleA, err := identity.GenerateBundle(nil)
	require.NoError(t, err)
	t.Cleanup(bundleA.AgentKeypair.Close)
	t.Cleanup(bundleA.MachineKeypair.Close)
	peerA := net.NewPeer(bundleA.MachineID, 64)
	a := New(fastConfig(), bundleA, &memTrust{level: trust.Known}, peerA, nil)

	bundleB, err := identity.GenerateBundle(nil)
	require.NoError(t, err)
	t.Cleanup(bundleB.AgentKeypair.Close)
	t.Cleanup(bundleB.MachineKeypair.Close)
	peerB := net.NewPeer(bundleB.MachineID, 64)
	b := New(fastConfig(), bundleB, &memTrust{level: trust.Blocked}, peerB, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go a.Run(ctx)
	go b.Run(ctx)

	joinAndWait(t, ctx, b, a)
	require.Eventually(t, func() bool {
		_, ok := b.directory.PublicKey(a.Bundle().AgentID)
		return ok
	}, time.Second, 5*time.Millisecond)

	sub := b.pubsub.Subscribe("greetings")
	require.NoError(t, a.pubsub.Publish(ctx, "greetings", []byte("hello")))

	select {
	case <-sub.C():
		t.Fatal("delivery from a blocked sender should not reach a local subscriber")
	case <-time.After(300 * time.Millisecond):
	}
}

// TestMetricsHandlerServesPrometheusFormat exercises the node's
// Prometheus exposition surface (§4.12): MetricsHandler must return a
// handler that serves the registered collectors in text format.
func TestMetricsHandlerServesPrometheusFormat(t *testing.T) {
	net := loopback.NewNetwork()
	n := newTestNode(t, net)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	n.MetricsHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "mesh_")
}
