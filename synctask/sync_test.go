// Copyright (C) 2025 agentmesh
//
// SPDX-License-Identifier: LGPL-3.0-or-later

package synctask

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentmesh/fabric/identity"
	"github.com/agentmesh/fabric/pubsub"
	"github.com/agentmesh/fabric/tasklist"
	"github.com/agentmesh/fabric/transport/loopback"
	"github.com/agentmesh/fabric/trust"
)

type fixedView struct {
	mu    sync.Mutex
	peers []identity.MachineID
}

func (f *fixedView) ActiveView() []identity.MachineID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]identity.MachineID, len(f.peers))
	copy(out, f.peers)
	return out
}

type memDirectory struct {
	mu   sync.Mutex
	keys map[identity.AgentID][]byte
}

func newMemDirectory() *memDirectory { return &memDirectory{keys: make(map[identity.AgentID][]byte)} }

func (d *memDirectory) add(agentID identity.AgentID, pub []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[agentID] = pub
}

func (d *memDirectory) PublicKey(agentID identity.AgentID) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pub, ok := d.keys[agentID]
	return pub, ok
}

type alwaysKnown struct{}

func (alwaysKnown) Lookup(identity.AgentID) trust.Level     { return trust.Known }
func (alwaysKnown) Upsert(trust.Contact) error               { return nil }
func (alwaysKnown) Remove(identity.AgentID) error            { return nil }
func (alwaysKnown) List() []trust.Contact                    { return nil }
func (alwaysKnown) Touch(identity.AgentID, time.Time) error  { return nil }

func TestLocalAddTaskGossipsToPeer(t *testing.T) {
	net := loopback.NewNetwork()
	dir := newMemDirectory()

	kpA, err := identity.GenerateKeypair()
	require.NoError(t, err)
	t.Cleanup(kpA.Close)
	kpB, err := identity.GenerateKeypair()
	require.NoError(t, err)
	t.Cleanup(kpB.Close)

	machineA := identity.DeriveMachineID(kpA.PublicKeyBytes())
	agentA := identity.DeriveAgentID(kpA.PublicKeyBytes())
	machineB := identity.DeriveMachineID(kpB.PublicKeyBytes())
	agentB := identity.DeriveAgentID(kpB.PublicKeyBytes())
	dir.add(agentA, kpA.PublicKeyBytes())
	dir.add(agentB, kpB.PublicKeyBytes())

	peerA := net.NewPeer(machineA, 32)
	peerB := net.NewPeer(machineB, 32)

	viewA := &fixedView{peers: []identity.MachineID{machineB}}
	viewB := &fixedView{peers: []identity.MachineID{machineA}}

	psA := pubsub.New(pubsub.DefaultConfig(), agentA, kpA, peerA, viewA, dir, alwaysKnown{}, nil, nil)
	psB := pubsub.New(pubsub.DefaultConfig(), agentB, kpB, peerB, viewB, dir, alwaysKnown{}, nil, nil)

	listA := tasklist.New(agentA)
	listB := tasklist.New(agentB)
	syncA := New(listA, psA, "tasks", nil)
	syncB := New(listB, psB, "tasks", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go psB.Run(ctx)

	require.NoError(t, syncB.Start(ctx))

	id, err := syncA.AddTask(ctx, "write report", "quarterly numbers", 1, 1000)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, snap := range listB.ObservedTasks() {
			if snap.ID == id {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestRequestStateFromPeersReceivesFullState(t *testing.T) {
	net := loopback.NewNetwork()
	dir := newMemDirectory()

	kpA, err := identity.GenerateKeypair()
	require.NoError(t, err)
	t.Cleanup(kpA.Close)
	kpB, err := identity.GenerateKeypair()
	require.NoError(t, err)
	t.Cleanup(kpB.Close)

	machineA := identity.DeriveMachineID(kpA.PublicKeyBytes())
	agentA := identity.DeriveAgentID(kpA.PublicKeyBytes())
	machineB := identity.DeriveMachineID(kpB.PublicKeyBytes())
	agentB := identity.DeriveAgentID(kpB.PublicKeyBytes())
	dir.add(agentA, kpA.PublicKeyBytes())
	dir.add(agentB, kpB.PublicKeyBytes())

	peerA := net.NewPeer(machineA, 32)
	peerB := net.NewPeer(machineB, 32)

	viewA := &fixedView{peers: []identity.MachineID{machineB}}
	viewB := &fixedView{peers: []identity.MachineID{machineA}}

	psA := pubsub.New(pubsub.DefaultConfig(), agentA, kpA, peerA, viewA, dir, alwaysKnown{}, nil, nil)
	psB := pubsub.New(pubsub.DefaultConfig(), agentB, kpB, peerB, viewB, dir, alwaysKnown{}, nil, nil)

	listA := tasklist.New(agentA)
	listB := tasklist.New(agentB)
	syncA := New(listA, psA, "tasks", nil)
	syncB := New(listB, psB, "tasks", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	id := listA.AddTask("pre-existing", "", 0, 500)
	require.NoError(t, syncA.Start(ctx))
	go psA.Run(ctx)
	require.NoError(t, syncB.Start(ctx))
	go psB.Run(ctx)

	require.NoError(t, syncB.RequestStateFromPeers(ctx))

	require.Eventually(t, func() bool {
		for _, snap := range listB.ObservedTasks() {
			if snap.ID == id {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}
