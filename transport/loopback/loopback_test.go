// Copyright (C) 2025 agentmesh
//
// SPDX-License-Identifier: LGPL-3.0-or-later

package loopback

import (
	"context"
	"testing"
	"time"

	"github.com/agentmesh/fabric/identity"
	"github.com/agentmesh/fabric/transport"
	"github.com/stretchr/testify/require"
)

func TestSendDeliversToRecipientInbox(t *testing.T) {
	net := NewNetwork()
	var idA, idB identity.MachineID
	idA[0], idB[0] = 1, 2

	peerA := net.NewPeer(idA, 8)
	peerB := net.NewPeer(idB, 8)
	defer peerA.Close()
	defer peerB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, peerA.Send(ctx, idB, []byte("hello")))

	msg, from, err := peerB.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), msg)
	require.Equal(t, idA, from)
}

func TestSendToUnknownPeerFails(t *testing.T) {
	net := NewNetwork()
	var idA, idGhost identity.MachineID
	idA[0], idGhost[0] = 1, 0xFF

	peerA := net.NewPeer(idA, 8)
	defer peerA.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := peerA.Send(ctx, idGhost, []byte("x"))
	require.Error(t, err)
}

func TestBroadcastReachesAllRecipients(t *testing.T) {
	net := NewNetwork()
	var idA, idB, idC identity.MachineID
	idA[0], idB[0], idC[0] = 1, 2, 3

	peerA := net.NewPeer(idA, 8)
	peerB := net.NewPeer(idB, 8)
	peerC := net.NewPeer(idC, 8)
	defer peerA.Close()
	defer peerB.Close()
	defer peerC.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, peerA.Broadcast(ctx, []identity.MachineID{idB, idC}, []byte("gossip")))

	msgB, _, err := peerB.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("gossip"), msgB)

	msgC, _, err := peerC.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("gossip"), msgC)
}

func TestNewPeerEmitsConnectedEventToExistingPeers(t *testing.T) {
	net := NewNetwork()
	var idA, idB identity.MachineID
	idA[0], idB[0] = 1, 2

	peerA := net.NewPeer(idA, 8)
	defer peerA.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	events := peerA.SubscribeEvents(ctx)

	peerB := net.NewPeer(idB, 8)
	defer peerB.Close()

	select {
	case e := <-events:
		require.Equal(t, transport.PeerConnected, e.Kind)
		require.Equal(t, idB, e.Peer)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for PeerConnected event")
	}
}
