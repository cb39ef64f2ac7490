// Copyright (C) 2025 agentmesh
//
// SPDX-License-Identifier: LGPL-3.0-or-later

package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentmesh/fabric/identity"
	"github.com/agentmesh/fabric/transport"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestDialHandshakeRegistersPeerAndSendWorks(t *testing.T) {
	var serverID, clientID identity.MachineID
	serverID[0] = 1
	clientID[0] = 2

	serverT := New(serverID, nil)
	server := httptest.NewServer(serverT.Handler())
	defer server.Close()
	defer serverT.Close()

	clientT := New(clientID, nil)
	defer clientT.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	gotServerID, err := clientT.Dial(ctx, wsURL(server))
	require.NoError(t, err)
	require.Equal(t, serverID, gotServerID)

	// give the server side a moment to finish registering its side of
	// the handshake before we address it by identity.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, clientT.Send(ctx, serverID, []byte("hello")))
}

func TestSendToUnknownPeerFails(t *testing.T) {
	var selfID identity.MachineID
	selfID[0] = 9
	tr := New(selfID, nil)
	defer tr.Close()

	var ghost identity.MachineID
	ghost[0] = 0xFF

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := tr.Send(ctx, ghost, []byte("x"))
	require.Error(t, err)
}

func TestServerEmitsPeerConnectedOnDial(t *testing.T) {
	var serverID, clientID identity.MachineID
	serverID[0] = 1
	clientID[0] = 2

	serverT := New(serverID, nil)
	server := httptest.NewServer(serverT.Handler())
	defer server.Close()
	defer serverT.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	events := serverT.SubscribeEvents(ctx)

	clientT := New(clientID, nil)
	defer clientT.Close()
	_, err := clientT.Dial(ctx, wsURL(server))
	require.NoError(t, err)

	select {
	case e := <-events:
		require.Equal(t, transport.PeerConnected, e.Kind)
		require.Equal(t, clientID, e.Peer)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for PeerConnected event")
	}
}

func TestLocalPeerID(t *testing.T) {
	var selfID identity.MachineID
	selfID[0] = 7
	tr := New(selfID, nil)
	defer tr.Close()
	require.Equal(t, selfID, tr.LocalPeerID())
}
