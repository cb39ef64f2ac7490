// Copyright (C) 2025 agentmesh
//
// SPDX-License-Identifier: LGPL-3.0-or-later

package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveIDDeterministic(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)
	defer kp.Close()

	id1 := DeriveAgentID(kp.PublicKeyBytes())
	id2 := DeriveAgentID(kp.PublicKeyBytes())
	require.Equal(t, id1, id2)
}

func TestDeriveIDLayersDoNotCollide(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)
	defer kp.Close()

	machineID := DeriveMachineID(kp.PublicKeyBytes())
	agentID := DeriveAgentID(kp.PublicKeyBytes())
	userID := DeriveUserID(kp.PublicKeyBytes())

	require.NotEqual(t, machineID[:], agentID[:])
	require.NotEqual(t, agentID[:], userID[:])
}

func TestVerifyAgentIDMismatch(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)
	defer kp.Close()

	other, err := GenerateKeypair()
	require.NoError(t, err)
	defer other.Close()

	agentID := DeriveAgentID(kp.PublicKeyBytes())
	err = VerifyAgentID(agentID, other.PublicKeyBytes())
	require.ErrorIs(t, err, ErrPeerIDMismatch)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)
	defer kp.Close()

	msg := []byte("hello agentmesh")
	sig := kp.Sign(msg)
	require.NoError(t, Verify(kp.PublicKey(), msg, sig))
}

func TestSignVerifyTamperedMessage(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)
	defer kp.Close()

	msg := []byte("hello agentmesh")
	sig := kp.Sign(msg)
	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0xFF
	require.ErrorIs(t, Verify(kp.PublicKey(), tampered, sig), ErrSignatureInvalid)
}

func TestCertificateIssueAndVerify(t *testing.T) {
	userKP, err := GenerateKeypair()
	require.NoError(t, err)
	defer userKP.Close()

	bundle, err := GenerateBundle(userKP)
	require.NoError(t, err)
	defer bundle.Close()

	require.True(t, bundle.HasUser())
	require.NotNil(t, bundle.Certificate)
	require.Equal(t, bundle.AgentID, bundle.Certificate.AgentID)
	require.NoError(t, bundle.Certificate.Verify(userKP.PublicKey()))
}

func TestCertificateVerifyFailsOnTamperedAgentID(t *testing.T) {
	userKP, err := GenerateKeypair()
	require.NoError(t, err)
	defer userKP.Close()

	bundle, err := GenerateBundle(userKP)
	require.NoError(t, err)
	defer bundle.Close()

	bundle.Certificate.AgentID[0] ^= 0xFF
	require.ErrorIs(t, bundle.Certificate.Verify(userKP.PublicKey()), ErrSignatureInvalid)
}

func TestGenerateBundleWithoutUser(t *testing.T) {
	bundle, err := GenerateBundle(nil)
	require.NoError(t, err)
	defer bundle.Close()

	require.False(t, bundle.HasUser())
	require.Nil(t, bundle.Certificate)
	require.True(t, bundle.UserID.IsZero())
}

func TestSaveLoadKeypairRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)
	defer kp.Close()

	path := filepath.Join(t.TempDir(), "agent.key")
	require.NoError(t, SaveKeypair(path, "agent", kp))

	loaded, layer, err := LoadKeypair(path)
	require.NoError(t, err)
	require.Equal(t, "agent", layer)
	require.Equal(t, kp.PublicKeyBytes(), loaded.PublicKeyBytes())

	msg := []byte("round trip")
	sig := loaded.Sign(msg)
	require.NoError(t, Verify(kp.PublicKey(), msg, sig))
}

func TestLoadKeypairMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.key")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))

	_, _, err := LoadKeypair(path)
	require.ErrorIs(t, err, ErrInvalidKey)
}
