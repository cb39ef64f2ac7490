// Copyright (C) 2025 agentmesh
//
// SPDX-License-Identifier: LGPL-3.0-or-later

package wire

import (
	"encoding/binary"
	"testing"

	"github.com/agentmesh/fabric/identity"
	"github.com/stretchr/testify/require"
)

func newTestKeypair(t *testing.T) (*identity.Keypair, identity.AgentID) {
	t.Helper()
	kp, err := identity.GenerateKeypair()
	require.NoError(t, err)
	t.Cleanup(kp.Close)
	return kp, identity.DeriveAgentID(kp.PublicKeyBytes())
}

func TestSignAndEncodeDecodeRoundTrip(t *testing.T) {
	kp, agentID := newTestKeypair(t)

	frame, err := SignAndEncode(kp, agentID, "tasks/acme", []byte("payload bytes"))
	require.NoError(t, err)

	msg, err := Decode(frame)
	require.NoError(t, err)
	require.Equal(t, agentID, msg.Sender)
	require.Equal(t, "tasks/acme", msg.Topic)
	require.Equal(t, []byte("payload bytes"), msg.Payload)
	require.NoError(t, msg.Verify(kp))
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	kp, agentID := newTestKeypair(t)
	frame, err := SignAndEncode(kp, agentID, "t", []byte("p"))
	require.NoError(t, err)

	frame[0] = 0x03
	_, err = Decode(frame)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeRejectsTruncatedTopicLength(t *testing.T) {
	kp, agentID := newTestKeypair(t)
	frame, err := SignAndEncode(kp, agentID, "topic", []byte("payload"))
	require.NoError(t, err)

	// Bump the declared topic_len beyond the remaining bytes.
	sigLenOff := 1 + 32
	sigLen := int(binary.BigEndian.Uint16(frame[sigLenOff : sigLenOff+2]))
	topicLenOff := sigLenOff + 2 + sigLen
	binary.BigEndian.PutUint16(frame[topicLenOff:topicLenOff+2], 0xFFFF)

	_, err = Decode(frame)
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestDecodeRejectsEmptyFrame(t *testing.T) {
	_, err := Decode(nil)
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	_, err := Decode([]byte{Version})
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestVerifyFailsOnTamperedPayload(t *testing.T) {
	kp, agentID := newTestKeypair(t)
	frame, err := SignAndEncode(kp, agentID, "topic", []byte("payload"))
	require.NoError(t, err)

	msg, err := Decode(frame)
	require.NoError(t, err)
	msg.Payload[0] ^= 0xFF

	require.ErrorIs(t, msg.Verify(kp), ErrSignatureInvalid)
}

func TestVerifyFailsUnderWrongKey(t *testing.T) {
	kp, agentID := newTestKeypair(t)
	other, _ := newTestKeypair(t)

	frame, err := SignAndEncode(kp, agentID, "topic", []byte("payload"))
	require.NoError(t, err)

	msg, err := Decode(frame)
	require.NoError(t, err)
	require.ErrorIs(t, msg.Verify(other), ErrSignatureInvalid)
}

func TestMessageIDExcludesSignature(t *testing.T) {
	kp, agentID := newTestKeypair(t)

	frame1, err := SignAndEncode(kp, agentID, "topic", []byte("payload"))
	require.NoError(t, err)
	frame2, err := SignAndEncode(kp, agentID, "topic", []byte("payload"))
	require.NoError(t, err)

	msg1, err := Decode(frame1)
	require.NoError(t, err)
	msg2, err := Decode(frame2)
	require.NoError(t, err)

	// ML-DSA-65 signing is randomized, so the two signatures likely
	// differ, but the dedup ID is computed over content only.
	require.Equal(t, msg1.ID(), msg2.ID())
}

func TestMessageIDDiffersOnPayload(t *testing.T) {
	kp, agentID := newTestKeypair(t)

	frame1, err := SignAndEncode(kp, agentID, "topic", []byte("payload-a"))
	require.NoError(t, err)
	frame2, err := SignAndEncode(kp, agentID, "topic", []byte("payload-b"))
	require.NoError(t, err)

	msg1, err := Decode(frame1)
	require.NoError(t, err)
	msg2, err := Decode(frame2)
	require.NoError(t, err)

	require.NotEqual(t, msg1.ID(), msg2.ID())
}
