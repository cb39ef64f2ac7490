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

// Package wire implements the v2 signed message frame: encoding,
// decoding and the canonical signing input shared by every component
// that puts bytes on the network (membership control messages, pubsub
// payloads, anti-entropy responses).
package wire

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/agentmesh/fabric/identity"
)

// Version is the only frame version this build encodes and decodes.
// A future 0x03 must be accepted alongside this one for a release
// cycle before 0x02 is retired; until that lands, anything but 0x02
// is rejected with ErrUnsupportedVersion.
const Version byte = 0x02

const (
	maxSignatureLen = math.MaxUint16
	maxTopicLen     = math.MaxUint16
	maxPayloadLen   = math.MaxUint32
)

// Message is a decoded wire frame.
type Message struct {
	Sender    identity.AgentID
	Topic     string
	Payload   []byte
	Signature []byte
	Raw       []byte
}

// ID is the 256-bit deduplication key for a decoded message. It is
// computed over the canonical signing input -- version, sender, topic
// and payload -- deliberately excluding the signature bytes, so that
// two deliveries of the same logical content dedup to a single entry
// even if re-signed along the way.
func (m *Message) ID() [32]byte {
	return sha256.Sum256(canonicalSigningInput(Version, m.Sender, m.Topic, m.Payload))
}

// canonicalSigningInput builds the exact byte sequence the signature
// covers: version, sender_agent_id, topic bytes and payload bytes,
// each either fixed-width or length-prefixed so the encoding is
// injective (no ambiguity between, say, a short topic plus long
// payload and a long topic plus short payload).
func canonicalSigningInput(version byte, sender identity.AgentID, topic string, payload []byte) []byte {
	topicBytes := []byte(topic)
	buf := make([]byte, 0, 1+len(sender)+2+len(topicBytes)+4+len(payload))
	buf = append(buf, version)
	buf = append(buf, sender[:]...)

	var topicLen [2]byte
	binary.BigEndian.PutUint16(topicLen[:], uint16(len(topicBytes)))
	buf = append(buf, topicLen[:]...)
	buf = append(buf, topicBytes...)

	var payloadLen [4]byte
	binary.BigEndian.PutUint32(payloadLen[:], uint32(len(payload)))
	buf = append(buf, payloadLen[:]...)
	buf = append(buf, payload...)
	return buf
}

// SignAndEncode constructs the canonical signing input for (topic,
// payload), signs it with agentKeypair, and assembles the full v2
// frame. Fails ErrMessageTooLarge if any length field would overflow
// its declared width.
func SignAndEncode(agentKeypair *identity.Keypair, senderAgentID identity.AgentID, topic string, payload []byte) ([]byte, error) {
	topicBytes := []byte(topic)
	if len(topicBytes) > maxTopicLen {
		return nil, fmt.Errorf("%w: topic length %d exceeds %d", ErrMessageTooLarge, len(topicBytes), maxTopicLen)
	}
	if len(payload) > maxPayloadLen {
		return nil, fmt.Errorf("%w: payload length %d exceeds %d", ErrMessageTooLarge, len(payload), maxPayloadLen)
	}

	signingInput := canonicalSigningInput(Version, senderAgentID, topic, payload)
	sig := agentKeypair.Sign(signingInput)
	if len(sig) > maxSignatureLen {
		return nil, fmt.Errorf("%w: signature length %d exceeds %d", ErrMessageTooLarge, len(sig), maxSignatureLen)
	}

	buf := make([]byte, 0, 1+len(senderAgentID)+2+len(sig)+2+len(topicBytes)+4+len(payload))
	buf = append(buf, Version)
	buf = append(buf, senderAgentID[:]...)

	var sigLen [2]byte
	binary.BigEndian.PutUint16(sigLen[:], uint16(len(sig)))
	buf = append(buf, sigLen[:]...)
	buf = append(buf, sig...)

	var topicLen [2]byte
	binary.BigEndian.PutUint16(topicLen[:], uint16(len(topicBytes)))
	buf = append(buf, topicLen[:]...)
	buf = append(buf, topicBytes...)

	var payloadLen [4]byte
	binary.BigEndian.PutUint32(payloadLen[:], uint32(len(payload)))
	buf = append(buf, payloadLen[:]...)
	buf = append(buf, payload...)

	return buf, nil
}

// Decode parses a wire frame without verifying its signature. Callers
// that accept messages from the network must follow with Verify.
func Decode(data []byte) (*Message, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty frame", ErrInvalidFormat)
	}
	version := data[0]
	if version != Version {
		return nil, fmt.Errorf("%w: version 0x%02x", ErrUnsupportedVersion, version)
	}
	off := 1

	if len(data) < off+32 {
		return nil, fmt.Errorf("%w: truncated sender id", ErrInvalidFormat)
	}
	var sender identity.AgentID
	copy(sender[:], data[off:off+32])
	off += 32

	if len(data) < off+2 {
		return nil, fmt.Errorf("%w: truncated signature length", ErrInvalidFormat)
	}
	sigLen := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	if len(data) < off+sigLen {
		return nil, fmt.Errorf("%w: truncated signature", ErrInvalidFormat)
	}
	signature := append([]byte(nil), data[off:off+sigLen]...)
	off += sigLen

	if len(data) < off+2 {
		return nil, fmt.Errorf("%w: truncated topic length", ErrInvalidFormat)
	}
	topicLen := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	if len(data) < off+topicLen {
		return nil, fmt.Errorf("%w: truncated topic", ErrInvalidFormat)
	}
	topic := string(data[off : off+topicLen])
	off += topicLen

	if len(data) < off+4 {
		return nil, fmt.Errorf("%w: truncated payload length", ErrInvalidFormat)
	}
	payloadLen := int(binary.BigEndian.Uint32(data[off : off+4]))
	off += 4
	if payloadLen < 0 || len(data) < off+payloadLen {
		return nil, fmt.Errorf("%w: truncated payload", ErrInvalidFormat)
	}
	payload := append([]byte(nil), data[off:off+payloadLen]...)
	off += payloadLen

	if len(signature) == 0 {
		return nil, fmt.Errorf("%w: unsigned frame", ErrInvalidFormat)
	}

	raw := append([]byte(nil), data[:off]...)
	return &Message{
		Sender:    sender,
		Topic:     topic,
		Payload:   payload,
		Signature: signature,
		Raw:       raw,
	}, nil
}

// Verify checks m's signature against senderPublicKey. Callers must
// have already resolved senderPublicKey for m.Sender (typically via
// the contact store plus whatever certificate chain applies) before
// calling this.
func (m *Message) Verify(senderPublicKey *identity.Keypair) error {
	signingInput := canonicalSigningInput(Version, m.Sender, m.Topic, m.Payload)
	if err := identity.Verify(senderPublicKey.PublicKey(), signingInput, m.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

// VerifyBytes is Verify taking a raw public key, for callers that
// don't hold a full Keypair for the remote sender.
func (m *Message) VerifyBytes(senderPublicKey []byte) error {
	signingInput := canonicalSigningInput(Version, m.Sender, m.Topic, m.Payload)
	if err := identity.VerifyBytes(senderPublicKey, signingInput, m.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}
