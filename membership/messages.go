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

package membership

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/agentmesh/fabric/identity"
)

// Topic is the reserved wire topic every control message travels on.
const Topic = "_membership"

type controlKind byte

const (
	kindJoin controlKind = iota
	kindForwardJoin
	kindDisconnect
	kindShuffleRequest
	kindShuffleReply
	kindNeighbor
	kindProbe
	kindAck
)

type joinBody struct {
	Joiner     identity.MachineID
	JoinerAddr string
}

type forwardJoinBody struct {
	Joiner     identity.MachineID
	JoinerAddr string
	TTL        int
}

type disconnectBody struct{}

type shuffleRequestBody struct {
	Sample []identity.MachineID
	TTL    int
}

type shuffleReplyBody struct {
	Sample []identity.MachineID
}

type neighborBody struct {
	HighPriority bool
}

type probeBody struct{ Nonce uint64 }

type ackBody struct{ Nonce uint64 }

// encodeControl serialises a control message as a one-byte kind tag
// followed by the gob encoding of body.
func encodeControl(kind controlKind, body interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(kind))
	if err := gob.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("membership: encode control message: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeControlKind returns the kind tag and the remaining gob-encoded
// body bytes without decoding the body itself.
func decodeControlKind(payload []byte) (controlKind, []byte, error) {
	if len(payload) < 1 {
		return 0, nil, fmt.Errorf("membership: %w: empty control payload", ErrUnknownControlMessage)
	}
	return controlKind(payload[0]), payload[1:], nil
}

func decodeBody(rest []byte, out interface{}) error {
	return gob.NewDecoder(bytes.NewReader(rest)).Decode(out)
}
