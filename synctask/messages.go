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

package synctask

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/agentmesh/fabric/tasklist"
)

// envelopeKind distinguishes an ordinary delta publication from the
// state-request marker on the shared topic.
type envelopeKind byte

const (
	kindDelta envelopeKind = iota
	kindStateRequest
)

// envelope is the gob payload every message on a synced topic carries.
// A stateRequest has a nil Delta; peers observing it respond with
// their own delta(0) on the same topic.
type envelope struct {
	Kind  envelopeKind
	Delta *tasklist.Delta
}

func encodeEnvelope(e envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("synctask: encode envelope: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeEnvelope(payload []byte) (envelope, error) {
	var e envelope
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&e); err != nil {
		return envelope{}, fmt.Errorf("synctask: decode envelope: %w", err)
	}
	return e, nil
}
