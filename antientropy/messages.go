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

package antientropy

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Topic is the reserved, signed topic anti-entropy control traffic
// travels on, mirroring membership's "_membership" reserved topic.
const Topic = "_antientropy"

type controlKind byte

const (
	kindSummaryRequest controlKind = iota + 1
	kindSummaryReply
	kindFetchRequest
	kindFetchReply
)

// summaryRequestBody asks the recipient for the message-IDs it has
// recently seen on each of topics.
type summaryRequestBody struct {
	Nonce  uint64
	Topics []string
}

// summaryReplyBody answers a summaryRequestBody with, per requested
// topic, the IDs the replier currently holds in its history window.
type summaryReplyBody struct {
	Nonce  uint64
	Topics []string
	IDs    [][][32]byte // parallel to Topics
}

// fetchRequestBody asks for the raw frames behind a set of IDs on one
// topic, once the requester has diffed a summary reply against its own
// state and found itself missing them.
type fetchRequestBody struct {
	Nonce uint64
	Topic string
	IDs   [][32]byte
}

// fetchReplyBody carries whichever of the requested IDs the replier
// still holds; a requester that asked for an ID the peer has since
// evicted from its history simply doesn't get it back this round.
type fetchReplyBody struct {
	Nonce  uint64
	Topic  string
	IDs    [][32]byte
	Frames [][]byte // parallel to IDs
}

func encodeControl(kind controlKind, body interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(kind))
	if err := gob.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("antientropy: encode control message: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeControlKind(payload []byte) (controlKind, []byte, error) {
	if len(payload) < 1 {
		return 0, nil, fmt.Errorf("antientropy: empty control payload")
	}
	return controlKind(payload[0]), payload[1:], nil
}

func decodeBody(rest []byte, out interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(rest)).Decode(out); err != nil {
		return fmt.Errorf("antientropy: decode control body: %w", err)
	}
	return nil
}
