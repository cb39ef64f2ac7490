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

package persistence

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/agentmesh/fabric/identity"
	"github.com/agentmesh/fabric/tasklist"
)

// envelope is the versioned JSON container every snapshot file holds.
// Payload is itself a gob encoding of payloadBody, kept opaque to JSON
// so the CRDT types (vector clocks, OR-Set tags) don't need JSON tags
// of their own.
type envelope struct {
	FormatVersion uint32 `json:"format_version"`
	ListVersion   uint64 `json:"list_version"`
	Payload       []byte `json:"payload"`
}

// payloadBody carries everything needed to reconstruct a TaskList:
// its identity, owning agent, full-state delta, and the incremental
// publish bookmark synctask.Sync relies on.
type payloadBody struct {
	ListID               tasklist.TaskListId
	SelfAgentID          identity.AgentID
	FullState            *tasklist.Delta
	LastPublishedVersion uint64
}

// encodeSnapshot builds the versioned envelope for list's current
// state.
func encodeSnapshot(list *tasklist.TaskList) ([]byte, error) {
	body := payloadBody{
		ListID:               list.ID,
		SelfAgentID:          list.SelfAgentID(),
		FullState:            list.Delta(0),
		LastPublishedVersion: list.LastPublishedVersion(),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("persistence: encode payload: %w", err)
	}

	env := envelope{
		FormatVersion: CurrentFormatVersion,
		ListVersion:   list.CurrentVersion(),
		Payload:       buf.Bytes(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("persistence: encode envelope: %w", err)
	}
	return data, nil
}

// decodeSnapshot parses data as a versioned envelope and rebuilds a
// TaskList from its payload. Rejects anything but CurrentFormatVersion
// and CurrentFormatVersion-1.
func decodeSnapshot(data []byte) (*tasklist.TaskList, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if env.FormatVersion != CurrentFormatVersion && env.FormatVersion != CurrentFormatVersion-1 {
		return nil, fmt.Errorf("%w: unsupported format_version %d", ErrMalformedSnapshot, env.FormatVersion)
	}

	var body payloadBody
	if err := gob.NewDecoder(bytes.NewReader(env.Payload)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	list := tasklist.New(body.SelfAgentID)
	list.ID = body.ListID
	if body.FullState != nil {
		list.Merge(body.FullState)
	}
	list.SetLastPublishedVersion(body.LastPublishedVersion)
	return list, nil
}
