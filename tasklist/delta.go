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

package tasklist

import (
	"github.com/agentmesh/fabric/crdt"
	"github.com/agentmesh/fabric/identity"
)

// RegisterUpdate is a plain, gob/json-serializable snapshot of one LWW
// write: the value plus the clock and origin it was written under.
// TaskItemDelta and Delta are built entirely out of these rather than
// the live mutex-holding crdt.LWWRegister so that they cross the wire
// cleanly.
type RegisterUpdate[T any] struct {
	Value  T
	Clock  crdt.VectorClock
	Origin identity.AgentID
}

// CheckboxAdd is one OR-Set addition to a task's checkbox state,
// carrying the tag so a receiving replica can apply the exact same
// add-wins element rather than inventing a new tag.
type CheckboxAdd struct {
	State CheckboxState
	Tag   string
}

// AddedTask carries everything needed to construct a TaskItem on a
// receiving replica: its initial field values plus the OR-Set tag
// under which it was added to TaskList.Members.
type AddedTask struct {
	Title       string
	Description string
	Priority    uint8
	Assignee    *identity.AgentID
	CreatedBy   identity.AgentID
	CreatedAt   int64
	Tag         string
}

// TaskItemDelta is the set of field-level changes to one existing task
// since some prior version.
type TaskItemDelta struct {
	CheckboxAdds []CheckboxAdd
	Title        *RegisterUpdate[string]
	Description  *RegisterUpdate[string]
	Assignee     *RegisterUpdate[*identity.AgentID]
	Priority     *RegisterUpdate[uint8]
}

// Delta is the wire-serializable description of a TaskList state
// change between FromVersion and ToVersion: new tasks, tombstoned
// membership tags, per-task field updates, and optional list-wide
// ordering/name writes.
type Delta struct {
	Added          map[TaskId]AddedTask
	Removed        map[TaskId][]string
	Updates        map[TaskId]TaskItemDelta
	OrderingUpdate *RegisterUpdate[[]TaskId]
	NameUpdate     *RegisterUpdate[string]
	FromVersion    uint64
	ToVersion      uint64
}

// newDelta returns an empty delta spanning [fromVersion, toVersion].
func newDelta(fromVersion, toVersion uint64) *Delta {
	return &Delta{
		Added:       make(map[TaskId]AddedTask),
		Removed:     make(map[TaskId][]string),
		Updates:     make(map[TaskId]TaskItemDelta),
		FromVersion: fromVersion,
		ToVersion:   toVersion,
	}
}

// merge combines two deltas covering adjacent or overlapping ranges
// into one spanning their union, last-write-wins per field update (the
// later delta's update replaces the earlier one for the same task, as
// is correct for a changelog assembled oldest-to-newest).
func (d *Delta) merge(next *Delta) *Delta {
	out := newDelta(d.FromVersion, next.ToVersion)
	for id, a := range d.Added {
		out.Added[id] = a
	}
	for id, a := range next.Added {
		out.Added[id] = a
	}
	for id, tags := range d.Removed {
		out.Removed[id] = append(out.Removed[id], tags...)
	}
	for id, tags := range next.Removed {
		out.Removed[id] = append(out.Removed[id], tags...)
	}
	for id, u := range d.Updates {
		out.Updates[id] = u
	}
	for id, u := range next.Updates {
		merged := out.Updates[id]
		merged.CheckboxAdds = append(merged.CheckboxAdds, u.CheckboxAdds...)
		if u.Title != nil {
			merged.Title = u.Title
		}
		if u.Description != nil {
			merged.Description = u.Description
		}
		if u.Assignee != nil {
			merged.Assignee = u.Assignee
		}
		if u.Priority != nil {
			merged.Priority = u.Priority
		}
		out.Updates[id] = merged
	}
	out.OrderingUpdate = d.OrderingUpdate
	if next.OrderingUpdate != nil {
		out.OrderingUpdate = next.OrderingUpdate
	}
	out.NameUpdate = d.NameUpdate
	if next.NameUpdate != nil {
		out.NameUpdate = next.NameUpdate
	}
	return out
}
