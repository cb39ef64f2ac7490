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

// TaskItem is one task in a TaskList: an add-wins checkbox state plus
// LWW metadata fields. created_by/created_at are immutable and set
// once at construction, so they need no CRDT wrapper.
type TaskItem struct {
	ID          TaskId
	Checkbox    *crdt.ORSet[CheckboxState]
	Title       *crdt.LWWRegister[string]
	Description *crdt.LWWRegister[string]
	Assignee    *crdt.LWWRegister[*identity.AgentID]
	Priority    *crdt.LWWRegister[uint8]
	CreatedBy   identity.AgentID
	CreatedAt   int64
}

// newTaskItem constructs a TaskItem with empty LWW registers and an
// empty checkbox OR-Set, ready to receive its initial field writes.
func newTaskItem(id TaskId, createdBy identity.AgentID, createdAt int64) *TaskItem {
	return &TaskItem{
		ID:          id,
		Checkbox:    crdt.NewORSet[CheckboxState](),
		Title:       crdt.NewLWWRegister[string](),
		Description: crdt.NewLWWRegister[string](),
		Assignee:    crdt.NewLWWRegister[*identity.AgentID](),
		Priority:    crdt.NewLWWRegister[uint8](),
		CreatedBy:   createdBy,
		CreatedAt:   createdAt,
	}
}

// ObservedState derives the task's current observable checkbox state.
func (t *TaskItem) ObservedState() CheckboxState {
	return ObservedCheckState(t.Checkbox.Value())
}

// Snapshot is a read-only, merge-independent view of a TaskItem for
// callers (CLI, tests) that just want current values.
type Snapshot struct {
	ID          TaskId
	Title       string
	Description string
	Assignee    *identity.AgentID
	Priority    uint8
	State       CheckboxState
	CreatedBy   identity.AgentID
	CreatedAt   int64
}

// Snapshot renders the task's current observable values.
func (t *TaskItem) Snapshot() Snapshot {
	title, _, _ := t.Title.Value()
	desc, _, _ := t.Description.Value()
	assignee, _, _ := t.Assignee.Value()
	priority, _, _ := t.Priority.Value()
	return Snapshot{
		ID:          t.ID,
		Title:       title,
		Description: desc,
		Assignee:    assignee,
		Priority:    priority,
		State:       t.ObservedState(),
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
	}
}

// merge folds other into t, pointwise across every field.
func (t *TaskItem) merge(other *TaskItem) {
	t.Checkbox.Merge(other.Checkbox)
	t.Title.Merge(other.Title)
	t.Description.Merge(other.Description)
	t.Assignee.Merge(other.Assignee)
	t.Priority.Merge(other.Priority)
}
