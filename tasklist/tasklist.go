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
	"sync"

	"github.com/google/uuid"

	"github.com/agentmesh/fabric/crdt"
	"github.com/agentmesh/fabric/identity"
)

// TaskListId identifies one collaborative list, independent of the
// gossip topic it happens to be bound to.
type TaskListId [16]byte

func NewTaskListId() TaskListId {
	var id TaskListId
	copy(id[:], uuid.New()[:])
	return id
}

func (id TaskListId) String() string { return uuid.UUID(id).String() }

// UpdateFields is the set of optional field writes update_task accepts.
// A nil pointer means "leave this field unchanged".
type UpdateFields struct {
	Title       *string
	Description *string
	Assignee    **identity.AgentID
	Priority    *uint8
}

// changelogRetention bounds how many deltas TaskList keeps before
// compacting older entries into the watermark, so changelog memory
// doesn't grow without bound on a long-lived list.
const changelogRetention = 256

// TaskList is the CRDT-backed collaborative task list. All mutating
// operations take the write lock; merge and delta construction do too,
// since both read and write the changelog.
type TaskList struct {
	mu sync.RWMutex

	ID       TaskListId
	Name     *crdt.LWWRegister[string]
	Members  *crdt.ORSet[TaskId]
	Items    map[TaskId]*TaskItem
	Ordering *crdt.LWWRegister[[]TaskId]
	Version  uint64

	changelog           map[uint64]*Delta // keyed by ToVersion
	compactionWatermark uint64

	selfAgentID         identity.AgentID
	selfClock           crdt.VectorClock
	lastPublishedVersion uint64

	metrics Metrics
}

// Metrics is an optional observer of merge/version activity. A nil
// Metrics (the default) is a no-op.
type Metrics interface {
	IncMerge()
	SetVersion(v uint64)
}

// New creates an empty TaskList owned by selfAgentID.
func New(selfAgentID identity.AgentID) *TaskList {
	return &TaskList{
		ID:          NewTaskListId(),
		Name:        crdt.NewLWWRegister[string](),
		Members:     crdt.NewORSet[TaskId](),
		Items:       make(map[TaskId]*TaskItem),
		Ordering:    crdt.NewLWWRegister[[]TaskId](),
		changelog:   make(map[uint64]*Delta),
		selfAgentID: selfAgentID,
		selfClock:   crdt.NewVectorClock(),
	}
}

// SetMetrics attaches an optional metrics observer. Not safe to call
// concurrently with mutation/merge.
func (l *TaskList) SetMetrics(m Metrics) {
	l.metrics = m
}

// SetName gives the list a human-readable name via LWW write.
func (l *TaskList) SetName(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.selfClock = l.selfClock.Increment(l.selfAgentID)
	clock := l.selfClock
	if l.Name.Set(name, clock, l.selfAgentID) {
		fromVersion := l.Version
		l.Version++
		d := newDelta(fromVersion, l.Version)
		d.NameUpdate = &RegisterUpdate[string]{Value: name, Clock: clock, Origin: l.selfAgentID}
		l.recordDeltaLocked(d)
	}
}

// AddTask creates a new task and returns its TaskId. now is the
// creation timestamp hashed into the TaskId; callers pass wall-clock
// time (as unix nanoseconds or similar). The creator is hashed in as
// well, so two TaskIds collide only when the same agent adds the same
// title with the same now.
func (l *TaskList) AddTask(title, description string, priority uint8, now int64) TaskId {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := computeTaskId(title, l.selfAgentID, now)

	item := newTaskItem(id, l.selfAgentID, now)
	l.selfClock = l.selfClock.Increment(l.selfAgentID)
	clock := l.selfClock
	item.Title.Set(title, clock, l.selfAgentID)
	item.Description.Set(description, clock, l.selfAgentID)
	item.Priority.Set(priority, clock, l.selfAgentID)
	l.Items[id] = item

	tag := l.Members.Add(id)

	ordering, _, _ := l.Ordering.Value()
	ordering = append(append([]TaskId(nil), ordering...), id)
	l.selfClock = l.selfClock.Increment(l.selfAgentID)
	orderClock := l.selfClock
	l.Ordering.Set(ordering, orderClock, l.selfAgentID)

	fromVersion := l.Version
	l.Version++
	d := newDelta(fromVersion, l.Version)
	d.Added[id] = AddedTask{
		Title:       title,
		Description: description,
		Priority:    priority,
		CreatedBy:   l.selfAgentID,
		CreatedAt:   now,
		Tag:         tag,
	}
	d.OrderingUpdate = &RegisterUpdate[[]TaskId]{Value: ordering, Clock: orderClock, Origin: l.selfAgentID}
	l.recordDeltaLocked(d)

	return id
}

// ClaimTask appends a Claimed element for self to task_id's checkbox
// OR-Set. Succeeds even if another agent already claimed it; fails
// only if the task is absent or already observably Done.
func (l *TaskList) ClaimTask(taskID TaskId, now int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.Items[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if item.ObservedState().State == Done {
		return ErrInvalidTransition
	}

	tag := item.Checkbox.Add(CheckboxState{State: Claimed, AgentID: l.selfAgentID, Timestamp: now})

	fromVersion := l.Version
	l.Version++
	d := newDelta(fromVersion, l.Version)
	upd := d.Updates[taskID]
	upd.CheckboxAdds = append(upd.CheckboxAdds, CheckboxAdd{
		State: CheckboxState{State: Claimed, AgentID: l.selfAgentID, Timestamp: now}, Tag: tag,
	})
	d.Updates[taskID] = upd
	l.recordDeltaLocked(d)
	return nil
}

// CompleteTask appends a Done element for self. Preconditions: the
// task exists and is observably Claimed or Empty (Empty -> Done is
// permitted -- a task can be completed without ever being claimed).
func (l *TaskList) CompleteTask(taskID TaskId, now int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.Items[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if item.ObservedState().State == Done {
		return ErrInvalidTransition
	}

	tag := item.Checkbox.Add(CheckboxState{State: Done, AgentID: l.selfAgentID, Timestamp: now})

	fromVersion := l.Version
	l.Version++
	d := newDelta(fromVersion, l.Version)
	upd := d.Updates[taskID]
	upd.CheckboxAdds = append(upd.CheckboxAdds, CheckboxAdd{
		State: CheckboxState{State: Done, AgentID: l.selfAgentID, Timestamp: now}, Tag: tag,
	})
	d.Updates[taskID] = upd
	l.recordDeltaLocked(d)
	return nil
}

// UpdateTask applies LWW writes to the fields named in fields, all
// under a single vector-clock increment (incremented once per call,
// not once per field, per the base specification).
func (l *TaskList) UpdateTask(taskID TaskId, fields UpdateFields) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.Items[taskID]
	if !ok {
		return ErrTaskNotFound
	}

	l.selfClock = l.selfClock.Increment(l.selfAgentID)
	clock := l.selfClock

	fromVersion := l.Version
	l.Version++
	d := newDelta(fromVersion, l.Version)
	upd := TaskItemDelta{}

	if fields.Title != nil {
		item.Title.Set(*fields.Title, clock, l.selfAgentID)
		upd.Title = &RegisterUpdate[string]{Value: *fields.Title, Clock: clock, Origin: l.selfAgentID}
	}
	if fields.Description != nil {
		item.Description.Set(*fields.Description, clock, l.selfAgentID)
		upd.Description = &RegisterUpdate[string]{Value: *fields.Description, Clock: clock, Origin: l.selfAgentID}
	}
	if fields.Assignee != nil {
		item.Assignee.Set(*fields.Assignee, clock, l.selfAgentID)
		upd.Assignee = &RegisterUpdate[*identity.AgentID]{Value: *fields.Assignee, Clock: clock, Origin: l.selfAgentID}
	}
	if fields.Priority != nil {
		item.Priority.Set(*fields.Priority, clock, l.selfAgentID)
		upd.Priority = &RegisterUpdate[uint8]{Value: *fields.Priority, Clock: clock, Origin: l.selfAgentID}
	}

	d.Updates[taskID] = upd
	l.recordDeltaLocked(d)
	return nil
}

// DeleteTask tombstones every membership tag currently known for
// task_id. A concurrent add_task racing in under a different tag
// survives, per OR-Set add-wins semantics.
func (l *TaskList) DeleteTask(taskID TaskId) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.Items[taskID]; !ok {
		return ErrTaskNotFound
	}
	tags := l.Members.Tags(taskID)
	l.Members.Remove(taskID)

	fromVersion := l.Version
	l.Version++
	d := newDelta(fromVersion, l.Version)
	d.Removed[taskID] = tags
	l.recordDeltaLocked(d)
	return nil
}

// Reorder LWW-writes a new ordering. sequence must be a permutation of
// the currently observed members, else ErrInvalidReorder.
func (l *TaskList) Reorder(sequence []TaskId) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !isPermutation(sequence, l.Members.Value()) {
		return ErrInvalidReorder
	}

	l.selfClock = l.selfClock.Increment(l.selfAgentID)
	clock := l.selfClock
	seqCopy := append([]TaskId(nil), sequence...)
	l.Ordering.Set(seqCopy, clock, l.selfAgentID)

	fromVersion := l.Version
	l.Version++
	d := newDelta(fromVersion, l.Version)
	d.OrderingUpdate = &RegisterUpdate[[]TaskId]{Value: seqCopy, Clock: clock, Origin: l.selfAgentID}
	l.recordDeltaLocked(d)
	return nil
}

func isPermutation(sequence, members []TaskId) bool {
	if len(sequence) != len(members) {
		return false
	}
	set := make(map[TaskId]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	seen := make(map[TaskId]struct{}, len(sequence))
	for _, s := range sequence {
		if _, ok := set[s]; !ok {
			return false
		}
		if _, dup := seen[s]; dup {
			return false
		}
		seen[s] = struct{}{}
	}
	return true
}

// ObservedTasks returns the list's tasks in observed order: the
// current ordering register's sequence, filtered to live members, with
// any live member absent from that sequence appended in TaskId byte
// order.
func (l *TaskList) ObservedTasks() []Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	members := l.Members.Value()
	memberSet := make(map[TaskId]struct{}, len(members))
	for _, m := range members {
		memberSet[m] = struct{}{}
	}

	ordering, _, _ := l.Ordering.Value()
	out := make([]Snapshot, 0, len(members))
	placed := make(map[TaskId]struct{}, len(members))
	for _, id := range ordering {
		if _, ok := memberSet[id]; !ok {
			continue
		}
		if item, ok := l.Items[id]; ok {
			out = append(out, item.Snapshot())
			placed[id] = struct{}{}
		}
	}

	var leftover []TaskId
	for _, id := range members {
		if _, ok := placed[id]; !ok {
			leftover = append(leftover, id)
		}
	}
	for _, id := range SortTaskIds(leftover) {
		if item, ok := l.Items[id]; ok {
			out = append(out, item.Snapshot())
		}
	}
	return out
}

// recordDeltaLocked stores d in the changelog and compacts older
// entries past changelogRetention into the watermark. Caller holds l.mu.
func (l *TaskList) recordDeltaLocked(d *Delta) {
	l.changelog[d.ToVersion] = d
	if uint64(len(l.changelog)) > changelogRetention {
		l.compactChangelogLocked()
	}
	if l.metrics != nil {
		l.metrics.SetVersion(l.Version)
	}
}

// compactChangelogLocked folds the oldest half of the changelog into
// the compaction watermark: deltas at or below the new watermark are
// no longer individually retrievable, and delta() below that version
// returns a full-state delta instead. Caller holds l.mu.
func (l *TaskList) compactChangelogLocked() {
	keep := changelogRetention / 2
	if uint64(len(l.changelog)) <= uint64(keep) {
		return
	}
	versions := make([]uint64, 0, len(l.changelog))
	for v := range l.changelog {
		versions = append(versions, v)
	}
	sortUint64s(versions)
	cut := versions[len(versions)-keep]
	for _, v := range versions {
		if v < cut {
			if v > l.compactionWatermark {
				l.compactionWatermark = v
			}
			delete(l.changelog, v)
		}
	}
}

func sortUint64s(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Delta assembles the minimal delta describing every change since
// sinceVersion. If sinceVersion is below the changelog's compaction
// watermark, returns a full-state delta instead (the requester is too
// far behind for incremental replay).
func (l *TaskList) Delta(sinceVersion uint64) *Delta {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sinceVersion < l.compactionWatermark {
		return l.fullStateDeltaLocked()
	}

	var combined *Delta
	for v := sinceVersion + 1; v <= l.Version; v++ {
		d, ok := l.changelog[v]
		if !ok {
			continue
		}
		if combined == nil {
			combined = d
		} else {
			combined = combined.merge(d)
		}
	}
	if combined == nil {
		combined = newDelta(sinceVersion, l.Version)
	} else {
		combined.FromVersion = sinceVersion
	}
	return combined
}

// fullStateDeltaLocked builds a delta that reconstructs the entire
// list from scratch: every live member as an Added entry, every task's
// full field state as an Update, plus the current ordering and name.
// Caller holds l.mu (read lock is sufficient).
func (l *TaskList) fullStateDeltaLocked() *Delta {
	d := newDelta(0, l.Version)
	for _, id := range l.Members.Value() {
		item, ok := l.Items[id]
		if !ok {
			continue
		}
		tags := l.Members.Tags(id)
		tag := ""
		if len(tags) > 0 {
			tag = tags[0]
		}
		snap := item.Snapshot()
		d.Added[id] = AddedTask{
			Title:       snap.Title,
			Description: snap.Description,
			Priority:    snap.Priority,
			Assignee:    snap.Assignee,
			CreatedBy:   snap.CreatedBy,
			CreatedAt:   snap.CreatedAt,
			Tag:         tag,
		}
		upd := TaskItemDelta{}
		for _, cb := range item.Checkbox.Value() {
			upd.CheckboxAdds = append(upd.CheckboxAdds, CheckboxAdd{State: cb})
		}
		title, titleClock, _ := item.Title.Value()
		upd.Title = &RegisterUpdate[string]{Value: title, Clock: titleClock, Origin: l.selfAgentID}
		desc, descClock, _ := item.Description.Value()
		upd.Description = &RegisterUpdate[string]{Value: desc, Clock: descClock, Origin: l.selfAgentID}
		assignee, assigneeClock, _ := item.Assignee.Value()
		upd.Assignee = &RegisterUpdate[*identity.AgentID]{Value: assignee, Clock: assigneeClock, Origin: l.selfAgentID}
		priority, priorityClock, _ := item.Priority.Value()
		upd.Priority = &RegisterUpdate[uint8]{Value: priority, Clock: priorityClock, Origin: l.selfAgentID}
		d.Updates[id] = upd
	}
	ordering, orderClock, _ := l.Ordering.Value()
	d.OrderingUpdate = &RegisterUpdate[[]TaskId]{Value: ordering, Clock: orderClock, Origin: l.selfAgentID}
	name, nameClock, _ := l.Name.Value()
	d.NameUpdate = &RegisterUpdate[string]{Value: name, Clock: nameClock, Origin: l.selfAgentID}
	return d
}

// Merge applies delta's OR-Set and LWW changes pointwise and advances
// version to max(self.version, delta.ToVersion).
func (l *TaskList) Merge(d *Delta) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, added := range d.Added {
		if _, ok := l.Items[id]; !ok {
			l.Items[id] = newTaskItem(id, added.CreatedBy, added.CreatedAt)
		}
		item := l.Items[id]
		item.Title.Set(added.Title, crdt.NewVectorClock().Increment(added.CreatedBy), added.CreatedBy)
		item.Description.Set(added.Description, crdt.NewVectorClock().Increment(added.CreatedBy), added.CreatedBy)
		item.Priority.Set(added.Priority, crdt.NewVectorClock().Increment(added.CreatedBy), added.CreatedBy)
		if added.Tag != "" {
			l.Members.AddWithTag(id, added.Tag)
		}
	}

	for id, tags := range d.Removed {
		tagSet := make(map[string]struct{}, len(tags))
		for _, t := range tags {
			tagSet[t] = struct{}{}
		}
		l.Members.RemoveTags(id, tagSet)
	}

	for id, upd := range d.Updates {
		item, ok := l.Items[id]
		if !ok {
			continue
		}
		for _, add := range upd.CheckboxAdds {
			if add.Tag != "" {
				item.Checkbox.AddWithTag(add.State, add.Tag)
			} else {
				item.Checkbox.Add(add.State)
			}
		}
		if upd.Title != nil {
			item.Title.Set(upd.Title.Value, upd.Title.Clock, upd.Title.Origin)
		}
		if upd.Description != nil {
			item.Description.Set(upd.Description.Value, upd.Description.Clock, upd.Description.Origin)
		}
		if upd.Assignee != nil {
			item.Assignee.Set(upd.Assignee.Value, upd.Assignee.Clock, upd.Assignee.Origin)
		}
		if upd.Priority != nil {
			item.Priority.Set(upd.Priority.Value, upd.Priority.Clock, upd.Priority.Origin)
		}
	}

	if d.OrderingUpdate != nil {
		l.Ordering.Set(d.OrderingUpdate.Value, d.OrderingUpdate.Clock, d.OrderingUpdate.Origin)
	}
	if d.NameUpdate != nil {
		l.Name.Set(d.NameUpdate.Value, d.NameUpdate.Clock, d.NameUpdate.Origin)
	}

	if d.ToVersion > l.Version {
		l.Version = d.ToVersion
	}
	l.changelog[l.Version] = d
	if uint64(len(l.changelog)) > changelogRetention {
		l.compactChangelogLocked()
	}
	if l.metrics != nil {
		l.metrics.IncMerge()
		l.metrics.SetVersion(l.Version)
	}
}

// LastPublishedVersion and SetLastPublishedVersion support TaskListSync's
// publish_local_mutation bookkeeping (§4.9): it needs to know which
// version it last published a delta for, independent of this list's
// own Version, which may be ahead due to local mutations not yet sent.
func (l *TaskList) LastPublishedVersion() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastPublishedVersion
}

func (l *TaskList) SetLastPublishedVersion(v uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastPublishedVersion = v
}

// CurrentVersion returns the list's current version counter.
func (l *TaskList) CurrentVersion() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.Version
}

// SelfAgentID returns the agent this replica merges local mutations
// under. Used by persistence to reconstruct an owning TaskList from a
// snapshot.
func (l *TaskList) SelfAgentID() identity.AgentID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.selfAgentID
}
