// Copyright (C) 2025 agentmesh
//
// SPDX-License-Identifier: LGPL-3.0-or-later

package tasklist

import (
	"testing"

	"github.com/agentmesh/fabric/identity"
	"github.com/stretchr/testify/require"
)

func testAgentID(seed byte) identity.AgentID {
	var id identity.AgentID
	id[0] = seed
	return id
}

func TestAddTaskAppearsInObservedTasks(t *testing.T) {
	l := New(testAgentID(1))
	id := l.AddTask("write design doc", "", 1, 1000)

	tasks := l.ObservedTasks()
	require.Len(t, tasks, 1)
	require.Equal(t, id, tasks[0].ID)
	require.Equal(t, "write design doc", tasks[0].Title)
	require.Equal(t, Empty, tasks[0].State.State)
}

func TestClaimThenCompleteLifecycle(t *testing.T) {
	l := New(testAgentID(1))
	id := l.AddTask("ship feature", "", 2, 1000)

	require.NoError(t, l.ClaimTask(id, 1001))
	tasks := l.ObservedTasks()
	require.Equal(t, Claimed, tasks[0].State.State)

	require.NoError(t, l.CompleteTask(id, 1002))
	tasks = l.ObservedTasks()
	require.Equal(t, Done, tasks[0].State.State)
}

func TestCompleteWithoutClaimIsAllowed(t *testing.T) {
	l := New(testAgentID(1))
	id := l.AddTask("quick fix", "", 0, 1000)

	require.NoError(t, l.CompleteTask(id, 1001))
	tasks := l.ObservedTasks()
	require.Equal(t, Done, tasks[0].State.State)
}

func TestClaimFailsOnceDone(t *testing.T) {
	l := New(testAgentID(1))
	id := l.AddTask("task", "", 0, 1000)
	require.NoError(t, l.CompleteTask(id, 1001))

	err := l.ClaimTask(id, 1002)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestClaimTaskNotFound(t *testing.T) {
	l := New(testAgentID(1))
	err := l.ClaimTask(TaskId{0xAA}, 1000)
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestConcurrentClaimsBothObservable(t *testing.T) {
	a := New(testAgentID(1))
	id := a.AddTask("pair task", "", 0, 1000)

	b := New(testAgentID(2))
	b.Merge(a.Delta(0))

	require.NoError(t, a.ClaimTask(id, 1001))
	require.NoError(t, b.ClaimTask(id, 1001))

	a.Merge(b.Delta(0))
	b.Merge(a.Delta(0))

	// Both claims are visible at the OR-Set level even though the
	// derived observable state collapses to one winner.
	item := a.Items[id]
	require.Len(t, item.Checkbox.Value(), 2)
}

func TestUpdateTaskSingleClockIncrementForMultipleFields(t *testing.T) {
	l := New(testAgentID(1))
	id := l.AddTask("title", "desc", 0, 1000)

	newTitle := "new title"
	newDesc := "new desc"
	require.NoError(t, l.UpdateTask(id, UpdateFields{Title: &newTitle, Description: &newDesc}))

	tasks := l.ObservedTasks()
	require.Equal(t, "new title", tasks[0].Title)
	require.Equal(t, "new desc", tasks[0].Description)

	_, titleClock, _ := l.Items[id].Title.Value()
	_, descClock, _ := l.Items[id].Description.Value()
	require.Equal(t, crdtEqual(titleClock, descClock), true)
}

func crdtEqual(a, b interface{ Get(identity.AgentID) uint64 }) bool {
	// Both registers were written under the same selfClock snapshot in
	// a single UpdateTask call; comparing one agent's counter is
	// sufficient since that's the only agent writing in this test.
	return a.Get(testAgentID(1)) == b.Get(testAgentID(1))
}

func TestUpdateTaskNotFound(t *testing.T) {
	l := New(testAgentID(1))
	title := "x"
	err := l.UpdateTask(TaskId{0xAA}, UpdateFields{Title: &title})
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestDeleteTaskThenConcurrentAddSurvives(t *testing.T) {
	a := New(testAgentID(1))
	id := a.AddTask("shared", "", 0, 1000)

	b := New(testAgentID(2))
	b.Merge(a.Delta(0))

	require.NoError(t, a.DeleteTask(id))
	// b concurrently re-adds under the same content hash by claiming it
	// (simulating a fresh add with a distinct tag via direct OR-Set op).
	b.Members.Add(id)

	a.Merge(b.Delta(0))
	b.Merge(a.Delta(0))

	require.True(t, a.Members.Contains(id))
	require.True(t, b.Members.Contains(id))
}

func TestReorderRejectsNonPermutation(t *testing.T) {
	l := New(testAgentID(1))
	id1 := l.AddTask("a", "", 0, 1000)
	_ = id1

	err := l.Reorder([]TaskId{{0xFF}})
	require.ErrorIs(t, err, ErrInvalidReorder)
}

func TestReorderAcceptsPermutation(t *testing.T) {
	l := New(testAgentID(1))
	id1 := l.AddTask("a", "", 0, 1000)
	id2 := l.AddTask("b", "", 0, 1001)

	require.NoError(t, l.Reorder([]TaskId{id2, id1}))
	tasks := l.ObservedTasks()
	require.Equal(t, id2, tasks[0].ID)
	require.Equal(t, id1, tasks[1].ID)
}

func TestObservedTasksAppendsUnorderedMembersByTaskIdByteOrder(t *testing.T) {
	l := New(testAgentID(1))
	id1 := l.AddTask("a", "", 0, 1000)
	id2 := l.AddTask("b", "", 0, 1001)

	// Force an ordering that only names id1, simulating a peer's
	// ordering write arriving before it learned about id2.
	require.NoError(t, l.Reorder([]TaskId{id1, id2}))
	l.Ordering.Set([]TaskId{id1}, l.Ordering.Clock().Increment(testAgentID(1)), testAgentID(1))

	tasks := l.ObservedTasks()
	require.Len(t, tasks, 2)
	require.Equal(t, id1, tasks[0].ID)
	require.Equal(t, id2, tasks[1].ID)
}

func TestMergeIsCommutativeAcrossTwoReplicas(t *testing.T) {
	a := New(testAgentID(1))
	id := a.AddTask("x", "", 0, 1000)
	require.NoError(t, a.ClaimTask(id, 1001))

	b1 := New(testAgentID(2))
	b1.Merge(a.Delta(0))

	b2 := New(testAgentID(2))
	// Apply a full-state delta built fresh, should reach equivalent state.
	b2.Merge(a.Delta(0))

	tasks1 := b1.ObservedTasks()
	tasks2 := b2.ObservedTasks()
	require.Equal(t, tasks1, tasks2)
}

func TestDeltaSinceVersionOnlyIncludesLaterChanges(t *testing.T) {
	l := New(testAgentID(1))
	_ = l.AddTask("a", "", 0, 1000)
	v1 := l.CurrentVersion()
	id2 := l.AddTask("b", "", 0, 1001)

	d := l.Delta(v1)
	require.Contains(t, d.Added, id2)
	require.NotContains(t, d.Added, TaskId{})
}

func TestMergeAdvancesVersionToMax(t *testing.T) {
	a := New(testAgentID(1))
	a.AddTask("x", "", 0, 1000)
	a.AddTask("y", "", 0, 1001)

	b := New(testAgentID(2))
	startVersion := b.CurrentVersion()
	b.Merge(a.Delta(0))

	require.GreaterOrEqual(t, b.CurrentVersion(), startVersion)
	require.Equal(t, a.CurrentVersion(), b.CurrentVersion())
}
