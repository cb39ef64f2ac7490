// Copyright (C) 2025 agentmesh
//
// SPDX-License-Identifier: LGPL-3.0-or-later

package crdt

import (
	"testing"

	"github.com/agentmesh/fabric/identity"
	"github.com/stretchr/testify/require"
)

func agentID(t *testing.T, seed byte) identity.AgentID {
	t.Helper()
	var id identity.AgentID
	id[0] = seed
	return id
}

func TestVectorClockMergeIsCommutativeAssociativeIdempotent(t *testing.T) {
	a1 := agentID(t, 1)
	a2 := agentID(t, 2)
	a3 := agentID(t, 3)

	vc1 := NewVectorClock().Increment(a1).Increment(a1)
	vc2 := NewVectorClock().Increment(a2)
	vc3 := NewVectorClock().Increment(a3).Increment(a3).Increment(a3)

	require.Equal(t, vc1.Merge(vc2), vc2.Merge(vc1))

	left := vc1.Merge(vc2).Merge(vc3)
	right := vc1.Merge(vc2.Merge(vc3))
	require.Equal(t, left, right)

	require.Equal(t, vc1, vc1.Merge(vc1))
}

func TestVectorClockCompare(t *testing.T) {
	a1 := agentID(t, 1)
	a2 := agentID(t, 2)

	base := NewVectorClock().Increment(a1)
	ahead := base.Increment(a1)
	require.Equal(t, Greater, ahead.Compare(base))
	require.Equal(t, Less, base.Compare(ahead))
	require.Equal(t, Equal, base.Compare(base))

	branch := NewVectorClock().Increment(a2)
	require.Equal(t, Concurrent, base.Compare(branch))
}

func TestORSetAddWinsOverConcurrentRemove(t *testing.T) {
	replicaA := NewORSet[string]()
	replicaB := NewORSet[string]()

	tag := replicaA.Add("task-1")
	replicaB.AddWithTag("task-1", tag)

	// B removes the element it has observed...
	replicaB.Remove("task-1")
	// ...while A concurrently adds it again under a new tag.
	replicaA.Add("task-1")

	replicaA.Merge(replicaB)
	replicaB.Merge(replicaA)

	require.True(t, replicaA.Contains("task-1"))
	require.True(t, replicaB.Contains("task-1"))
}

func TestORSetMergeIsCommutativeAndIdempotent(t *testing.T) {
	a := NewORSet[string]()
	b := NewORSet[string]()
	a.Add("x")
	b.Add("y")

	merged1 := NewORSet[string]()
	merged1.Merge(a)
	merged1.Merge(b)

	merged2 := NewORSet[string]()
	merged2.Merge(b)
	merged2.Merge(a)

	require.ElementsMatch(t, merged1.Value(), merged2.Value())

	merged1.Merge(a)
	require.ElementsMatch(t, []string{"x", "y"}, merged1.Value())
}

func TestORSetRemoveDeletesWhenNoConcurrentAdd(t *testing.T) {
	s := NewORSet[string]()
	s.Add("z")
	require.True(t, s.Contains("z"))
	s.Remove("z")
	require.False(t, s.Contains("z"))
}

func TestLWWRegisterDominanceWins(t *testing.T) {
	origin := agentID(t, 1)
	r := NewLWWRegister[string]()

	vc1 := NewVectorClock().Increment(origin)
	require.True(t, r.Set("v1", vc1, origin))

	vc2 := vc1.Increment(origin)
	require.True(t, r.Set("v2", vc2, origin))
	value, _, ok := r.Value()
	require.True(t, ok)
	require.Equal(t, "v2", value)

	// A stale write (clock dominated by current) must not apply.
	require.False(t, r.Set("stale", vc1, origin))
	value, _, _ = r.Value()
	require.Equal(t, "v2", value)
}

func TestLWWRegisterConcurrentTieBreaksOnOrigin(t *testing.T) {
	lo := agentID(t, 1)
	hi := agentID(t, 2)

	rLo := NewLWWRegister[string]()
	rHi := NewLWWRegister[string]()

	vcLo := NewVectorClock().Increment(lo)
	vcHi := NewVectorClock().Increment(hi)

	rLo.Set("from-lo", vcLo, lo)
	rHi.Set("from-hi", vcHi, hi)

	rLo.Merge(rHi)
	rHi.Merge(rLo)

	valLo, _, _ := rLo.Value()
	valHi, _, _ := rHi.Value()
	require.Equal(t, "from-hi", valLo)
	require.Equal(t, "from-hi", valHi)
}

func TestLWWRegisterMergeIsIdempotent(t *testing.T) {
	origin := agentID(t, 1)
	r := NewLWWRegister[int]()
	r.Set(42, NewVectorClock().Increment(origin), origin)

	other := NewLWWRegister[int]()
	other.Set(42, NewVectorClock().Increment(origin), origin)

	r.Merge(other)
	r.Merge(other)

	value, _, ok := r.Value()
	require.True(t, ok)
	require.Equal(t, 42, value)
}
