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
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentmesh/fabric/identity"
	"github.com/agentmesh/fabric/tasklist"
)

func randomAgentID(t *testing.T) identity.AgentID {
	t.Helper()
	kp, err := identity.GenerateKeypair()
	require.NoError(t, err)
	t.Cleanup(kp.Close)
	return identity.DeriveAgentID(kp.PublicKeyBytes())
}

// failingStore always errors on Save, to exercise degraded vs strict
// mode handling without touching a real filesystem.
type failingStore struct{}

func (failingStore) Save(*tasklist.TaskList) error      { return errors.New("disk full") }
func (failingStore) Load() (*tasklist.TaskList, error) { return nil, ErrNoLoadableSnapshot }

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, 3)
	require.NoError(t, err)

	agent := randomAgentID(t)
	list := tasklist.New(agent)
	id := list.AddTask("write report", "quarterly numbers", 2, 1000)
	require.NoError(t, list.ClaimTask(id, 1001))

	require.NoError(t, store.Save(list))

	restored, err := store.Load()
	require.NoError(t, err)

	snaps := restored.ObservedTasks()
	require.Len(t, snaps, 1)
	require.Equal(t, "write report", snaps[0].Title)
	require.Equal(t, tasklist.Claimed, snaps[0].State.State)
}

func TestFileStorePrunesToRetention(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, 2)
	require.NoError(t, err)

	agent := randomAgentID(t)
	list := tasklist.New(agent)

	for i := 0; i < 5; i++ {
		list.AddTask("task", "", 0, int64(i))
		require.NoError(t, store.Save(list))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestFileStoreLoadSkipsMalformedCandidate(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, 3)
	require.NoError(t, err)

	agent := randomAgentID(t)
	list := tasklist.New(agent)
	list.AddTask("first", "", 0, 1)
	require.NoError(t, store.Save(list))

	// Corrupt write landing after the good snapshot in sequence order.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snapshot-00000000000000000002.json"), []byte("{not json"), 0600))

	restored, err := store.Load()
	require.NoError(t, err)
	require.Len(t, restored.ObservedTasks(), 1)
}

func TestFileStoreLoadNoSnapshotsReturnsErrNoLoadable(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, 3)
	require.NoError(t, err)

	_, err = store.Load()
	require.ErrorIs(t, err, ErrNoLoadableSnapshot)
}

func TestManagerCheckpointsAtMutationThreshold(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, 3)
	require.NoError(t, err)

	agent := randomAgentID(t)
	list := tasklist.New(agent)
	cfg := DefaultConfig(dir)
	cfg.CheckpointMutations = 3
	cfg.CheckpointInterval = time.Hour

	mgr := NewManager(cfg, store, list, nil)

	list.AddTask("a", "", 0, 1)
	mgr.NotifyMutation()
	list.AddTask("b", "", 0, 2)
	mgr.NotifyMutation()
	require.False(t, mgr.shouldCheckpointLocked())

	list.AddTask("c", "", 0, 3)
	mgr.NotifyMutation()
	require.True(t, mgr.shouldCheckpointLocked())

	require.NoError(t, mgr.Flush())
	require.False(t, mgr.shouldCheckpointLocked())
	require.False(t, mgr.LastCheckpoint().IsZero())
}

func TestManagerDegradedModeAbsorbsWriteFailure(t *testing.T) {
	agent := randomAgentID(t)
	list := tasklist.New(agent)
	cfg := Config{Mode: Degraded, CheckpointMutations: 1, CheckpointInterval: time.Hour}

	mgr := NewManager(cfg, failingStore{}, list, nil)
	mgr.NotifyMutation()

	err := mgr.Flush()
	require.NoError(t, err)
	require.True(t, mgr.Degraded())
}

func TestManagerStrictModeSurfacesFailure(t *testing.T) {
	agent := randomAgentID(t)
	list := tasklist.New(agent)
	cfg := Config{Mode: Strict, CheckpointMutations: 1, CheckpointInterval: time.Hour}

	mgr := NewManager(cfg, failingStore{}, list, nil)
	mgr.NotifyMutation()

	err := mgr.Flush()
	require.ErrorIs(t, err, ErrPersistenceUnavailable)
}
