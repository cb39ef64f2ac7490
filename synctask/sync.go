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

// Package synctask bridges one tasklist.TaskList to a pubsub topic: it
// applies remote deltas as they arrive and publishes this replica's own
// mutations for the rest of the mesh to merge.
//
// Mutations are driven through Sync's own wrapper methods
// (AddTask/ClaimTask/...) rather than a hook baked into TaskList
// itself, so the CRDT core stays free of any publish-on-mutation
// reentrancy concern; callers (the node package, tests) that want a
// change gossiped call the wrapper, not the TaskList method directly.
package synctask

import (
	"context"
	"sync"

	"github.com/agentmesh/fabric/internal/logger"
	"github.com/agentmesh/fabric/pubsub"
	"github.com/agentmesh/fabric/tasklist"
)

// Sync owns one TaskList's binding to one gossip topic.
type Sync struct {
	list  *tasklist.TaskList
	ps    *pubsub.PubSub
	topic string
	log   logger.Logger

	mu      sync.Mutex
	sub     *pubsub.Subscription
	updates chan struct{}
}

// New constructs a Sync for list, bound to topic once Start is called.
func New(list *tasklist.TaskList, ps *pubsub.PubSub, topic string, log logger.Logger) *Sync {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Sync{
		list:    list,
		ps:      ps,
		topic:   topic,
		log:     log,
		updates: make(chan struct{}, 1),
	}
}

// Updates returns a channel that receives a notification (coalesced,
// never blocking) each time a remote delta is merged in.
func (s *Sync) Updates() <-chan struct{} { return s.updates }

// Start subscribes to the bound topic and begins applying incoming
// deltas. Returns ErrAlreadyStarted if called more than once.
func (s *Sync) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.sub != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.sub = s.ps.Subscribe(s.topic)
	sub := s.sub
	s.mu.Unlock()

	go s.receiveLoop(ctx, sub)
	return nil
}

func (s *Sync) receiveLoop(ctx context.Context, sub *pubsub.Subscription) {
	for {
		select {
		case d, ok := <-sub.C():
			if !ok {
				return
			}
			s.handleDelivery(ctx, d)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sync) handleDelivery(ctx context.Context, d pubsub.Delivery) {
	env, err := decodeEnvelope(d.Payload)
	if err != nil {
		s.log.Warn("synctask: dropping malformed payload", logger.String("topic", s.topic), logger.Error(err))
		return
	}
	switch env.Kind {
	case kindStateRequest:
		if err := s.replyFullState(ctx); err != nil {
			s.log.Warn("synctask: failed to answer state request", logger.Error(err))
		}
	case kindDelta:
		if env.Delta == nil {
			return
		}
		s.list.Merge(env.Delta)
		s.notifyUpdate()
	}
}

func (s *Sync) notifyUpdate() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// PublishLocalMutation publishes everything since the list's own
// last-published-version bookmark, encodes it, publishes it on the
// bound topic, and advances the bookmark to the delta's upper bound.
// Call after any direct TaskList mutation not made through one of
// Sync's wrapper methods below.
func (s *Sync) PublishLocalMutation(ctx context.Context) error {
	delta := s.list.Delta(s.list.LastPublishedVersion())
	payload, err := encodeEnvelope(envelope{Kind: kindDelta, Delta: delta})
	if err != nil {
		return err
	}
	if err := s.ps.Publish(ctx, s.topic, payload); err != nil {
		return err
	}
	s.list.SetLastPublishedVersion(delta.ToVersion)
	return nil
}

// replyFullState answers a state-request marker with this replica's
// full delta(0), without touching the incremental last-published-
// version bookmark (a full-state reply is a courtesy to a newly
// joined peer, not this replica's own forward progress).
func (s *Sync) replyFullState(ctx context.Context) error {
	delta := s.list.Delta(0)
	payload, err := encodeEnvelope(envelope{Kind: kindDelta, Delta: delta})
	if err != nil {
		return err
	}
	return s.ps.Publish(ctx, s.topic, payload)
}

// RequestStateFromPeers publishes the state-request marker; every peer
// subscribed to the topic replies with its full delta(0).
func (s *Sync) RequestStateFromPeers(ctx context.Context) error {
	payload, err := encodeEnvelope(envelope{Kind: kindStateRequest})
	if err != nil {
		return err
	}
	return s.ps.Publish(ctx, s.topic, payload)
}

// List returns the bound TaskList.
func (s *Sync) List() *tasklist.TaskList { return s.list }

// AddTask adds a task and gossips the resulting delta.
func (s *Sync) AddTask(ctx context.Context, title, description string, priority uint8, now int64) (tasklist.TaskId, error) {
	id := s.list.AddTask(title, description, priority, now)
	return id, s.PublishLocalMutation(ctx)
}

// ClaimTask claims a task and gossips the resulting delta.
func (s *Sync) ClaimTask(ctx context.Context, taskID tasklist.TaskId, now int64) error {
	if err := s.list.ClaimTask(taskID, now); err != nil {
		return err
	}
	return s.PublishLocalMutation(ctx)
}

// CompleteTask completes a task and gossips the resulting delta.
func (s *Sync) CompleteTask(ctx context.Context, taskID tasklist.TaskId, now int64) error {
	if err := s.list.CompleteTask(taskID, now); err != nil {
		return err
	}
	return s.PublishLocalMutation(ctx)
}

// UpdateTask writes fields and gossips the resulting delta.
func (s *Sync) UpdateTask(ctx context.Context, taskID tasklist.TaskId, fields tasklist.UpdateFields) error {
	if err := s.list.UpdateTask(taskID, fields); err != nil {
		return err
	}
	return s.PublishLocalMutation(ctx)
}

// DeleteTask deletes a task and gossips the resulting delta.
func (s *Sync) DeleteTask(ctx context.Context, taskID tasklist.TaskId) error {
	if err := s.list.DeleteTask(taskID); err != nil {
		return err
	}
	return s.PublishLocalMutation(ctx)
}

// Reorder writes a new ordering and gossips the resulting delta.
func (s *Sync) Reorder(ctx context.Context, sequence []tasklist.TaskId) error {
	if err := s.list.Reorder(sequence); err != nil {
		return err
	}
	return s.PublishLocalMutation(ctx)
}
