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

package pubsub

import (
	"sync"

	"github.com/agentmesh/fabric/identity"
	"github.com/agentmesh/fabric/trust"
)

// Delivery is one message handed to a subscriber.
type Delivery struct {
	Sender     identity.AgentID
	Topic      string
	Payload    []byte
	Verified   bool
	TrustLevel trust.Level
}

// Subscription is a handle returned by PubSub.Subscribe. Reading from
// C delivers messages for the subscribed topic; dropping the handle
// (calling Unsubscribe) atomically removes it from delivery.
type Subscription struct {
	topic string
	ch    chan Delivery

	mu     sync.Mutex
	closed bool

	ps *PubSub
}

// C returns the channel messages for this subscription's topic are
// delivered on.
func (s *Subscription) C() <-chan Delivery { return s.ch }

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Unsubscribe removes this handle from delivery. Safe to call more
// than once.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.ps.removeSubscription(s)
	close(s.ch)
}

// deliver is a non-blocking send: a subscriber with a full inbox never
// stalls every other subscriber or the dispatch loop itself. Per §5
// Backpressure, a full inbox drops the oldest pending message (not the
// newest) to make room, so the just-arrived message is still handed
// to a slow subscriber. Reports whether an existing message had to be
// evicted, so the caller can count the drop.
func (s *Subscription) deliver(d Delivery) (evictedOldest bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	select {
	case s.ch <- d:
		return false
	default:
	}

	select {
	case <-s.ch:
		evictedOldest = true
	default:
	}

	select {
	case s.ch <- d:
	default:
		// Another deliver on the same subscription raced us between
		// the drain above and this send; the channel is full again
		// with fresher data, which is fine -- d itself is simply lost
		// to that race rather than evicting a second time.
	}
	return evictedOldest
}
