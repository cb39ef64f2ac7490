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

package crdt

import (
	"sync"

	"github.com/google/uuid"
)

// ORSet is an add-wins observed-remove set over a comparable element
// type. Every add is tagged with a unique identifier; an element is
// observably present iff it has at least one live (non-tombstoned)
// tag. Concurrent add and remove of the same element resolve in favor
// of the add, because the remove can only tombstone tags it has
// observed.
type ORSet[T comparable] struct {
	mu      sync.RWMutex
	tags    map[T]map[string]struct{} // element -> live tags
	tombs   map[T]map[string]struct{} // element -> tombstoned tags
}

// NewORSet returns an empty OR-Set.
func NewORSet[T comparable]() *ORSet[T] {
	return &ORSet[T]{
		tags:  make(map[T]map[string]struct{}),
		tombs: make(map[T]map[string]struct{}),
	}
}

// Add inserts element with a freshly generated unique tag and returns
// the tag (callers that need it for, e.g., a changelog entry, can keep
// it; most callers discard it).
func (s *ORSet[T]) Add(element T) string {
	tag := uuid.NewString()
	s.AddWithTag(element, tag)
	return tag
}

// AddWithTag inserts element with an explicit tag, for replaying a
// remote add recorded in a delta.
func (s *ORSet[T]) AddWithTag(element T, tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tags[element] == nil {
		s.tags[element] = make(map[string]struct{})
	}
	s.tags[element][tag] = struct{}{}
}

// Remove tombstones every tag currently known for element. A
// concurrently-added tag this replica hasn't seen yet is unaffected --
// when it arrives via merge, the element reappears (add-wins).
func (s *ORSet[T]) Remove(element T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(element, s.tags[element])
}

// removeLocked tombstones the given tags for element. Caller holds s.mu.
func (s *ORSet[T]) removeLocked(element T, tagsToRemove map[string]struct{}) {
	if len(tagsToRemove) == 0 {
		return
	}
	if s.tombs[element] == nil {
		s.tombs[element] = make(map[string]struct{})
	}
	for tag := range tagsToRemove {
		s.tombs[element][tag] = struct{}{}
		delete(s.tags[element], tag)
	}
	if len(s.tags[element]) == 0 {
		delete(s.tags, element)
	}
}

// Contains reports whether element has at least one live tag.
func (s *ORSet[T]) Contains(element T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tags[element]) > 0
}

// Value returns the observable set of elements.
func (s *ORSet[T]) Value() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.tags))
	for elem, tags := range s.tags {
		if len(tags) > 0 {
			out = append(out, elem)
		}
	}
	return out
}

// Tags returns the live tags for element, for encoding a delta.
func (s *ORSet[T]) Tags(element T) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tags[element]))
	for tag := range s.tags[element] {
		out = append(out, tag)
	}
	return out
}

// Merge folds other into s: union of live tags per element, union of
// tombstones, tombstones applied after the union so a tag tombstoned
// on either side is dead on both. Commutative, associative, idempotent.
func (s *ORSet[T]) Merge(other *ORSet[T]) {
	other.mu.RLock()
	otherTags := make(map[T]map[string]struct{}, len(other.tags))
	for elem, tags := range other.tags {
		cp := make(map[string]struct{}, len(tags))
		for t := range tags {
			cp[t] = struct{}{}
		}
		otherTags[elem] = cp
	}
	otherTombs := make(map[T]map[string]struct{}, len(other.tombs))
	for elem, tombs := range other.tombs {
		cp := make(map[string]struct{}, len(tombs))
		for t := range tombs {
			cp[t] = struct{}{}
		}
		otherTombs[elem] = cp
	}
	other.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	for elem, tags := range otherTags {
		if s.tags[elem] == nil {
			s.tags[elem] = make(map[string]struct{})
		}
		for tag := range tags {
			s.tags[elem][tag] = struct{}{}
		}
	}
	for elem, tombs := range otherTombs {
		if s.tombs[elem] == nil {
			s.tombs[elem] = make(map[string]struct{})
		}
		for tag := range tombs {
			s.tombs[elem][tag] = struct{}{}
		}
	}

	// Re-apply every known tombstone, including ones received only
	// now, so a tag tombstoned remotely is dead here too.
	for elem, tombs := range s.tombs {
		for tag := range tombs {
			if s.tags[elem] != nil {
				delete(s.tags[elem], tag)
			}
		}
		if len(s.tags[elem]) == 0 {
			delete(s.tags, elem)
		}
	}
}

// RemoveTags tombstones an explicit set of tags for element, for
// replaying a remote delete recorded in a delta without re-deriving
// "currently known tags" locally (the delta already names them).
func (s *ORSet[T]) RemoveTags(element T, tags map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(element, tags)
}
