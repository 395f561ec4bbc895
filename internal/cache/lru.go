// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.

// Package cache implements C12 (DCacheLru), C13 (ICacheLru) and C14 (the
// L1 arbiter), the split instruction/data caches and the small request
// queue in front of the external bus (spec.md §4.11-§4.13).
package cache

// lruSet tracks recency order for the ways of a single cache set. Index
// 0 is least-recently-used, the last index is most-recently-used,
// matching the teacher's MRU-at-tail convention used for the BTB.
type lruSet struct {
	order []int // way indices, oldest first
}

func newLRUSet(ways int) *lruSet {
	order := make([]int, ways)
	for i := range order {
		order[i] = i
	}
	return &lruSet{order: order}
}

// touch marks way as most-recently-used.
func (s *lruSet) touch(way int) {
	for i, w := range s.order {
		if w == way {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.order = append(s.order, way)
}

// victim returns the least-recently-used way, the one to evict next.
func (s *lruSet) victim() int {
	return s.order[0]
}
