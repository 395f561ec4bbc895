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

package cache

import "github.com/gmofishsauce/river/internal/isa"

// line is one cache line: ICache only ever uses Valid/Tag/Data; DCache
// additionally carries the MESI-like Dirty/Shared/Reserved bits
// (isa.DTag*) that back the snoop responder.
type line struct {
	valid bool
	tag   uint64
	flags uint8
	data  []byte
}

func (l *line) dirty() bool    { return l.flags&isa.DTagDirty != 0 }
func (l *line) shared() bool   { return l.flags&isa.DTagShared != 0 }
func (l *line) reserved() bool { return l.flags&isa.DTagReserved != 0 }

// set is one associative set: `ways` lines sharing an index, plus LRU
// order for replacement.
type set struct {
	lines []line
	lru   *lruSet
}

func newSet(ways, lineBytes int) *set {
	lines := make([]line, ways)
	for i := range lines {
		lines[i].data = make([]byte, lineBytes)
	}
	return &set{lines: lines, lru: newLRUSet(ways)}
}

// find returns the way hitting tag, or -1.
func (s *set) find(tag uint64) int {
	for i := range s.lines {
		if s.lines[i].valid && s.lines[i].tag == tag {
			return i
		}
	}
	return -1
}

// geometry is shared by DCache and ICache: the index/tag/offset split
// derived from CFG_*_WAYBITS / CFG_*_IBITS / CFG_LOG2_L1CACHE_BYTES_PER_LINE.
type geometry struct {
	ways       int
	sets       int
	lineBytes  int
	indexBits  uint
	offsetBits uint
}

func newGeometry(wayBits, idxBits, log2LineBytes int) geometry {
	return geometry{
		ways:       1 << wayBits,
		sets:       1 << idxBits,
		lineBytes:  1 << log2LineBytes,
		indexBits:  uint(idxBits),
		offsetBits: uint(log2LineBytes),
	}
}

func (g geometry) split(addr uint64) (tag uint64, index int, offset int) {
	offset = int(addr & uint64(g.lineBytes-1))
	index = int((addr >> g.offsetBits) & ((1 << g.indexBits) - 1))
	tag = addr >> (g.offsetBits + g.indexBits)
	return
}

func (g geometry) lineBase(tag uint64, index int) uint64 {
	return (tag << (g.offsetBits + g.indexBits)) | (uint64(index) << g.offsetBits)
}
