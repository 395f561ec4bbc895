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

import (
	"encoding/binary"

	"github.com/gmofishsauce/river/internal/bus"
	"github.com/gmofishsauce/river/internal/isa"
)

func (d *DCache) resetAllLines() {
	for _, s := range d.sets {
		for i := range s.lines {
			s.lines[i] = line{data: s.lines[i].data}
		}
		s.lru = newLRUSet(d.ways)
	}
}

// checkHit looks up d.pending in the tag array. A hit completes the
// access (and, for a store, marks the line dirty and drops any stale
// LR/SC reservation on the written line) without ever leaving
// CheckHit; a miss starts the PMP/PMA lookup in TranslateAddress.
func (d *DCache) checkHit(mpu MPU) (bus.Request, Response, bus.SnoopResponse) {
	tag, index, offset := d.split(d.pending.Addr)
	d.pendingTag, d.pendingIndex = tag, index
	s := d.sets[index]
	way := s.find(tag)

	if way < 0 {
		d.state = DTranslateAddress
		return bus.Request{}, Response{}, bus.SnoopResponse{}
	}

	d.pendingWay = way
	s.lru.touch(way)
	l := &s.lines[way]

	if !d.pending.Op.isWrite() {
		d.state = DIdle
		if !mpu.R {
			return bus.Request{}, Response{Valid: true, LoadFault: true}, bus.SnoopResponse{}
		}
		return bus.Request{}, Response{Valid: true, Data: readAligned(l.data, offset, d.pending.Size)}, bus.SnoopResponse{}
	}

	if !mpu.W {
		d.state = DIdle
		return bus.Request{}, Response{Valid: true, StoreFault: true}, bus.SnoopResponse{}
	}

	if d.pending.Op == OpStoreConditional {
		if !d.hasReserved || d.reservedAddr != d.pending.Addr {
			d.state = DIdle
			return bus.Request{}, Response{Valid: true, SCFailed: true}, bus.SnoopResponse{}
		}
	}

	if d.coherenceOn && l.shared() && !l.dirty() {
		// Must acquire exclusive ownership before the write commits.
		d.writeFirst = true
		d.state = DWriteBus
		return bus.Request{}, Response{}, bus.SnoopResponse{}
	}

	writeAligned(l.data, offset, d.pending.Size, d.pending.WData)
	l.flags |= isa.DTagDirty
	l.flags &^= isa.DTagShared
	if d.hasReserved {
		if rtag, rindex, _ := d.split(d.reservedAddr); rtag == tag && rindex == index {
			d.hasReserved = false
		}
	}
	d.state = DIdle
	return bus.Request{}, Response{Valid: true}, bus.SnoopResponse{}
}

func (d *DCache) issueUncachedMem() bus.Request {
	t := bus.ReadNoSnoop()
	if d.pending.Op.isWrite() {
		t = bus.WriteNoSnoop()
	}
	var data [32]byte
	binary.LittleEndian.PutUint64(data[:8], d.pending.WData)
	return bus.Request{Valid: true, Path: bus.PathData, Type: t, Size: d.pending.Size, Addr: d.pending.Addr, Strobe: uint64(1)<<uint(d.pending.Size) - 1, Data: data}
}

func (d *DCache) issueLineFill() bus.Request {
	base := d.lineBase(d.pendingTag, d.pendingIndex)
	t := bus.ReadShared()
	if d.pending.Op.isWrite() {
		t = bus.ReadMakeUnique()
	}
	return bus.Request{Valid: true, Path: bus.PathData, Type: t, Size: d.lineBytes, Addr: base}
}

// installLine places a freshly-fetched line into its set, evicting the
// LRU way. If the victim is dirty its modified bytes must reach memory
// before they are overwritten, so installLine returns a WriteBack
// request for the caller to issue the same cycle (mirroring the
// writeFirst upgrade path's own DWriteBus request construction)
// instead of discarding them.
func (d *DCache) installLine() bus.Request {
	s := d.sets[d.pendingIndex]
	way := s.lru.victim()
	victim := &s.lines[way]

	var writeback bus.Request
	if victim.valid && victim.dirty() {
		writeback = d.flushWritebackLine(d.pendingIndex, way)
	}

	victim.valid = true
	victim.tag = d.pendingTag
	victim.flags = isa.DTagShared
	if d.pending.Op.isWrite() {
		victim.flags = 0 // Unique, about to become Dirty on the retry through CheckHit
	}
	copy(victim.data, d.line)
	s.lru.touch(way)
	d.pendingWay = way
	return writeback
}

func (d *DCache) issueWriteBack() bus.Request {
	s := d.sets[d.pendingIndex]
	l := &s.lines[d.pendingWay]
	base := d.lineBase(l.tag, d.pendingIndex)
	var data [32]byte
	copy(data[:], l.data)
	if d.writeFirst {
		d.writeFirst = false
		l.flags &^= isa.DTagShared
		return bus.Request{Valid: true, Path: bus.PathData, Type: bus.WriteLineUnique(), Addr: base, Size: d.lineBytes, Strobe: uint64(1)<<uint(d.lineBytes) - 1, Data: data}
	}
	l.flags &^= isa.DTagDirty
	return bus.Request{Valid: true, Path: bus.PathData, Type: bus.WriteBack(), Addr: base, Size: d.lineBytes, Strobe: uint64(1)<<uint(d.lineBytes) - 1, Data: data}
}

// flushWritebackLine issues the WriteBack request for a dirty victim
// line before installLine overwrites it with an incoming fill.
func (d *DCache) flushWritebackLine(index, way int) bus.Request {
	l := &d.sets[index].lines[way]
	base := d.lineBase(l.tag, index)
	var data [32]byte
	copy(data[:], l.data)
	l.flags &^= isa.DTagDirty
	return bus.Request{Valid: true, Path: bus.PathData, Type: bus.WriteBack(), Addr: base, Size: d.lineBytes, Strobe: uint64(1)<<uint(d.lineBytes) - 1, Data: data}
}

// stepFlush walks every (set, way) when flushAll, or only the set
// covering flushAddr otherwise, writing back and invalidating dirty
// lines as it goes.
func (d *DCache) stepFlush() (bus.Request, Response, bus.SnoopResponse) {
	if d.flushIndex >= len(d.sets) {
		d.flushAll = false
		d.flushAddr = 0
		d.state = DIdle
		return bus.Request{}, Response{}, bus.SnoopResponse{}
	}

	idx := d.flushIndex
	if !d.flushAll {
		_, wantIdx, _ := d.split(d.flushAddr)
		idx = wantIdx
	}

	s := d.sets[idx]
	var req bus.Request
	if d.flushWay < len(s.lines) {
		l := &s.lines[d.flushWay]
		if l.valid && l.dirty() {
			base := d.lineBase(l.tag, idx)
			var data [32]byte
			copy(data[:], l.data)
			req = bus.Request{Valid: true, Path: bus.PathData, Type: bus.WriteBack(), Addr: base, Size: d.lineBytes, Strobe: uint64(1)<<uint(d.lineBytes) - 1, Data: data}
			l.flags &^= isa.DTagDirty
		}
		l.valid = false
		d.flushWay++
		return req, Response{}, bus.SnoopResponse{}
	}

	d.flushWay = 0
	if d.flushAll {
		d.flushIndex++
	} else {
		d.flushAll = false
		d.flushAddr = 0
		d.flushIndex = len(d.sets)
	}
	return bus.Request{}, Response{}, bus.SnoopResponse{}
}

// stepSnoop answers an inbound ReadData/ReadClean snoop from a peer
// D$: on a hit it reports the line's flags and supplies the bytes.
// ReadClean then invalidates the line; a ReadData hit on a Dirty line
// is downgraded to Shared (the peer now owns a copy too) rather than
// invalidated.
func (d *DCache) stepSnoop() (bus.Request, Response, bus.SnoopResponse) {
	tag, index, _ := d.split(d.snoopAddr)
	s := d.sets[index]
	way := s.find(tag)

	resume := d.snoopRestore
	d.snoopRestore = DIdle
	if resume == 0 {
		resume = DIdle
	}
	d.state = resume

	if d.hasReserved {
		rtag, rindex, _ := d.split(d.reservedAddr)
		if rtag == tag && rindex == index {
			// The line backing an outstanding LR is being read by (and,
			// for ReadClean, invalidated for) a peer: the reservation
			// can no longer be honored, so a later SC must fail
			// (spec.md §8 scenario 4).
			d.hasReserved = false
		}
	}

	if way < 0 {
		return bus.Request{}, Response{}, bus.SnoopResponse{Ready: true}
	}
	l := &s.lines[way]
	flags := bus.SnoopFlags{Valid: true, Dirty: l.dirty(), Shared: l.shared(), Reserved: l.reserved()}
	var respData [32]byte
	copy(respData[:], l.data)
	if d.snoopType == bus.SnoopReadClean {
		l.valid = false
		l.flags = 0
	} else if l.dirty() {
		l.flags &^= isa.DTagDirty
		l.flags |= isa.DTagShared
	}
	return bus.Request{}, Response{}, bus.SnoopResponse{Ready: true, Valid: true, Data: respData, Flags: flags}
}

func (op MemOp) isWrite() bool { return op == OpStore || op == OpStoreConditional }

func readAligned(line []byte, offset, size int) uint64 {
	switch size {
	case 1:
		return uint64(line[offset])
	case 2:
		return uint64(binary.LittleEndian.Uint16(line[offset:]))
	case 4:
		return uint64(binary.LittleEndian.Uint32(line[offset:]))
	default:
		return binary.LittleEndian.Uint64(line[offset:])
	}
}

func writeAligned(line []byte, offset, size int, val uint64) {
	switch size {
	case 1:
		line[offset] = byte(val)
	case 2:
		binary.LittleEndian.PutUint16(line[offset:], uint16(val))
	case 4:
		binary.LittleEndian.PutUint32(line[offset:], uint32(val))
	default:
		binary.LittleEndian.PutUint64(line[offset:], val)
	}
}

// Reserve records an LR.{w,d} address for a subsequent SC to check;
// any write to the address (local store or a snoop invalidation)
// clears it.
func (d *DCache) Reserve(addr uint64) {
	d.hasReserved = true
	d.reservedAddr = addr
}
