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
	"github.com/gmofishsauce/river/internal/bus"
	"github.com/gmofishsauce/river/internal/isa"
)

// istate is C13's state machine: a read-only subset of DCacheLru's
// (no write, no flush states, no snoop responder -- instructions are
// never written by another hart in this model; fence.i replaces the
// whole ICache instead of flushing it).
type istate int

const (
	IIdle istate = iota
	ICheckHit
	ITranslateAddress
	IWaitGrant
	IWaitResp
	ICheckResp
	ISetupReadAdr
	IReset
)

// FetchRequest asks for up to two consecutive 16-bit halves starting
// at PC, supporting a compressed instruction that straddles a line
// boundary; the following line is only looked up when PC's offset is
// the last half-word of a line.
type FetchRequest struct {
	Valid bool
	PC    uint64
}

// FetchResponse carries the (up to) 4 bytes needed to decode one
// instruction at PC, already stitched across a line boundary if the
// fetch needed both current and next line.
type FetchResponse struct {
	Valid     bool
	Data      uint32
	LoadFault bool
}

// ICache is one instance of C13.
type ICache struct {
	geometry
	sets []*set

	state      istate
	pending    FetchRequest
	pendingTag uint64
	pendingIdx int
	line       []byte
}

// NewICache builds an ICache with 2^waybits ways and 2^ibits sets
// (CFG_ICACHE_WAYBITS / CFG_ICACHE_IBITS).
func NewICache(cfg isa.Config) *ICache {
	g := newGeometry(cfg.ICacheWayBits, cfg.ICacheIdxBits, cfg.Log2LineBytes)
	c := &ICache{geometry: g, state: IReset}
	c.sets = make([]*set, g.sets)
	for i := range c.sets {
		c.sets[i] = newSet(g.ways, g.lineBytes)
	}
	c.line = make([]byte, g.lineBytes)
	return c
}

// Step advances the instruction cache state machine by one cycle.
func (c *ICache) Step(req FetchRequest, mpu MPU, mem bus.Response) (memReq bus.Request, resp FetchResponse) {
	switch c.state {
	case IReset:
		c.resetAllLines()
		c.state = IIdle
		return

	case IIdle:
		if req.Valid {
			c.pending = req
			c.state = ICheckHit
		}
		return

	case ICheckHit:
		return c.checkHit(mpu)

	case ITranslateAddress:
		c.state = IWaitGrant
		base := c.lineBase(c.pendingTag, c.pendingIdx)
		return bus.Request{Valid: true, Path: bus.PathCtrl, Type: bus.ReadShared(), Addr: base, Size: c.lineBytes}, FetchResponse{}

	case IWaitGrant:
		c.state = IWaitResp
		return

	case IWaitResp:
		if mem.Valid {
			if mem.LoadFault {
				c.state = IIdle
				return bus.Request{}, FetchResponse{Valid: true, LoadFault: true}
			}
			copy(c.line, mem.Data[:c.lineBytes])
			c.state = ICheckResp
		}
		return

	case ICheckResp:
		c.state = ISetupReadAdr
		return

	case ISetupReadAdr:
		c.installLine()
		c.state = ICheckHit
		return
	}
	return
}

func (c *ICache) resetAllLines() {
	for _, s := range c.sets {
		for i := range s.lines {
			s.lines[i] = line{data: s.lines[i].data}
		}
		s.lru = newLRUSet(c.ways)
	}
}

// checkHit resolves c.pending against the tag array. When the fetch
// straddles a line boundary (offset is the last half-word) and the
// next line also misses, TranslateAddress is entered for whichever
// line missed first; the other line's fill is requested on the
// following pass through CheckHit, mirroring the coupled two-line
// fetch the hardware uses for compressed instructions.
func (c *ICache) checkHit(mpu MPU) (bus.Request, FetchResponse) {
	tag, idx, offset := c.split(c.pending.PC)
	c.pendingTag, c.pendingIdx = tag, idx
	s := c.sets[idx]
	way := s.find(tag)
	if way < 0 {
		c.state = ITranslateAddress
		return bus.Request{}, FetchResponse{}
	}
	s.lru.touch(way)
	l := &s.lines[way]

	needsNext := offset >= c.lineBytes-2
	if needsNext {
		nextPC := c.pending.PC + uint64(c.lineBytes) - uint64(offset)
		ntag, nidx, _ := c.split(nextPC)
		ns := c.sets[nidx]
		nway := ns.find(ntag)
		if nway < 0 {
			c.pendingTag, c.pendingIdx = ntag, nidx
			c.state = ITranslateAddress
			return bus.Request{}, FetchResponse{}
		}
		ns.lru.touch(nway)
		word := stitchAcrossLine(l.data, ns.lines[nway].data, offset)
		c.state = IIdle
		return bus.Request{}, FetchResponse{Valid: true, Data: word}
	}

	word := readAligned32(l.data, offset)
	c.state = IIdle
	return bus.Request{}, FetchResponse{Valid: true, Data: word}
}

func (c *ICache) installLine() {
	s := c.sets[c.pendingIdx]
	way := s.lru.victim()
	v := &s.lines[way]
	v.valid = true
	v.tag = c.pendingTag
	copy(v.data, c.line)
	s.lru.touch(way)
}

func readAligned32(line []byte, offset int) uint32 {
	var b [4]byte
	n := copy(b[:], line[offset:])
	for i := n; i < 4; i++ {
		b[i] = 0
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// stitchAcrossLine builds the 32-bit fetch word from the tail of cur
// (starting at offset) and the head of next, for a fetch that crosses
// a line boundary.
func stitchAcrossLine(cur, next []byte, offset int) uint32 {
	var b [4]byte
	n := copy(b[:], cur[offset:])
	copy(b[n:], next[:4-n])
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
