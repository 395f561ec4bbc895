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

// Package bus carries the wire-level types shared between the L1
// caches, the L1 arbiter, and whatever sits on the other side of the
// external memory/interconnect and snoop channels (spec.md §6).
// Nothing here executes; it is the vocabulary both sides speak.
package bus

// ReqType bits (REQ_MEM_TYPE_*): a request is some combination of
// write / cached / unique. The six combinations actually used are
// exposed as the constructors below, mirroring river_cfg.h.
type ReqType uint8

const (
	reqWriteBit  = 1 << 0
	reqCachedBit = 1 << 1
	reqUniqueBit = 1 << 2
)

func (t ReqType) IsWrite() bool  { return t&reqWriteBit != 0 }
func (t ReqType) IsCached() bool { return t&reqCachedBit != 0 }
func (t ReqType) IsUnique() bool { return t&reqUniqueBit != 0 }

// ReadNoSnoop is an uncached, narrow read (PMA: non-cacheable region).
func ReadNoSnoop() ReqType { return 0 }

// ReadShared requests a cacheline in Shared state.
func ReadShared() ReqType { return reqCachedBit }

// ReadMakeUnique requests a cacheline already in Unique (exclusive) state,
// used to refill a line that is about to be written.
func ReadMakeUnique() ReqType { return reqCachedBit | reqUniqueBit }

// WriteNoSnoop is an uncached, narrow write.
func WriteNoSnoop() ReqType { return reqWriteBit }

// WriteLineUnique upgrades a Shared line to Unique before a store commits.
func WriteLineUnique() ReqType { return reqWriteBit | reqCachedBit | reqUniqueBit }

// WriteBack evicts a dirty line to memory.
func WriteBack() ReqType { return reqWriteBit | reqCachedBit }

func (t ReqType) String() string {
	switch t {
	case ReadNoSnoop():
		return "ReadNoSnoop"
	case ReadShared():
		return "ReadShared"
	case ReadMakeUnique():
		return "ReadMakeUnique"
	case WriteNoSnoop():
		return "WriteNoSnoop"
	case WriteLineUnique():
		return "WriteLineUnique"
	case WriteBack():
		return "WriteBack"
	default:
		return "Unknown"
	}
}

// Path identifies which cache originated (or should receive) a
// request/response on the shared external bus: 0=data, 1=ctrl(instr).
type Path uint8

const (
	PathData Path = 0
	PathCtrl Path = 1
)

// Request is a core-to-interconnect cacheline-wide memory request.
type Request struct {
	Valid  bool
	Path   Path
	Type   ReqType
	Size   int    // bytes, power of two, 1..line size
	Addr   uint64 // physical address
	Strobe uint64 // one bit per byte of Data that is meaningful
	Data   [32]byte
}

// Response is the interconnect-to-core reply. Exactly one request is
// in flight on the shared bus at a time (see internal/cache.Arbiter),
// so there is no tag correlating a Response back to its Request beyond
// program order.
type Response struct {
	Valid      bool
	Path       Path
	Data       [32]byte
	LoadFault  bool
	StoreFault bool
}

// SnoopType (SNOOP_REQ_TYPE_*).
type SnoopType uint8

const (
	SnoopReadData  SnoopType = 0 // probe flags / fetch data, no state change implied beyond Shared
	SnoopReadClean SnoopType = 1 // read and invalidate
)

// SnoopRequest is an interconnect-to-core coherence probe.
type SnoopRequest struct {
	Valid bool
	Type  SnoopType
	Addr  uint64
}

// SnoopFlags mirror the D-cache line state bits the snoop responder
// reports back to the interconnect (DTAG_FL_*).
type SnoopFlags struct {
	Valid    bool
	Dirty    bool
	Shared   bool
	Reserved bool
}

// SnoopResponse is the core-to-interconnect coherence reply.
type SnoopResponse struct {
	Ready bool
	Valid bool
	Data  [32]byte
	Flags SnoopFlags
}
