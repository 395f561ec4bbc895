// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// Unit tests for the L1 caches and the arbiter.

package cache

import (
	"testing"

	"github.com/gmofishsauce/river/internal/bus"
	"github.com/gmofishsauce/river/internal/isa"
	"github.com/stretchr/testify/require"
)

func smallCfg() isa.Config {
	return isa.Config{Log2LineBytes: 5, ICacheWayBits: 1, ICacheIdxBits: 2, DCacheWayBits: 1, DCacheIdxBits: 2}
}

func stepDCacheThroughReset(t *testing.T, d *DCache) {
	t.Helper()
	d.Step(Request{}, MPU{}, bus.Response{}, bus.SnoopRequest{}) // Reset -> ResetWrite
	d.Step(Request{}, MPU{}, bus.Response{}, bus.SnoopRequest{}) // ResetWrite -> Idle
	require.Equal(t, DIdle, d.state)
}

// driveDCacheMissToResponse walks a cold DCache through a full miss
// fill (Idle -> CheckHit -> TranslateAddress -> WaitGrant -> WaitResp
// -> CheckResp -> SetupReadAdr -> CheckHit) and returns the response
// produced by the final, now-hitting, CheckHit pass.
func driveDCacheMissToResponse(t *testing.T, d *DCache, req Request, mpu MPU, fill bus.Response) Response {
	t.Helper()
	d.Step(req, mpu, bus.Response{}, bus.SnoopRequest{}) // Idle -> CheckHit
	require.Equal(t, DCheckHit, d.state)
	d.Step(req, mpu, bus.Response{}, bus.SnoopRequest{}) // CheckHit (miss) -> TranslateAddress
	require.Equal(t, DTranslateAddress, d.state)
	memReq, _, _ := d.Step(req, mpu, bus.Response{}, bus.SnoopRequest{}) // TranslateAddress -> WaitGrant
	require.Equal(t, DWaitGrant, d.state)
	require.True(t, memReq.Valid)
	d.Step(req, mpu, bus.Response{}, bus.SnoopRequest{}) // WaitGrant -> WaitResp
	require.Equal(t, DWaitResp, d.state)
	d.Step(req, mpu, fill, bus.SnoopRequest{}) // WaitResp (mem.Valid) -> CheckResp
	require.Equal(t, DCheckResp, d.state)
	d.Step(req, mpu, bus.Response{}, bus.SnoopRequest{}) // CheckResp -> SetupReadAdr
	require.Equal(t, DSetupReadAdr, d.state)
	d.Step(req, mpu, bus.Response{}, bus.SnoopRequest{}) // SetupReadAdr -> CheckHit
	require.Equal(t, DCheckHit, d.state)
	_, resp, _ := d.Step(req, mpu, bus.Response{}, bus.SnoopRequest{}) // CheckHit (hit) -> response
	return resp
}

func TestDCacheLoadMissThenHit(t *testing.T) {
	d := NewDCache(smallCfg(), false)
	stepDCacheThroughReset(t, d)

	req := Request{Valid: true, Op: OpLoad, Addr: 0x1000, Size: 8}
	mpu := MPU{Cached: true, R: true, W: true}

	var fill bus.Response
	fill.Valid = true
	for i := range fill.Data {
		fill.Data[i] = byte(i)
	}

	resp := driveDCacheMissToResponse(t, d, req, mpu, fill)
	require.True(t, resp.Valid)
	require.EqualValues(t, 0x0706050403020100, resp.Data)
	require.Equal(t, DIdle, d.state)

	// A second access to the same line is a hit on the very next pass.
	d.Step(req, mpu, bus.Response{}, bus.SnoopRequest{}) // Idle -> CheckHit
	_, resp, _ = d.Step(req, mpu, bus.Response{}, bus.SnoopRequest{})
	require.True(t, resp.Valid)
	require.EqualValues(t, 0x0706050403020100, resp.Data)
}

func TestDCacheStoreFaultOnPMPDeny(t *testing.T) {
	d := NewDCache(smallCfg(), false)
	stepDCacheThroughReset(t, d)

	req := Request{Valid: true, Op: OpStore, Addr: 0x2000, Size: 4, WData: 0xAA}
	mpu := MPU{Cached: true, R: true, W: false}

	var fill bus.Response
	fill.Valid = true

	resp := driveDCacheMissToResponse(t, d, req, mpu, fill)
	require.True(t, resp.Valid)
	require.True(t, resp.StoreFault)
}

func TestDCacheStoreConditionalFailsWithoutReservation(t *testing.T) {
	d := NewDCache(smallCfg(), false)
	stepDCacheThroughReset(t, d)

	req := Request{Valid: true, Op: OpStoreConditional, Addr: 0x3000, Size: 8}
	mpu := MPU{Cached: true, R: true, W: true}

	var fill bus.Response
	fill.Valid = true

	resp := driveDCacheMissToResponse(t, d, req, mpu, fill)
	require.True(t, resp.Valid)
	require.True(t, resp.SCFailed)
}

func TestDCacheSnoopHitReportsFlagsAndDowngradesDirty(t *testing.T) {
	d := NewDCache(smallCfg(), true)
	stepDCacheThroughReset(t, d)
	idx := 1
	d.sets[idx].lines[0] = line{valid: true, tag: 7, flags: isa.DTagDirty, data: make([]byte, d.lineBytes)}
	d.sets[idx].lines[0].data[0] = 0x42

	addr := (uint64(7) << (d.offsetBits + d.indexBits)) | (uint64(idx) << d.offsetBits)
	snoop := bus.SnoopRequest{Valid: true, Type: bus.SnoopReadData, Addr: addr}

	d.Step(Request{}, MPU{}, bus.Response{}, snoop) // Idle -> SnoopSetupAddr
	require.Equal(t, DSnoopSetupAddr, d.state)
	d.Step(Request{}, MPU{}, bus.Response{}, bus.SnoopRequest{}) // SnoopSetupAddr -> SnoopReadData
	require.Equal(t, DSnoopReadData, d.state)

	_, _, sresp := d.Step(Request{}, MPU{}, bus.Response{}, bus.SnoopRequest{})
	require.True(t, sresp.Ready)
	require.True(t, sresp.Valid)
	require.True(t, sresp.Flags.Dirty)
	require.EqualValues(t, 0x42, sresp.Data[0])
	require.False(t, d.sets[idx].lines[0].dirty(), "a snoop hit on a dirty line downgrades it to shared")
	require.True(t, d.sets[idx].lines[0].shared())
	require.Equal(t, DIdle, d.state)
}

func TestICacheFetchMissThenHit(t *testing.T) {
	c := NewICache(smallCfg())
	c.Step(FetchRequest{}, MPU{}, bus.Response{}) // IReset -> IIdle
	require.Equal(t, IIdle, c.state)

	req := FetchRequest{Valid: true, PC: 0x4000}
	mpu := MPU{Cached: true}

	c.Step(req, mpu, bus.Response{}) // IIdle -> ICheckHit
	require.Equal(t, ICheckHit, c.state)
	c.Step(req, mpu, bus.Response{}) // ICheckHit (miss) -> ITranslateAddress
	require.Equal(t, ITranslateAddress, c.state)
	memReq, _ := c.Step(req, mpu, bus.Response{}) // ITranslateAddress -> IWaitGrant
	require.True(t, memReq.Valid)
	require.Equal(t, bus.PathCtrl, memReq.Path)
	c.Step(req, mpu, bus.Response{}) // IWaitGrant -> IWaitResp

	var data bus.Response
	data.Valid = true
	data.Data[0], data.Data[1], data.Data[2], data.Data[3] = 0x13, 0x00, 0x00, 0x00
	c.Step(req, mpu, data) // IWaitResp (mem.Valid) -> ICheckResp
	require.Equal(t, ICheckResp, c.state)
	c.Step(req, mpu, bus.Response{}) // ICheckResp -> ISetupReadAdr
	require.Equal(t, ISetupReadAdr, c.state)
	c.Step(req, mpu, bus.Response{}) // ISetupReadAdr -> ICheckHit
	require.Equal(t, ICheckHit, c.state)
	_, resp := c.Step(req, mpu, bus.Response{}) // ICheckHit (hit) -> response
	require.True(t, resp.Valid)
	require.EqualValues(t, 0x13, resp.Data)
}

func TestArbiterDataPriorityOverFetchOnFullQueue(t *testing.T) {
	a := NewArbiter(1)
	iReq := bus.Request{Valid: true, Path: bus.PathCtrl, Addr: 0x100}
	dReq := bus.Request{Valid: true, Path: bus.PathData, Addr: 0x200}
	a.Offer(iReq, dReq)
	require.Len(t, a.queue, 1)
	require.Equal(t, bus.PathData, a.queue[0].Path)
}

func TestArbiterRoutesResponseByPath(t *testing.T) {
	a := NewArbiter(2)
	a.Offer(bus.Request{}, bus.Request{Valid: true, Path: bus.PathData, Addr: 0x10})
	toBus, _, _ := a.Step(true, bus.Response{})
	require.True(t, toBus.Valid)

	_, toI, toD := a.Step(true, bus.Response{Valid: true, Path: bus.PathData})
	require.False(t, toI.Valid)
	require.True(t, toD.Valid)
}
