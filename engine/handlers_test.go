/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package engine

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ptp "github.com/ptpordc/ptpordc/ptp/protocol"
	"github.com/ptpordc/ptpordc/ptpnet"
	"github.com/ptpordc/ptpordc/ptptime"
)

// fakeClock is a HardwareClock double that records every Set/AdjustFreq
// call so tests can assert on servo decisions without a real ticking
// clock in the way.
type fakeClock struct {
	mu    sync.Mutex
	cur   ptptime.Time
	sets  []ptptime.Time
	freqs []int64
}

func (c *fakeClock) Get() ptptime.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *fakeClock) Set(t ptptime.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = t
	c.sets = append(c.sets, t)
}

func (c *fakeClock) AdjustFreq(ppb int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.freqs = append(c.freqs, ppb)
	return nil
}

// slaveEngine builds an Engine already parked in the SLAVE state with a
// foreign parent, so handlers that gate on port state don't need the BMC
// loop to run first.
func slaveEngine(t *testing.T, clock *fakeClock) (*Engine, *ptpnet.MemoryTransport) {
	t.Helper()
	transport := ptpnet.NewMemoryTransport(net.UDPAddr{Port: 319})
	cfg := DefaultConfig(ptp.ClockIdentity(0x10))
	e := New(cfg, transport, clock)
	e.portDS.PortState = ptp.PortStateSlave
	e.parentDS.ParentPortIdentity = ptp.PortIdentity{ClockIdentity: 0x20, PortNumber: 1}
	return e, transport
}

func wireTS(sec uint64, ns uint32) ptp.WireTimestamp {
	return ptp.WireTimestamp{Seconds: ptp.NewPTPSeconds(sec), Nanoseconds: ns}
}

// -- SYNC / FOLLOW_UP, spec §4.2.6, §4.4.1 --

func TestHandleSyncTwoStepAwaitsFollowUp(t *testing.T) {
	e, _ := slaveEngine(t, &fakeClock{})

	s := ptp.NewSync(e.cfg.Domain, e.parentDS.ParentPortIdentity, 7, 0, true)
	rx := time.Unix(1000, 3_000)
	e.handleSync(s, rx)

	require.True(t, e.awaitingFollowUp)
	require.Equal(t, uint16(7), e.syncSeq)
	require.False(t, e.syncTmsValid, "two-step must wait for the follow-up before computing Tms")
}

func TestHandleFollowUpComputesOffsetFromBothCorrectionFields(t *testing.T) {
	e, _ := slaveEngine(t, &fakeClock{})

	s := ptp.NewSync(e.cfg.Domain, e.parentDS.ParentPortIdentity, 1, 0, true)
	s.CorrectionField = ptp.NewCorrection(100)
	rx := time.Unix(1000, 3_000)
	e.handleSync(s, rx)

	f := ptp.NewFollowUp(e.cfg.Domain, e.parentDS.ParentPortIdentity, 1, 0)
	f.PreciseOriginTimestamp = wireTS(1000, 1_000)
	f.CorrectionField = ptp.NewCorrection(50)
	e.handleFollowUp(f)

	require.False(t, e.awaitingFollowUp)
	require.True(t, e.syncTmsValid)
	// Tms = (rx - origin) - (sync_corr + follow_up_corr) = (3000-1000) - 150 = 1850ns.
	require.Equal(t, ptptime.Time{Sec: 0, Nsec: 1850}, e.syncTms)
	// No delay measurement yet, so offsetFromMaster is Tms unfiltered (first sample passes through).
	require.Equal(t, ptptime.Time{Sec: 0, Nsec: 1850}, e.currentDS.OffsetFromMaster)
}

func TestHandleFollowUpIgnoredWithoutMatchingSequence(t *testing.T) {
	e, _ := slaveEngine(t, &fakeClock{})

	s := ptp.NewSync(e.cfg.Domain, e.parentDS.ParentPortIdentity, 1, 0, true)
	e.handleSync(s, time.Unix(1000, 3_000))

	f := ptp.NewFollowUp(e.cfg.Domain, e.parentDS.ParentPortIdentity, 2, 0)
	e.handleFollowUp(f)

	require.True(t, e.awaitingFollowUp, "a follow-up for a different sequence must be ignored")
	require.False(t, e.syncTmsValid)
}

// -- DELAY_REQ / DELAY_RESP, spec §4.2.6, §4.4.2 (E2E) --

// TestDelayReqRespComputesMeanPathDelayFromBothLegs exercises the cold-
// start slave-acquires-lock flow of spec §8.4 scenario 1: a two-step
// SYNC/FOLLOW_UP establishes Tms, then a DELAY_REQ/DELAY_RESP round
// establishes Tsm, and mean_path_delay averages the two legs rather than
// the delay leg alone.
func TestDelayReqRespComputesMeanPathDelayFromBothLegs(t *testing.T) {
	e, _ := slaveEngine(t, &fakeClock{})

	s := ptp.NewSync(e.cfg.Domain, e.parentDS.ParentPortIdentity, 1, 0, true)
	e.handleSync(s, time.Unix(1000, 3_000))
	f := ptp.NewFollowUp(e.cfg.Domain, e.parentDS.ParentPortIdentity, 1, 0)
	f.PreciseOriginTimestamp = wireTS(1000, 0)
	e.handleFollowUp(f)
	require.Equal(t, ptptime.Time{Sec: 0, Nsec: 3000}, e.syncTms)

	e.delayReqSeq = 1
	e.delayReqTxTS = ptptime.Time{Sec: 1000, Nsec: 10_000}

	resp := ptp.NewDelayResp(e.cfg.Domain, e.parentDS.ParentPortIdentity, 0, e.portDS.LogMinDelayReqInterval)
	resp.RequestingPortIdentity = e.portDS.PortIdentity
	resp.ReceiveTimestamp = wireTS(1000, 12_000)
	e.handleDelayResp(resp)

	// Tsm = 12000 - 10000 = 2000ns. mean_path_delay = (Tms + Tsm) / 2 = (3000 + 2000) / 2 = 2500ns.
	require.Equal(t, ptptime.Time{Sec: 0, Nsec: 2500}, e.currentDS.MeanPathDelay)
}

func TestHandleDelayRespIgnoredWithoutValidTms(t *testing.T) {
	e, _ := slaveEngine(t, &fakeClock{})
	e.delayReqSeq = 1
	e.delayReqTxTS = ptptime.Time{Sec: 1000, Nsec: 10_000}

	resp := ptp.NewDelayResp(e.cfg.Domain, e.parentDS.ParentPortIdentity, 0, e.portDS.LogMinDelayReqInterval)
	resp.RequestingPortIdentity = e.portDS.PortIdentity
	resp.ReceiveTimestamp = wireTS(1000, 12_000)
	e.handleDelayResp(resp)

	require.True(t, e.currentDS.MeanPathDelay.IsZero(), "update_delay requires a valid Tms first")
}

func TestHandleDelayReqMasterSendsDelayResp(t *testing.T) {
	transport := ptpnet.NewMemoryTransport(net.UDPAddr{Port: 319})
	clock := &fakeClock{}
	cfg := masterCapableConfig(ptp.ClockIdentity(0x30))
	e := New(cfg, transport, clock)
	e.portDS.PortState = ptp.PortStateMaster

	req := ptp.NewDelayReq(cfg.Domain, ptp.PortIdentity{ClockIdentity: 0x40, PortNumber: 1}, 3)
	rx := time.Unix(1000, 9_000)
	e.handleDelayReq(req, rx)

	b := transport.SentGeneral()
	pkt, err := ptp.DecodePacket(b)
	require.NoError(t, err)
	resp, ok := pkt.(*ptp.DelayResp)
	require.True(t, ok)
	require.Equal(t, uint16(3), resp.SequenceID)
	require.Equal(t, req.SourcePortIdentity, resp.RequestingPortIdentity)
	require.Equal(t, wireTS(1000, 9_000), resp.ReceiveTimestamp)
}

// -- PDELAY_REQ / PDELAY_RESP / PDELAY_RESP_FOLLOW_UP (P2P), spec §4.4.2 --

func TestHandlePDelayRespOneStepComputesPeerMeanPathDelay(t *testing.T) {
	e, _ := slaveEngine(t, &fakeClock{})
	e.portDS.DelayMechanism = ptp.DelayMechanismP2P
	e.pdelayReqSeq = 1
	e.pdelayAwaiting = true
	e.pdelayT1 = ptptime.Time{Sec: 1000, Nsec: 1_000}

	resp := ptp.NewPDelayResp(e.cfg.Domain, e.parentDS.ParentPortIdentity, 0, false)
	resp.RequestingPortIdentity = e.portDS.PortIdentity
	resp.CorrectionField = ptp.NewCorrection(200)
	rx := time.Unix(1000, 9_200)
	e.handlePDelayResp(resp, rx)

	require.False(t, e.pdelayAwaiting)
	// one-step peer_delay = ((t4 - t1) - correction) / 2 = ((9200-1000) - 200) / 2 = 4000ns.
	require.Equal(t, ptptime.Time{Sec: 0, Nsec: 4000}, e.portDS.PeerMeanPathDelay)
	require.Equal(t, e.portDS.PeerMeanPathDelay, e.currentDS.MeanPathDelay)
}

func TestHandlePDelayRespFollowUpTwoStepComputesPeerMeanPathDelay(t *testing.T) {
	e, _ := slaveEngine(t, &fakeClock{})
	e.portDS.DelayMechanism = ptp.DelayMechanismP2P
	e.pdelayReqSeq = 1
	e.pdelayAwaiting = true
	e.pdelayT1 = ptptime.Time{Sec: 1000, Nsec: 1_000}

	resp := ptp.NewPDelayResp(e.cfg.Domain, e.parentDS.ParentPortIdentity, 0, true)
	resp.RequestingPortIdentity = e.portDS.PortIdentity
	resp.RequestReceiptTimestamp = wireTS(1000, 2_000)
	rx := time.Unix(1000, 9_200)
	e.handlePDelayResp(resp, rx)
	require.True(t, e.pdelayAwaiting, "two-step must wait for the follow-up")

	fu := ptp.NewPDelayRespFollowUp(e.cfg.Domain, e.parentDS.ParentPortIdentity, 0)
	fu.ResponseOriginTimestamp = wireTS(1000, 6_000)
	e.handlePDelayRespFollowUp(fu)

	// two-step peer_delay = ((t2-t1) + (t4-t3) - correction) / 2
	//                     = ((2000-1000) + (9200-6000) - 0) / 2 = 2100ns.
	require.False(t, e.pdelayAwaiting)
	require.Equal(t, ptptime.Time{Sec: 0, Nsec: 2100}, e.portDS.PeerMeanPathDelay)
}

func TestHandlePDelayReqSendsOneStepResponse(t *testing.T) {
	transport := ptpnet.NewMemoryTransport(net.UDPAddr{Port: ptp.PortEvent})
	clock := &fakeClock{}
	cfg := masterCapableConfig(ptp.ClockIdentity(0x50))
	e := New(cfg, transport, clock)

	req := ptp.NewPDelayReq(cfg.Domain, ptp.PortIdentity{ClockIdentity: 0x60, PortNumber: 1}, 5)
	rx := time.Unix(2000, 500)
	e.handlePDelayReq(req, rx)

	b := transport.SentEvent()
	pkt, err := ptp.DecodePacket(b)
	require.NoError(t, err)
	resp, ok := pkt.(*ptp.PDelayResp)
	require.True(t, ok)
	require.Equal(t, uint16(5), resp.SequenceID)
	require.Equal(t, wireTS(2000, 500), resp.RequestReceiptTimestamp)
	require.Equal(t, req.SourcePortIdentity, resp.RequestingPortIdentity)
}

func TestHandlePDelayReqSendsFollowUpWhenTwoStep(t *testing.T) {
	transport := ptpnet.NewMemoryTransport(net.UDPAddr{Port: ptp.PortEvent})
	clock := &fakeClock{}
	cfg := masterCapableConfig(ptp.ClockIdentity(0x51))
	cfg.TwoStepFlag = true
	e := New(cfg, transport, clock)

	req := ptp.NewPDelayReq(cfg.Domain, ptp.PortIdentity{ClockIdentity: 0x61, PortNumber: 1}, 6)
	e.handlePDelayReq(req, time.Unix(2000, 500))

	_ = transport.SentEvent() // PDELAY_RESP itself, already covered above

	b := transport.SentGeneral()
	pkt, err := ptp.DecodePacket(b)
	require.NoError(t, err)
	fu, ok := pkt.(*ptp.PDelayRespFollowUp)
	require.True(t, ok)
	require.Equal(t, uint16(6), fu.SequenceID)
	require.Equal(t, req.SourcePortIdentity, fu.RequestingPortIdentity)
}

// -- PI controller / HW-CLOCK, spec §8.4 scenario 2 --

func TestApplyServoStepsOnOffsetOver100msThenSlews(t *testing.T) {
	clock := &fakeClock{}
	e, _ := slaveEngine(t, clock)
	e.cfg.NoAdjust = false
	e.cfg.NoResetClock = false

	cur := ptptime.Time{Sec: 5000, Nsec: 0}
	clock.cur = cur
	stepOffset := ptptime.Time{Sec: 0, Nsec: 200_000_000}
	e.applyServo(stepOffset)

	require.Len(t, clock.sets, 1, "a >100ms offset must step HW-CLOCK rather than slew it")
	require.Empty(t, clock.freqs)
	require.Equal(t, ptptime.Sub(cur, stepOffset), clock.sets[0])
	require.Equal(t, int64(0), e.ctrl.ObservedDrift(), "a step must reset the integrator")

	e.applyServo(ptptime.Time{Sec: 0, Nsec: 1_000})
	require.Len(t, clock.freqs, 1, "a small offset after a step must fall through to the slew branch")
}
