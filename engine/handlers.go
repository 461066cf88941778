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
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ptpordc/ptpordc/bmc"
	ptp "github.com/ptpordc/ptpordc/ptp/protocol"
	"github.com/ptpordc/ptpordc/ptptime"
	"github.com/ptpordc/ptpordc/ptptimer"
	"github.com/ptpordc/ptpordc/servo"
)

// -- MASTER-side transmit actions, spec §4.2.7 --

func (e *Engine) sendAnnounce() {
	a := ptp.NewAnnounce(e.cfg.Domain, e.portDS.PortIdentity, e.announceSeq, e.portDS.LogAnnounceInterval)
	e.announceSeq++
	a.GrandmasterPriority1 = e.parentDS.GrandmasterPriority1
	a.GrandmasterPriority2 = e.parentDS.GrandmasterPriority2
	a.GrandmasterClockQuality = e.parentDS.GrandmasterClockQuality
	a.GrandmasterIdentity = e.parentDS.GrandmasterIdentity
	a.StepsRemoved = e.currentDS.StepsRemoved
	a.CurrentUTCOffset = e.timePropsDS.CurrentUTCOffset
	a.TimeSource = e.timePropsDS.TimeSource
	a.FlagField = announceFlags(e.timePropsDS)

	b, err := a.MarshalBinary()
	if err != nil {
		log.Warnf("engine: encode announce: %v", err)
		return
	}
	if err := e.net.SendGeneral(b); err != nil {
		log.Warnf("engine: send announce: %v", err)
	}
}

func announceFlags(tp TimePropertiesDS) uint16 {
	var f uint16
	if tp.CurrentUTCOffsetValid {
		f |= ptp.FlagCurrentUTCOffsetValid
	}
	if tp.Leap59 {
		f |= ptp.FlagLeap59
	}
	if tp.Leap61 {
		f |= ptp.FlagLeap61
	}
	if tp.TimeTraceable {
		f |= ptp.FlagTimeTraceable
	}
	if tp.FrequencyTraceable {
		f |= ptp.FlagFrequencyTraceable
	}
	if tp.PTPTimescale {
		f |= ptp.FlagPTPTimescale
	}
	return f
}

func (e *Engine) sendSync() {
	sync := ptp.NewSync(e.cfg.Domain, e.portDS.PortIdentity, e.syncSendSeq, e.portDS.LogSyncInterval, e.cfg.TwoStepFlag)
	seq := e.syncSendSeq
	e.syncSendSeq++

	b, err := sync.MarshalBinary()
	if err != nil {
		log.Warnf("engine: encode sync: %v", err)
		return
	}
	txTime, err := e.net.SendEvent(b)
	if err != nil {
		log.Warnf("engine: send sync: %v", err)
		return
	}
	if !e.cfg.TwoStepFlag {
		return
	}
	fu := ptp.NewFollowUp(e.cfg.Domain, e.portDS.PortIdentity, seq, e.portDS.LogSyncInterval)
	fu.PreciseOriginTimestamp = wireTimestampFromTime(txTime)
	fb, err := fu.MarshalBinary()
	if err != nil {
		log.Warnf("engine: encode follow_up: %v", err)
		return
	}
	if err := e.net.SendGeneral(fb); err != nil {
		log.Warnf("engine: send follow_up: %v", err)
	}
}

func wireTimestampFromTime(t time.Time) ptp.WireTimestamp {
	return ptp.WireTimestamp{
		Seconds:     ptp.NewPTPSeconds(uint64(t.Unix())),
		Nanoseconds: uint32(t.Nanosecond()),
	}
}

// -- SLAVE-side transmit actions, spec §4.2.8 --

func (e *Engine) sendDelayReq() {
	req := ptp.NewDelayReq(e.cfg.Domain, e.portDS.PortIdentity, e.delayReqSeq)
	b, err := req.MarshalBinary()
	if err != nil {
		log.Warnf("engine: encode delay_req: %v", err)
		return
	}
	txTime, err := e.net.SendEvent(b)
	if err != nil {
		log.Warnf("engine: send delay_req: %v", err)
		return
	}
	e.delayReqTxTS = ptptime.FromDuration(time.Duration(txTime.UnixNano()))
	e.delayReqSeq++
}

func (e *Engine) sendPDelayReq() {
	req := ptp.NewPDelayReq(e.cfg.Domain, e.portDS.PortIdentity, e.pdelayReqSeq)
	b, err := req.MarshalBinary()
	if err != nil {
		log.Warnf("engine: encode pdelay_req: %v", err)
		return
	}
	txTime, err := e.net.SendPeerEvent(b)
	if err != nil {
		log.Warnf("engine: send pdelay_req: %v", err)
		return
	}
	e.pdelayT1 = ptptime.FromDuration(time.Duration(txTime.UnixNano()))
	e.pdelayAwaiting = true
	e.pdelayReqSeq++
}

// -- message handlers, spec §4.2.6 --

func (e *Engine) handleAnnounce(a *ptp.Announce) {
	cand := bmc.FromAnnounce(a)
	e.foreignDS.Update(a.SourcePortIdentity, cand)
	e.eventBitmask |= eventStateDecision

	if e.portDS.PortState == ptp.PortStateSlave && e.parentDS.ParentPortIdentity.Equal(a.SourcePortIdentity) {
		e.applyAnnounceFlags(a)
	}
	if e.portDS.PortState == ptp.PortStateListening || e.portDS.PortState == ptp.PortStateUncalibrated ||
		e.portDS.PortState == ptp.PortStateSlave {
		e.timers.Start(ptptimer.AnnounceReceipt, e.announceReceiptTimeout())
	}
}

func (e *Engine) handleSync(s *ptp.SyncDelayReq, rx time.Time) {
	if e.portDS.PortState != ptp.PortStateUncalibrated && e.portDS.PortState != ptp.PortStateSlave {
		return
	}
	e.syncSeq = s.SequenceID
	e.syncCorrection = s.CorrectionField
	ingress := ptptime.FromDuration(time.Duration(rx.UnixNano()))

	if s.Header.FlagField&ptp.FlagTwoStep != 0 {
		e.syncIngress = ingress
		e.awaitingFollowUp = true
		return
	}
	e.updateOffset(s.OriginTimestamp, ingress, s.CorrectionField)
}

func (e *Engine) handleFollowUp(f *ptp.FollowUp) {
	if !e.awaitingFollowUp || f.SequenceID != e.syncSeq {
		return
	}
	e.awaitingFollowUp = false
	corr := e.syncCorrection + f.CorrectionField
	e.updateOffset(f.PreciseOriginTimestamp, e.syncIngress, corr)
}

// updateOffset implements update_offset, spec §4.4.1, then drives the PI
// controller and, unless no_adjust is set, HW-CLOCK. Tms (the sync leg's
// raw one-way estimate, before the path-delay subtraction) is kept so a
// later update_delay call can average it with the delay-request leg,
// spec §4.4.2.
func (e *Engine) updateOffset(originTS ptp.WireTimestamp, ingress ptptime.Time, correction ptp.Correction) {
	origin := ptptime.FromWireTimestamp(originTS)
	e.syncTms = ptptime.Sub(ptptime.Sub(ingress, origin), ptptime.FromCorrection(correction))
	e.syncTmsValid = true

	pathDelay := e.currentDS.MeanPathDelay
	if e.portDS.DelayMechanism == ptp.DelayMechanismP2P {
		pathDelay = e.portDS.PeerMeanPathDelay
	}
	offset := ptptime.Sub(e.syncTms, pathDelay)
	filtered := e.offsetFilter.Sample(offset.Duration().Nanoseconds())
	e.currentDS.OffsetFromMaster = ptptime.FromDuration(time.Duration(filtered))

	e.updateObservedParentVariance(filtered)
	e.applyServo(e.currentDS.OffsetFromMaster)
}

// updateObservedParentVariance feeds the filtered offsetFromMaster
// samples into varianceFilter and publishes Parent-DS's optional
// observedParentOffsetScaledLogVariance attribute, spec §4.3.2.
func (e *Engine) updateObservedParentVariance(offsetNs float64) {
	e.varianceFilter.Add(offsetNs)
	v, err := e.varianceFilter.OffsetScaledLogVariance()
	if err != nil {
		log.Warnf("engine: variance formula: %v", err)
		return
	}
	e.parentDS.ObservedParentOffsetScaledLogVariance = v
	e.parentDS.ParentStatsEnabled = true
}

// applyServo implements the clock update of spec §4.4.3.
func (e *Engine) applyServo(offset ptptime.Time) {
	res := e.ctrl.Sample(offset, int8(e.portDS.LogSyncInterval), e.cfg.NoAdjust, e.cfg.NoResetClock)
	switch res.State {
	case servo.StateStep:
		if !e.cfg.NoAdjust {
			cur := e.clock.Get()
			e.clock.Set(ptptime.Sub(cur, res.StepOffset))
		}
		e.eventBitmask |= eventSynchronizationFault
	case servo.StateSlew:
		if !e.cfg.NoAdjust {
			if err := e.clock.AdjustFreq(res.FreqAdjustmentPPB); err != nil {
				log.Warnf("engine: adjust_freq: %v", err)
			}
		}
		e.parentDS.ObservedParentClockPhaseChangeRate = phaseChangeRateScaled(res.FreqAdjustmentPPB)
	}
}

// phaseChangeRateScaled converts a ppb frequency adjustment (1 ppb == 1
// ns/s) into the 2^-16 ns/s fixed-point unit Parent-DS's
// observedParentClockPhaseChangeRate uses, spec §4.3.2.
func phaseChangeRateScaled(ppb int64) uint32 {
	if ppb < 0 {
		ppb = -ppb
	}
	scaled := ppb * (1 << 16)
	if scaled > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(scaled)
}

func (e *Engine) handleDelayReq(d *ptp.SyncDelayReq, rx time.Time) {
	if e.portDS.PortState != ptp.PortStateMaster {
		return
	}
	resp := ptp.NewDelayResp(e.cfg.Domain, e.portDS.PortIdentity, d.SequenceID, e.portDS.LogMinDelayReqInterval)
	resp.ReceiveTimestamp = wireTimestampFromTime(rx)
	resp.RequestingPortIdentity = d.SourcePortIdentity
	resp.CorrectionField = d.CorrectionField

	b, err := resp.MarshalBinary()
	if err != nil {
		log.Warnf("engine: encode delay_resp: %v", err)
		return
	}
	if err := e.net.SendGeneral(b); err != nil {
		log.Warnf("engine: send delay_resp: %v", err)
	}
}

func (e *Engine) handleDelayResp(r *ptp.DelayResp) {
	if e.portDS.PortState != ptp.PortStateUncalibrated && e.portDS.PortState != ptp.PortStateSlave {
		return
	}
	if !r.RequestingPortIdentity.Equal(e.portDS.PortIdentity) || r.SequenceID != e.delayReqSeq-1 {
		return
	}
	// update_delay, spec §4.4.2: requires a valid Tms from the last
	// update_offset. Tsm = (t4 - t3) - correction; mean_path_delay =
	// (Tms + Tsm) / 2.
	if !e.syncTmsValid {
		return
	}
	receive := ptptime.FromWireTimestamp(r.ReceiveTimestamp)
	tsm := ptptime.Sub(ptptime.Sub(receive, e.delayReqTxTS), ptptime.FromCorrection(r.CorrectionField))
	delay := ptptime.Div2(ptptime.Add(e.syncTms, tsm))
	filtered := e.delayFilter.Sample(delay.Duration().Nanoseconds())
	e.currentDS.MeanPathDelay = ptptime.FromDuration(time.Duration(filtered))
}

func (e *Engine) handlePDelayReq(r *ptp.PDelayReq, rx time.Time) {
	resp := ptp.NewPDelayResp(e.cfg.Domain, e.portDS.PortIdentity, r.SequenceID, e.cfg.TwoStepFlag)
	resp.RequestReceiptTimestamp = wireTimestampFromTime(rx)
	resp.RequestingPortIdentity = r.SourcePortIdentity

	b, err := resp.MarshalBinary()
	if err != nil {
		log.Warnf("engine: encode pdelay_resp: %v", err)
		return
	}
	txTime, err := e.net.SendPeerEvent(b)
	if err != nil {
		log.Warnf("engine: send pdelay_resp: %v", err)
		return
	}
	if !e.cfg.TwoStepFlag {
		return
	}
	fu := ptp.NewPDelayRespFollowUp(e.cfg.Domain, e.portDS.PortIdentity, r.SequenceID)
	fu.ResponseOriginTimestamp = wireTimestampFromTime(txTime)
	fu.RequestingPortIdentity = r.SourcePortIdentity
	fb, err := fu.MarshalBinary()
	if err != nil {
		log.Warnf("engine: encode pdelay_resp_follow_up: %v", err)
		return
	}
	if err := e.net.SendPeerGeneral(fb); err != nil {
		log.Warnf("engine: send pdelay_resp_follow_up: %v", err)
	}
}

func (e *Engine) handlePDelayResp(r *ptp.PDelayResp, rx time.Time) {
	if !e.pdelayAwaiting || r.SequenceID != e.pdelayReqSeq-1 {
		return
	}
	if !r.RequestingPortIdentity.Equal(e.portDS.PortIdentity) {
		return
	}
	e.pdelayT2 = ptptime.FromWireTimestamp(r.RequestReceiptTimestamp)
	e.pdelayT4 = ptptime.FromDuration(time.Duration(rx.UnixNano()))
	e.pdelayCorr = r.CorrectionField

	if r.Header.FlagField&ptp.FlagTwoStep == 0 {
		e.finishPDelayOneStep()
	}
}

func (e *Engine) handlePDelayRespFollowUp(f *ptp.PDelayRespFollowUp) {
	if !e.pdelayAwaiting || f.SequenceID != e.pdelayReqSeq-1 {
		return
	}
	t3 := ptptime.FromWireTimestamp(f.ResponseOriginTimestamp)
	e.pdelayCorr += f.CorrectionField
	e.finishPDelayTwoStep(t3)
}

// finishPDelayOneStep implements the one-step P2P mean-path-delay
// computation, spec §4.4.2: ((t4 - t1) - correction) / 2. A one-step
// responder folds (t3 - t2) into the correction field itself, so t2/t3
// never need to be read back out.
func (e *Engine) finishPDelayOneStep() {
	e.pdelayAwaiting = false
	raw := ptptime.Sub(ptptime.Sub(e.pdelayT4, e.pdelayT1), ptptime.FromCorrection(e.pdelayCorr))
	e.applyPeerDelay(raw)
}

// finishPDelayTwoStep implements the two-step P2P mean-path-delay
// computation, spec §4.4.2: ((t2 - t1) + (t4 - t3) - correction) / 2.
func (e *Engine) finishPDelayTwoStep(t3 ptptime.Time) {
	e.pdelayAwaiting = false
	tab := ptptime.Sub(e.pdelayT2, e.pdelayT1)
	tba := ptptime.Sub(e.pdelayT4, t3)
	raw := ptptime.Sub(ptptime.Add(tab, tba), ptptime.FromCorrection(e.pdelayCorr))
	e.applyPeerDelay(raw)
}

func (e *Engine) applyPeerDelay(raw ptptime.Time) {
	delay := ptptime.Div2(raw)
	filtered := e.delayFilter.Sample(delay.Duration().Nanoseconds())
	e.portDS.PeerMeanPathDelay = ptptime.FromDuration(time.Duration(filtered))
	e.currentDS.MeanPathDelay = e.portDS.PeerMeanPathDelay
}
