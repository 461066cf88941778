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
	"time"

	log "github.com/sirupsen/logrus"

	ptp "github.com/ptpordc/ptpordc/ptp/protocol"
	"github.com/ptpordc/ptpordc/ptptimer"
)

// qualificationTimeoutDefault bounds PRE_MASTER, spec §4.2.2: "protocol
// allows, but this spec collapses PRE_MASTER -> MASTER immediately when
// qualification completes".
const qualificationTimeoutDefault = 2 * time.Second

const eventQualificationDone uint32 = 1 << 4

// enterInitializing runs INITIALIZING's entry action, spec §4.2.2, then
// falls straight through to LISTENING per the lifecycle in §3.6.
func (e *Engine) enterInitializing() {
	e.foreignDS.Reset()
	e.portDS.PortState = ptp.PortStateInitializing
	e.m1m2()
	e.enterState(ptp.PortStateListening)
}

// announceReceiptTimeout computes announceReceiptTimeout x 2^logAnnounceInterval, spec §3.6.
func (e *Engine) announceReceiptTimeout() time.Duration {
	return time.Duration(e.portDS.AnnounceReceiptTimeout) * e.portDS.LogAnnounceInterval.Duration()
}

// randomizedPhase picks a uniform delay in [0, 2^(logInterval+1)), spec §4.2.8.
func (e *Engine) randomizedPhase(li ptp.LogInterval) time.Duration {
	maxNs := int64(li.Duration()) * 2
	if maxNs <= 0 {
		maxNs = int64(time.Millisecond)
	}
	return time.Duration(e.rnd.Int63n(maxNs))
}

// enterState runs old's exit action then new's entry action, spec §4.2.2.
func (e *Engine) enterState(new ptp.PortState) {
	old := e.portDS.PortState
	e.exitState(old)
	e.portDS.PortState = new

	switch new {
	case ptp.PortStateListening:
		e.timers.Start(ptptimer.AnnounceReceipt, e.announceReceiptTimeout())
	case ptp.PortStateMaster:
		e.timers.Start(ptptimer.SyncInterval, e.portDS.LogSyncInterval.Duration())
		e.timers.Start(ptptimer.AnnounceInterval, e.portDS.LogAnnounceInterval.Duration())
		if e.portDS.DelayMechanism == ptp.DelayMechanismP2P {
			e.timers.Start(ptptimer.PDelayReq, e.randomizedPhase(e.portDS.LogMinPdelayReqInterval))
		}
	case ptp.PortStateUncalibrated, ptp.PortStateSlave:
		e.timers.Start(ptptimer.AnnounceReceipt, e.announceReceiptTimeout())
		if e.portDS.DelayMechanism == ptp.DelayMechanismP2P {
			e.timers.Start(ptptimer.PDelayReq, e.randomizedPhase(e.portDS.LogMinPdelayReqInterval))
		} else {
			e.timers.Start(ptptimer.DelayReq, e.randomizedPhase(e.portDS.LogMinDelayReqInterval))
		}
	case ptp.PortStatePassive:
		e.timers.Start(ptptimer.AnnounceReceipt, e.announceReceiptTimeout())
		if e.portDS.DelayMechanism == ptp.DelayMechanismP2P {
			e.timers.Start(ptptimer.PDelayReq, e.randomizedPhase(e.portDS.LogMinPdelayReqInterval))
		}
	case ptp.PortStatePreMaster:
		e.timers.Start(ptptimer.QualificationTimeout, qualificationTimeoutDefault)
	}
	if old != new {
		log.Debugf("engine: %s -> %s", old, new)
	}
}

// exitState runs old's exit action, spec §4.2.2.
func (e *Engine) exitState(old ptp.PortState) {
	switch old {
	case ptp.PortStateListening:
		e.timers.Stop(ptptimer.AnnounceReceipt)
		e.ctrl.Reset()
	case ptp.PortStateMaster:
		e.timers.Stop(ptptimer.SyncInterval)
		e.timers.Stop(ptptimer.AnnounceInterval)
		e.timers.Stop(ptptimer.PDelayReq)
		e.ctrl.Reset()
	case ptp.PortStateUncalibrated, ptp.PortStateSlave:
		e.timers.Stop(ptptimer.DelayReq)
		e.timers.Stop(ptptimer.PDelayReq)
		e.ctrl.Reset()
	case ptp.PortStatePassive:
		e.timers.Stop(ptptimer.AnnounceReceipt)
		e.timers.Stop(ptptimer.PDelayReq)
		e.ctrl.Reset()
	case ptp.PortStatePreMaster:
		e.timers.Stop(ptptimer.QualificationTimeout)
	}
}

// reconcile implements the transition table of spec §4.2.5.
func (e *Engine) reconcile(recommended ptp.PortState) {
	cur := e.portDS.PortState
	switch cur {
	case ptp.PortStatePreMaster:
		switch recommended {
		case ptp.PortStateMaster:
			if e.eventBitmask&eventQualificationDone != 0 {
				e.eventBitmask &^= eventQualificationDone
				e.enterState(ptp.PortStateMaster)
			}
		case ptp.PortStatePassive:
			e.enterState(ptp.PortStatePassive)
		case ptp.PortStateSlave:
			e.enterState(ptp.PortStateUncalibrated)
		case ptp.PortStateListening:
			e.enterState(ptp.PortStateListening)
		}
	case ptp.PortStateMaster:
		switch recommended {
		case ptp.PortStatePassive:
			e.enterState(ptp.PortStatePassive)
		case ptp.PortStateSlave:
			e.enterState(ptp.PortStateUncalibrated)
		case ptp.PortStateListening:
			e.enterState(ptp.PortStateListening)
		}
	case ptp.PortStatePassive:
		switch recommended {
		case ptp.PortStateMaster:
			e.enterState(ptp.PortStatePreMaster)
		case ptp.PortStateSlave:
			e.enterState(ptp.PortStateUncalibrated)
		case ptp.PortStateListening:
			e.enterState(ptp.PortStateListening)
		}
	case ptp.PortStateSlave, ptp.PortStateUncalibrated:
		switch recommended {
		case ptp.PortStateMaster:
			e.enterState(ptp.PortStatePreMaster)
		case ptp.PortStatePassive:
			e.enterState(ptp.PortStatePassive)
		case ptp.PortStateSlave:
			if cur == ptp.PortStateUncalibrated {
				if e.eventBitmask&eventMasterClockSelected != 0 {
					e.eventBitmask &^= eventMasterClockSelected
					e.enterState(ptp.PortStateSlave)
				}
			} else if e.eventBitmask&(eventMasterClockChanged|eventSynchronizationFault) != 0 {
				e.eventBitmask &^= eventMasterClockChanged | eventSynchronizationFault
				e.enterState(ptp.PortStateUncalibrated)
			}
		case ptp.PortStateListening:
			e.enterState(ptp.PortStateListening)
		}
	case ptp.PortStateListening:
		switch recommended {
		case ptp.PortStateMaster:
			e.enterState(ptp.PortStatePreMaster)
		case ptp.PortStatePassive:
			e.enterState(ptp.PortStatePassive)
		case ptp.PortStateSlave:
			e.enterState(ptp.PortStateUncalibrated)
		}
	}
}

// pollTimers implements step 3 of do_state, spec §4.2.3/§4.2.7/§4.2.8.
func (e *Engine) pollTimers() {
	if e.portDS.PortState == ptp.PortStateFaulty {
		e.enterInitializing()
		return
	}
	if e.timers.CheckAndClear(ptptimer.AnnounceReceipt) {
		e.foreignDS.Reset()
		e.eventBitmask |= eventStateDecision
		e.timers.Start(ptptimer.AnnounceReceipt, e.announceReceiptTimeout())
	}
	if e.timers.CheckAndClear(ptptimer.QualificationTimeout) {
		e.eventBitmask |= eventQualificationDone | eventStateDecision
	}
	if e.timers.CheckAndClear(ptptimer.SyncInterval) {
		e.sendSync()
		e.timers.Start(ptptimer.SyncInterval, e.portDS.LogSyncInterval.Duration())
	}
	if e.timers.CheckAndClear(ptptimer.AnnounceInterval) {
		e.sendAnnounce()
		e.timers.Start(ptptimer.AnnounceInterval, e.portDS.LogAnnounceInterval.Duration())
	}
	if e.timers.CheckAndClear(ptptimer.DelayReq) {
		e.sendDelayReq()
		e.timers.Start(ptptimer.DelayReq, e.randomizedPhase(e.portDS.LogMinDelayReqInterval))
	}
	if e.timers.CheckAndClear(ptptimer.PDelayReq) {
		e.sendPDelayReq()
		e.timers.Start(ptptimer.PDelayReq, e.randomizedPhase(e.portDS.LogMinPdelayReqInterval))
	}
}
