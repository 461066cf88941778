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

// Package engine implements PTP-ENGINE: the ordinary-clock port state
// machine, its message handlers, and the BMC-driven state decision that
// ties PTP-NET, PTP-SERVO, PTP-TIMERS and HW-CLOCK together, per spec §4.2.
// It is grounded structurally on ptp/simpleclient/client.go's single
// inbound-channel dispatch loop.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ptpordc/ptpordc/bmc"
	"github.com/ptpordc/ptpordc/hwclock"
	"github.com/ptpordc/ptpordc/leapsectz"
	ptp "github.com/ptpordc/ptpordc/ptp/protocol"
	"github.com/ptpordc/ptpordc/ptpnet"
	"github.com/ptpordc/ptpordc/ptptime"
	"github.com/ptpordc/ptpordc/ptptimer"
	"github.com/ptpordc/ptpordc/servo"
)

// event bits, spec §4.2.4.
const (
	eventStateDecision uint32 = 1 << iota
	eventMasterClockSelected
	eventMasterClockChanged
	eventSynchronizationFault
)

// Config is the engine's static configuration, spec §6.4 as narrowed to
// what PTP-ENGINE itself consumes.
type Config struct {
	Identity      ptp.ClockIdentity
	Domain        uint8
	Priority1     uint8
	Priority2     uint8
	ClockClass    ptp.ClockClass
	ClockAccuracy ptp.ClockAccuracy

	SlaveOnly   bool
	TwoStepFlag bool

	LogAnnounceInterval     ptp.LogInterval
	LogSyncInterval         ptp.LogInterval
	LogMinDelayReqInterval  ptp.LogInterval
	LogMinPdelayReqInterval ptp.LogInterval
	AnnounceReceiptTimeout  uint8

	DelayMechanism   ptp.DelayMechanism
	ForeignMasterCap int

	// VarianceFormula overrides servo.DefaultScaledLogVarianceFormula;
	// empty keeps the default.
	VarianceFormula string

	NoAdjust     bool
	NoResetClock bool
}

// DefaultConfig fills in the spec's numeric defaults for everything the
// caller doesn't care to override.
func DefaultConfig(identity ptp.ClockIdentity) Config {
	return Config{
		Identity:                identity,
		Priority1:               128,
		Priority2:               128,
		ClockClass:              ptp.ClockClassSlaveOnly,
		ClockAccuracy:           ptp.ClockAccuracyUnknown,
		SlaveOnly:               true,
		LogAnnounceInterval:     1,
		LogSyncInterval:         0,
		LogMinDelayReqInterval:  0,
		LogMinPdelayReqInterval: 0,
		AnnounceReceiptTimeout:  3,
		DelayMechanism:          ptp.DelayMechanismE2E,
		ForeignMasterCap:        5,
	}
}

type inbound struct {
	data   []byte
	rxTime time.Time
	event  bool
}

// Engine is the ordinary-clock core: one goroutine runs its state
// machine, fed by ptpnet's receive goroutines over a buffered channel.
type Engine struct {
	cfg    Config
	net    ptpnet.Transport
	clock  hwclock.HardwareClock
	timers *ptptimer.Set
	ctrl   *servo.Controller

	offsetFilter   *servo.ExpFilter
	delayFilter    *servo.ExpFilter
	varianceFilter *servo.VarianceFilter

	mu          sync.Mutex
	defaultDS   DefaultDS
	currentDS   CurrentDS
	parentDS    ParentDS
	timePropsDS TimePropertiesDS
	portDS      PortDS
	foreignDS   *ForeignMasterDS

	eventBitmask uint32

	awaitingFollowUp bool
	syncIngress      ptptime.Time
	syncCorrection   ptp.Correction
	syncSeq          uint16

	syncTms      ptptime.Time
	syncTmsValid bool

	delayReqSeq  uint16
	delayReqTxTS ptptime.Time

	pdelayReqSeq   uint16
	pdelayT1       ptptime.Time
	pdelayT2       ptptime.Time
	pdelayT4       ptptime.Time
	pdelayCorr     ptp.Correction
	pdelayAwaiting bool

	systemTimeInitialized bool

	announceSeq uint16
	syncSendSeq uint16

	rnd *rand.Rand

	leapSeconds []leapsectz.LeapSecond

	inbox chan inbound
}

// New builds an Engine in the INITIALIZING state; call Run to start it.
func New(cfg Config, transport ptpnet.Transport, clock hwclock.HardwareClock) *Engine {
	e := &Engine{
		cfg:          cfg,
		net:          transport,
		clock:        clock,
		timers:       ptptimer.NewSet(),
		ctrl:         servo.DefaultController(),
		offsetFilter: servo.NewExpFilter(4),
		delayFilter:  servo.NewExpFilter(4),
		foreignDS:    NewForeignMasterDS(cfg.ForeignMasterCap),
		rnd:          rand.New(rand.NewSource(int64(cfg.Identity))), //nolint:gosec
		inbox:        make(chan inbound, 64),
	}
	e.defaultDS = DefaultDS{
		ClockIdentity: cfg.Identity,
		ClockQuality:  ptp.ClockQuality{ClockClass: cfg.ClockClass, ClockAccuracy: cfg.ClockAccuracy},
		Priority1:     cfg.Priority1,
		Priority2:     cfg.Priority2,
		DomainNumber:  cfg.Domain,
		SlaveOnly:     cfg.SlaveOnly,
		TwoStepFlag:   cfg.TwoStepFlag,
		NumberPorts:   1,
	}
	e.portDS = PortDS{
		PortIdentity:            ptp.PortIdentity{ClockIdentity: cfg.Identity, PortNumber: 1},
		LogAnnounceInterval:     cfg.LogAnnounceInterval,
		LogSyncInterval:         cfg.LogSyncInterval,
		LogMinDelayReqInterval:  cfg.LogMinDelayReqInterval,
		LogMinPdelayReqInterval: cfg.LogMinPdelayReqInterval,
		AnnounceReceiptTimeout:  cfg.AnnounceReceiptTimeout,
		DelayMechanism:          cfg.DelayMechanism,
		VersionNumber:           ptp.Version,
	}
	if vf, err := servo.NewVarianceFilter(cfg.VarianceFormula); err != nil {
		log.WithError(err).Warn("invalid variance formula, falling back to default")
		vf, _ = servo.NewVarianceFilter("")
		e.varianceFilter = vf
	} else {
		e.varianceFilter = vf
	}
	if leaps, err := leapsectz.Parse(); err != nil {
		log.WithError(err).Debug("leap second table unavailable, CurrentUTCOffset left unset")
	} else {
		e.leapSeconds = leaps
	}
	e.enterInitializing()
	return e
}

// Run drives the engine until ctx is cancelled. It supervises the net
// receive goroutines and the state-machine loop with an errgroup, per
// spec §5 and grounded on simpleclient's errgroup usage.
func (e *Engine) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error { return e.recvLoop(ctx, e.net.RecvEvent, true) })
	eg.Go(func() error { return e.recvLoop(ctx, e.net.RecvGeneral, false) })
	eg.Go(func() error { return e.stateLoop(ctx) })

	return eg.Wait()
}

func (e *Engine) recvLoop(ctx context.Context, recv func() (ptpnet.Received, error), event bool) error {
	for {
		r, err := recv()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return fmt.Errorf("engine: receive failed: %w", err)
			}
		}
		select {
		case e.inbox <- inbound{data: r.Data, rxTime: r.RxTime, event: event}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// stateLoop is do_state, spec §4.2.3: it polls the mailbox with a bounded
// wait, then always polls timers and processes any pending state decision
// regardless of whether a message arrived this tick.
func (e *Engine) stateLoop(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-e.inbox:
			e.mu.Lock()
			if err := e.dispatch(msg); err != nil {
				log.Warnf("engine: dropping frame: %v", err)
			}
			e.mu.Unlock()
		case <-ticker.C:
			e.mu.Lock()
			e.tick()
			e.mu.Unlock()
		}
	}
}

// tick implements do_state steps 1-3: state decision, transition
// reconciliation, and timer-driven transmit/timeout actions.
func (e *Engine) tick() {
	if e.eventBitmask&eventStateDecision != 0 && e.decisionEligible() {
		e.eventBitmask &^= eventStateDecision
		e.runBMC()
	}
	e.pollTimers()
}

func (e *Engine) decisionEligible() bool {
	switch e.portDS.PortState {
	case ptp.PortStateListening, ptp.PortStateUncalibrated, ptp.PortStateSlave,
		ptp.PortStatePreMaster, ptp.PortStateMaster, ptp.PortStatePassive:
		return true
	default:
		return false
	}
}

// dispatch implements step 4 of do_state: decode, reject loopback/
// mismatched frames, and route to the message handler.
func (e *Engine) dispatch(msg inbound) error {
	pkt, err := ptp.DecodePacket(msg.data)
	if err != nil {
		return err
	}
	h := headerOf(pkt)
	if h == nil {
		return fmt.Errorf("undecodable packet")
	}
	if h.Version&0x0f != ptp.Version&0x0f {
		return nil
	}
	if h.DomainNumber != e.cfg.Domain {
		return nil
	}
	if h.SourcePortIdentity.Equal(e.portDS.PortIdentity) {
		return nil // loopback
	}

	switch p := pkt.(type) {
	case *ptp.Announce:
		e.handleAnnounce(p)
	case *ptp.SyncDelayReq:
		if p.MessageType() == ptp.MessageSync {
			e.handleSync(p, msg.rxTime)
		} else {
			e.handleDelayReq(p, msg.rxTime)
		}
	case *ptp.FollowUp:
		e.handleFollowUp(p)
	case *ptp.DelayResp:
		e.handleDelayResp(p)
	case *ptp.PDelayReq:
		e.handlePDelayReq(p, msg.rxTime)
	case *ptp.PDelayResp:
		e.handlePDelayResp(p, msg.rxTime)
	case *ptp.PDelayRespFollowUp:
		e.handlePDelayRespFollowUp(p)
	case *ptp.Unsupported:
		// MANAGEMENT, SIGNALING: accepted, no-ops, spec §4.2.6.
	}
	return nil
}

func headerOf(pkt ptp.Packet) *ptp.Header {
	switch p := pkt.(type) {
	case *ptp.Announce:
		return &p.Header
	case *ptp.SyncDelayReq:
		return &p.Header
	case *ptp.FollowUp:
		return &p.Header
	case *ptp.DelayResp:
		return &p.Header
	case *ptp.PDelayReq:
		return &p.Header
	case *ptp.PDelayResp:
		return &p.Header
	case *ptp.PDelayRespFollowUp:
		return &p.Header
	case *ptp.Unsupported:
		return &p.Header
	default:
		return nil
	}
}

// D0 composes our own Default-DS into a bmc.Candidate.
func (e *Engine) d0() bmc.Candidate {
	return bmc.Candidate{
		SourcePortIdentity:      e.portDS.PortIdentity,
		GrandmasterIdentity:     e.defaultDS.ClockIdentity,
		GrandmasterPriority1:    e.defaultDS.Priority1,
		GrandmasterPriority2:    e.defaultDS.Priority2,
		GrandmasterClockQuality: e.defaultDS.ClockQuality,
		StepsRemoved:            0,
	}
}

// runBMC implements spec §4.3.2.
func (e *Engine) runBMC() {
	ebest, haveEbest := e.foreignDS.Best(e.defaultDS.ClockIdentity)
	emptyRing := !haveEbest
	wasListening := e.portDS.PortState == ptp.PortStateListening

	var ebestCand bmc.Candidate
	if haveEbest {
		ebestCand = ebest.Candidate
	}
	decision, _ := bmc.Decide(e.d0(), ebestCand, e.defaultDS.ClockIdentity, e.defaultDS.masterCapable(), emptyRing, wasListening)

	switch decision {
	case bmc.DecisionMaster:
		e.m1m2()
		e.reconcile(ptp.PortStateMaster)
	case bmc.DecisionPassive:
		e.p1()
		e.reconcile(ptp.PortStatePassive)
	case bmc.DecisionSlave:
		if haveEbest {
			e.s1(ebest)
		}
		e.reconcile(ptp.PortStateSlave)
	case bmc.DecisionListening:
		e.reconcile(ptp.PortStateListening)
	}
}

// m1m2 implements the M1/M2 helper, spec §4.3.3: become our own grandmaster.
func (e *Engine) m1m2() {
	e.parentDS = ParentDS{
		ParentPortIdentity:      e.portDS.PortIdentity,
		GrandmasterIdentity:     e.defaultDS.ClockIdentity,
		GrandmasterClockQuality: e.defaultDS.ClockQuality,
		GrandmasterPriority1:    e.defaultDS.Priority1,
		GrandmasterPriority2:    e.defaultDS.Priority2,
	}
	e.currentDS.OffsetFromMaster = ptptime.Time{}
	e.currentDS.MeanPathDelay = ptptime.Time{}
	e.currentDS.StepsRemoved = 0
	e.timePropsDS = TimePropertiesDS{PTPTimescale: true, TimeSource: ptp.TimeSourceInternalOscillator}
	if offset, ok := e.currentUTCOffset(time.Now()); ok {
		e.timePropsDS.CurrentUTCOffset = offset
		e.timePropsDS.CurrentUTCOffsetValid = true
	}
}

// p1 is a no-op, spec §4.3.3.
func (e *Engine) p1() {}

// s1 implements the S1 helper, spec §4.3.3.
func (e *Engine) s1(best ForeignMasterRecord) {
	changed := e.parentDS.ParentPortIdentity != best.SourcePortIdentity
	e.parentDS.ParentPortIdentity = best.SourcePortIdentity
	e.parentDS.GrandmasterIdentity = best.Candidate.GrandmasterIdentity
	e.parentDS.GrandmasterClockQuality = best.Candidate.GrandmasterClockQuality
	e.parentDS.GrandmasterPriority1 = best.Candidate.GrandmasterPriority1
	e.parentDS.GrandmasterPriority2 = best.Candidate.GrandmasterPriority2
	e.currentDS.StepsRemoved = best.Candidate.StepsRemoved + 1
	if changed {
		e.eventBitmask |= eventMasterClockChanged
	}
}

// applyAnnounceFlags copies the time-properties flag bits carried by an
// announce from our current parent, spec §4.3.3's S1 description.
func (e *Engine) applyAnnounceFlags(a *ptp.Announce) {
	e.timePropsDS = TimePropertiesDS{
		CurrentUTCOffset:      a.CurrentUTCOffset,
		CurrentUTCOffsetValid: a.FlagField&ptp.FlagCurrentUTCOffsetValid != 0,
		Leap59:                a.FlagField&ptp.FlagLeap59 != 0,
		Leap61:                a.FlagField&ptp.FlagLeap61 != 0,
		TimeTraceable:         a.FlagField&ptp.FlagTimeTraceable != 0,
		FrequencyTraceable:    a.FlagField&ptp.FlagFrequencyTraceable != 0,
		PTPTimescale:          a.FlagField&ptp.FlagPTPTimescale != 0,
		TimeSource:            a.TimeSource,
	}
}
