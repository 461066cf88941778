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
	"github.com/ptpordc/ptpordc/bmc"
	ptp "github.com/ptpordc/ptpordc/ptp/protocol"
	"github.com/ptpordc/ptpordc/ptptime"
)

// DefaultDS is the ordinary clock's own identity and quality, spec §3.3.
type DefaultDS struct {
	ClockIdentity ptp.ClockIdentity
	ClockQuality  ptp.ClockQuality
	Priority1     uint8
	Priority2     uint8
	DomainNumber  uint8
	SlaveOnly     bool
	TwoStepFlag   bool
	NumberPorts   uint16
}

// masterCapable implements the "exactly one of (slave-only, clock-class <
// 128, clock-class == 255) controls master-capability" invariant, §3.5.
func (d DefaultDS) masterCapable() bool {
	if d.SlaveOnly || d.ClockQuality.ClockClass == ptp.ClockClassSlaveOnly {
		return false
	}
	return d.ClockQuality.ClockClass < 128
}

// CurrentDS holds the live synchronization state, spec §3.3.
type CurrentDS struct {
	StepsRemoved      uint16
	OffsetFromMaster  ptptime.Time
	MeanPathDelay     ptptime.Time
}

// ParentDS describes the current parent (master) this port syncs to.
type ParentDS struct {
	ParentPortIdentity                     ptp.PortIdentity
	GrandmasterIdentity                    ptp.ClockIdentity
	GrandmasterClockQuality                ptp.ClockQuality
	GrandmasterPriority1                    uint8
	GrandmasterPriority2                    uint8
	ParentStatsEnabled                      bool
	ObservedParentOffsetScaledLogVariance   uint16
	ObservedParentClockPhaseChangeRate      uint32
}

// TimePropertiesDS carries the time-scale metadata a grandmaster publishes.
type TimePropertiesDS struct {
	CurrentUTCOffset        int16
	CurrentUTCOffsetValid   bool
	Leap59                  bool
	Leap61                  bool
	TimeTraceable           bool
	FrequencyTraceable      bool
	PTPTimescale            bool
	TimeSource              ptp.TimeSource
}

// PortDS is the per-port configuration and live state, spec §3.3.
type PortDS struct {
	PortIdentity             ptp.PortIdentity
	PortState                ptp.PortState
	LogAnnounceInterval      ptp.LogInterval
	LogSyncInterval          ptp.LogInterval
	LogMinDelayReqInterval   ptp.LogInterval
	LogMinPdelayReqInterval  ptp.LogInterval
	AnnounceReceiptTimeout   uint8
	PeerMeanPathDelay        ptptime.Time
	DelayMechanism           ptp.DelayMechanism
	VersionNumber            uint8
}

// ForeignMasterRecord is a single candidate snapshot, spec §3.3.
type ForeignMasterRecord struct {
	SourcePortIdentity ptp.PortIdentity
	Candidate          bmc.Candidate
	Count              int
}

// ForeignMasterDS is the bounded ring of candidate masters, spec §3.3/§3.5:
// count <= capacity and i < capacity always hold.
type ForeignMasterDS struct {
	Capacity int
	Count    int
	I        int
	Records  []ForeignMasterRecord
}

// NewForeignMasterDS builds an empty ring of the given capacity.
func NewForeignMasterDS(capacity int) *ForeignMasterDS {
	return &ForeignMasterDS{Capacity: capacity, Records: make([]ForeignMasterRecord, 0, capacity)}
}

// Update records an announce from source, inserting a new ring slot or
// refreshing an existing record's candidate and count.
func (f *ForeignMasterDS) Update(source ptp.PortIdentity, cand bmc.Candidate) {
	for i := range f.Records {
		if f.Records[i].SourcePortIdentity.Equal(source) {
			f.Records[i].Candidate = cand
			f.Records[i].Count++
			return
		}
	}
	rec := ForeignMasterRecord{SourcePortIdentity: source, Candidate: cand, Count: 1}
	if f.Count < f.Capacity {
		f.Records = append(f.Records, rec)
		f.Count++
	} else {
		f.Records[f.I] = rec
	}
	f.I = (f.I + 1) % f.Capacity
}

// Reset clears the ring, done on every INITIALIZING entry, spec §3.6.
func (f *ForeignMasterDS) Reset() {
	f.Count = 0
	f.I = 0
	f.Records = f.Records[:0]
}

// Best runs a Compare tournament over the ring and returns the winner.
// ok is false when the ring is empty.
func (f *ForeignMasterDS) Best(ourIdentity ptp.ClockIdentity) (cand ForeignMasterRecord, ok bool) {
	if len(f.Records) == 0 {
		return ForeignMasterRecord{}, false
	}
	best := f.Records[0]
	for _, r := range f.Records[1:] {
		res := bmc.Compare(r.Candidate, best.Candidate, ourIdentity)
		if res == bmc.ABetter || res == bmc.ABetterByTopology {
			best = r
		}
	}
	return best, true
}
