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

// Package bmc implements the IEEE 1588 Best Master Clock dataset
// comparison algorithm an ordinary clock runs on every state-decision
// event to pick its recommended port state.
package bmc

import ptp "github.com/ptpordc/ptpordc/ptp/protocol"

// Result is the outcome of comparing two candidate datasets.
type Result int8

const (
	// ErrorResult means the comparison could not be resolved
	ErrorResult Result = 0
	// ABetter means A wins on announce content
	ABetter Result = 1
	// ABetterByTopology means A wins on steps-removed/port-identity topology
	ABetterByTopology Result = 2
	// BBetter means B wins on announce content
	BBetter Result = -1
	// BBetterByTopology means B wins on steps-removed/port-identity topology
	BBetterByTopology Result = -2
)

// Candidate is the subset of an ANNOUNCE a BMC comparison needs: the
// grandmaster fields from the body plus the source port identity and
// steps-removed from the header/body.
type Candidate struct {
	SourcePortIdentity      ptp.PortIdentity
	GrandmasterIdentity     ptp.ClockIdentity
	GrandmasterPriority1    uint8
	GrandmasterPriority2    uint8
	GrandmasterClockQuality ptp.ClockQuality
	StepsRemoved            uint16
}

// FromAnnounce extracts a Candidate from a decoded Announce message
func FromAnnounce(a *ptp.Announce) Candidate {
	return Candidate{
		SourcePortIdentity:      a.SourcePortIdentity,
		GrandmasterIdentity:     a.GrandmasterIdentity,
		GrandmasterPriority1:    a.GrandmasterPriority1,
		GrandmasterPriority2:    a.GrandmasterPriority2,
		GrandmasterClockQuality: a.GrandmasterClockQuality,
		StepsRemoved:            a.StepsRemoved,
	}
}

// comparePortIdentity orders two port identities; negative means a < b.
// ClockIdentity is an unsigned 8-octet value (memcmp ordering), so this
// compares directly rather than subtracting into a signed int64, which
// would invert the order whenever the two values straddle 1<<63.
func comparePortIdentity(a, b ptp.PortIdentity) int64 {
	switch {
	case a.ClockIdentity < b.ClockIdentity:
		return -1
	case a.ClockIdentity > b.ClockIdentity:
		return 1
	case a.PortNumber < b.PortNumber:
		return -1
	case a.PortNumber > b.PortNumber:
		return 1
	default:
		return 0
	}
}

// compareByTopology breaks a steps-removed tie (or near-tie) using
// source port identity, per spec §4.3.1 part 2.
func compareByTopology(a, b Candidate, ourIdentity ptp.ClockIdentity) Result {
	stepsA, stepsB := int32(a.StepsRemoved), int32(b.StepsRemoved)

	switch {
	case stepsA-stepsB > 1:
		return BBetter
	case stepsB-stepsA > 1:
		return ABetter
	case stepsA-stepsB == 1:
		if a.SourcePortIdentity.ClockIdentity < ourIdentity {
			return ABetter
		}
		return ABetterByTopology
	case stepsB-stepsA == 1:
		if b.SourcePortIdentity.ClockIdentity < ourIdentity {
			return BBetter
		}
		return BBetterByTopology
	default:
		diff := comparePortIdentity(a.SourcePortIdentity, b.SourcePortIdentity)
		if diff < 0 {
			return ABetterByTopology
		}
		if diff > 0 {
			return BBetterByTopology
		}
		return ErrorResult
	}
}

// Compare implements compare(A, B) from spec §4.3.1: grandmaster fields
// decide first (priority-1, class, accuracy, offset-scaled-log-variance,
// priority-2, grandmaster-identity, in that order, lower always wins),
// falling through to the steps-removed/topology comparison only when the
// grandmaster identities match.
func Compare(a, b Candidate, ourIdentity ptp.ClockIdentity) Result {
	if a.GrandmasterIdentity != b.GrandmasterIdentity {
		if a.GrandmasterPriority1 != b.GrandmasterPriority1 {
			return betterOf(a.GrandmasterPriority1 < b.GrandmasterPriority1)
		}
		if a.GrandmasterClockQuality.ClockClass != b.GrandmasterClockQuality.ClockClass {
			return betterOf(a.GrandmasterClockQuality.ClockClass < b.GrandmasterClockQuality.ClockClass)
		}
		if a.GrandmasterClockQuality.ClockAccuracy != b.GrandmasterClockQuality.ClockAccuracy {
			return betterOf(a.GrandmasterClockQuality.ClockAccuracy < b.GrandmasterClockQuality.ClockAccuracy)
		}
		if a.GrandmasterClockQuality.OffsetScaledLogVariance != b.GrandmasterClockQuality.OffsetScaledLogVariance {
			return betterOf(a.GrandmasterClockQuality.OffsetScaledLogVariance < b.GrandmasterClockQuality.OffsetScaledLogVariance)
		}
		if a.GrandmasterPriority2 != b.GrandmasterPriority2 {
			return betterOf(a.GrandmasterPriority2 < b.GrandmasterPriority2)
		}
		return betterOf(a.GrandmasterIdentity < b.GrandmasterIdentity)
	}
	return compareByTopology(a, b, ourIdentity)
}

func betterOf(aWins bool) Result {
	if aWins {
		return ABetter
	}
	return BBetter
}

// Decision is the outcome of the §4.3.2 state decision step.
type Decision int

const (
	// DecisionListening: the foreign-master ring is empty and we were
	// already LISTENING; BMC defers.
	DecisionListening Decision = iota
	// DecisionMaster: our D0 beats the best foreign master; call M1/M2.
	DecisionMaster
	// DecisionPassive: we are a legitimate master candidate but lose; call P1.
	DecisionPassive
	// DecisionSlave: we are slave-capable and lose; call S1.
	DecisionSlave
)

// Decide implements spec §4.3.2: compare our own D0 against the best
// foreign master Ebest and classify the recommended state. masterCapable
// is true when our clock-class < 128 (a legitimate master candidate);
// emptyRing/wasListening together trigger the LISTENING deferral.
func Decide(d0, ebest Candidate, ourIdentity ptp.ClockIdentity, masterCapable, emptyRing, wasListening bool) (Decision, Result) {
	if emptyRing && wasListening {
		return DecisionListening, ErrorResult
	}
	cmp := Compare(d0, ebest, ourIdentity)
	d0Better := cmp == ABetter || cmp == ABetterByTopology
	if masterCapable {
		if d0Better {
			return DecisionMaster, cmp
		}
		return DecisionPassive, cmp
	}
	if d0Better {
		return DecisionMaster, cmp
	}
	return DecisionSlave, cmp
}
