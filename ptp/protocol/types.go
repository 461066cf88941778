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

// Package protocol implements the wire format of IEEE 1588-2008 PTPv2:
// the common message header and the eight event/general message bodies
// an ordinary clock needs. TLVs, management and unicast negotiation are
// out of scope and are not encoded.
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"time"
)

// MessageType is the PTP messageType field (Table 36)
type MessageType uint8

// Values of messageType field, Table 36
const (
	MessageSync               MessageType = 0x0
	MessageDelayReq           MessageType = 0x1
	MessagePDelayReq          MessageType = 0x2
	MessagePDelayResp         MessageType = 0x3
	MessageFollowUp           MessageType = 0x8
	MessageDelayResp          MessageType = 0x9
	MessagePDelayRespFollowUp MessageType = 0xA
	MessageAnnounce           MessageType = 0xB
	MessageSignaling          MessageType = 0xC
	MessageManagement         MessageType = 0xD
)

var messageTypeToString = map[MessageType]string{
	MessageSync:               "SYNC",
	MessageDelayReq:           "DELAY_REQ",
	MessagePDelayReq:          "PDELAY_REQ",
	MessagePDelayResp:         "PDELAY_RESP",
	MessageFollowUp:           "FOLLOW_UP",
	MessageDelayResp:          "DELAY_RESP",
	MessagePDelayRespFollowUp: "PDELAY_RESP_FOLLOW_UP",
	MessageAnnounce:           "ANNOUNCE",
	MessageSignaling:          "SIGNALING",
	MessageManagement:         "MANAGEMENT",
}

func (m MessageType) String() string {
	if s, ok := messageTypeToString[m]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(0x%x)", uint8(m))
}

// IsEvent reports whether the message type belongs to the event stream
// (the ones that require a hardware timestamp on send/receive).
func (m MessageType) IsEvent() bool {
	switch m {
	case MessageSync, MessageDelayReq, MessagePDelayReq, MessagePDelayResp:
		return true
	default:
		return false
	}
}

// SdoIDAndMsgType packs the transport-specific nibble and message type
// nibble that make up header byte 0. Our transport-specific nibble is
// always 0x8 per §6.1.
type SdoIDAndMsgType uint8

// TransportSpecificDefault is the transport-specific nibble this core emits.
const TransportSpecificDefault uint8 = 0x8

// MsgType extracts the MessageType (low nibble)
func (m SdoIDAndMsgType) MsgType() MessageType {
	return MessageType(m & 0x0f)
}

// NewSdoIDAndMsgType builds a header byte 0 from a message type
func NewSdoIDAndMsgType(msgType MessageType) SdoIDAndMsgType {
	return SdoIDAndMsgType(TransportSpecificDefault<<4 | uint8(msgType)&0x0f)
}

// Correction is the correctionField: signed 64-bit scaled nanoseconds
// (high 48 bits nanoseconds, low 16 bits a fractional part discarded on
// conversion to internal-time, per spec §3.1).
type Correction int64

const twoPow16 = 65536

// Nanoseconds truncates Correction to whole nanoseconds, dropping the
// fractional low 16 bits, per §9's note on the source's truncation.
func (c Correction) Nanoseconds() int64 {
	return int64(c) / twoPow16
}

// NewCorrection builds a Correction from whole nanoseconds
func NewCorrection(ns int64) Correction {
	return Correction(ns * twoPow16)
}

func (c Correction) String() string {
	return fmt.Sprintf("Correction(%dns)", c.Nanoseconds())
}

// ClockIdentity is an 8-octet clock identity (spec §3.2)
type ClockIdentity uint64

func (c ClockIdentity) String() string {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(c))
	return fmt.Sprintf("%02x%02x%02x.%02x%02x.%02x%02x%02x",
		b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7])
}

// NewClockIdentity derives a Clock-Identity from a 6-octet MAC address by
// inserting FF FE between bytes 3 and 4, per spec §3.2.
func NewClockIdentity(mac net.HardwareAddr) (ClockIdentity, error) {
	if len(mac) != 6 {
		return 0, fmt.Errorf("clock identity requires a 6-octet MAC, got %d octets", len(mac))
	}
	var b [8]byte
	b[0], b[1], b[2] = mac[0], mac[1], mac[2]
	b[3], b[4] = 0xFF, 0xFE
	b[5], b[6], b[7] = mac[3], mac[4], mac[5]
	return ClockIdentity(binary.BigEndian.Uint64(b[:])), nil
}

// PortIdentity identifies a PTP port: Clock-Identity + 16-bit port number
// (always 1 for an ordinary clock), per spec §3.2.
type PortIdentity struct {
	ClockIdentity ClockIdentity
	PortNumber    uint16
}

func (p PortIdentity) String() string {
	return fmt.Sprintf("%s-%d", p.ClockIdentity, p.PortNumber)
}

// Equal reports whether two port identities are the same
func (p PortIdentity) Equal(q PortIdentity) bool {
	return p.ClockIdentity == q.ClockIdentity && p.PortNumber == q.PortNumber
}

// Less sorts first by clock identity, then port number
func (p PortIdentity) Less(q PortIdentity) bool {
	if p.ClockIdentity != q.ClockIdentity {
		return p.ClockIdentity < q.ClockIdentity
	}
	return p.PortNumber < q.PortNumber
}

// PTPSeconds is the 48-bit unsigned wire seconds field
type PTPSeconds [6]uint8

// Seconds returns the value as uint64
func (s PTPSeconds) Seconds() uint64 {
	return uint64(s[5]) | uint64(s[4])<<8 | uint64(s[3])<<16 |
		uint64(s[2])<<24 | uint64(s[1])<<32 | uint64(s[0])<<40
}

// NewPTPSeconds builds a PTPSeconds from a uint64. Values >= 2^48 are
// truncated to the low 48 bits by the caller's responsibility; this core
// never requests seconds that large (see WireTimestamp, §8.3).
func NewPTPSeconds(v uint64) PTPSeconds {
	var s PTPSeconds
	s[0] = byte(v >> 40)
	s[1] = byte(v >> 32)
	s[2] = byte(v >> 24)
	s[3] = byte(v >> 16)
	s[4] = byte(v >> 8)
	s[5] = byte(v)
	return s
}

// WireTimestamp is the on-wire Timestamp type: unsigned 48-bit seconds +
// unsigned 32-bit nanoseconds, per spec §3.1.
type WireTimestamp struct {
	Seconds     PTPSeconds
	Nanoseconds uint32
}

func (t WireTimestamp) String() string {
	return fmt.Sprintf("WireTimestamp(%d.%09d)", t.Seconds.Seconds(), t.Nanoseconds)
}

// Time converts to a standard library time.Time (UTC, no leap correction)
func (t WireTimestamp) Time() time.Time {
	return time.Unix(int64(t.Seconds.Seconds()), int64(t.Nanoseconds)).UTC()
}

// ClockClass represents a PTP clock class (Table 5)
type ClockClass uint8

// Clock classes relevant to an ordinary clock, RFC 8173 §7.6.2.4
const (
	ClockClass6         ClockClass = 6
	ClockClass7         ClockClass = 7
	ClockClass13        ClockClass = 13
	ClockClass14        ClockClass = 14
	ClockClass52        ClockClass = 52
	ClockClass58        ClockClass = 58
	ClockClassSlaveOnly ClockClass = 255
)

// ClockAccuracy represents a PTP clock accuracy (Table 6)
type ClockAccuracy uint8

// Selected clock accuracy values, RFC 8173 §7.6.2.5
const (
	ClockAccuracyNanosecond25  ClockAccuracy = 0x20
	ClockAccuracyNanosecond100 ClockAccuracy = 0x21
	ClockAccuracyNanosecond250 ClockAccuracy = 0x22
	ClockAccuracyMicrosecond1  ClockAccuracy = 0x23
	ClockAccuracyMillisecond1  ClockAccuracy = 0x29
	ClockAccuracyUnknown       ClockAccuracy = 0xFE
)

// ClockQuality carries class/accuracy/variance as advertised in ANNOUNCE
type ClockQuality struct {
	ClockClass              ClockClass
	ClockAccuracy           ClockAccuracy
	OffsetScaledLogVariance uint16
}

// TimeSource indicates the immediate source of time of the grandmaster (Table 7)
type TimeSource uint8

// TimeSource values
const (
	TimeSourceAtomicClock        TimeSource = 0x10
	TimeSourceGNSS               TimeSource = 0x20
	TimeSourceTerrestrialRadio   TimeSource = 0x30
	TimeSourcePTP                TimeSource = 0x40
	TimeSourceNTP                TimeSource = 0x50
	TimeSourceHandSet            TimeSource = 0x60
	TimeSourceOther              TimeSource = 0x90
	TimeSourceInternalOscillator TimeSource = 0xA0
)

// PortState is the port state machine state (Table 20, spec §4.2.1)
type PortState uint8

// Port states
const (
	PortStateInitializing PortState = iota + 1
	PortStateFaulty
	PortStateDisabled
	PortStateListening
	PortStatePreMaster
	PortStateMaster
	PortStatePassive
	PortStateUncalibrated
	PortStateSlave
)

var portStateToString = map[PortState]string{
	PortStateInitializing: "INITIALIZING",
	PortStateFaulty:       "FAULTY",
	PortStateDisabled:     "DISABLED",
	PortStateListening:    "LISTENING",
	PortStatePreMaster:    "PRE_MASTER",
	PortStateMaster:       "MASTER",
	PortStatePassive:      "PASSIVE",
	PortStateUncalibrated: "UNCALIBRATED",
	PortStateSlave:        "SLAVE",
}

func (s PortState) String() string {
	if v, ok := portStateToString[s]; ok {
		return v
	}
	return "UNKNOWN"
}

// DelayMechanism selects end-to-end or peer-to-peer delay measurement
type DelayMechanism uint8

// Delay mechanisms
const (
	DelayMechanismE2E DelayMechanism = iota
	DelayMechanismP2P
	DelayMechanismDisabled
)

func (d DelayMechanism) String() string {
	switch d {
	case DelayMechanismE2E:
		return "E2E"
	case DelayMechanismP2P:
		return "P2P"
	default:
		return "DISABLED"
	}
}

// LogInterval is log2 of the requested period in seconds
type LogInterval int8

// Duration converts a LogInterval to a time.Duration
func (i LogInterval) Duration() time.Duration {
	return time.Duration(math.Pow(2, float64(i)) * float64(time.Second))
}

// MgmtLogMessageInterval is the reserved logMessageInterval value carried
// by non-periodic messages (Table 42)
const MgmtLogMessageInterval LogInterval = 0x7f
