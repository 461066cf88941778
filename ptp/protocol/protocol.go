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

package protocol

import (
	"encoding/binary"
	"fmt"
)

// what version of PTP protocol we implement
const (
	MajorVersion uint8 = 2
	MinorVersion uint8 = 1
	Version      uint8 = MinorVersion<<4 | MajorVersion
)

// Well-known UDP ports and multicast groups, spec §6.2
var (
	PortEvent   = 319
	PortGeneral = 320

	// MulticastGroupDefault is the default PTP multicast group
	MulticastGroupDefault = "224.0.1.129"
	// MulticastGroupPeer is the peer-delay multicast group
	MulticastGroupPeer = "224.0.0.107"
)

const headerSize = 34 // bytes, Table 35

// Header is the common PTP message header (Table 35)
type Header struct {
	SdoIDAndMsgType    SdoIDAndMsgType
	Version            uint8
	MessageLength      uint16
	DomainNumber       uint8
	FlagField          uint16
	CorrectionField    Correction
	SourcePortIdentity PortIdentity
	SequenceID         uint16
	ControlField       uint8
	LogMessageInterval LogInterval
}

// MessageType returns the message type encoded in byte 0
func (h *Header) MessageType() MessageType { return h.SdoIDAndMsgType.MsgType() }

// SetSequence sets the sequenceId field
func (h *Header) SetSequence(seq uint16) { h.SequenceID = seq }

// flags used in flagField, Table 37 (octet 6 is the high byte, octet 7 the low byte)
const (
	FlagAlternateMaster uint16 = 1 << (8 + 0)
	FlagTwoStep         uint16 = 1 << (8 + 1)
	FlagUnicast         uint16 = 1 << (8 + 2)

	FlagLeap61                uint16 = 1 << 0
	FlagLeap59                uint16 = 1 << 1
	FlagCurrentUTCOffsetValid uint16 = 1 << 2
	FlagPTPTimescale          uint16 = 1 << 3
	FlagTimeTraceable         uint16 = 1 << 4
	FlagFrequencyTraceable    uint16 = 1 << 5
)

// controlField values, obsolete but still populated for ipv4 per spec §6.1
const (
	controlSync      uint8 = 0
	controlDelayReq  uint8 = 1
	controlFollowUp  uint8 = 2
	controlDelayResp uint8 = 3
	controlOther     uint8 = 5
)

func controlFieldFor(t MessageType) uint8 {
	switch t {
	case MessageSync:
		return controlSync
	case MessageDelayReq:
		return controlDelayReq
	case MessageFollowUp:
		return controlFollowUp
	case MessageDelayResp:
		return controlDelayResp
	default:
		return controlOther
	}
}

func unmarshalHeader(h *Header, b []byte) error {
	if len(b) < headerSize {
		return fmt.Errorf("not enough data to decode header: need %d, got %d", headerSize, len(b))
	}
	h.SdoIDAndMsgType = SdoIDAndMsgType(b[0])
	h.Version = b[1]
	h.MessageLength = binary.BigEndian.Uint16(b[2:])
	h.DomainNumber = b[4]
	h.FlagField = binary.BigEndian.Uint16(b[6:])
	h.CorrectionField = Correction(binary.BigEndian.Uint64(b[8:]))
	h.SourcePortIdentity.ClockIdentity = ClockIdentity(binary.BigEndian.Uint64(b[20:]))
	h.SourcePortIdentity.PortNumber = binary.BigEndian.Uint16(b[28:])
	h.SequenceID = binary.BigEndian.Uint16(b[30:])
	h.ControlField = b[32]
	h.LogMessageInterval = LogInterval(b[33])
	return nil
}

func marshalHeaderTo(h *Header, b []byte) {
	b[0] = byte(h.SdoIDAndMsgType)
	b[1] = h.Version
	binary.BigEndian.PutUint16(b[2:], h.MessageLength)
	b[4] = h.DomainNumber
	b[5] = 0 // minorSdoId, unused
	binary.BigEndian.PutUint16(b[6:], h.FlagField)
	binary.BigEndian.PutUint64(b[8:], uint64(h.CorrectionField))
	binary.BigEndian.PutUint32(b[16:], 0) // messageTypeSpecific, unused
	binary.BigEndian.PutUint64(b[20:], uint64(h.SourcePortIdentity.ClockIdentity))
	binary.BigEndian.PutUint16(b[28:], h.SourcePortIdentity.PortNumber)
	binary.BigEndian.PutUint16(b[30:], h.SequenceID)
	b[32] = h.ControlField
	b[33] = byte(h.LogMessageInterval)
}

func newHeader(msgType MessageType, msgLen uint16, domain uint8, source PortIdentity, seq uint16, logInterval LogInterval, twoStep bool) Header {
	var flags uint16
	if twoStep {
		flags |= FlagTwoStep
	}
	return Header{
		SdoIDAndMsgType:    NewSdoIDAndMsgType(msgType),
		Version:            Version,
		MessageLength:      msgLen,
		DomainNumber:       domain,
		FlagField:          flags,
		SourcePortIdentity: source,
		SequenceID:         seq,
		ControlField:       controlFieldFor(msgType),
		LogMessageInterval: logInterval,
	}
}

func writeWireTimestamp(b []byte, ts WireTimestamp) {
	copy(b, ts.Seconds[:])
	binary.BigEndian.PutUint32(b[6:], ts.Nanoseconds)
}

func readWireTimestamp(b []byte) WireTimestamp {
	var ts WireTimestamp
	copy(ts.Seconds[:], b[:6])
	ts.Nanoseconds = binary.BigEndian.Uint32(b[6:])
	return ts
}

func checkLen(b []byte, want int, what string) error {
	if len(b) < want {
		return fmt.Errorf("not enough data to decode %s: need %d, got %d", what, want, len(b))
	}
	return nil
}

// Packet is the common interface all message bodies implement
type Packet interface {
	MessageType() MessageType
	SetSequence(uint16)
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
}

// -- Announce, Table 43, 64 bytes total --

// AnnounceSize is the fixed wire length of an Announce message
const AnnounceSize = 64

// Announce is the ANNOUNCE message used for BMC
type Announce struct {
	Header
	OriginTimestamp         WireTimestamp
	CurrentUTCOffset        int16
	GrandmasterPriority1    uint8
	GrandmasterClockQuality ClockQuality
	GrandmasterPriority2    uint8
	GrandmasterIdentity     ClockIdentity
	StepsRemoved            uint16
	TimeSource              TimeSource
}

// NewAnnounce builds an Announce with a populated header
func NewAnnounce(domain uint8, source PortIdentity, seq uint16, logInterval LogInterval) *Announce {
	a := &Announce{Header: newHeader(MessageAnnounce, AnnounceSize, domain, source, seq, logInterval, false)}
	return a
}

// MarshalBinary encodes the Announce message
func (p *Announce) MarshalBinary() ([]byte, error) {
	b := make([]byte, AnnounceSize)
	marshalHeaderTo(&p.Header, b)
	n := headerSize
	writeWireTimestamp(b[n:], p.OriginTimestamp)
	binary.BigEndian.PutUint16(b[n+10:], uint16(p.CurrentUTCOffset))
	b[n+12] = 0 // reserved
	b[n+13] = p.GrandmasterPriority1
	b[n+14] = byte(p.GrandmasterClockQuality.ClockClass)
	b[n+15] = byte(p.GrandmasterClockQuality.ClockAccuracy)
	binary.BigEndian.PutUint16(b[n+16:], p.GrandmasterClockQuality.OffsetScaledLogVariance)
	b[n+18] = p.GrandmasterPriority2
	binary.BigEndian.PutUint64(b[n+19:], uint64(p.GrandmasterIdentity))
	binary.BigEndian.PutUint16(b[n+27:], p.StepsRemoved)
	b[n+29] = byte(p.TimeSource)
	return b, nil
}

// UnmarshalBinary decodes an Announce message
func (p *Announce) UnmarshalBinary(b []byte) error {
	if err := checkLen(b, AnnounceSize, "Announce"); err != nil {
		return err
	}
	if err := unmarshalHeader(&p.Header, b); err != nil {
		return err
	}
	n := headerSize
	p.OriginTimestamp = readWireTimestamp(b[n:])
	p.CurrentUTCOffset = int16(binary.BigEndian.Uint16(b[n+10:]))
	p.GrandmasterPriority1 = b[n+13]
	p.GrandmasterClockQuality.ClockClass = ClockClass(b[n+14])
	p.GrandmasterClockQuality.ClockAccuracy = ClockAccuracy(b[n+15])
	p.GrandmasterClockQuality.OffsetScaledLogVariance = binary.BigEndian.Uint16(b[n+16:])
	p.GrandmasterPriority2 = b[n+18]
	p.GrandmasterIdentity = ClockIdentity(binary.BigEndian.Uint64(b[n+19:]))
	p.StepsRemoved = binary.BigEndian.Uint16(b[n+27:])
	p.TimeSource = TimeSource(b[n+29])
	return nil
}

// -- Sync / Delay_Req, Table 44, 44 bytes total --

// SyncDelayReqSize is the fixed wire length of a Sync or Delay_Req message
const SyncDelayReqSize = 44

// SyncDelayReq is the body shared by SYNC and DELAY_REQ
type SyncDelayReq struct {
	Header
	OriginTimestamp WireTimestamp
}

// NewSync builds a SYNC message
func NewSync(domain uint8, source PortIdentity, seq uint16, logInterval LogInterval, twoStep bool) *SyncDelayReq {
	return &SyncDelayReq{Header: newHeader(MessageSync, SyncDelayReqSize, domain, source, seq, logInterval, twoStep)}
}

// NewDelayReq builds a DELAY_REQ message
func NewDelayReq(domain uint8, source PortIdentity, seq uint16) *SyncDelayReq {
	return &SyncDelayReq{Header: newHeader(MessageDelayReq, SyncDelayReqSize, domain, source, seq, MgmtLogMessageInterval, false)}
}

// MarshalBinary encodes a Sync/Delay_Req message
func (p *SyncDelayReq) MarshalBinary() ([]byte, error) {
	b := make([]byte, SyncDelayReqSize)
	marshalHeaderTo(&p.Header, b)
	writeWireTimestamp(b[headerSize:], p.OriginTimestamp)
	return b, nil
}

// UnmarshalBinary decodes a Sync/Delay_Req message
func (p *SyncDelayReq) UnmarshalBinary(b []byte) error {
	if err := checkLen(b, SyncDelayReqSize, "Sync/Delay_Req"); err != nil {
		return err
	}
	if err := unmarshalHeader(&p.Header, b); err != nil {
		return err
	}
	p.OriginTimestamp = readWireTimestamp(b[headerSize:])
	return nil
}

// -- Follow_Up, Table 45, 44 bytes total --

// FollowUpSize is the fixed wire length of a Follow_Up message
const FollowUpSize = 44

// FollowUp carries the precise origin timestamp for a two-step Sync
type FollowUp struct {
	Header
	PreciseOriginTimestamp WireTimestamp
}

// NewFollowUp builds a FOLLOW_UP message
func NewFollowUp(domain uint8, source PortIdentity, seq uint16, logInterval LogInterval) *FollowUp {
	return &FollowUp{Header: newHeader(MessageFollowUp, FollowUpSize, domain, source, seq, logInterval, false)}
}

// MarshalBinary encodes a Follow_Up message
func (p *FollowUp) MarshalBinary() ([]byte, error) {
	b := make([]byte, FollowUpSize)
	marshalHeaderTo(&p.Header, b)
	writeWireTimestamp(b[headerSize:], p.PreciseOriginTimestamp)
	return b, nil
}

// UnmarshalBinary decodes a Follow_Up message
func (p *FollowUp) UnmarshalBinary(b []byte) error {
	if err := checkLen(b, FollowUpSize, "Follow_Up"); err != nil {
		return err
	}
	if err := unmarshalHeader(&p.Header, b); err != nil {
		return err
	}
	p.PreciseOriginTimestamp = readWireTimestamp(b[headerSize:])
	return nil
}

// -- Delay_Resp, Table 46, 54 bytes total --

// DelayRespSize is the fixed wire length of a Delay_Resp message
const DelayRespSize = 54

// DelayResp answers a DELAY_REQ with the master's receive timestamp
type DelayResp struct {
	Header
	ReceiveTimestamp       WireTimestamp
	RequestingPortIdentity PortIdentity
}

// NewDelayResp builds a DELAY_RESP message
func NewDelayResp(domain uint8, source PortIdentity, seq uint16, logInterval LogInterval) *DelayResp {
	return &DelayResp{Header: newHeader(MessageDelayResp, DelayRespSize, domain, source, seq, logInterval, false)}
}

// MarshalBinary encodes a Delay_Resp message
func (p *DelayResp) MarshalBinary() ([]byte, error) {
	b := make([]byte, DelayRespSize)
	marshalHeaderTo(&p.Header, b)
	n := headerSize
	writeWireTimestamp(b[n:], p.ReceiveTimestamp)
	binary.BigEndian.PutUint64(b[n+10:], uint64(p.RequestingPortIdentity.ClockIdentity))
	binary.BigEndian.PutUint16(b[n+18:], p.RequestingPortIdentity.PortNumber)
	return b, nil
}

// UnmarshalBinary decodes a Delay_Resp message
func (p *DelayResp) UnmarshalBinary(b []byte) error {
	if err := checkLen(b, DelayRespSize, "Delay_Resp"); err != nil {
		return err
	}
	if err := unmarshalHeader(&p.Header, b); err != nil {
		return err
	}
	n := headerSize
	p.ReceiveTimestamp = readWireTimestamp(b[n:])
	p.RequestingPortIdentity.ClockIdentity = ClockIdentity(binary.BigEndian.Uint64(b[n+10:]))
	p.RequestingPortIdentity.PortNumber = binary.BigEndian.Uint16(b[n+18:])
	return nil
}

// -- Pdelay_Req, Table 47, 54 bytes total --

// PDelayReqSize is the fixed wire length of a Pdelay_Req message
const PDelayReqSize = 54

// PDelayReq requests a peer delay measurement
type PDelayReq struct {
	Header
	OriginTimestamp WireTimestamp
}

// NewPDelayReq builds a PDELAY_REQ message
func NewPDelayReq(domain uint8, source PortIdentity, seq uint16) *PDelayReq {
	return &PDelayReq{Header: newHeader(MessagePDelayReq, PDelayReqSize, domain, source, seq, MgmtLogMessageInterval, false)}
}

// MarshalBinary encodes a Pdelay_Req message
func (p *PDelayReq) MarshalBinary() ([]byte, error) {
	b := make([]byte, PDelayReqSize)
	marshalHeaderTo(&p.Header, b)
	writeWireTimestamp(b[headerSize:], p.OriginTimestamp)
	// 10 reserved octets follow, already zero
	return b, nil
}

// UnmarshalBinary decodes a Pdelay_Req message
func (p *PDelayReq) UnmarshalBinary(b []byte) error {
	if err := checkLen(b, PDelayReqSize, "Pdelay_Req"); err != nil {
		return err
	}
	if err := unmarshalHeader(&p.Header, b); err != nil {
		return err
	}
	p.OriginTimestamp = readWireTimestamp(b[headerSize:])
	return nil
}

// -- Pdelay_Resp, Table 48, 54 bytes total --

// PDelayRespSize is the fixed wire length of a Pdelay_Resp message
const PDelayRespSize = 54

// PDelayResp answers a PDELAY_REQ with the peer's ingress timestamp
type PDelayResp struct {
	Header
	RequestReceiptTimestamp WireTimestamp
	RequestingPortIdentity  PortIdentity
}

// NewPDelayResp builds a PDELAY_RESP message
func NewPDelayResp(domain uint8, source PortIdentity, seq uint16, twoStep bool) *PDelayResp {
	return &PDelayResp{Header: newHeader(MessagePDelayResp, PDelayRespSize, domain, source, seq, MgmtLogMessageInterval, twoStep)}
}

// MarshalBinary encodes a Pdelay_Resp message
func (p *PDelayResp) MarshalBinary() ([]byte, error) {
	b := make([]byte, PDelayRespSize)
	marshalHeaderTo(&p.Header, b)
	n := headerSize
	writeWireTimestamp(b[n:], p.RequestReceiptTimestamp)
	binary.BigEndian.PutUint64(b[n+10:], uint64(p.RequestingPortIdentity.ClockIdentity))
	binary.BigEndian.PutUint16(b[n+18:], p.RequestingPortIdentity.PortNumber)
	return b, nil
}

// UnmarshalBinary decodes a Pdelay_Resp message
func (p *PDelayResp) UnmarshalBinary(b []byte) error {
	if err := checkLen(b, PDelayRespSize, "Pdelay_Resp"); err != nil {
		return err
	}
	if err := unmarshalHeader(&p.Header, b); err != nil {
		return err
	}
	n := headerSize
	p.RequestReceiptTimestamp = readWireTimestamp(b[n:])
	p.RequestingPortIdentity.ClockIdentity = ClockIdentity(binary.BigEndian.Uint64(b[n+10:]))
	p.RequestingPortIdentity.PortNumber = binary.BigEndian.Uint16(b[n+18:])
	return nil
}

// -- Pdelay_Resp_Follow_Up, Table 49, 54 bytes total --

// PDelayRespFollowUpSize is the fixed wire length of a Pdelay_Resp_Follow_Up message
const PDelayRespFollowUpSize = 54

// PDelayRespFollowUp carries the precise tx timestamp of a two-step Pdelay_Resp
type PDelayRespFollowUp struct {
	Header
	ResponseOriginTimestamp WireTimestamp
	RequestingPortIdentity  PortIdentity
}

// NewPDelayRespFollowUp builds a PDELAY_RESP_FOLLOW_UP message
func NewPDelayRespFollowUp(domain uint8, source PortIdentity, seq uint16) *PDelayRespFollowUp {
	return &PDelayRespFollowUp{Header: newHeader(MessagePDelayRespFollowUp, PDelayRespFollowUpSize, domain, source, seq, MgmtLogMessageInterval, false)}
}

// MarshalBinary encodes a Pdelay_Resp_Follow_Up message
func (p *PDelayRespFollowUp) MarshalBinary() ([]byte, error) {
	b := make([]byte, PDelayRespFollowUpSize)
	marshalHeaderTo(&p.Header, b)
	n := headerSize
	writeWireTimestamp(b[n:], p.ResponseOriginTimestamp)
	binary.BigEndian.PutUint64(b[n+10:], uint64(p.RequestingPortIdentity.ClockIdentity))
	binary.BigEndian.PutUint16(b[n+18:], p.RequestingPortIdentity.PortNumber)
	return b, nil
}

// UnmarshalBinary decodes a Pdelay_Resp_Follow_Up message
func (p *PDelayRespFollowUp) UnmarshalBinary(b []byte) error {
	if err := checkLen(b, PDelayRespFollowUpSize, "Pdelay_Resp_Follow_Up"); err != nil {
		return err
	}
	if err := unmarshalHeader(&p.Header, b); err != nil {
		return err
	}
	n := headerSize
	p.ResponseOriginTimestamp = readWireTimestamp(b[n:])
	p.RequestingPortIdentity.ClockIdentity = ClockIdentity(binary.BigEndian.Uint64(b[n+10:]))
	p.RequestingPortIdentity.PortNumber = binary.BigEndian.Uint16(b[n+18:])
	return nil
}

// DecodePacket probes the header to pick the right body and decodes it.
// Management and Signaling are recognized but not decoded beyond the
// header: the engine acknowledges and ignores them per spec §4.2.6.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("empty datagram")
	}
	msgType := SdoIDAndMsgType(b[0]).MsgType()
	var p Packet
	switch msgType {
	case MessageSync, MessageDelayReq:
		p = &SyncDelayReq{}
	case MessagePDelayReq:
		p = &PDelayReq{}
	case MessagePDelayResp:
		p = &PDelayResp{}
	case MessageFollowUp:
		p = &FollowUp{}
	case MessageDelayResp:
		p = &DelayResp{}
	case MessagePDelayRespFollowUp:
		p = &PDelayRespFollowUp{}
	case MessageAnnounce:
		p = &Announce{}
	case MessageManagement, MessageSignaling:
		h := &Header{}
		if err := unmarshalHeader(h, b); err != nil {
			return nil, err
		}
		return &Unsupported{Header: *h}, nil
	default:
		return nil, fmt.Errorf("unsupported message type %s", msgType)
	}
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return p, nil
}

// Unsupported wraps messages this core decodes only far enough to
// recognize and discard: MANAGEMENT and SIGNALING (spec §4.2.6).
type Unsupported struct {
	Header
}

// MarshalBinary is unsupported; Unsupported messages are never sent
func (p *Unsupported) MarshalBinary() ([]byte, error) {
	return nil, fmt.Errorf("cannot marshal unsupported message type %s", p.MessageType())
}

// UnmarshalBinary is unsupported; Unsupported is only built by DecodePacket
func (p *Unsupported) UnmarshalBinary([]byte) error {
	return fmt.Errorf("cannot unmarshal into Unsupported")
}
