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
	"testing"

	"github.com/stretchr/testify/require"
)

var testSource = PortIdentity{ClockIdentity: 0x00112233ff44aabb, PortNumber: 1}

func TestAnnounceRoundTrip(t *testing.T) {
	a := NewAnnounce(0, testSource, 42, -3)
	a.OriginTimestamp = WireTimestamp{Seconds: NewPTPSeconds(1700000000), Nanoseconds: 123456}
	a.GrandmasterPriority1 = 128
	a.GrandmasterPriority2 = 128
	a.GrandmasterClockQuality = ClockQuality{ClockClass: ClockClass6, ClockAccuracy: ClockAccuracyNanosecond100, OffsetScaledLogVariance: 0x4e5d}
	a.GrandmasterIdentity = testSource.ClockIdentity
	a.StepsRemoved = 0
	a.TimeSource = TimeSourceGNSS

	b, err := a.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, AnnounceSize)

	var got Announce
	require.NoError(t, got.UnmarshalBinary(b))
	require.Equal(t, *a, got)
}

func TestSyncDelayReqRoundTrip(t *testing.T) {
	s := NewSync(0, testSource, 7, -3, true)
	s.OriginTimestamp = WireTimestamp{Seconds: NewPTPSeconds(100), Nanoseconds: 7}
	b, err := s.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, SyncDelayReqSize)

	var got SyncDelayReq
	require.NoError(t, got.UnmarshalBinary(b))
	require.Equal(t, *s, got)
	require.True(t, got.FlagField&FlagTwoStep != 0)
}

func TestFollowUpRoundTrip(t *testing.T) {
	f := NewFollowUp(0, testSource, 7, -3)
	f.PreciseOriginTimestamp = WireTimestamp{Seconds: NewPTPSeconds(100), Nanoseconds: 8}
	b, err := f.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, FollowUpSize)

	var got FollowUp
	require.NoError(t, got.UnmarshalBinary(b))
	require.Equal(t, *f, got)
}

func TestDelayReqRespRoundTrip(t *testing.T) {
	req := NewDelayReq(0, testSource, 3)
	req.OriginTimestamp = WireTimestamp{Seconds: NewPTPSeconds(55), Nanoseconds: 1}
	b, err := req.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, SyncDelayReqSize)

	var gotReq SyncDelayReq
	require.NoError(t, gotReq.UnmarshalBinary(b))
	require.Equal(t, *req, gotReq)

	resp := NewDelayResp(0, testSource, 3, -3)
	resp.ReceiveTimestamp = WireTimestamp{Seconds: NewPTPSeconds(55), Nanoseconds: 2}
	resp.RequestingPortIdentity = testSource
	b, err = resp.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, DelayRespSize)

	var gotResp DelayResp
	require.NoError(t, gotResp.UnmarshalBinary(b))
	require.Equal(t, *resp, gotResp)
}

func TestPDelayRoundTrip(t *testing.T) {
	req := NewPDelayReq(0, testSource, 9)
	req.OriginTimestamp = WireTimestamp{Seconds: NewPTPSeconds(1), Nanoseconds: 1}
	b, err := req.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, PDelayReqSize)
	var gotReq PDelayReq
	require.NoError(t, gotReq.UnmarshalBinary(b))
	require.Equal(t, *req, gotReq)

	resp := NewPDelayResp(0, testSource, 9, true)
	resp.RequestReceiptTimestamp = WireTimestamp{Seconds: NewPTPSeconds(1), Nanoseconds: 2}
	resp.RequestingPortIdentity = testSource
	b, err = resp.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, PDelayRespSize)
	var gotResp PDelayResp
	require.NoError(t, gotResp.UnmarshalBinary(b))
	require.Equal(t, *resp, gotResp)

	fu := NewPDelayRespFollowUp(0, testSource, 9)
	fu.ResponseOriginTimestamp = WireTimestamp{Seconds: NewPTPSeconds(1), Nanoseconds: 3}
	fu.RequestingPortIdentity = testSource
	b, err = fu.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, PDelayRespFollowUpSize)
	var gotFU PDelayRespFollowUp
	require.NoError(t, gotFU.UnmarshalBinary(b))
	require.Equal(t, *fu, gotFU)
}

func TestDecodePacketDispatchesByType(t *testing.T) {
	a := NewAnnounce(0, testSource, 1, -3)
	b, err := a.MarshalBinary()
	require.NoError(t, err)
	p, err := DecodePacket(b)
	require.NoError(t, err)
	require.Equal(t, MessageAnnounce, p.MessageType())

	s := NewSync(0, testSource, 1, -3, false)
	b, err = s.MarshalBinary()
	require.NoError(t, err)
	p, err = DecodePacket(b)
	require.NoError(t, err)
	require.Equal(t, MessageSync, p.MessageType())
}

func TestDecodePacketManagementIsAcknowledgedNotDecoded(t *testing.T) {
	h := newHeader(MessageManagement, headerSize, 0, testSource, 5, MgmtLogMessageInterval, false)
	b := make([]byte, headerSize)
	marshalHeaderTo(&h, b)

	p, err := DecodePacket(b)
	require.NoError(t, err)
	require.Equal(t, MessageManagement, p.MessageType())
	_, ok := p.(*Unsupported)
	require.True(t, ok)

	_, err = p.MarshalBinary()
	require.Error(t, err)
}

func TestDecodePacketRejectsShortBuffer(t *testing.T) {
	_, err := DecodePacket([]byte{0x0b, 0x02})
	require.Error(t, err)
}

func TestDecodePacketRejectsUnknownType(t *testing.T) {
	b := make([]byte, headerSize)
	b[0] = byte(NewSdoIDAndMsgType(MessageType(0x0f)))
	_, err := DecodePacket(b)
	require.Error(t, err)
}
