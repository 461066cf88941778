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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSdoIDAndMsgType(t *testing.T) {
	v := NewSdoIDAndMsgType(MessageSignaling)
	require.Equal(t, MessageSignaling, v.MsgType())
	require.Equal(t, uint8(TransportSpecificDefault), uint8(v)>>4)
}

func TestMessageTypeIsEvent(t *testing.T) {
	require.True(t, MessageSync.IsEvent())
	require.True(t, MessageDelayReq.IsEvent())
	require.True(t, MessagePDelayReq.IsEvent())
	require.True(t, MessagePDelayResp.IsEvent())
	require.False(t, MessageFollowUp.IsEvent())
	require.False(t, MessageAnnounce.IsEvent())
	require.False(t, MessageDelayResp.IsEvent())
	require.False(t, MessageManagement.IsEvent())
}

func TestCorrectionNanoseconds(t *testing.T) {
	c := NewCorrection(1500)
	require.Equal(t, int64(1500), c.Nanoseconds())
	require.Contains(t, c.String(), "1500ns")
}

func TestClockIdentityFromMAC(t *testing.T) {
	mac, err := net.ParseMAC("00:11:22:33:44:55")
	require.NoError(t, err)
	ci, err := NewClockIdentity(mac)
	require.NoError(t, err)
	require.Equal(t, ClockIdentity(0x001122fffe334455), ci)

	_, err = NewClockIdentity(net.HardwareAddr{0x00, 0x11})
	require.Error(t, err)
}

func TestPortIdentityOrdering(t *testing.T) {
	a := PortIdentity{ClockIdentity: 1, PortNumber: 1}
	b := PortIdentity{ClockIdentity: 1, PortNumber: 2}
	c := PortIdentity{ClockIdentity: 2, PortNumber: 1}

	require.True(t, a.Less(b))
	require.True(t, a.Less(c))
	require.True(t, a.Equal(a))
	require.False(t, a.Equal(b))
}

func TestPTPSecondsRoundTrip(t *testing.T) {
	v := uint64(1<<48 - 1)
	s := NewPTPSeconds(v)
	require.Equal(t, v, s.Seconds())
}

func TestWireTimestampTime(t *testing.T) {
	ts := WireTimestamp{Seconds: NewPTPSeconds(1000), Nanoseconds: 500}
	want := time.Unix(1000, 500).UTC()
	require.Equal(t, want, ts.Time())
}

func TestPortStateString(t *testing.T) {
	require.Equal(t, "SLAVE", PortStateSlave.String())
	require.Equal(t, "UNKNOWN", PortState(0).String())
}

func TestDelayMechanismString(t *testing.T) {
	require.Equal(t, "E2E", DelayMechanismE2E.String())
	require.Equal(t, "P2P", DelayMechanismP2P.String())
	require.Equal(t, "DISABLED", DelayMechanismDisabled.String())
}

func TestLogIntervalDuration(t *testing.T) {
	require.Equal(t, time.Second, LogInterval(0).Duration())
	require.Equal(t, 2*time.Second, LogInterval(1).Duration())
	require.Equal(t, 500*time.Millisecond, LogInterval(-1).Duration())
}
