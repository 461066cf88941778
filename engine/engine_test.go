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
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ptpordc/ptpordc/bmc"
	"github.com/ptpordc/ptpordc/hwclock"
	ptp "github.com/ptpordc/ptpordc/ptp/protocol"
	"github.com/ptpordc/ptpordc/ptpnet"
	"github.com/ptpordc/ptpordc/ptptime"
)

func masterCapableConfig(id ptp.ClockIdentity) Config {
	cfg := DefaultConfig(id)
	cfg.SlaveOnly = false
	cfg.ClockClass = 6
	cfg.Priority1 = 100
	return cfg
}

func runEngine(t *testing.T, e *Engine) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Run(ctx) }()
	return cancel
}

func TestEngineBecomesMasterWithEmptyForeignRing(t *testing.T) {
	transport := ptpnet.NewMemoryTransport(net.UDPAddr{Port: 319})
	clock := hwclock.NewSoftwareClock(ptptime.Time{}, time.Millisecond)
	defer clock.Close()

	e := New(masterCapableConfig(ptp.ClockIdentity(1)), transport, clock)
	cancel := runEngine(t, e)
	defer cancel()

	require.Eventually(t, func() bool {
		return e.Status().PortState == ptp.PortStateMaster
	}, time.Second, time.Millisecond)
}

func TestSlaveOnlyEngineStaysListeningWithEmptyForeignRing(t *testing.T) {
	transport := ptpnet.NewMemoryTransport(net.UDPAddr{Port: 319})
	clock := hwclock.NewSoftwareClock(ptptime.Time{}, time.Millisecond)
	defer clock.Close()

	e := New(DefaultConfig(ptp.ClockIdentity(2)), transport, clock)
	cancel := runEngine(t, e)
	defer cancel()

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, ptp.PortStateListening, e.Status().PortState)
}

func TestEngineLocksToBetterForeignMaster(t *testing.T) {
	transport := ptpnet.NewMemoryTransport(net.UDPAddr{Port: 319})
	clock := hwclock.NewSoftwareClock(ptptime.Time{}, time.Millisecond)
	defer clock.Close()

	cfg := DefaultConfig(ptp.ClockIdentity(3))
	e := New(cfg, transport, clock)
	cancel := runEngine(t, e)
	defer cancel()

	master := ptp.PortIdentity{ClockIdentity: ptp.ClockIdentity(0x1000), PortNumber: 1}
	a := ptp.NewAnnounce(cfg.Domain, master, 0, cfg.LogAnnounceInterval)
	a.GrandmasterIdentity = master.ClockIdentity
	a.GrandmasterPriority1 = 10
	a.GrandmasterPriority2 = 10
	a.GrandmasterClockQuality = ptp.ClockQuality{ClockClass: 6, ClockAccuracy: ptp.ClockAccuracyUnknown}
	ab, err := a.MarshalBinary()
	require.NoError(t, err)

	from := net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 320}
	transport.DeliverGeneral(ab, from, time.Now())

	require.Eventually(t, func() bool {
		return e.Status().PortState == ptp.PortStateUncalibrated || e.Status().PortState == ptp.PortStateSlave
	}, time.Second, time.Millisecond)
}

func TestForeignMasterDSUpdateThenBest(t *testing.T) {
	f := NewForeignMasterDS(2)
	ourID := ptp.ClockIdentity(0xff)

	pidA := ptp.PortIdentity{ClockIdentity: 1, PortNumber: 1}
	pidB := ptp.PortIdentity{ClockIdentity: 2, PortNumber: 1}

	good := bmc.Candidate{SourcePortIdentity: pidA, GrandmasterIdentity: 1, GrandmasterPriority1: 10, GrandmasterPriority2: 10}
	bad := bmc.Candidate{SourcePortIdentity: pidB, GrandmasterIdentity: 2, GrandmasterPriority1: 200, GrandmasterPriority2: 200}

	f.Update(pidA, good)
	f.Update(pidB, bad)

	best, ok := f.Best(ourID)
	require.True(t, ok)
	require.Equal(t, pidA, best.SourcePortIdentity)
}

func TestForeignMasterDSRingOverwritesOldestOnOverflow(t *testing.T) {
	f := NewForeignMasterDS(1)
	pidA := ptp.PortIdentity{ClockIdentity: 1, PortNumber: 1}
	pidB := ptp.PortIdentity{ClockIdentity: 2, PortNumber: 1}

	f.Update(pidA, bmc.Candidate{SourcePortIdentity: pidA})
	require.Equal(t, 1, f.Count)
	f.Update(pidB, bmc.Candidate{SourcePortIdentity: pidB})
	require.Equal(t, 1, f.Count)
	require.Equal(t, pidB, f.Records[0].SourcePortIdentity)
}

func TestAnnounceReceiptTimeoutClearsForeignRing(t *testing.T) {
	transport := ptpnet.NewMemoryTransport(net.UDPAddr{Port: 319})
	clock := hwclock.NewSoftwareClock(ptptime.Time{}, time.Millisecond)
	defer clock.Close()

	cfg := DefaultConfig(ptp.ClockIdentity(4))
	cfg.LogAnnounceInterval = -6 // ~1/64s per interval, short receipt timeout for the test
	cfg.AnnounceReceiptTimeout = 1
	e := New(cfg, transport, clock)
	cancel := runEngine(t, e)
	defer cancel()

	master := ptp.PortIdentity{ClockIdentity: ptp.ClockIdentity(0x2000), PortNumber: 1}
	a := ptp.NewAnnounce(cfg.Domain, master, 0, cfg.LogAnnounceInterval)
	a.GrandmasterIdentity = master.ClockIdentity
	ab, err := a.MarshalBinary()
	require.NoError(t, err)
	transport.DeliverGeneral(ab, net.UDPAddr{IP: net.ParseIP("10.0.0.3"), Port: 320}, time.Now())

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.foreignDS.Count == 1
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.foreignDS.Count == 0
	}, 2*time.Second, time.Millisecond)
}
