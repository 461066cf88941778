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

// Package hwclock implements HW-CLOCK: a disciplined clock with get/set/
// adjust_freq operations, modeled as a free-running register pair rather
// than a PHC ioctl device (the MAC/PHC driver itself is out of scope, per
// spec §1). The register pair is read lock-free using the high-half/
// low-half retry pattern called out in the Design Notes.
package hwclock

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ptpordc/ptpordc/hostendian"
	"github.com/ptpordc/ptpordc/ptptime"
)

// ADJFreqMax is the saturation bound on adjust_freq, spec §3.5/§9.
const ADJFreqMax = 5_120_000

// HardwareClock is the contract engine and extref depend on, matching
// phc.DeviceController's role as a mockable seam in the teacher.
type HardwareClock interface {
	// Get returns the current clock value. Safe to call concurrently
	// with Set/AdjustFreq from any goroutine.
	Get() ptptime.Time
	// Set atomically replaces the clock value; used only for step corrections.
	Set(ptptime.Time)
	// AdjustFreq sets the fractional tick-rate adjustment in ppb,
	// saturated to ±ADJFreqMax.
	AdjustFreq(ppb int64) error
}

// SoftwareClock is a HardwareClock modeled as a monotonic-driven register
// pair: a background goroutine advances (sec, nsec) by elapsed monotonic
// time scaled by the current ppb adjustment, the same AdjFreq/Step
// contract split clock.AdjFreqPPB/clock.Step expose for a real PHC.
//
// The low half (nsec) is always written before the high half (sec), so a
// reader that sees an unchanged high half before and after reading the
// low half has observed a consistent pair; otherwise it retries. This is
// the lock-free high-half/low-half pattern from the Design Notes.
type SoftwareClock struct {
	sec  atomic.Int64
	nsec atomic.Int64
	ppb  atomic.Int64

	mu       sync.Mutex // serializes writers: Set, AdjustFreq, and the ticker
	lastTick time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSoftwareClock builds a SoftwareClock initialized to t and starts its
// background advance loop ticking at the given resolution.
func NewSoftwareClock(t ptptime.Time, resolution time.Duration) *SoftwareClock {
	c := &SoftwareClock{stop: make(chan struct{})}
	c.sec.Store(int64(t.Sec))
	c.nsec.Store(int64(t.Nsec))
	c.lastTick = time.Now()
	go c.run(resolution)
	return c
}

func (c *SoftwareClock) run(resolution time.Duration) {
	ticker := time.NewTicker(resolution)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.advance(now)
		}
	}
}

func (c *SoftwareClock) advance(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := now.Sub(c.lastTick)
	c.lastTick = now
	if elapsed <= 0 {
		return
	}
	ppb := c.ppb.Load()
	deltaNs := int64(elapsed) + int64(elapsed)*ppb/1_000_000_000
	c.addNsLocked(deltaNs)
}

// addNsLocked must be called with mu held: it writes the low half first,
// then the high half, preserving the retry invariant for Get.
func (c *SoftwareClock) addNsLocked(deltaNs int64) {
	nsec := c.nsec.Load() + deltaNs
	carry := nsec / 1_000_000_000
	nsec %= 1_000_000_000
	if nsec < 0 {
		nsec += 1_000_000_000
		carry--
	}
	c.nsec.Store(nsec)
	if carry != 0 {
		c.sec.Add(carry)
	}
}

// Get returns the current clock value, retrying if a concurrent writer's
// high-half update straddles the low-half read.
func (c *SoftwareClock) Get() ptptime.Time {
	for {
		s1 := c.sec.Load()
		n := c.nsec.Load()
		s2 := c.sec.Load()
		if s1 == s2 {
			return ptptime.Time{Sec: int32(s1), Nsec: int32(n)}
		}
	}
}

// Set atomically replaces the clock value: a coarse step correction.
func (c *SoftwareClock) Set(t ptptime.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nsec.Store(int64(t.Nsec))
	c.sec.Store(int64(t.Sec))
	c.lastTick = time.Now()
}

// AdjustFreq sets the fractional tick-rate adjustment, saturated to
// ±ADJFreqMax.
func (c *SoftwareClock) AdjustFreq(ppb int64) error {
	if ppb > ADJFreqMax {
		ppb = ADJFreqMax
	}
	if ppb < -ADJFreqMax {
		ppb = -ADJFreqMax
	}
	c.ppb.Store(ppb)
	return nil
}

// Close stops the background advance loop.
func (c *SoftwareClock) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// hostByteOrder reports the byte order used when the clock's register
// pair is reinterpreted as a wire-style buffer (e.g. for a future memory-
// mapped backing store); hostendian.Order is the teacher's established
// way of answering that question portably.
func hostByteOrder() string {
	if hostendian.IsBigEndian {
		return "big"
	}
	return "little"
}

// String renders the clock's current value for logging/debugging.
func (c *SoftwareClock) String() string {
	t := c.Get()
	return fmt.Sprintf("SoftwareClock(%s, endian=%s)", t, hostByteOrder())
}
