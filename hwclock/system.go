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

package hwclock

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ptpordc/ptpordc/clock"
	"github.com/ptpordc/ptpordc/ptptime"
)

// SystemClock is a HardwareClock backed by a real OS clockid disciplined
// through CLOCK_ADJTIME, grounded on clock.Adjtime/AdjFreqPPB/Step. It is
// the deployable counterpart of SoftwareClock: where SoftwareClock is a
// free-running register pair used for engine/extref tests, SystemClock
// drives CLOCK_REALTIME (or a CLOCK_REALTIME-shaped PHC clockid, per
// phc.Device.ClockID) on a real host.
type SystemClock struct {
	mu      sync.Mutex
	clockID int32
}

// NewSystemClock wraps the given clockid, defaulting to CLOCK_REALTIME
// when clockID is zero-valued from an unset caller.
func NewSystemClock(clockID int32) *SystemClock {
	return &SystemClock{clockID: clockID}
}

func (c *SystemClock) Get() ptptime.Time {
	var ts unix.Timespec
	if err := unix.ClockGettime(c.clockID, &ts); err != nil {
		return ptptime.Time{}
	}
	return ptptime.FromDuration(time.Duration(ts.Sec)*time.Second + time.Duration(ts.Nsec))
}

func (c *SystemClock) Set(t ptptime.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := t.Duration()
	ts := unix.NsecToTimespec(d.Nanoseconds())
	_ = unix.ClockSettime(c.clockID, &ts)
}

func (c *SystemClock) AdjustFreq(ppb int64) error {
	if ppb > ADJFreqMax {
		ppb = ADJFreqMax
	} else if ppb < -ADJFreqMax {
		ppb = -ADJFreqMax
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := clock.AdjFreqPPB(c.clockID, float64(ppb))
	return err
}

// Step applies a one-shot offset correction through AdjSetOffset, used by
// callers that want a kernel-assisted step instead of Set's direct write.
func (c *SystemClock) Step(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := clock.Step(c.clockID, d)
	return err
}
