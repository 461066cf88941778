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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ptpordc/ptpordc/ptptime"
)

func TestSetReplacesValue(t *testing.T) {
	c := NewSoftwareClock(ptptime.Time{}, time.Hour)
	defer c.Close()
	c.Set(ptptime.Time{Sec: 100, Nsec: 500})
	got := c.Get()
	require.Equal(t, int32(100), got.Sec)
	require.Equal(t, int32(500), got.Nsec)
}

func TestAdjustFreqClampsToMax(t *testing.T) {
	c := NewSoftwareClock(ptptime.Time{}, time.Hour)
	defer c.Close()
	require.NoError(t, c.AdjustFreq(ADJFreqMax*10))
	require.Equal(t, int64(ADJFreqMax), c.ppb.Load())
	require.NoError(t, c.AdjustFreq(-ADJFreqMax*10))
	require.Equal(t, int64(-ADJFreqMax), c.ppb.Load())
}

func TestClockAdvancesOverTime(t *testing.T) {
	c := NewSoftwareClock(ptptime.Time{}, time.Millisecond)
	defer c.Close()
	time.Sleep(30 * time.Millisecond)
	got := c.Get()
	require.True(t, got.Sec > 0 || got.Nsec > 0)
}

func TestGetIsSafeForConcurrentReaders(t *testing.T) {
	c := NewSoftwareClock(ptptime.Time{}, time.Millisecond)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.Get()
			}
		}()
	}
	wg.Wait()
}
