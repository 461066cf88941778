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

package servo

import (
	log "github.com/sirupsen/logrus"

	"github.com/ptpordc/ptpordc/ptptime"
)

// DefaultAP and DefaultAI are the proportional/integral divisors from
// spec §4.4.3.
const (
	DefaultAP int64 = 2
	DefaultAI int64 = 16
)

// Controller is the PI frequency controller of spec §4.4.3: it turns a
// filtered offsetFromMaster into either a step command or a slew
// adjust_freq value.
type Controller struct {
	ap, ai        int64
	observedDrift int64 // ppb, clamped to ±ADJFreqMax on every update
}

// NewController builds a Controller with explicit ap/ai divisors.
func NewController(ap, ai int64) *Controller {
	return &Controller{ap: ap, ai: ai}
}

// DefaultController builds a Controller with the spec's default gains.
func DefaultController() *Controller {
	return NewController(DefaultAP, DefaultAI)
}

// Result is the outcome of one Sample call.
type Result struct {
	State State
	// StepOffset is populated when State == StateStep: the offset the
	// caller must subtract from HW-CLOCK's current value and write back.
	StepOffset ptptime.Time
	// FreqAdjustmentPPB is populated when State == StateSlew: the value
	// to pass to HardwareClock.AdjustFreq.
	FreqAdjustmentPPB int64
}

// Sample runs one clock-update iteration against a filtered
// offsetFromMaster, per spec §4.4.3. logSyncInterval is Port-DS's
// log-sync-interval (log2 of the sync period in seconds); noAdjust and
// noResetClock mirror the engine's configuration flags of the same name.
func (c *Controller) Sample(offset ptptime.Time, logSyncInterval int8, noAdjust, noResetClock bool) Result {
	if offset.Sec != 0 || absInt64(int64(offset.Nsec)) > StepThreshold {
		return c.stepBranch(offset, noAdjust, noResetClock)
	}
	return c.slewBranch(int64(offset.Nsec), logSyncInterval)
}

func (c *Controller) stepBranch(offset ptptime.Time, noAdjust, noResetClock bool) Result {
	switch {
	case !noAdjust && !noResetClock:
		c.Reset()
		return Result{State: StateStep, StepOffset: offset}
	case !noAdjust && noResetClock:
		totalNs := int64(offset.Sec)*1_000_000_000 + int64(offset.Nsec)
		adj := int64(ADJFreqMax)
		if totalNs > 0 {
			adj = -ADJFreqMax
		}
		log.Debug("servo: step-sized offset with no_reset_clock set, saturating slew")
		return Result{State: StateSlew, FreqAdjustmentPPB: adj}
	default:
		return Result{State: StateInit}
	}
}

func (c *Controller) slewBranch(ns int64, logSyncInterval int8) Result {
	nsNorm := normalizeToOneSecond(ns, logSyncInterval)
	c.observedDrift = clampPPB(c.observedDrift + nsNorm/c.ai)
	adj := nsNorm/c.ap + c.observedDrift
	return Result{State: StateSlew, FreqAdjustmentPPB: clampPPB(-adj)}
}

// normalizeToOneSecond scales a per-sync-interval nanosecond offset to a
// per-second rate: interval = 2^logSyncInterval seconds, so the scale
// factor is 2^(-logSyncInterval).
func normalizeToOneSecond(ns int64, logSyncInterval int8) int64 {
	shift := -int(logSyncInterval)
	if shift >= 0 {
		return ns << uint(shift)
	}
	return ns >> uint(-shift)
}

// Reset clears the integrator, e.g. after a step.
func (c *Controller) Reset() {
	c.observedDrift = 0
}

// ObservedDrift returns the current integrator value in ppb.
func (c *Controller) ObservedDrift() int64 {
	return c.observedDrift
}
