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
	ptp "github.com/ptpordc/ptpordc/ptp/protocol"
)

// Status is a point-in-time, lock-safe snapshot of the datasets a CLI or
// management client cares about.
type Status struct {
	PortState        ptp.PortState
	StepsRemoved     uint16
	OffsetFromMaster int64 // ns
	MeanPathDelay    int64 // ns
	ParentIdentity   ptp.ClockIdentity
	GrandmasterID    ptp.ClockIdentity
}

// Status takes the lock and snapshots the datasets stateLoop otherwise
// owns exclusively.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		PortState:        e.portDS.PortState,
		StepsRemoved:     e.currentDS.StepsRemoved,
		OffsetFromMaster: e.currentDS.OffsetFromMaster.Duration().Nanoseconds(),
		MeanPathDelay:    e.currentDS.MeanPathDelay.Duration().Nanoseconds(),
		ParentIdentity:   e.parentDS.ParentPortIdentity.ClockIdentity,
		GrandmasterID:    e.parentDS.GrandmasterIdentity,
	}
}
