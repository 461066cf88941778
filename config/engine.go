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

package config

import (
	"github.com/ptpordc/ptpordc/engine"
	ptp "github.com/ptpordc/ptpordc/ptp/protocol"
)

// EngineConfig builds a PTP-ENGINE configuration from the parsed options,
// narrowing the clock-class special case of spec §6.4: slave-only forces
// clock-class to 255 regardless of what was configured.
func (c Config) EngineConfig(identity ptp.ClockIdentity) engine.Config {
	class := ptp.ClockClass(c.ClockClass)
	if c.SlaveOnly {
		class = ptp.ClockClassSlaveOnly
	}
	return engine.Config{
		Identity:                identity,
		Domain:                  c.DomainNumber,
		Priority1:               c.Priority1,
		Priority2:               c.Priority2,
		ClockClass:              class,
		ClockAccuracy:           ptp.ClockAccuracy(c.ClockAccuracy),
		SlaveOnly:               c.SlaveOnly,
		LogAnnounceInterval:     ptp.LogInterval(c.AnnounceInterval),
		LogSyncInterval:         ptp.LogInterval(c.SyncInterval),
		LogMinDelayReqInterval:  ptp.LogInterval(c.MinDelayReqInterval),
		LogMinPdelayReqInterval: ptp.LogInterval(c.MinPdelayReqInterval),
		AnnounceReceiptTimeout:  c.AnnounceReceiptTimeout,
		DelayMechanism:          c.DelayMechanismValue(),
		ForeignMasterCap:        c.MaxForeignRecords,
		NoAdjust:                c.Servo.NoAdjust,
		NoResetClock:            c.Servo.NoResetClock,
	}
}
