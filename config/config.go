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

// Package config loads the options of spec §6.4 from a YAML file, grounded
// on ptp/sptp/client/config.go's ReadConfig pattern.
package config

import (
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	ptp "github.com/ptpordc/ptpordc/ptp/protocol"
)

// ServoConfig is the "servo {...}" option group of spec §6.4.
type ServoConfig struct {
	AP           int64 `yaml:"ap"`
	AI           int64 `yaml:"ai"`
	SDelay       int   `yaml:"s_delay"`
	SOffset      int   `yaml:"s_offset"`
	NoAdjust     bool  `yaml:"no_adjust"`
	NoResetClock bool  `yaml:"no_reset_clock"`
}

// Config is the init-time configuration of spec §6.4; no runtime
// reconfiguration is specified, so every field here is read once at
// INITIALIZING.
type Config struct {
	Interface string `yaml:"interface"`

	SlaveOnly             bool          `yaml:"slave-only"`
	AnnounceInterval      int8          `yaml:"announce-interval"`
	SyncInterval          int8          `yaml:"sync-interval"`
	MinDelayReqInterval   int8          `yaml:"min-delay-req-interval"`
	MinPdelayReqInterval  int8          `yaml:"min-pdelay-req-interval"`
	AnnounceReceiptTimeout uint8        `yaml:"announce-receipt-timeout"`
	DelayMechanism        string        `yaml:"delay-mechanism"`
	DomainNumber          uint8         `yaml:"domain-number"`
	Priority1             uint8         `yaml:"priority-1"`
	Priority2             uint8         `yaml:"priority-2"`
	ClockClass            uint8         `yaml:"clock-class"`
	ClockAccuracy         uint8         `yaml:"clock-accuracy"`
	InboundLatency        time.Duration `yaml:"inbound-latency"`
	OutboundLatency       time.Duration `yaml:"outbound-latency"`
	MaxForeignRecords     int           `yaml:"max-foreign-records"`

	Servo ServoConfig `yaml:"servo"`

	ExtRefDevice string `yaml:"ext-ref-device"`
	ExtRefBaud   int    `yaml:"ext-ref-baud"`

	MonitoringAddr string `yaml:"monitoring-addr"`
}

// Default returns the spec's numeric defaults, mirrored from engine.DefaultConfig
// and servo.DefaultController so a config file only needs to override what
// it cares about.
func Default() Config {
	return Config{
		Interface:              "eth0",
		SlaveOnly:              true,
		AnnounceInterval:       1,
		SyncInterval:           0,
		AnnounceReceiptTimeout: 3,
		DelayMechanism:         "E2E",
		Priority1:              128,
		Priority2:              128,
		ClockClass:             255,
		MaxForeignRecords:      5,
		Servo:                  ServoConfig{AP: 2, AI: 16},
		ExtRefBaud:             9600,
		MonitoringAddr:         ":0",
	}
}

// ReadConfig reads and parses a YAML config file over the spec's defaults.
func ReadConfig(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// DelayMechanismValue parses the delay-mechanism string option.
func (c Config) DelayMechanismValue() ptp.DelayMechanism {
	if c.DelayMechanism == "P2P" {
		return ptp.DelayMechanismP2P
	}
	return ptp.DelayMechanismE2E
}
