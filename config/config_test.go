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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	ptp "github.com/ptpordc/ptpordc/ptp/protocol"
)

func TestReadConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ptpordc.yaml")
	body := []byte("interface: eth1\npriority-1: 10\nslave-only: false\nclock-class: 6\ndelay-mechanism: P2P\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	c, err := ReadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "eth1", c.Interface)
	require.Equal(t, uint8(10), c.Priority1)
	require.False(t, c.SlaveOnly)
	require.Equal(t, uint8(6), c.ClockClass)
	require.Equal(t, ptp.DelayMechanismP2P, c.DelayMechanismValue())
	// untouched fields keep the default
	require.Equal(t, 5, c.MaxForeignRecords)
	require.Equal(t, int64(2), c.Servo.AP)
}

func TestReadConfigMissingFile(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestEngineConfigForcesSlaveOnlyClockClass(t *testing.T) {
	c := Default()
	c.ClockClass = 6 // ignored: slave-only wins
	ec := c.EngineConfig(ptp.ClockIdentity(1))
	require.Equal(t, ptp.ClockClassSlaveOnly, ec.ClockClass)
}
