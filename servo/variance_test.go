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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVarianceFilterZeroVarianceOnConstantInput(t *testing.T) {
	f, err := NewVarianceFilter("")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		f.Add(42)
	}
	v, err := f.OffsetScaledLogVariance()
	require.NoError(t, err)
	require.Equal(t, uint16(0), v)
}

func TestVarianceFilterNonZeroOnNoisyInput(t *testing.T) {
	f, err := NewVarianceFilter("")
	require.NoError(t, err)
	samples := []float64{10, -10, 20, -20, 5, -5, 15, -15}
	for _, s := range samples {
		f.Add(s)
	}
	v, err := f.OffsetScaledLogVariance()
	require.NoError(t, err)
	require.NotZero(t, v)
}

func TestVarianceFilterRejectsBadFormula(t *testing.T) {
	_, err := NewVarianceFilter("this is not valid govaluate (")
	require.Error(t, err)
}

func TestVarianceFilterReset(t *testing.T) {
	f, err := NewVarianceFilter("")
	require.NoError(t, err)
	f.Add(100)
	f.Add(-100)
	f.Reset()
	v, err := f.OffsetScaledLogVariance()
	require.NoError(t, err)
	require.Equal(t, uint16(0), v)
}
