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

package extref

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	b := EncodeFrame(IDAck, []byte{1, 2, 3})
	f, err := DecodeFrame(b)
	require.NoError(t, err)
	require.Equal(t, byte(IDAck), f.ID)
	require.Equal(t, []byte{1, 2, 3}, f.Payload)
	require.True(t, f.IsAck())
}

func TestDecodeFrameRejectsBadSync(t *testing.T) {
	b := EncodeFrame(IDAck, nil)
	b[0] = 0x00
	_, err := DecodeFrame(b)
	require.Error(t, err)
}

func TestDecodeFrameRejectsBadChecksum(t *testing.T) {
	b := EncodeFrame(IDNack, []byte{0xAA})
	b[len(b)-3] ^= 0xFF
	_, err := DecodeFrame(b)
	require.Error(t, err)
}

func TestDecodeFrameRejectsLengthMismatch(t *testing.T) {
	b := EncodeFrame(IDAck, []byte{1, 2, 3})
	_, err := DecodeFrame(b[:len(b)-1])
	require.Error(t, err)
}
