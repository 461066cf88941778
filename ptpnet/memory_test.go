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

package ptpnet

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryTransportDeliverAndRecvEvent(t *testing.T) {
	m := NewMemoryTransport(net.UDPAddr{Port: 319})
	from := net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 319}
	now := time.Now()
	m.DeliverEvent([]byte{1, 2, 3}, from, now)

	r, err := m.RecvEvent()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, r.Data)
	require.Equal(t, now, r.RxTime)
	require.Equal(t, from.IP.String(), r.From.IP.String())
}

func TestMemoryTransportSendEventIsObservable(t *testing.T) {
	m := NewMemoryTransport(net.UDPAddr{Port: 319})
	_, err := m.SendEvent([]byte{9, 9})
	require.NoError(t, err)
	require.Equal(t, []byte{9, 9}, m.SentEvent())
}

func TestMemoryTransportCloseUnblocksRecv(t *testing.T) {
	m := NewMemoryTransport(net.UDPAddr{Port: 319})
	done := make(chan error, 1)
	go func() {
		_, err := m.RecvGeneral()
		done <- err
	}()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, m.Close())
	require.ErrorIs(t, <-done, ErrClosed)
}
