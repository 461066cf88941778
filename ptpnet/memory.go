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
	"errors"
	"net"
	"time"
)

// ErrClosed is returned by a closed MemoryTransport's Recv* methods.
var ErrClosed = errors.New("ptpnet: transport closed")

// MemoryTransport is an in-process Transport backed by channels instead of
// sockets, used to drive the engine's state machine in tests without a
// real network interface.
type MemoryTransport struct {
	self net.UDPAddr

	event   chan Received
	general chan Received
	sentEvent   chan []byte
	sentGeneral chan []byte

	closed chan struct{}
}

// NewMemoryTransport builds a MemoryTransport identified by self, useful
// when a test wants to label which port sent which packet.
func NewMemoryTransport(self net.UDPAddr) *MemoryTransport {
	return &MemoryTransport{
		self:        self,
		event:       make(chan Received, 64),
		general:     make(chan Received, 64),
		sentEvent:   make(chan []byte, 64),
		sentGeneral: make(chan []byte, 64),
		closed:      make(chan struct{}),
	}
}

// DeliverEvent injects a datagram as if it had arrived on the event port.
func (m *MemoryTransport) DeliverEvent(data []byte, from net.UDPAddr, rx time.Time) {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.event <- Received{Data: cp, RxTime: rx, From: &from}
}

// DeliverGeneral injects a datagram as if it had arrived on the general port.
func (m *MemoryTransport) DeliverGeneral(data []byte, from net.UDPAddr, rx time.Time) {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.general <- Received{Data: cp, RxTime: rx, From: &from}
}

// SentEvent drains one packet this transport sent on the event port.
func (m *MemoryTransport) SentEvent() []byte { return <-m.sentEvent }

// SentGeneral drains one packet this transport sent on the general port.
func (m *MemoryTransport) SentGeneral() []byte { return <-m.sentGeneral }

func (m *MemoryTransport) RecvEvent() (Received, error) {
	select {
	case r := <-m.event:
		return r, nil
	case <-m.closed:
		return Received{}, ErrClosed
	}
}

func (m *MemoryTransport) RecvGeneral() (Received, error) {
	select {
	case r := <-m.general:
		return r, nil
	case <-m.closed:
		return Received{}, ErrClosed
	}
}

func (m *MemoryTransport) SendEvent(pkt []byte) (time.Time, error) {
	m.sentEvent <- pkt
	return time.Now(), nil
}

func (m *MemoryTransport) SendPeerEvent(pkt []byte) (time.Time, error) {
	m.sentEvent <- pkt
	return time.Now(), nil
}

func (m *MemoryTransport) SendGeneral(pkt []byte) error {
	m.sentGeneral <- pkt
	return nil
}

func (m *MemoryTransport) SendPeerGeneral(pkt []byte) error {
	m.sentGeneral <- pkt
	return nil
}

func (m *MemoryTransport) Close() error {
	close(m.closed)
	return nil
}
