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

// Package ptpnet implements PTP-NET: the dual event/general multicast
// transport an ordinary clock uses to exchange PTP messages, per spec
// §4.5. It is grounded on simpleclient.UDPConnWithTS's TX-timestamp
// seam and the timestamp package's SO_TIMESTAMPING support.
package ptpnet

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	ptp "github.com/ptpordc/ptpordc/ptp/protocol"
	"github.com/ptpordc/ptpordc/timestamp"
)

// Config describes which interface and multicast groups a Transport binds.
type Config struct {
	// Iface is the network interface PTP runs over.
	Iface string
	// EventPort/GeneralPort are the well-known PTP UDP ports, 319/320.
	EventPort, GeneralPort int
	// DefaultGroup is joined for SYNC/ANNOUNCE/FOLLOW_UP/DELAY_REQ/DELAY_RESP.
	DefaultGroup string
	// PeerGroup is joined for PDELAY_REQ/PDELAY_RESP/PDELAY_RESP_FOLLOW_UP.
	PeerGroup string
	// Timestamping selects hardware or software TX/RX timestamps; the
	// zero value (timestamp.SW) is always supported.
	Timestamping timestamp.Timestamp
}

// DefaultConfig fills in the well-known ports and multicast groups, spec §6.2.
func DefaultConfig(iface string) Config {
	return Config{
		Iface:        iface,
		EventPort:    ptp.PortEvent,
		GeneralPort:  ptp.PortGeneral,
		DefaultGroup: ptp.MulticastGroupDefault,
		PeerGroup:    ptp.MulticastGroupPeer,
		Timestamping: timestamp.SW,
	}
}

// Received is a datagram paired with the timestamp it was received at.
type Received struct {
	Data   []byte
	RxTime time.Time
	From   *net.UDPAddr
}

// Transport is PTP-NET's contract toward the engine: the six operations
// of spec §4.5. send_event must return a hardware (or software) TX
// timestamp, or the zero time.Time on failure to obtain one.
type Transport interface {
	RecvEvent() (Received, error)
	RecvGeneral() (Received, error)
	SendEvent(pkt []byte) (time.Time, error)
	SendPeerEvent(pkt []byte) (time.Time, error)
	SendGeneral(pkt []byte) error
	SendPeerGeneral(pkt []byte) error
	Close() error
}

// udpTransport is the multicast-backed Transport used outside of tests.
type udpTransport struct {
	cfg Config

	eventConn   *net.UDPConn
	generalConn *net.UDPConn
	eventFd     int
	generalFd   int

	defaultAddr *net.UDPAddr
	peerAddr    *net.UDPAddr

	hw bool
}

// New binds the event and general sockets, joins both multicast groups on
// each, and enables TX/RX timestamping per cfg.Timestamping.
func New(cfg Config) (Transport, error) {
	iface, err := net.InterfaceByName(cfg.Iface)
	if err != nil {
		return nil, fmt.Errorf("ptpnet: resolving interface %q: %w", cfg.Iface, err)
	}

	eventConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: cfg.EventPort})
	if err != nil {
		return nil, fmt.Errorf("ptpnet: binding event port %d: %w", cfg.EventPort, err)
	}
	generalConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: cfg.GeneralPort})
	if err != nil {
		eventConn.Close()
		return nil, fmt.Errorf("ptpnet: binding general port %d: %w", cfg.GeneralPort, err)
	}

	eventFd, err := timestamp.ConnFd(eventConn)
	if err != nil {
		eventConn.Close()
		generalConn.Close()
		return nil, err
	}
	generalFd, err := timestamp.ConnFd(generalConn)
	if err != nil {
		eventConn.Close()
		generalConn.Close()
		return nil, err
	}

	for _, group := range []string{cfg.DefaultGroup, cfg.PeerGroup} {
		if err := joinMulticastGroup(eventFd, iface, group); err != nil {
			eventConn.Close()
			generalConn.Close()
			return nil, fmt.Errorf("ptpnet: joining %s on event socket: %w", group, err)
		}
		if err := joinMulticastGroup(generalFd, iface, group); err != nil {
			eventConn.Close()
			generalConn.Close()
			return nil, fmt.Errorf("ptpnet: joining %s on general socket: %w", group, err)
		}
	}

	hw := false
	switch cfg.Timestamping {
	case timestamp.HW:
		if err := timestamp.EnableHWTimestamps(eventFd, iface); err != nil {
			eventConn.Close()
			generalConn.Close()
			return nil, fmt.Errorf("ptpnet: enabling hardware timestamps: %w", err)
		}
		hw = true
	default:
		if err := timestamp.EnableSWTimestamps(eventFd); err != nil {
			eventConn.Close()
			generalConn.Close()
			return nil, fmt.Errorf("ptpnet: enabling software timestamps: %w", err)
		}
	}

	t := &udpTransport{
		cfg:         cfg,
		eventConn:   eventConn,
		generalConn: generalConn,
		eventFd:     eventFd,
		generalFd:   generalFd,
		defaultAddr: &net.UDPAddr{IP: net.ParseIP(cfg.DefaultGroup), Port: cfg.EventPort},
		peerAddr:    &net.UDPAddr{IP: net.ParseIP(cfg.PeerGroup), Port: cfg.EventPort},
		hw:          hw,
	}
	return t, nil
}

// joinMulticastGroup issues IP_ADD_MEMBERSHIP on connFd for group,
// bound to iface. golang.org/x/sys/unix is the teacher's own vehicle for
// raw socket options (see timestamp_linux.go's SO_TIMESTAMPING setup);
// no example repo carries a dedicated multicast-group library.
func joinMulticastGroup(connFd int, iface *net.Interface, group string) error {
	ip := net.ParseIP(group).To4()
	if ip == nil {
		return fmt.Errorf("invalid multicast group %q", group)
	}
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], ip)
	addrs, err := iface.Addrs()
	if err == nil {
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok {
				if v4 := ipn.IP.To4(); v4 != nil {
					copy(mreq.Interface[:], v4)
					break
				}
			}
		}
	}
	return unix.SetsockoptIPMreq(connFd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
}

func (t *udpTransport) recv(conn *net.UDPConn, fd int) (Received, error) {
	if t.hw {
		data, sa, ts, err := timestamp.ReadPacketWithRXTimestamp(fd)
		if err != nil {
			return Received{}, err
		}
		return Received{
			Data:   data,
			RxTime: ts,
			From:   &net.UDPAddr{IP: timestamp.SockaddrToIP(sa), Port: timestamp.SockaddrToPort(sa)},
		}, nil
	}
	buf := make([]byte, timestamp.PayloadSizeBytes)
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		return Received{}, err
	}
	return Received{Data: buf[:n], RxTime: time.Now(), From: addr}, nil
}

func (t *udpTransport) RecvEvent() (Received, error)   { return t.recv(t.eventConn, t.eventFd) }
func (t *udpTransport) RecvGeneral() (Received, error) { return t.recv(t.generalConn, t.generalFd) }

func (t *udpTransport) sendEvent(pkt []byte, addr *net.UDPAddr) (time.Time, error) {
	if _, err := t.eventConn.WriteTo(pkt, addr); err != nil {
		return time.Time{}, err
	}
	if !t.hw {
		return time.Now(), nil
	}
	hwts, _, err := timestamp.ReadTXtimestamp(t.eventFd)
	if err != nil {
		// spec §4.5: send_event returns the zero sentinel on timeout.
		return time.Time{}, nil
	}
	return hwts, nil
}

// SendEvent sends pkt to the default multicast group on the event port
// and returns its TX timestamp.
func (t *udpTransport) SendEvent(pkt []byte) (time.Time, error) {
	return t.sendEvent(pkt, t.defaultAddr)
}

// SendPeerEvent sends pkt to the peer-delay multicast group.
func (t *udpTransport) SendPeerEvent(pkt []byte) (time.Time, error) {
	return t.sendEvent(pkt, t.peerAddr)
}

// SendGeneral sends pkt to the default multicast group on the general port.
func (t *udpTransport) SendGeneral(pkt []byte) error {
	_, err := t.generalConn.WriteTo(pkt, &net.UDPAddr{IP: t.defaultAddr.IP, Port: t.cfg.GeneralPort})
	return err
}

// SendPeerGeneral sends pkt to the peer-delay multicast group on the general port.
func (t *udpTransport) SendPeerGeneral(pkt []byte) error {
	_, err := t.generalConn.WriteTo(pkt, &net.UDPAddr{IP: t.peerAddr.IP, Port: t.cfg.GeneralPort})
	return err
}

// Close tears down both sockets.
func (t *udpTransport) Close() error {
	err1 := t.eventConn.Close()
	err2 := t.generalConn.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
