// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package client

import (
	"fmt"
	"net"
)

// Transport carries whole datagrams to and from the controller
type Transport interface {
	// ReadDatagram blocks until one datagram arrives
	ReadDatagram() ([]byte, error)
	WriteDatagram(b []byte) error
	Close() error
}

// UDPTransport is a connected UDP socket
type UDPTransport struct {
	conn *net.UDPConn
	buf  []byte
}

// DialUDP connects to a controller at addr
func DialUDP(addr string) (*UDPTransport, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &UDPTransport{conn: conn, buf: make([]byte, 64)}, nil
}

func (u *UDPTransport) ReadDatagram() ([]byte, error) {
	n, err := u.conn.Read(u.buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, u.buf[:n])
	return out, nil
}

func (u *UDPTransport) WriteDatagram(b []byte) error {
	_, err := u.conn.Write(b)
	return err
}

func (u *UDPTransport) Close() error {
	return u.conn.Close()
}

// String returns the remote address
func (u *UDPTransport) String() string {
	return "udp://" + u.conn.RemoteAddr().String()
}
