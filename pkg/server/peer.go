// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package server

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 2 * time.Second

// peer is a reply target: a UDP address or a WebSocket connection
type peer interface {
	send(b []byte) error
	String() string
}

type udpPeer struct {
	conn *net.UDPConn
	addr *net.UDPAddr
}

func (p udpPeer) send(b []byte) error {
	_, err := p.conn.WriteToUDP(b, p.addr)
	return err
}

func (p udpPeer) String() string {
	return "udp://" + p.addr.String()
}

// wsPeer serializes writes; gorilla connections allow one concurrent writer
type wsPeer struct {
	mu   *sync.Mutex
	conn *websocket.Conn
}

func (p wsPeer) send(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return p.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (p wsPeer) String() string {
	return "ws://" + p.conn.RemoteAddr().String()
}
