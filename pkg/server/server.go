// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package server carries request frames between peers and the dispatcher.
//
// Requests arrive as UDP datagrams or WebSocket binary messages, one frame
// each, and the response goes back to the sender. The most recent sender is
// remembered as the peer for the telemetry stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/pidlink/pkg/pidproto"
	"github.com/Thermoquad/pidlink/pkg/stream"
)

// DefaultPollInterval is the receive poll period
const DefaultPollInterval = 5 * time.Millisecond

// readBufferSize leaves room to detect oversized datagrams
const readBufferSize = 64

// Handler turns a request datagram into a response frame
type Handler interface {
	HandleDatagram(b []byte) ([pidproto.FrameSize]byte, error)
}

// Server is the datagram transport
type Server struct {
	addr         string
	handler      Handler
	codec        pidproto.Codec
	pollInterval time.Duration
	policy       stream.ErrorPolicy
	log          *zap.Logger
	errLog       rate.Sometimes

	conn      *net.UDPConn
	listening atomic.Bool

	peerMu sync.RWMutex
	peer   peer

	upgrader websocket.Upgrader

	// optional metrics callbacks
	onDatagram       func(transport string, n int)
	onMalformed      func()
	onTransportError func(direction string)
}

// Option configures a Server
type Option func(*Server)

// WithCodec sets the payload byte order for stream datagrams
func WithCodec(c pidproto.Codec) Option {
	return func(s *Server) { s.codec = c }
}

// WithPollInterval sets the receive poll period
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithErrorPolicy sets the reaction to send/receive failures
func WithErrorPolicy(p stream.ErrorPolicy) Option {
	return func(s *Server) { s.policy = p }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// New creates a server listening on addr once Listen is called
func New(addr string, handler Handler, opts ...Option) *Server {
	s := &Server{
		addr:         addr,
		handler:      handler,
		codec:        pidproto.DefaultCodec,
		pollInterval: DefaultPollInterval,
		log:          zap.NewNop(),
		errLog:       rate.Sometimes{First: 3, Interval: time.Second},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: readBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetMetricsCallbacks sets the metrics hooks. Any of them may be nil.
func (s *Server) SetMetricsCallbacks(onDatagram func(string, int), onMalformed func(), onTransportError func(string)) {
	s.onDatagram, s.onMalformed, s.onTransportError = onDatagram, onMalformed, onTransportError
}

// Listen binds the UDP socket
func (s *Server) Listen() error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", s.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.conn = conn
	s.listening.Store(true)
	s.log.Info("listening", zap.Stringer("addr", conn.LocalAddr()))
	return nil
}

// LocalAddr returns the bound UDP address, nil before Listen
func (s *Server) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Listening reports whether the UDP socket is bound and not yet closed.
// Safe to call from any goroutine.
func (s *Server) Listening() bool {
	return s.listening.Load()
}

// Close releases the UDP socket
func (s *Server) Close() error {
	if s.conn == nil {
		return nil
	}
	s.listening.Store(false)
	return s.conn.Close()
}

// Serve runs the receive-process-reply loop until ctx is done or the socket
// is closed. With PolicyFatal the first transport failure is returned.
func (s *Server) Serve(ctx context.Context) error {
	if s.conn == nil {
		return fmt.Errorf("serve: socket not bound, call Listen first")
	}

	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(s.pollInterval))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if ferr := s.transportError("recv", err); ferr != nil {
				return ferr
			}
			continue
		}

		if err := s.process("udp", buf[:n], udpPeer{conn: s.conn, addr: addr}); err != nil {
			if ferr := s.transportError("send", err); ferr != nil {
				return ferr
			}
		}
	}
}

// process handles one inbound datagram and replies to p
func (s *Server) process(transport string, b []byte, p peer) error {
	if s.onDatagram != nil {
		s.onDatagram(transport, len(b))
	}

	resp, err := s.handler.HandleDatagram(b)
	if err != nil {
		s.log.Debug("dropped datagram", zap.Stringer("from", p), zap.Int("len", len(b)), zap.Error(err))
		if s.onMalformed != nil {
			s.onMalformed()
		}
		return nil
	}

	s.setPeer(p)
	if err := p.send(resp[:]); err != nil {
		return fmt.Errorf("reply to %s: %w", p, err)
	}
	return nil
}

// transportError applies the error policy. It returns non-nil when the loop must end.
func (s *Server) transportError(direction string, err error) error {
	if s.onTransportError != nil {
		s.onTransportError(direction)
	}
	if s.policy == stream.PolicyFatal {
		return fmt.Errorf("%s: %w", direction, err)
	}
	s.errLog.Do(func() {
		s.log.Warn("transport error", zap.String("direction", direction), zap.Error(err))
	})
	return nil
}

func (s *Server) setPeer(p peer) {
	s.peerMu.Lock()
	if s.peer == nil || s.peer.String() != p.String() {
		s.log.Debug("peer changed", zap.Stringer("peer", p))
	}
	s.peer = p
	s.peerMu.Unlock()
}

// clearPeer forgets p if it is still the current peer
func (s *Server) clearPeer(p peer) {
	s.peerMu.Lock()
	if s.peer != nil && s.peer.String() == p.String() {
		s.peer = nil
	}
	s.peerMu.Unlock()
}

// Peer returns the current stream target, empty when none is known
func (s *Server) Peer() string {
	s.peerMu.RLock()
	defer s.peerMu.RUnlock()
	if s.peer == nil {
		return ""
	}
	return s.peer.String()
}

// SendSample delivers a telemetry datagram to the last known peer.
// It returns stream.ErrNoPeer when no request has been received yet.
func (s *Server) SendSample(sample pidproto.Sample) error {
	s.peerMu.RLock()
	p := s.peer
	s.peerMu.RUnlock()
	if p == nil {
		return stream.ErrNoPeer
	}

	b := s.codec.EncodeSample(sample)
	if err := p.send(b[:]); err != nil {
		if s.onTransportError != nil {
			s.onTransportError("send")
		}
		return fmt.Errorf("stream to %s: %w", p, err)
	}
	return nil
}

// ServeWS upgrades the request and serves frames carried in binary messages.
// The connection becomes the stream peer once it sends a valid frame.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	p := wsPeer{mu: &sync.Mutex{}, conn: conn}
	defer func() {
		s.clearPeer(p)
		_ = conn.Close()
		s.log.Info("websocket peer disconnected", zap.Stringer("peer", p))
	}()
	s.log.Info("websocket peer connected", zap.Stringer("peer", p))

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		if err := s.process("ws", data, p); err != nil {
			s.log.Warn("websocket reply failed", zap.Error(err))
			return
		}
	}
}
