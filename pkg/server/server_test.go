// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/pidlink/pkg/dispatch"
	"github.com/Thermoquad/pidlink/pkg/pidproto"
	"github.com/Thermoquad/pidlink/pkg/stream"
	"github.com/Thermoquad/pidlink/pkg/varstore"
)

type harness struct {
	srv       *Server
	pub       *stream.Publisher
	store     *varstore.Store
	malformed atomic.Int32
	cancel    context.CancelFunc
	done      chan error
}

func startServer(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: varstore.New(varstore.Defaults())}

	var sender senderFunc = func(s pidproto.Sample) error { return h.srv.SendSample(s) }
	h.pub = stream.New(sender)
	d := dispatch.New(h.store, h.pub)

	h.srv = New("127.0.0.1:0", d, WithPollInterval(time.Millisecond))
	h.srv.SetMetricsCallbacks(nil, func() { h.malformed.Add(1) }, nil)
	require.NoError(t, h.srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-h.done)
		h.srv.Close()
	})
	return h
}

type senderFunc func(pidproto.Sample) error

func (f senderFunc) SendSample(s pidproto.Sample) error { return f(s) }

func dial(t *testing.T, h *harness) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, h.srv.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *net.UDPConn, req pidproto.Frame) pidproto.Frame {
	t.Helper()
	b := req.Marshal()
	_, err := conn.Write(b[:])
	require.NoError(t, err)

	buf := make([]byte, 64)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	resp, err := pidproto.Unmarshal(buf[:n])
	require.NoError(t, err)
	return resp
}

func TestUDPRequestResponse(t *testing.T) {
	h := startServer(t)
	conn := dial(t, h)
	codec := pidproto.DefaultCodec

	resp := roundTrip(t, conn, codec.NewRequest(pidproto.OpWrite, pidproto.VarSetpoint, 99.5))
	assert.Equal(t, pidproto.ResultOK, resp.Result)

	resp = roundTrip(t, conn, codec.NewRequest(pidproto.OpRead, pidproto.VarSetpoint))
	assert.Equal(t, pidproto.VarSetpoint, resp.ID)
	assert.Equal(t, float32(99.5), codec.Scalar(resp))

	resp = roundTrip(t, conn, codec.NewRequest(pidproto.OpRead, 0b1111))
	assert.Equal(t, pidproto.ResultError, resp.Result)
	assert.Equal(t, conn.LocalAddr().String(), strings.TrimPrefix(h.srv.Peer(), "udp://"))
}

func TestUDPDropsMalformed(t *testing.T) {
	h := startServer(t)
	conn := dial(t, h)

	_, err := conn.Write([]byte{0x20, 1, 2})
	require.NoError(t, err)
	_, err = conn.Write(make([]byte, 12))
	require.NoError(t, err)

	// the next response must belong to the valid request
	resp := roundTrip(t, conn, pidproto.DefaultCodec.NewRequest(pidproto.OpRead, pidproto.VarKD))
	assert.Equal(t, pidproto.VarKD, resp.ID)
	assert.Equal(t, int32(2), h.malformed.Load())
}

func TestSendSampleWithoutPeer(t *testing.T) {
	h := startServer(t)
	assert.ErrorIs(t, h.srv.SendSample(pidproto.Sample{}), stream.ErrNoPeer)
}

func TestUDPStream(t *testing.T) {
	h := startServer(t)
	conn := dial(t, h)

	resp := roundTrip(t, conn, pidproto.DefaultCodec.NewRequest(pidproto.OpRead, pidproto.CmdStreamStart))
	require.Equal(t, pidproto.ResultOK, resp.Result)

	s, err := h.pub.Tick()
	require.NoError(t, err)

	buf := make([]byte, 64)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.True(t, pidproto.IsStreamDatagram(buf[:n]))
	got, err := pidproto.DefaultCodec.DecodeSample(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestServeStopsOnClose(t *testing.T) {
	srv := New("127.0.0.1:0", dispatch.New(varstore.New(varstore.Defaults()), stream.New(senderFunc(nil))))
	require.NoError(t, srv.Listen())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()
	require.NoError(t, srv.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestServeRequiresListen(t *testing.T) {
	srv := New("127.0.0.1:0", nil)
	assert.Error(t, srv.Serve(context.Background()))
}

func TestTransportErrorPolicy(t *testing.T) {
	var counted int
	cont := New("", nil)
	cont.SetMetricsCallbacks(nil, nil, func(string) { counted++ })
	assert.NoError(t, cont.transportError("send", assert.AnError))

	fatal := New("", nil, WithErrorPolicy(stream.PolicyFatal))
	err := fatal.transportError("recv", assert.AnError)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, counted)
}

func TestWebSocket(t *testing.T) {
	store := varstore.New(varstore.Defaults())
	var srv *Server
	pub := stream.New(senderFunc(func(s pidproto.Sample) error { return srv.SendSample(s) }))
	srv = New("", dispatch.New(store, pub))

	hs := httptest.NewServer(http.HandlerFunc(srv.ServeWS))
	defer hs.Close()

	wsURL := "ws" + strings.TrimPrefix(hs.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	req := pidproto.DefaultCodec.NewRequest(pidproto.OpRead, pidproto.VarKP).Marshal()
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, req[:]))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	resp, err := pidproto.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, float32(19.4), pidproto.DefaultCodec.Scalar(resp))
	assert.True(t, strings.HasPrefix(srv.Peer(), "ws://"))

	pub.Start()
	_, err = pub.Tick()
	require.NoError(t, err)
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.True(t, pidproto.IsStreamDatagram(data))

	conn.Close()
	assert.Eventually(t, func() bool { return srv.Peer() == "" }, 2*time.Second, 5*time.Millisecond)
}
