// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Thermoquad/pidlink/internal/config"
	"github.com/Thermoquad/pidlink/pkg/client"
	"github.com/Thermoquad/pidlink/pkg/pidproto"
	"github.com/Thermoquad/pidlink/pkg/stream"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Server.UDPAddr = "127.0.0.1:0"
	cfg.Server.PollInterval = time.Millisecond
	cfg.Stream.Cadence = 5 * time.Millisecond
	cfg.Watchdog.IdleTimeout = 200 * time.Millisecond
	cfg.Watchdog.CheckInterval = 10 * time.Millisecond
	cfg.Persist.Path = filepath.Join(t.TempDir(), "pidlink.eeprom")
	return cfg
}

// startTestController runs a wired controller and returns a client for it
func startTestController(t *testing.T, cfg *config.Config) (*controller, *client.Client) {
	t.Helper()
	ctl, err := newController(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, ctl.srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctl.run(ctx) }()

	tr, err := client.DialUDP(ctl.srv.LocalAddr().String())
	require.NoError(t, err)
	c := client.New(tr, client.WithTimeout(2*time.Second))

	t.Cleanup(func() {
		c.Close()
		cancel()
		assert.NoError(t, <-done)
	})
	return ctl, c
}

func TestControllerStreamAndIdleStop(t *testing.T) {
	ctl, c := startTestController(t, testConfig(t))
	ctx := context.Background()

	require.NoError(t, c.StartStream(ctx))

	// samples flow while the stream runs
	select {
	case <-c.Samples():
	case <-time.After(2 * time.Second):
		t.Fatal("no telemetry received")
	}

	// no further requests: the watchdog stops the stream
	assert.Eventually(t, func() bool { return ctl.pub.State() == stream.Stopped },
		2*time.Second, 10*time.Millisecond)

	// an explicit start resumes it
	require.NoError(t, c.StartStream(ctx))
	assert.Equal(t, stream.Running, ctl.pub.State())
	_, err := c.StopStream(ctx)
	require.NoError(t, err)
}

func TestControllerPersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	func() {
		ctl, err := newController(cfg, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, ctl.srv.Listen())
		rctx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- ctl.run(rctx) }()
		defer func() {
			cancel()
			require.NoError(t, <-done)
		}()

		tr, err := client.DialUDP(ctl.srv.LocalAddr().String())
		require.NoError(t, err)
		c := client.New(tr)
		defer c.Close()

		require.NoError(t, c.WriteScalar(ctx, pidproto.VarKP, 3.25))
		require.NoError(t, c.SaveToEEPROM(ctx))
	}()

	_, c := startTestController(t, cfg)
	v, err := c.ReadScalar(ctx, pidproto.VarKP)
	require.NoError(t, err)
	assert.Equal(t, float32(3.25), v)
}

func TestControllerStreamStatus(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Addr = "127.0.0.1:0"
	ctl, err := newController(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, ctl.httpSrv)

	st := ctl.streamStatus()
	assert.Equal(t, "stopped", st.State)
	assert.Equal(t, "5ms", st.Cadence)
	assert.Equal(t, "200ms", st.IdleTimeout)
	assert.Empty(t, st.Peer)
}

func TestControllerReadyzFollowsSocket(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Addr = "127.0.0.1:0"
	ctl, err := newController(cfg, zap.NewNop())
	require.NoError(t, err)
	h := ctl.httpSrv.Handler()

	readyz := func() int {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rr.Code
	}

	assert.Equal(t, http.StatusServiceUnavailable, readyz(), "socket not bound yet")

	require.NoError(t, ctl.srv.Listen())
	assert.Equal(t, http.StatusOK, readyz())

	require.NoError(t, ctl.srv.Close())
	assert.Equal(t, http.StatusServiceUnavailable, readyz())
}
