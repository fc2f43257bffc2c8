// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package httpapi is the optional HTTP surface of the server: health, metrics,
// a read-only view of the controller and the WebSocket datagram endpoint.
package httpapi

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Thermoquad/pidlink/pkg/varstore"
)

// StreamStatus is the telemetry stream as reported by GET /api/v1/stream
type StreamStatus struct {
	State       string `json:"state"`
	Points      uint64 `json:"points"`
	Peer        string `json:"peer,omitempty"`
	Cadence     string `json:"cadence"`
	IdleTimeout string `json:"idleTimeout"`
}

// jsonFloat encodes non-finite values as the strings "NaN", "+Inf" and "-Inf",
// which encoding/json refuses to emit as numbers
type jsonFloat float32

// MarshalJSON implements json.Marshaler
func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 32), nil
}

type pairView struct {
	Lo jsonFloat `json:"lo"`
	Hi jsonFloat `json:"hi"`
}

// variablesView is the GET /api/v1/variables body
type variablesView struct {
	Setpoint   jsonFloat `json:"setpoint"`
	KP         jsonFloat `json:"kP"`
	KI         jsonFloat `json:"kI"`
	KD         jsonFloat `json:"kD"`
	ErrI       jsonFloat `json:"errI"`
	ErrPLimits pairView  `json:"errPLimits"`
	ErrILimits pairView  `json:"errILimits"`
}

func newVariablesView(v varstore.Values) variablesView {
	return variablesView{
		Setpoint:   jsonFloat(v.Setpoint),
		KP:         jsonFloat(v.KP),
		KI:         jsonFloat(v.KI),
		KD:         jsonFloat(v.KD),
		ErrI:       jsonFloat(v.ErrI),
		ErrPLimits: pairView{Lo: jsonFloat(v.ErrPLimits.Lo), Hi: jsonFloat(v.ErrPLimits.Hi)},
		ErrILimits: pairView{Lo: jsonFloat(v.ErrILimits.Lo), Hi: jsonFloat(v.ErrILimits.Hi)},
	}
}

// Options wires the routes. Nil handlers leave their route out.
type Options struct {
	Addr           string
	MetricsPath    string
	MetricsHandler http.Handler
	WSPath         string
	WSHandler      http.HandlerFunc
	Variables      func() varstore.Values
	Stream         func() StreamStatus
	Ready          func() bool
}

// Server wraps the gin engine and its http.Server
type Server struct {
	srv *http.Server
}

// New builds the engine and registers the routes
func New(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		if opts.Ready == nil || opts.Ready() {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not-ready")
	})

	if opts.MetricsHandler != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(opts.MetricsHandler))
	}

	api := r.Group("/api/v1")
	if opts.Variables != nil {
		api.GET("/variables", func(c *gin.Context) {
			c.JSON(http.StatusOK, newVariablesView(opts.Variables()))
		})
	}
	if opts.Stream != nil {
		api.GET("/stream", func(c *gin.Context) {
			c.JSON(http.StatusOK, opts.Stream())
		})
	}

	if opts.WSHandler != nil {
		path := opts.WSPath
		if path == "" {
			path = "/ws"
		}
		r.GET(path, gin.WrapF(opts.WSHandler))
	}

	return &Server{srv: &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until Shutdown; it blocks
func (s *Server) Start() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
