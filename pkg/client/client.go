// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package client talks to a remote PID controller.
//
// A background reader splits inbound datagrams into responses and telemetry
// samples. Requests are synchronous: one outstanding request at a time, each
// answered by exactly one response frame or a timeout.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/pidlink/pkg/pidproto"
	"github.com/Thermoquad/pidlink/pkg/varstore"
)

// Timeouts
const (
	DefaultTimeout    = time.Second
	FirstCheckTimeout = 2 * time.Second
)

const sampleBuffer = 256

// Client is a connection to one controller
type Client struct {
	t       Transport
	codec   pidproto.Codec
	timeout time.Duration

	reqMu     sync.Mutex
	responses chan pidproto.Frame
	samples   chan pidproto.Sample

	sampleCount atomic.Uint64
	checked     atomic.Bool

	statsMu sync.Mutex
	stats   *pidproto.Statistics

	done    chan struct{}
	errMu   sync.Mutex
	readErr error
	onRaw   func(b []byte)
}

// Option configures a Client
type Option func(*Client)

// WithCodec sets the payload byte order
func WithCodec(c pidproto.Codec) Option {
	return func(cl *Client) { cl.codec = c }
}

// WithTimeout sets the default response timeout
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// WithRawObserver receives every inbound datagram before it is classified
func WithRawObserver(fn func(b []byte)) Option {
	return func(cl *Client) { cl.onRaw = fn }
}

// New wraps t and starts the reader
func New(t Transport, opts ...Option) *Client {
	c := &Client{
		t:         t,
		codec:     pidproto.DefaultCodec,
		timeout:   DefaultTimeout,
		responses: make(chan pidproto.Frame, 1),
		samples:   make(chan pidproto.Sample, sampleBuffer),
		stats:     pidproto.NewStatistics(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c
}

// Close shuts the transport down and waits for the reader
func (c *Client) Close() error {
	err := c.t.Close()
	<-c.done
	return err
}

// Done is closed when the reader has stopped
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that stopped the reader
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.samples)
	for {
		b, err := c.t.ReadDatagram()
		if err != nil {
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			return
		}
		if c.onRaw != nil {
			c.onRaw(b)
		}
		c.route(b)
	}
}

// route classifies one inbound datagram
func (c *Client) route(b []byte) {
	if pidproto.IsStreamDatagram(b) {
		s, err := c.codec.DecodeSample(b)
		if err != nil {
			c.record(func(st *pidproto.Statistics) { st.RecordDecodeError() })
			return
		}
		c.sampleCount.Add(1)
		c.record(func(st *pidproto.Statistics) { st.RecordSample() })
		select {
		case c.samples <- s:
		default:
			// consumer is behind, drop the oldest
			select {
			case <-c.samples:
			default:
			}
			select {
			case c.samples <- s:
			default:
			}
		}
		return
	}

	f, err := pidproto.Unmarshal(b)
	if err != nil {
		c.record(func(st *pidproto.Statistics) { st.RecordDecodeError() })
		return
	}
	c.record(func(st *pidproto.Statistics) { st.RecordResponse(f) })
	select {
	case c.responses <- f:
	default:
		// nobody waiting; keep only the newest unsolicited response
		select {
		case <-c.responses:
		default:
		}
		c.responses <- f
	}
}

func (c *Client) record(fn func(*pidproto.Statistics)) {
	c.statsMu.Lock()
	fn(c.stats)
	c.statsMu.Unlock()
}

// Stats returns a copy of the traffic statistics
func (c *Client) Stats() pidproto.Statistics {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	s := *c.stats
	s.CalculateRates()
	return s
}

// ResetStats clears the traffic statistics
func (c *Client) ResetStats() {
	c.record(func(st *pidproto.Statistics) { st.Reset() })
}

// Samples delivers telemetry samples. It is closed when the reader stops.
func (c *Client) Samples() <-chan pidproto.Sample {
	return c.samples
}

// SampleCount returns the samples received since the last reset
func (c *Client) SampleCount() uint64 {
	return c.sampleCount.Load()
}

// ResetSampleCount zeroes the sample counter and returns the previous value
func (c *Client) ResetSampleCount() uint64 {
	return c.sampleCount.Swap(0)
}

// Request validates and sends one frame and waits for its response.
// Without a deadline on ctx the client's default timeout applies.
func (c *Client) Request(ctx context.Context, op pidproto.Opcode, id pidproto.ID, values ...float32) (pidproto.Frame, error) {
	if err := pidproto.ValidateRequest(op, id, values); err != nil {
		return pidproto.Frame{}, err
	}
	return c.exchange(ctx, c.codec.NewRequest(op, id, values...))
}

func (c *Client) exchange(ctx context.Context, req pidproto.Frame) (pidproto.Frame, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	// discard a late response to an earlier request
	select {
	case <-c.responses:
	default:
	}

	b := req.Marshal()
	if err := c.t.WriteDatagram(b[:]); err != nil {
		return pidproto.Frame{}, fmt.Errorf("send %s: %w", req.ID, err)
	}

	select {
	case resp := <-c.responses:
		if resp.Opcode != req.Opcode || resp.ID != req.ID {
			return resp, &MismatchError{Want: req, Got: resp}
		}
		if resp.Result == pidproto.ResultError {
			return resp, &ResponseError{Opcode: resp.Opcode, ID: resp.ID}
		}
		return resp, nil
	case <-c.done:
		return pidproto.Frame{}, fmt.Errorf("%w: %v", ErrClosed, c.Err())
	case <-ctx.Done():
		c.record(func(st *pidproto.Statistics) { st.RecordTimeout() })
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return pidproto.Frame{}, fmt.Errorf("%w: %s", ErrTimeout, req.ID)
		}
		return pidproto.Frame{}, ctx.Err()
	}
}

// ReadScalar reads a single-float variable
func (c *Client) ReadScalar(ctx context.Context, id pidproto.ID) (float32, error) {
	if !id.IsScalar() {
		return 0, fmt.Errorf("%s is not a scalar variable", id)
	}
	resp, err := c.Request(ctx, pidproto.OpRead, id)
	if err != nil {
		return 0, err
	}
	return c.codec.Scalar(resp), nil
}

// ReadPair reads a two-float variable
func (c *Client) ReadPair(ctx context.Context, id pidproto.ID) (varstore.Pair, error) {
	if !id.IsPair() {
		return varstore.Pair{}, fmt.Errorf("%s is not a pair variable", id)
	}
	resp, err := c.Request(ctx, pidproto.OpRead, id)
	if err != nil {
		return varstore.Pair{}, err
	}
	lo, hi := c.codec.Pair(resp)
	return varstore.Pair{Lo: lo, Hi: hi}, nil
}

// WriteScalar writes a single-float variable
func (c *Client) WriteScalar(ctx context.Context, id pidproto.ID, v float32) error {
	_, err := c.Request(ctx, pidproto.OpWrite, id, v)
	return err
}

// WritePair writes both elements of a pair variable
func (c *Client) WritePair(ctx context.Context, id pidproto.ID, p varstore.Pair) error {
	_, err := c.Request(ctx, pidproto.OpWrite, id, p.Lo, p.Hi)
	return err
}

// ResetErrI zeroes the accumulated integral error
func (c *Client) ResetErrI(ctx context.Context) error {
	return c.WriteScalar(ctx, pidproto.VarErrI, 0)
}

// StartStream asks the controller to start the telemetry stream
func (c *Client) StartStream(ctx context.Context) error {
	_, err := c.Request(ctx, pidproto.OpRead, pidproto.CmdStreamStart)
	return err
}

// StopStream stops the telemetry stream and returns the samples received
// since the last reset; the counter is reset.
func (c *Client) StopStream(ctx context.Context) (uint64, error) {
	if _, err := c.Request(ctx, pidproto.OpRead, pidproto.CmdStreamStop); err != nil {
		return 0, err
	}
	return c.ResetSampleCount(), nil
}

// SaveToEEPROM asks the controller to persist its current variables
func (c *Client) SaveToEEPROM(ctx context.Context) error {
	_, err := c.Request(ctx, pidproto.OpRead, pidproto.CmdSaveToEEPROM)
	return err
}

// Ping reads the setpoint and returns the round-trip time
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := c.ReadScalar(ctx, pidproto.VarSetpoint); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// CheckConnection pings with FirstCheckTimeout on the first successful check
// and the default timeout afterwards.
func (c *Client) CheckConnection(ctx context.Context) (time.Duration, error) {
	timeout := c.timeout
	if !c.checked.Load() {
		timeout = FirstCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rtt, err := c.Ping(ctx)
	if err != nil {
		return 0, err
	}
	c.checked.Store(true)
	return rtt, nil
}

// ReadAll reads every variable
func (c *Client) ReadAll(ctx context.Context) (varstore.Values, error) {
	var v varstore.Values
	scalars := []struct {
		id  pidproto.ID
		dst *float32
	}{
		{pidproto.VarSetpoint, &v.Setpoint},
		{pidproto.VarKP, &v.KP},
		{pidproto.VarKI, &v.KI},
		{pidproto.VarKD, &v.KD},
		{pidproto.VarErrI, &v.ErrI},
	}
	for _, s := range scalars {
		val, err := c.ReadScalar(ctx, s.id)
		if err != nil {
			return v, err
		}
		*s.dst = val
	}

	var err error
	if v.ErrPLimits, err = c.ReadPair(ctx, pidproto.VarErrPLimits); err != nil {
		return v, err
	}
	if v.ErrILimits, err = c.ReadPair(ctx, pidproto.VarErrILimits); err != nil {
		return v, err
	}
	return v, nil
}
