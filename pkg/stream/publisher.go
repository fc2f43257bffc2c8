// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package stream generates the unsolicited telemetry stream.
//
// The publisher is a Stopped/Running state machine driven by start/stop
// commands. While running, each cadence tick produces one synthetic sample
// (sin x, cos x) and hands it to a Sender for delivery to the last known peer.
package stream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/pidlink/pkg/pidproto"
)

// Defaults
const (
	DefaultCadence = 20 * time.Millisecond
	PhaseStep      = 0.1
)

var (
	// ErrNoPeer is returned by a Sender that has nobody to deliver to yet.
	ErrNoPeer = errors.New("no peer to stream to")
	// ErrStopped is returned by Tick when the publisher is not running.
	ErrStopped = errors.New("stream is stopped")
)

// Sender delivers one sample to the current peer
type Sender interface {
	SendSample(s pidproto.Sample) error
}

// State of the publisher
type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Publisher is the telemetry stream generator
type Publisher struct {
	mu    sync.Mutex
	state State
	x     float64
	count uint64

	sender  Sender
	cadence time.Duration
	policy  ErrorPolicy
	log     *zap.Logger
	errLog  rate.Sometimes

	// optional metrics callbacks
	onSample    func()
	onSendError func(error)
	onState     func(State)
}

// Option configures a Publisher
type Option func(*Publisher)

// WithCadence sets the interval between samples
func WithCadence(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.cadence = d
		}
	}
}

// WithErrorPolicy sets the reaction to a failed send
func WithErrorPolicy(policy ErrorPolicy) Option {
	return func(p *Publisher) { p.policy = policy }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(p *Publisher) {
		if log != nil {
			p.log = log
		}
	}
}

// WithMetricsCallbacks registers hooks for sent samples, send failures and state changes.
// Any of them may be nil.
func WithMetricsCallbacks(onSample func(), onSendError func(error), onState func(State)) Option {
	return func(p *Publisher) {
		p.onSample, p.onSendError, p.onState = onSample, onSendError, onState
	}
}

// New creates a stopped publisher delivering to sender
func New(sender Sender, opts ...Option) *Publisher {
	p := &Publisher{
		sender:  sender,
		cadence: DefaultCadence,
		log:     zap.NewNop(),
		errLog:  rate.Sometimes{First: 1, Interval: time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start switches to Running. The phase carries on from where the last stop left it.
// Returns false if the stream was already running.
func (p *Publisher) Start() bool {
	p.mu.Lock()
	if p.state == Running {
		p.mu.Unlock()
		return false
	}
	p.state = Running
	p.mu.Unlock()

	p.log.Info("stream started")
	if p.onState != nil {
		p.onState(Running)
	}
	return true
}

// Stop switches to Stopped and returns the number of ticks since the matching
// start; the counter is reset. Every tick counts, including samples that found
// no peer or whose send failed. Returns false if already stopped.
func (p *Publisher) Stop() (uint64, bool) {
	p.mu.Lock()
	if p.state == Stopped {
		p.mu.Unlock()
		return 0, false
	}
	p.state = Stopped
	n := p.count
	p.count = 0
	p.mu.Unlock()

	p.log.Info("stream stopped", zap.Uint64("points", n))
	if p.onState != nil {
		p.onState(Stopped)
	}
	return n, true
}

// State returns the current state
func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Count returns the ticks since the last start, delivered or not
func (p *Publisher) Count() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Cadence returns the tick interval
func (p *Publisher) Cadence() time.Duration {
	return p.cadence
}

// next advances the phase accumulator and returns the sample for this tick.
func (p *Publisher) next() (pidproto.Sample, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Running {
		return pidproto.Sample{}, false
	}
	if p.x > 2*math.Pi {
		p.x = 0
	}
	s := pidproto.Sample{
		ProcessVariable:  float32(math.Sin(p.x)),
		ControllerOutput: float32(math.Cos(p.x)),
	}
	p.x += PhaseStep
	p.count++
	return s, true
}

// Tick produces one sample and sends it. It returns ErrStopped without side
// effects when the publisher is not running, and the sender's error otherwise.
func (p *Publisher) Tick() (pidproto.Sample, error) {
	s, ok := p.next()
	if !ok {
		return s, ErrStopped
	}
	if err := p.sender.SendSample(s); err != nil {
		return s, err
	}
	if p.onSample != nil {
		p.onSample()
	}
	return s, nil
}

// Run ticks at the configured cadence until ctx is done. With PolicyFatal a
// send failure ends the loop and is returned; otherwise failures are logged.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		_, err := p.Tick()
		switch {
		case err == nil, errors.Is(err, ErrStopped), errors.Is(err, ErrNoPeer):
			continue
		}

		if p.onSendError != nil {
			p.onSendError(err)
		}
		if p.policy == PolicyFatal {
			return fmt.Errorf("stream send: %w", err)
		}
		p.errLog.Do(func() {
			p.log.Warn("stream send failed", zap.Error(err))
		})
	}
}
