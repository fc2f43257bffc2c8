// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package watchdog stops the telemetry stream when the peer goes quiet.
//
// Every processed request resets the idle timer. Once the timer reaches the
// configured timeout the stream is stopped exactly once; it stays stopped
// until a new request (typically CMD_stream_start) arrives. The watchdog never
// restarts the stream on its own.
package watchdog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCheckInterval is how often Run evaluates the idle timer
const DefaultCheckInterval = 100 * time.Millisecond

// Stopper is the stream control the watchdog acts on. Stop is called with the
// watchdog lock held.
type Stopper interface {
	Stop() (uint64, bool)
}

// Watchdog is the idle-timeout auto-stop
type Watchdog struct {
	mu             sync.Mutex
	lastRequest    time.Time
	alreadyStopped bool

	stream   Stopper
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
	log      *zap.Logger
	onFire   func()
}

// Option configures a Watchdog
type Option func(*Watchdog)

// WithCheckInterval sets the Run tick
func WithCheckInterval(d time.Duration) Option {
	return func(w *Watchdog) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(w *Watchdog) {
		if log != nil {
			w.log = log
		}
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) { w.now = now }
}

// WithOnFire registers a callback invoked each time the idle timeout stops a
// running stream. It runs with the watchdog lock held and must not call back into it.
func WithOnFire(fn func()) Option {
	return func(w *Watchdog) { w.onFire = fn }
}

// New creates a watchdog for stream. A zero timeout disables it.
func New(stream Stopper, timeout time.Duration, opts ...Option) *Watchdog {
	w := &Watchdog{
		stream:   stream,
		timeout:  timeout,
		interval: DefaultCheckInterval,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.lastRequest = w.now()
	return w
}

// Timeout returns the configured idle timeout
func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}

// OnValidRequest resets the idle timer and re-arms the auto-stop
func (w *Watchdog) OnValidRequest() {
	w.mu.Lock()
	w.lastRequest = w.now()
	w.alreadyStopped = false
	w.mu.Unlock()
}

// Idle returns the time since the last processed request
func (w *Watchdog) Idle() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now().Sub(w.lastRequest)
}

// OnTick evaluates an idle duration. It stops the stream and returns true the
// first time elapsed reaches the timeout; later calls return false until
// OnValidRequest re-arms it.
func (w *Watchdog) OnTick(elapsed time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fire(elapsed)
}

// Check evaluates the idle timer against the clock. The idle time is read and
// the stream stopped under one lock, so a request arriving meanwhile waits and
// re-arms the watchdog afterwards.
func (w *Watchdog) Check() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fire(w.now().Sub(w.lastRequest))
}

// fire runs with w.mu held
func (w *Watchdog) fire(elapsed time.Duration) bool {
	if w.timeout <= 0 || elapsed < w.timeout || w.alreadyStopped {
		return false
	}
	w.alreadyStopped = true

	points, stopped := w.stream.Stop()
	if !stopped {
		return true
	}
	w.log.Info("idle timeout, stream stopped",
		zap.Duration("idle", elapsed), zap.Uint64("points", points))
	if w.onFire != nil {
		w.onFire()
	}
	return true
}

// Run checks the idle timer periodically until ctx is done
func (w *Watchdog) Run(ctx context.Context) {
	if w.timeout <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check()
		}
	}
}
