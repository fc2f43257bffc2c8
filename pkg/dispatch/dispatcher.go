// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dispatch turns request frames into response frames.
//
// Every frame gets exactly one response carrying the request's opcode and id
// and a definitive Ok/Error result. Reads return the value in the payload,
// write responses never echo the written value.
package dispatch

import (
	"errors"

	"go.uber.org/zap"

	"github.com/Thermoquad/pidlink/pkg/pidproto"
	"github.com/Thermoquad/pidlink/pkg/varstore"
)

// Store is the variable storage the dispatcher reads and writes
type Store interface {
	ReadScalar(id pidproto.ID) (float32, error)
	ReadPair(id pidproto.ID) (varstore.Pair, error)
	WriteScalar(id pidproto.ID, value float32) error
	WritePair(id pidproto.ID, value varstore.Pair) error
	Snapshot() varstore.Values
}

// Stream is the telemetry stream control
type Stream interface {
	Start() bool
	Stop() (uint64, bool)
}

// Activity is notified of every processed request
type Activity interface {
	OnValidRequest()
}

// Persister writes the variable image to durable storage
type Persister interface {
	Save(v varstore.Values) error
}

// Dispatcher routes requests to the store, the stream and the persister
type Dispatcher struct {
	store     Store
	stream    Stream
	activity  Activity
	persister Persister
	codec     pidproto.Codec
	log       *zap.Logger

	onRequest   func(op pidproto.Opcode, id pidproto.ID, result pidproto.Result)
	onSaveError func(error)
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithActivity sets the request observer, usually the idle watchdog
func WithActivity(a Activity) Option {
	return func(d *Dispatcher) { d.activity = a }
}

// WithPersister sets the CMD_save_to_eeprom target. Without one, save is acknowledged and ignored.
func WithPersister(p Persister) Option {
	return func(d *Dispatcher) { d.persister = p }
}

// WithCodec sets the payload byte order
func WithCodec(c pidproto.Codec) Option {
	return func(d *Dispatcher) { d.codec = c }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// WithMetricsCallbacks registers hooks for handled requests and failed saves
func WithMetricsCallbacks(onRequest func(pidproto.Opcode, pidproto.ID, pidproto.Result), onSaveError func(error)) Option {
	return func(d *Dispatcher) {
		d.onRequest, d.onSaveError = onRequest, onSaveError
	}
}

// New creates a dispatcher over store and stream
func New(store Store, stream Stream, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		stream: stream,
		codec:  pidproto.DefaultCodec,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleDatagram decodes a raw datagram and returns the encoded response.
// Datagrams that are not exactly one frame yield pidproto.ErrFrameSize and no response.
func (d *Dispatcher) HandleDatagram(b []byte) ([pidproto.FrameSize]byte, error) {
	req, err := pidproto.Unmarshal(b)
	if err != nil {
		return [pidproto.FrameSize]byte{}, err
	}
	return d.Handle(req).Marshal(), nil
}

// Handle processes one request frame and returns its response
func (d *Dispatcher) Handle(req pidproto.Frame) pidproto.Frame {
	// notify first: a CMD_stream_start must not look idle to the watchdog
	if d.activity != nil {
		d.activity.OnValidRequest()
	}

	var resp pidproto.Frame
	if req.Opcode == pidproto.OpRead {
		resp = d.read(req)
	} else {
		resp = d.write(req)
	}

	if d.onRequest != nil {
		d.onRequest(resp.Opcode, resp.ID, resp.Result)
	}
	return resp
}

func (d *Dispatcher) read(req pidproto.Frame) pidproto.Frame {
	resp := pidproto.Frame{Opcode: pidproto.OpRead, ID: req.ID}

	switch {
	case req.ID == pidproto.CmdStreamStop:
		d.log.Debug("read: CMD_stream_stop")
		d.stream.Stop()
	case req.ID == pidproto.CmdStreamStart:
		d.log.Debug("read: CMD_stream_start")
		d.stream.Start()
	case req.ID == pidproto.CmdSaveToEEPROM:
		d.log.Debug("read: CMD_save_to_eeprom")
		d.save()
	case req.ID.IsScalar():
		v, err := d.store.ReadScalar(req.ID)
		if err != nil {
			return d.fail(resp, err)
		}
		d.codec.PutScalar(&resp, v)
		d.log.Debug("read", zap.Stringer("id", req.ID), zap.Float32("value", v))
	case req.ID.IsPair():
		p, err := d.store.ReadPair(req.ID)
		if err != nil {
			return d.fail(resp, err)
		}
		d.codec.PutPair(&resp, p.Lo, p.Hi)
		d.log.Debug("read", zap.Stringer("id", req.ID),
			zap.Float32("lo", p.Lo), zap.Float32("hi", p.Hi))
	default:
		d.log.Debug("read: unknown id", zap.Stringer("id", req.ID))
		resp.Result = pidproto.ResultError
	}
	return resp
}

func (d *Dispatcher) write(req pidproto.Frame) pidproto.Frame {
	resp := pidproto.Frame{Opcode: pidproto.OpWrite, ID: req.ID}

	switch {
	case req.ID.IsScalar():
		v := d.codec.Scalar(req)
		if err := d.store.WriteScalar(req.ID, v); err != nil {
			if errors.Is(err, varstore.ErrRejected) {
				d.log.Debug("write rejected", zap.Stringer("id", req.ID), zap.Float32("value", v))
				resp.Result = pidproto.ResultError
				return resp
			}
			return d.fail(resp, err)
		}
		d.log.Debug("write", zap.Stringer("id", req.ID), zap.Float32("value", v))
	case req.ID.IsPair():
		lo, hi := d.codec.Pair(req)
		if err := d.store.WritePair(req.ID, varstore.Pair{Lo: lo, Hi: hi}); err != nil {
			return d.fail(resp, err)
		}
		d.log.Debug("write", zap.Stringer("id", req.ID),
			zap.Float32("lo", lo), zap.Float32("hi", hi))
	default:
		d.log.Debug("write: unknown id", zap.Stringer("id", req.ID))
		resp.Result = pidproto.ResultError
	}
	return resp
}

// fail turns an unexpected store error into an Error response with a zero payload
func (d *Dispatcher) fail(resp pidproto.Frame, err error) pidproto.Frame {
	d.log.Warn("store access failed", zap.Stringer("id", resp.ID), zap.Error(err))
	resp.ClearPayload()
	resp.Result = pidproto.ResultError
	return resp
}

// save writes the current image. The request is acknowledged regardless of the outcome.
func (d *Dispatcher) save() {
	if d.persister == nil {
		return
	}
	if err := d.persister.Save(d.store.Snapshot()); err != nil {
		d.log.Error("save to eeprom failed", zap.Error(err))
		if d.onSaveError != nil {
			d.onSaveError(err)
		}
		return
	}
	d.log.Info("variables saved")
}
