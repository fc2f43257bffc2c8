// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/pidlink/pkg/pidproto"
	"github.com/Thermoquad/pidlink/pkg/stream"
	"github.com/Thermoquad/pidlink/pkg/varstore"
)

type nopSender struct{}

func (nopSender) SendSample(pidproto.Sample) error { return nil }

type countingActivity struct{ n int }

func (a *countingActivity) OnValidRequest() { a.n++ }

type memPersister struct {
	saved []varstore.Values
	err   error
}

func (p *memPersister) Save(v varstore.Values) error {
	if p.err != nil {
		return p.err
	}
	p.saved = append(p.saved, v)
	return nil
}

type fixture struct {
	store    *varstore.Store
	pub      *stream.Publisher
	activity *countingActivity
	persist  *memPersister
	d        *Dispatcher
	codec    pidproto.Codec
}

func newFixture() *fixture {
	f := &fixture{
		store:    varstore.New(varstore.Defaults()),
		pub:      stream.New(nopSender{}),
		activity: &countingActivity{},
		persist:  &memPersister{},
		codec:    pidproto.DefaultCodec,
	}
	f.d = New(f.store, f.pub, WithActivity(f.activity), WithPersister(f.persist))
	return f
}

func (f *fixture) read(id pidproto.ID) pidproto.Frame {
	return f.d.Handle(f.codec.NewRequest(pidproto.OpRead, id))
}

func (f *fixture) write(id pidproto.ID, values ...float32) pidproto.Frame {
	return f.d.Handle(f.codec.NewRequest(pidproto.OpWrite, id, values...))
}

func TestReadVariables(t *testing.T) {
	defaults := varstore.Defaults()
	tests := []struct {
		id     pidproto.ID
		lo, hi float32
	}{
		{pidproto.VarSetpoint, defaults.Setpoint, 0},
		{pidproto.VarKP, defaults.KP, 0},
		{pidproto.VarKI, defaults.KI, 0},
		{pidproto.VarKD, defaults.KD, 0},
		{pidproto.VarErrI, defaults.ErrI, 0},
		{pidproto.VarErrPLimits, -3500, 3500},
		{pidproto.VarErrILimits, -6500, 6500},
	}

	for _, tt := range tests {
		t.Run(tt.id.String(), func(t *testing.T) {
			f := newFixture()
			resp := f.read(tt.id)

			assert.Equal(t, pidproto.OpRead, resp.Opcode)
			assert.Equal(t, tt.id, resp.ID)
			assert.Equal(t, pidproto.ResultOK, resp.Result)
			lo, hi := f.codec.Pair(resp)
			assert.Equal(t, tt.lo, lo)
			assert.Equal(t, tt.hi, hi)
		})
	}
}

func TestReadZeroesRequestPayload(t *testing.T) {
	f := newFixture()
	req := f.codec.NewRequest(pidproto.OpRead, pidproto.VarKP, 111, 222)

	resp := f.d.Handle(req)
	v, second := f.codec.Pair(resp)
	assert.Equal(t, float32(19.4), v)
	assert.Zero(t, second)
}

func TestWriteThenRead(t *testing.T) {
	f := newFixture()

	resp := f.write(pidproto.VarSetpoint, 99.5)
	assert.Equal(t, pidproto.ResultOK, resp.Result)
	assert.Equal(t, [pidproto.PayloadSize]byte{}, resp.Payload, "write response never echoes")

	assert.Equal(t, float32(99.5), f.codec.Scalar(f.read(pidproto.VarSetpoint)))

	resp = f.write(pidproto.VarErrILimits, -10, 20)
	assert.Equal(t, pidproto.ResultOK, resp.Result)
	assert.Equal(t, [pidproto.PayloadSize]byte{}, resp.Payload)
	lo, hi := f.codec.Pair(f.read(pidproto.VarErrILimits))
	assert.Equal(t, float32(-10), lo)
	assert.Equal(t, float32(20), hi)
}

func TestGuardedErrIWrite(t *testing.T) {
	f := newFixture()

	resp := f.write(pidproto.VarErrI, 5)
	assert.Equal(t, pidproto.ResultError, resp.Result)
	assert.Equal(t, [pidproto.PayloadSize]byte{}, resp.Payload)
	assert.Equal(t, float32(2055), f.codec.Scalar(f.read(pidproto.VarErrI)))

	resp = f.write(pidproto.VarErrI, 0)
	assert.Equal(t, pidproto.ResultOK, resp.Result)
	assert.Zero(t, f.codec.Scalar(f.read(pidproto.VarErrI)))
}

func TestUnknownAndCommandWrites(t *testing.T) {
	tests := []struct {
		name string
		op   pidproto.Opcode
		id   pidproto.ID
	}{
		{"read unknown", pidproto.OpRead, 0b1111},
		{"read unknown 0b0010", pidproto.OpRead, 0b0010},
		{"write unknown", pidproto.OpWrite, 0b1111},
		{"write stream start", pidproto.OpWrite, pidproto.CmdStreamStart},
		{"write stream stop", pidproto.OpWrite, pidproto.CmdStreamStop},
		{"write save", pidproto.OpWrite, pidproto.CmdSaveToEEPROM},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			before := f.store.Snapshot()

			resp := f.d.Handle(f.codec.NewRequest(tt.op, tt.id, 1, 2))
			assert.Equal(t, tt.op, resp.Opcode)
			assert.Equal(t, tt.id, resp.ID)
			assert.Equal(t, pidproto.ResultError, resp.Result)
			assert.Equal(t, [pidproto.PayloadSize]byte{}, resp.Payload)
			assert.Equal(t, before, f.store.Snapshot())
			assert.Equal(t, stream.Stopped, f.pub.State())
			assert.Empty(t, f.persist.saved)
			assert.Equal(t, 1, f.activity.n, "every processed frame counts as activity")
		})
	}
}

func TestStreamCommands(t *testing.T) {
	f := newFixture()

	resp := f.read(pidproto.CmdStreamStart)
	assert.Equal(t, pidproto.ResultOK, resp.Result)
	assert.Equal(t, stream.Running, f.pub.State())

	resp = f.read(pidproto.CmdStreamStart)
	assert.Equal(t, pidproto.ResultOK, resp.Result)
	assert.Equal(t, stream.Running, f.pub.State())

	resp = f.read(pidproto.CmdStreamStop)
	assert.Equal(t, pidproto.ResultOK, resp.Result)
	assert.Equal(t, stream.Stopped, f.pub.State())
	assert.Equal(t, 3, f.activity.n)
}

func TestSaveToEEPROM(t *testing.T) {
	t.Run("snapshot handed to persister", func(t *testing.T) {
		f := newFixture()
		f.write(pidproto.VarKD, 2.5)

		resp := f.read(pidproto.CmdSaveToEEPROM)
		assert.Equal(t, pidproto.ResultOK, resp.Result)
		require.Len(t, f.persist.saved, 1)
		assert.Equal(t, float32(2.5), f.persist.saved[0].KD)
	})

	t.Run("failure still acknowledged", func(t *testing.T) {
		f := newFixture()
		f.persist.err = errors.New("disk full")
		var saveErrs int
		f.d = New(f.store, f.pub, WithPersister(f.persist),
			WithMetricsCallbacks(nil, func(error) { saveErrs++ }))

		resp := f.read(pidproto.CmdSaveToEEPROM)
		assert.Equal(t, pidproto.ResultOK, resp.Result)
		assert.Equal(t, 1, saveErrs)
	})

	t.Run("no persister", func(t *testing.T) {
		d := New(varstore.New(varstore.Defaults()), stream.New(nopSender{}))
		resp := d.Handle(pidproto.Frame{Opcode: pidproto.OpRead, ID: pidproto.CmdSaveToEEPROM})
		assert.Equal(t, pidproto.ResultOK, resp.Result)
	})
}

func TestHandleDatagram(t *testing.T) {
	f := newFixture()

	req := f.codec.NewRequest(pidproto.OpRead, pidproto.VarSetpoint).Marshal()
	out, err := f.d.HandleDatagram(req[:])
	require.NoError(t, err)
	assert.Equal(t, pidproto.EncodeControlByte(pidproto.OpRead, pidproto.VarSetpoint, pidproto.ResultOK), out[0])

	_, err = f.d.HandleDatagram(req[:5])
	assert.ErrorIs(t, err, pidproto.ErrFrameSize)
	assert.Equal(t, 1, f.activity.n, "short datagram is not a request")
}

func TestRequestCallback(t *testing.T) {
	type seen struct {
		op     pidproto.Opcode
		id     pidproto.ID
		result pidproto.Result
	}
	var got []seen
	d := New(varstore.New(varstore.Defaults()), stream.New(nopSender{}),
		WithMetricsCallbacks(func(op pidproto.Opcode, id pidproto.ID, r pidproto.Result) {
			got = append(got, seen{op, id, r})
		}, nil))

	d.Handle(pidproto.DefaultCodec.NewRequest(pidproto.OpWrite, pidproto.VarErrI, 1))
	d.Handle(pidproto.DefaultCodec.NewRequest(pidproto.OpRead, pidproto.VarKI))

	assert.Equal(t, []seen{
		{pidproto.OpWrite, pidproto.VarErrI, pidproto.ResultError},
		{pidproto.OpRead, pidproto.VarKI, pidproto.ResultOK},
	}, got)
}

// orderedStream records stream commands next to activity notifications
type orderedStream struct{ events *[]string }

func (s orderedStream) Start() bool          { *s.events = append(*s.events, "start"); return true }
func (s orderedStream) Stop() (uint64, bool) { *s.events = append(*s.events, "stop"); return 0, true }

type orderedActivity struct{ events *[]string }

func (a orderedActivity) OnValidRequest() { *a.events = append(*a.events, "activity") }

func TestActivityPrecedesStreamCommand(t *testing.T) {
	var events []string
	d := New(varstore.New(varstore.Defaults()), orderedStream{&events},
		WithActivity(orderedActivity{&events}))

	d.Handle(pidproto.DefaultCodec.NewRequest(pidproto.OpRead, pidproto.CmdStreamStart))
	d.Handle(pidproto.DefaultCodec.NewRequest(pidproto.OpRead, pidproto.CmdStreamStop))

	assert.Equal(t, []string{"activity", "start", "activity", "stop"}, events)
}
