// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package persist

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/pidlink/pkg/varstore"
)

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pidlink.eeprom")
	s, err := NewFileStore(path, nil)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	v := varstore.Defaults()
	v.Setpoint = 99.5
	v.ErrPLimits = varstore.Pair{Lo: -1, Hi: 1}
	require.NoError(t, s.Save(v))

	img, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, uint8(ImageVersion), img.Version)
	assert.Equal(t, v, img.Values)
	assert.True(t, img.SavedAt.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file cleaned up")
}

func TestSaveReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image")
	s, err := NewFileStore(path, nil)
	require.NoError(t, err)

	first := varstore.Defaults()
	require.NoError(t, s.Save(first))
	second := first
	second.KP = 1
	require.NoError(t, s.Save(second))

	img, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, float32(1), img.Values.KP)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		s, err := NewFileStore(filepath.Join(dir, "missing"), nil)
		require.NoError(t, err)
		_, err = s.Load()
		assert.ErrorIs(t, err, ErrNoImage)
	})

	t.Run("garbage", func(t *testing.T) {
		path := filepath.Join(dir, "garbage")
		require.NoError(t, os.WriteFile(path, []byte{0xff, 0x00, 0x13}, 0o644))
		s, err := NewFileStore(path, nil)
		require.NoError(t, err)
		_, err = s.Load()
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoImage)
	})

	t.Run("version", func(t *testing.T) {
		data, err := cbor.Marshal(Image{Version: 9, Values: varstore.Defaults()})
		require.NoError(t, err)
		_, err = DecodeImage(data)
		assert.ErrorIs(t, err, ErrVersion)
	})
}

func TestSaveIntoMissingDirectory(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "nope", "image"), nil)
	require.NoError(t, err)
	assert.Error(t, s.Save(varstore.Defaults()))
}

func TestEmptyPath(t *testing.T) {
	_, err := NewFileStore("", nil)
	assert.Error(t, err)
}
