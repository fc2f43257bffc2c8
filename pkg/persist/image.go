// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package persist keeps the controller's "EEPROM" image in a CBOR file.
//
// The image is written to a temporary file in the same directory and renamed
// over the previous one, so a crash mid-save leaves the old image intact.
package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/Thermoquad/pidlink/pkg/varstore"
)

// ImageVersion is the on-disk format version
const ImageVersion = 1

var (
	// ErrNoImage is returned by Load when no image has been saved yet.
	ErrNoImage = errors.New("no saved image")
	// ErrVersion is returned for images written by an incompatible format.
	ErrVersion = errors.New("unsupported image version")
)

// Image is the persisted record
type Image struct {
	Version uint8           `cbor:"0,keyasint"`
	SavedAt time.Time       `cbor:"1,keyasint"`
	Values  varstore.Values `cbor:"2,keyasint"`
}

// FileStore saves and loads the image at a fixed path
type FileStore struct {
	mu   sync.Mutex
	path string
	log  *zap.Logger
	now  func() time.Time
	enc  cbor.EncMode
}

// NewFileStore creates a file store for path
func NewFileStore(path string, log *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("persist: empty path")
	}
	if log == nil {
		log = zap.NewNop()
	}
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	enc, err := opts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("persist: cbor encoder: %w", err)
	}
	return &FileStore{path: path, log: log, now: time.Now, enc: enc}, nil
}

// Path returns the image location
func (s *FileStore) Path() string {
	return s.path
}

// Save writes v as the new image
func (s *FileStore) Save(v varstore.Values) error {
	data, err := s.enc.Marshal(Image{Version: ImageVersion, SavedAt: s.now().UTC(), Values: v})
	if err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.path, data); err != nil {
		return err
	}
	s.log.Debug("image written", zap.String("path", s.path), zap.Int("bytes", len(data)))
	return nil
}

// Load reads the saved image. It returns ErrNoImage when the file does not exist.
func (s *FileStore) Load() (Image, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return Image{}, fmt.Errorf("%w: %s", ErrNoImage, s.path)
	}
	if err != nil {
		return Image{}, fmt.Errorf("failed to read image: %w", err)
	}
	return DecodeImage(data)
}

// DecodeImage parses an image and checks its version
func DecodeImage(data []byte) (Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return Image{}, fmt.Errorf("failed to decode image: %w", err)
	}
	if img.Version != ImageVersion {
		return Image{}, fmt.Errorf("%w: %d", ErrVersion, img.Version)
	}
	return img, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close image: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace image: %w", err)
	}
	return nil
}
