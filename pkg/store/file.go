package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/matelearn/pkg/mate"
	"github.com/chazu/matelearn/pkg/rules"
)

// SaveFile writes lib to path, choosing the encoding by extension. The
// file is replaced atomically: readers see either the old or the new
// library, never a partial one.
func SaveFile(path string, lib *rules.Library) error {
	c := NewCodec(FormatOf(path))
	return writeAtomic(path, func(f *os.File) error { return c.EncodeLibrary(f, lib) })
}

// LoadFile reads a library written by SaveFile.
func LoadFile(path string) (*rules.Library, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	defer f.Close()
	lib, err := NewCodec(FormatOf(path)).DecodeLibrary(f)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return lib, nil
}

// SaveObservations writes an observation set to path.
func SaveObservations(path string, obs []mate.Observation) error {
	c := NewCodec(FormatOf(path))
	return writeAtomic(path, func(f *os.File) error { return c.EncodeObservations(f, obs) })
}

// LoadObservations reads an observation set written by SaveObservations.
func LoadObservations(path string) ([]mate.Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	defer f.Close()
	obs, err := NewCodec(FormatOf(path)).DecodeObservations(f)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return obs, nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}
