// Package store persists rule libraries and observation sets. Libraries are
// written as JSON or MessagePack files, kept as named versions in a Badger
// database, and published to readers through a Handle that can follow a
// file on disk.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ugorji/go/codec"

	"github.com/chazu/matelearn/pkg/mate"
	"github.com/chazu/matelearn/pkg/rules"
)

// ErrUnsupportedVersion is returned when a library was written by a newer
// layout than this build understands.
var ErrUnsupportedVersion = errors.New("unsupported library version")

// Format selects the wire encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatMsgpack
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatMsgpack:
		return "msgpack"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat accepts "json", "msgpack" or "mpk".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "msgpack", "mpk":
		return FormatMsgpack, nil
	}
	return 0, fmt.Errorf("store: unknown format %q", s)
}

// FormatOf picks the encoding from a file extension. Anything that is not
// .msgpack or .mpk is JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".msgpack", ".mpk":
		return FormatMsgpack
	default:
		return FormatJSON
	}
}

// Codec encodes libraries and observation sets. Map keys are written in
// sorted order so equal values always produce equal bytes.
type Codec struct {
	format Format
	handle codec.Handle
}

// NewCodec returns a codec for f.
func NewCodec(f Format) *Codec {
	switch f {
	case FormatMsgpack:
		h := &codec.MsgpackHandle{}
		h.WriteExt = true
		h.Canonical = true
		return &Codec{format: f, handle: h}
	default:
		h := &codec.JsonHandle{Indent: 2}
		h.Canonical = true
		return &Codec{format: FormatJSON, handle: h}
	}
}

func (c *Codec) Format() Format { return c.format }

type observationsDoc struct {
	Version      int                `json:"version"`
	Observations []mate.Observation `json:"observations"`
}

// EncodeLibrary writes lib to w.
func (c *Codec) EncodeLibrary(w io.Writer, lib *rules.Library) error {
	if lib == nil {
		return errors.New("store: encode library: nil library")
	}
	if err := codec.NewEncoder(w, c.handle).Encode(lib); err != nil {
		return fmt.Errorf("store: encode library: %w", err)
	}
	return nil
}

// DecodeLibrary reads a library and checks its version and thresholds.
func (c *Codec) DecodeLibrary(r io.Reader) (*rules.Library, error) {
	var lib rules.Library
	if err := codec.NewDecoder(r, c.handle).Decode(&lib); err != nil {
		return nil, fmt.Errorf("store: decode library: %w", err)
	}
	if lib.Version < 1 || lib.Version > rules.FormatVersion {
		return nil, fmt.Errorf("store: decode library: %w: %d", ErrUnsupportedVersion, lib.Version)
	}
	if err := lib.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("store: decode library: %w", err)
	}
	if lib.Rules == nil {
		lib.Rules = []rules.LearnedRule{}
	}
	if lib.Stats.KindCounts == nil {
		lib.Stats.KindCounts = map[string]int{}
	}
	return &lib, nil
}

// EncodeObservations writes an observation set to w.
func (c *Codec) EncodeObservations(w io.Writer, obs []mate.Observation) error {
	if obs == nil {
		obs = []mate.Observation{}
	}
	doc := observationsDoc{Version: rules.FormatVersion, Observations: obs}
	if err := codec.NewEncoder(w, c.handle).Encode(doc); err != nil {
		return fmt.Errorf("store: encode observations: %w", err)
	}
	return nil
}

// DecodeObservations reads an observation set written by EncodeObservations.
func (c *Codec) DecodeObservations(r io.Reader) ([]mate.Observation, error) {
	var doc observationsDoc
	if err := codec.NewDecoder(r, c.handle).Decode(&doc); err != nil {
		return nil, fmt.Errorf("store: decode observations: %w", err)
	}
	if doc.Version > rules.FormatVersion {
		return nil, fmt.Errorf("store: decode observations: %w: %d", ErrUnsupportedVersion, doc.Version)
	}
	for i, o := range doc.Observations {
		if !o.Kind.Valid() {
			return nil, fmt.Errorf("store: decode observations: entry %d: invalid kind %d", i, int(o.Kind))
		}
	}
	return doc.Observations, nil
}

func (c *Codec) marshalLibrary(lib *rules.Library) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.EncodeLibrary(&buf, lib); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Codec) unmarshalLibrary(b []byte) (*rules.Library, error) {
	return c.DecodeLibrary(bytes.NewReader(b))
}
