// Package gguf reads GGUF file headers to produce the inspector summary and
// compatibility guess recorded for downloaded files.
package gguf

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"moxind/pkg/types"
)

const magic = 0x46554747 // "GGUF" little-endian

// maxStringLen bounds metadata strings so a corrupt header cannot force a
// huge allocation.
const maxStringLen = 1 << 20

// ErrNotGGUF is returned when the file does not start with the GGUF magic.
var ErrNotGGUF = errors.New("not a gguf file")

// metadata value types of the GGUF format.
const (
	typeUint8 uint32 = iota
	typeInt8
	typeUint16
	typeInt16
	typeUint32
	typeInt32
	typeFloat32
	typeBool
	typeString
	typeArray
	typeUint64
	typeInt64
	typeFloat64
)

// Header is the parsed GGUF header plus the metadata values we surface.
type Header struct {
	Version       uint32         `json:"version"`
	TensorCount   uint64         `json:"tensor_count"`
	MetadataCount uint64         `json:"metadata_count"`
	Architecture  string         `json:"architecture,omitempty"`
	Name          string         `json:"name,omitempty"`
	ContextLength uint64         `json:"context_length,omitempty"`
	FileType      uint64         `json:"file_type,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Report is the inspector output stored with a downloaded file.
type Report struct {
	Format string  `json:"format"`
	Path   string  `json:"path"`
	Size   int64   `json:"size"`
	Header *Header `json:"header,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// ReadHeader parses the header and scalar metadata from r.
func ReadHeader(r io.Reader) (*Header, error) {
	br := bufio.NewReader(r)
	var m uint32
	if err := binary.Read(br, binary.LittleEndian, &m); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if m != magic {
		return nil, ErrNotGGUF
	}
	h := &Header{Metadata: map[string]any{}}
	if err := binary.Read(br, binary.LittleEndian, &h.Version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if h.Version < 2 {
		return nil, fmt.Errorf("unsupported gguf version %d", h.Version)
	}
	if err := binary.Read(br, binary.LittleEndian, &h.TensorCount); err != nil {
		return nil, fmt.Errorf("read tensor count: %w", err)
	}
	if err := binary.Read(br, binary.LittleEndian, &h.MetadataCount); err != nil {
		return nil, fmt.Errorf("read metadata count: %w", err)
	}
	for i := uint64(0); i < h.MetadataCount; i++ {
		key, err := readString(br)
		if err != nil {
			return h, fmt.Errorf("metadata %d key: %w", i, err)
		}
		var vt uint32
		if err := binary.Read(br, binary.LittleEndian, &vt); err != nil {
			return h, fmt.Errorf("metadata %q type: %w", key, err)
		}
		v, err := readValue(br, vt)
		if err != nil {
			return h, fmt.Errorf("metadata %q: %w", key, err)
		}
		if v != nil {
			h.Metadata[key] = v
		}
	}
	h.Architecture, _ = h.Metadata["general.architecture"].(string)
	h.Name, _ = h.Metadata["general.name"].(string)
	if h.Architecture != "" {
		h.ContextLength = asUint(h.Metadata[h.Architecture+".context_length"])
	}
	h.FileType = asUint(h.Metadata["general.file_type"])
	return h, nil
}

// InspectFile inspects the file at path. It never fails: problems are
// reported in the Report and turn the guess into NotSupported.
func InspectFile(path string) (Report, types.CompatibilityGuess) {
	rep := Report{Format: "unknown", Path: path}
	f, err := os.Open(path)
	if err != nil {
		rep.Error = err.Error()
		return rep, types.NotSupported
	}
	defer f.Close()
	if fi, err := f.Stat(); err == nil {
		rep.Size = fi.Size()
	}
	h, err := ReadHeader(f)
	if h != nil {
		rep.Format = "gguf"
		rep.Header = h
	}
	if err != nil {
		rep.Error = err.Error()
		return rep, types.NotSupported
	}
	return rep, types.PossiblySupported
}

// JSON renders the report; it falls back to an error object on failure.
func (r Report) JSON() string {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(b)
}

func readString(r io.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", fmt.Errorf("string length %d exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func scalarSize(vt uint32) int64 {
	switch vt {
	case typeUint8, typeInt8, typeBool:
		return 1
	case typeUint16, typeInt16:
		return 2
	case typeUint32, typeInt32, typeFloat32:
		return 4
	case typeUint64, typeInt64, typeFloat64:
		return 8
	}
	return 0
}

// readValue decodes scalar values. Arrays are skipped and reported as nil.
func readValue(r io.Reader, vt uint32) (any, error) {
	switch vt {
	case typeString:
		return readString(r)
	case typeArray:
		var et uint32
		var n uint64
		if err := binary.Read(r, binary.LittleEndian, &et); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		if sz := scalarSize(et); sz > 0 {
			if n > math.MaxInt64/uint64(sz) {
				return nil, fmt.Errorf("array too large")
			}
			_, err := io.CopyN(io.Discard, r, int64(n)*sz)
			return nil, err
		}
		for i := uint64(0); i < n; i++ {
			if _, err := readValue(r, et); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	buf := make([]byte, scalarSize(vt))
	if len(buf) == 0 {
		return nil, fmt.Errorf("unknown value type %d", vt)
	}
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	switch vt {
	case typeUint8:
		return uint64(buf[0]), nil
	case typeInt8:
		return int64(int8(buf[0])), nil
	case typeBool:
		return buf[0] != 0, nil
	case typeUint16:
		return uint64(le.Uint16(buf)), nil
	case typeInt16:
		return int64(int16(le.Uint16(buf))), nil
	case typeUint32:
		return uint64(le.Uint32(buf)), nil
	case typeInt32:
		return int64(int32(le.Uint32(buf))), nil
	case typeFloat32:
		return float64(math.Float32frombits(le.Uint32(buf))), nil
	case typeUint64:
		return le.Uint64(buf), nil
	case typeInt64:
		return int64(le.Uint64(buf)), nil
	case typeFloat64:
		return math.Float64frombits(le.Uint64(buf)), nil
	}
	return nil, nil
}

func asUint(v any) uint64 {
	switch x := v.(type) {
	case uint64:
		return x
	case int64:
		if x > 0 {
			return uint64(x)
		}
	}
	return 0
}

// LooksLikeGGUF is a cheap name-based check used before a file exists.
func LooksLikeGGUF(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".gguf")
}
