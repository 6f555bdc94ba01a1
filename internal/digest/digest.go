// Package digest fingerprints model weight sets.
//
// A weight set is the ordered list of tensors exposed by the model runtime.
// The fingerprint is a SHA-256 over every element's raw little-endian bytes,
// tensor after tensor, so any bit-level change or reordering changes it.
package digest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"math"
)

// DType is the element encoding of a tensor.
type DType uint8

const (
	// Float32 tensors hash 4 bytes per element.
	Float32 DType = 1

	// Float64 tensors hash 8 bytes per element.
	Float64 DType = 2
)

// Size returns the element width in bytes, or 0 for an unknown dtype.
func (d DType) Size() int {
	switch d {
	case Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

// String returns the dtype name used in JSON payloads.
func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// ParseDType converts a dtype name into a DType.
func ParseDType(name string) (DType, error) {
	switch name {
	case "float32", "f32":
		return Float32, nil
	case "", "float64", "f64":
		return Float64, nil
	default:
		return 0, fmt.Errorf("unknown dtype %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d DType) MarshalText() ([]byte, error) {
	if d.Size() == 0 {
		return nil, fmt.Errorf("unknown dtype %d", uint8(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DType) UnmarshalText(text []byte) error {
	parsed, err := ParseDType(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Tensor is one fixed-shape numeric array of a weight set.
// Data is stored row-major; Float32 tensors keep float32-representable values.
type Tensor struct {
	Shape []int     `json:"shape"` // Shape is the tensor dimensions
	DType DType     `json:"dtype"` // DType selects the element byte encoding
	Data  []float64 `json:"data"`  // Data holds the elements in iteration order
}

// Validate checks that the shape matches the element count and stays within
// the limits the checkpoint codec can encode.
func (t Tensor) Validate() error {
	if t.DType.Size() == 0 {
		return fmt.Errorf("unknown dtype %d", uint8(t.DType))
	}
	if len(t.Shape) > maxRank {
		return fmt.Errorf("rank %d exceeds %d", len(t.Shape), maxRank)
	}

	n := 1
	for _, dim := range t.Shape {
		if dim < 0 {
			return fmt.Errorf("negative dimension %d", dim)
		}
		if dim > maxElements {
			return fmt.Errorf("dimension %d exceeds %d", dim, maxElements)
		}
		// n and dim are both at most maxElements, so the product fits.
		n *= dim
		if n > maxElements {
			return fmt.Errorf("shape %v exceeds %d elements", t.Shape, maxElements)
		}
	}

	if n != len(t.Data) {
		return fmt.Errorf("shape %v holds %d elements, data has %d", t.Shape, n, len(t.Data))
	}

	return nil
}

// Validate checks every tensor of a weight set.
func Validate(weights []Tensor) error {
	for i, t := range weights {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tensor %d: %w", i, err)
		}
	}
	return nil
}

// Sum returns the hex SHA-256 fingerprint of a weight set.
// Tensor order is part of the fingerprint. Shapes are not: two sets with
// the same element bytes in the same order but different shapes share a
// digest, so callers comparing layouts must compare shapes too.
func Sum(weights []Tensor) string {
	h := sha256.New()

	for _, t := range weights {
		writeElements(h, t)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// writeElements streams a tensor's raw element bytes into h.
func writeElements(h hash.Hash, t Tensor) {
	var buf [8]byte

	switch t.DType {
	case Float32:
		for _, v := range t.Data {
			binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(float32(v)))
			h.Write(buf[:4])
		}
	default:
		for _, v := range t.Data {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
	}
}

// Clone returns a deep copy of a weight set.
func Clone(weights []Tensor) []Tensor {
	out := make([]Tensor, len(weights))
	for i, t := range weights {
		out[i] = Tensor{
			Shape: append([]int(nil), t.Shape...),
			DType: t.DType,
			Data:  append([]float64(nil), t.Data...),
		}
	}
	return out
}
