package digest

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// codecMagic identifies an encoded weight set.
	codecMagic = "FGW1"

	// maxTensors bounds the tensor count accepted by Decode.
	maxTensors = 1 << 16

	// maxRank bounds the number of dimensions accepted by Decode.
	maxRank = 16

	// maxElements bounds the element count of a single decoded tensor.
	maxElements = 1 << 28
)

// ErrBadEncoding is returned when Decode reads malformed input.
var ErrBadEncoding = errors.New("digest: bad weight encoding")

// Encode writes a weight set in the binary tensor format:
// magic, u32 tensor count, then per tensor u8 dtype, u8 rank,
// u32 dims, and the raw little-endian element bytes hashed by Sum.
func Encode(w io.Writer, weights []Tensor) error {
	if err := Validate(weights); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString(codecMagic); err != nil {
		return err
	}

	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(weights)))
	bw.Write(buf[:4])

	for _, t := range weights {
		bw.WriteByte(byte(t.DType))
		bw.WriteByte(byte(len(t.Shape)))

		for _, dim := range t.Shape {
			binary.LittleEndian.PutUint32(buf[:4], uint32(dim))
			bw.Write(buf[:4])
		}

		if err := writeRaw(bw, t); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// writeRaw writes the tensor elements with the same encoding used by Sum.
func writeRaw(w io.Writer, t Tensor) error {
	var buf [8]byte

	for _, v := range t.Data {
		var err error
		if t.DType == Float32 {
			binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(float32(v)))
			_, err = w.Write(buf[:4])
		} else {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			_, err = w.Write(buf[:])
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// Decode reads a weight set written by Encode.
func Decode(r io.Reader) ([]Tensor, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, len(codecMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("%w: read magic: %v", ErrBadEncoding, err)
	}
	if string(magic) != codecMagic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadEncoding, magic)
	}

	count, err := readU32(br)
	if err != nil {
		return nil, err
	}
	if count > maxTensors {
		return nil, fmt.Errorf("%w: %d tensors", ErrBadEncoding, count)
	}

	weights := make([]Tensor, 0, count)
	for i := uint32(0); i < count; i++ {
		t, err := decodeTensor(br)
		if err != nil {
			return nil, fmt.Errorf("tensor %d:\n%w", i, err)
		}
		weights = append(weights, t)
	}

	return weights, nil
}

// decodeTensor reads one tensor header and its elements.
func decodeTensor(r *bufio.Reader) (Tensor, error) {
	dtypeByte, err := r.ReadByte()
	if err != nil {
		return Tensor{}, fmt.Errorf("%w: dtype: %v", ErrBadEncoding, err)
	}
	dtype := DType(dtypeByte)
	if dtype.Size() == 0 {
		return Tensor{}, fmt.Errorf("%w: dtype %d", ErrBadEncoding, dtypeByte)
	}

	rank, err := r.ReadByte()
	if err != nil {
		return Tensor{}, fmt.Errorf("%w: rank: %v", ErrBadEncoding, err)
	}
	if rank > maxRank {
		return Tensor{}, fmt.Errorf("%w: rank %d", ErrBadEncoding, rank)
	}

	shape := make([]int, rank)
	n := 1
	for i := range shape {
		dim, err := readU32(r)
		if err != nil {
			return Tensor{}, err
		}
		shape[i] = int(dim)
		n *= int(dim)
		if n > maxElements {
			return Tensor{}, fmt.Errorf("%w: tensor too large", ErrBadEncoding)
		}
	}

	data := make([]float64, n)
	var buf [8]byte
	width := dtype.Size()

	for i := range data {
		if _, err := io.ReadFull(r, buf[:width]); err != nil {
			return Tensor{}, fmt.Errorf("%w: element %d: %v", ErrBadEncoding, i, err)
		}
		if dtype == Float32 {
			data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[:4])))
		} else {
			data[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[:]))
		}
	}

	return Tensor{Shape: shape, DType: dtype, Data: data}, nil
}

// readU32 reads a little-endian uint32.
func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
