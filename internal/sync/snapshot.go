// Package sync exports the hash ledger to trainers and imports it back.
//
// A snapshot is the JSON block document wrapped in an envelope carrying a
// blake3 checksum, then zstd-compressed. The checksum only guards transport;
// the receiver still recomputes every block hash when it builds its mirror.
package sync

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"FedGuard/internal/ledger"
)

// snapshotVersion is the current snapshot format version.
const snapshotVersion = 1

// ErrBadSnapshot is returned for snapshots that fail to decode or verify.
var ErrBadSnapshot = errors.New("sync: invalid snapshot")

// envelope is the decompressed snapshot document.
type envelope struct {
	Version  uint32          `json:"version"`   // Version is the snapshot format version
	TipIndex uint64          `json:"tip_index"` // TipIndex is the last block's index
	Checksum string          `json:"checksum"`  // Checksum is blake3 over version, tip and blocks
	Blocks   json.RawMessage `json:"blocks"`    // Blocks is the JSON block document
}

// CreateSnapshot encodes a chain for transfer.
func CreateSnapshot(chain []ledger.Block) ([]byte, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: empty chain", ErrBadSnapshot)
	}

	blocks, err := json.Marshal(chain)
	if err != nil {
		return nil, fmt.Errorf("encode blocks:\n%w", err)
	}

	tip := chain[len(chain)-1].Index
	checksum := computeChecksum(snapshotVersion, tip, blocks)

	data, err := json.Marshal(envelope{
		Version:  snapshotVersion,
		TipIndex: tip,
		Checksum: hex.EncodeToString(checksum[:]),
		Blocks:   blocks,
	})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot:\n%w", err)
	}

	return CompressSnapshot(data)
}

// ApplySnapshot decompresses and verifies a snapshot and returns its blocks
// with their hashes as transferred.
func ApplySnapshot(data []byte) ([]ledger.Block, error) {
	raw, err := DecompressSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}

	if env.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrBadSnapshot, env.Version, snapshotVersion)
	}

	if err := verifyChecksum(env); err != nil {
		return nil, fmt.Errorf("verify checksum:\n%w", err)
	}

	blocks, err := ledger.DecodeChain(env.Blocks)
	if err != nil {
		return nil, fmt.Errorf("decode blocks:\n%w", err)
	}

	if n := len(blocks); n == 0 || blocks[n-1].Index != env.TipIndex {
		return nil, fmt.Errorf("%w: blocks do not end at tip %d", ErrBadSnapshot, env.TipIndex)
	}

	return blocks, nil
}

// Mirror builds a read-only ledger from a snapshot.
func Mirror(data []byte) (*ledger.Ledger, error) {
	blocks, err := ApplySnapshot(data)
	if err != nil {
		return nil, err
	}

	return ledger.FromBlocks(blocks)
}

// verifyChecksum checks the envelope checksum against its content.
func verifyChecksum(env envelope) error {
	stored, err := hex.DecodeString(env.Checksum)
	if err != nil || len(stored) != 32 {
		return fmt.Errorf("%w: invalid checksum %q", ErrBadSnapshot, env.Checksum)
	}

	computed := computeChecksum(env.Version, env.TipIndex, env.Blocks)
	if !bytes.Equal(computed[:], stored) {
		return fmt.Errorf("%w: checksum mismatch", ErrBadSnapshot)
	}

	return nil
}

// computeChecksum computes a blake3 checksum over canonical snapshot data.
// Format: version (4 bytes) + tip (8 bytes) + blocks length (4 bytes) + blocks
func computeChecksum(version uint32, tip uint64, blocks []byte) [32]byte {
	hasher := blake3.New()

	var buf [8]byte
	binary.BigEndian.PutUint32(buf[:4], version)
	hasher.Write(buf[:4])

	binary.BigEndian.PutUint64(buf[:], tip)
	hasher.Write(buf[:])

	binary.BigEndian.PutUint32(buf[:4], uint32(len(blocks)))
	hasher.Write(buf[:4])
	hasher.Write(blocks)

	var checksum [32]byte
	hasher.Sum(checksum[:0])

	return checksum
}

// CompressSnapshot compresses snapshot data using zstd.
func CompressSnapshot(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// DecompressSnapshot decompresses zstd-compressed snapshot data.
func DecompressSnapshot(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}
