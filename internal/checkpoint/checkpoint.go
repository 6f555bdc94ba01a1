// Package checkpoint persists the latest global model between restarts.
//
// A checkpoint is only trusted when its digest equals the model hash at the
// ledger tip; anything else is treated as stale or tampered and the caller
// starts from a fresh model.
package checkpoint

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"

	"FedGuard/internal/digest"
	"FedGuard/internal/ledger"
	"FedGuard/internal/logger"
	"FedGuard/internal/storage"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint file exists.
	ErrNoCheckpoint = errors.New("checkpoint: not found")

	// ErrCheckpointMismatch is returned when a checkpoint does not match the ledger tip.
	ErrCheckpointMismatch = errors.New("checkpoint: digest does not match ledger")
)

// Store reads and writes one checkpoint file.
type Store struct {
	path string
}

// NewStore returns a store for the checkpoint at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the checkpoint file path.
func (s *Store) Path() string {
	return s.path
}

// Save writes weights atomically and returns their digest.
func (s *Store) Save(weights []digest.Tensor) (string, error) {
	data, err := Encode(weights)
	if err != nil {
		return "", err
	}

	if err := storage.WriteFileAtomic(s.path, data); err != nil {
		return "", fmt.Errorf("write checkpoint:\n%w", err)
	}

	sum := digest.Sum(weights)
	logger.Debug("checkpoint saved", "path", s.path, "digest", sum[:12], "bytes", len(data))

	return sum, nil
}

// Load reads the checkpoint without checking it against the ledger.
func (s *Store) Load() ([]digest.Tensor, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint:\n%w", err)
	}

	return Decode(data)
}

// LoadVerified returns the checkpoint only if its digest equals tip's model hash.
func (s *Store) LoadVerified(tip ledger.Block) ([]digest.Tensor, error) {
	weights, err := s.Load()
	if err != nil {
		return nil, err
	}

	if sum := digest.Sum(weights); sum != tip.ModelHash {
		return nil, fmt.Errorf("%w: checkpoint %s, block %d commits %s", ErrCheckpointMismatch, sum[:12], tip.Index, tip.ModelHash)
	}

	return weights, nil
}

// Encode serializes weights in the tensor wire format and compresses them.
func Encode(weights []digest.Tensor) ([]byte, error) {
	var buf bytes.Buffer
	if err := digest.Encode(&buf, weights); err != nil {
		return nil, fmt.Errorf("encode weights:\n%w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(buf.Bytes(), nil), nil
}

// Decode reverses Encode.
func Decode(data []byte) ([]digest.Tensor, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress checkpoint:\n%w", err)
	}

	weights, err := digest.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode weights:\n%w", err)
	}

	return weights, nil
}
