package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"FedGuard/internal/storage"
)

var (
	// prefixBlock keys one JSON record per block: b:<index big-endian u64>.
	prefixBlock = []byte("b:")

	// prefixQuarantine holds copies of corrupt chains: q:<unix nanos>:<block key>.
	prefixQuarantine = []byte("q:")
)

// PebbleStore persists the chain as an append-only log of block records.
// Append writes a single key, so committing a round never rewrites history.
type PebbleStore struct {
	db *storage.Storage
}

// NewPebbleStore returns a store backed by db.
func NewPebbleStore(db *storage.Storage) *PebbleStore {
	return &PebbleStore{db: db}
}

// Load reads every block record in index order.
func (s *PebbleStore) Load() ([]Block, error) {
	var chain []Block

	err := s.db.IteratePrefix(prefixBlock, func(key, value []byte) error {
		if len(key) != len(prefixBlock)+8 {
			return fmt.Errorf("%w: malformed key %x", ErrChainCorrupted, key)
		}

		b, err := decodeBlock(value)
		if err != nil {
			return err
		}

		keyIndex := binary.BigEndian.Uint64(key[len(prefixBlock):])
		if keyIndex != uint64(len(chain)) {
			return fmt.Errorf("%w: missing record %d", ErrChainCorrupted, len(chain))
		}

		chain = append(chain, b)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(chain) == 0 {
		return nil, ErrNotFound
	}

	return chain, nil
}

// Save replaces every block record with chain in one batch.
func (s *PebbleStore) Save(chain []Block) error {
	pairs := make([]storage.KeyValue, len(chain))

	for i, b := range chain {
		kv, err := blockPair(uint64(i), b)
		if err != nil {
			return err
		}
		pairs[i] = kv
	}

	if err := s.db.ReplacePrefix(prefixBlock, pairs); err != nil {
		return fmt.Errorf("write chain:\n%w", err)
	}

	return nil
}

// Append persists one block record. An existing record is never overwritten.
func (s *PebbleStore) Append(b Block) error {
	kv, err := blockPair(b.Index, b)
	if err != nil {
		return err
	}

	existing, err := s.db.Get(kv.Key)
	if err != nil {
		return fmt.Errorf("read block %d:\n%w", b.Index, err)
	}
	if existing != nil {
		return fmt.Errorf("block %d already stored", b.Index)
	}

	if err := s.db.Set(kv.Key, kv.Value); err != nil {
		return fmt.Errorf("write block %d:\n%w", b.Index, err)
	}

	return nil
}

// Quarantine copies every block record under a fresh q: prefix so a
// corrupt chain survives the reset that follows. It returns that prefix.
func (s *PebbleStore) Quarantine() (string, error) {
	tag := fmt.Appendf(append([]byte{}, prefixQuarantine...), "%d:", time.Now().UnixNano())

	var pairs []storage.KeyValue
	err := s.db.IteratePrefix(prefixBlock, func(key, value []byte) error {
		pairs = append(pairs, storage.KeyValue{
			Key:   append(bytes.Clone(tag), key...),
			Value: bytes.Clone(value),
		})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("read corrupt chain:\n%w", err)
	}

	if err := s.db.SetBatch(pairs); err != nil {
		return "", fmt.Errorf("quarantine chain:\n%w", err)
	}

	return string(tag), nil
}

// blockPair encodes a block under its position key.
func blockPair(pos uint64, b Block) (storage.KeyValue, error) {
	value, err := json.Marshal(b)
	if err != nil {
		return storage.KeyValue{}, fmt.Errorf("encode block %d:\n%w", b.Index, err)
	}

	return storage.KeyValue{Key: makeBlockKey(pos), Value: value}, nil
}

// makeBlockKey creates the storage key for a block position.
func makeBlockKey(index uint64) []byte {
	key := make([]byte, len(prefixBlock)+8)
	copy(key, prefixBlock)
	binary.BigEndian.PutUint64(key[len(prefixBlock):], index)
	return key
}
