package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"FedGuard/internal/storage"
)

// Store persists a chain of blocks.
type Store interface {
	// Load returns the persisted chain, or ErrNotFound when none exists.
	// Decoding or schema failures wrap ErrChainCorrupted. Stored hashes are
	// returned as found; the ledger recomputes them.
	Load() ([]Block, error)

	// Save replaces the persisted chain with chain.
	Save(chain []Block) error
}

// Appender is implemented by stores that can persist one new block without
// rewriting the chain.
type Appender interface {
	Append(b Block) error
}

// Quarantiner is implemented by stores that can move a corrupt chain aside
// before it is replaced by a fresh genesis.
type Quarantiner interface {
	Quarantine() (string, error)
}

// hexHash matches a SHA-256 hex digest.
var hexHash = regexp.MustCompile(`^[0-9a-f]{64}$`)

// DecodeChain strictly decodes a JSON block document as served or persisted.
// Hashes are returned as found.
func DecodeChain(data []byte) ([]Block, error) {
	return decodeChain(data)
}

// decodeChain strictly decodes a JSON block document.
func decodeChain(data []byte) ([]Block, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	var chain []Block
	if err := dec.Decode(&chain); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainCorrupted, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after chain", ErrChainCorrupted)
	}
	if chain == nil {
		return nil, fmt.Errorf("%w: document is not a block array", ErrChainCorrupted)
	}

	for i, b := range chain {
		if err := validateRecord(b); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrChainCorrupted, i, err)
		}
	}

	return chain, nil
}

// decodeBlock strictly decodes a single JSON block record.
func decodeBlock(data []byte) (Block, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	var b Block
	if err := dec.Decode(&b); err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrChainCorrupted, err)
	}
	if err := validateRecord(b); err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrChainCorrupted, err)
	}

	return b, nil
}

// validateRecord checks the fields every persisted block must carry.
func validateRecord(b Block) error {
	if b.ModelHash == "" {
		return errors.New("missing model_hash")
	}
	if b.PrevHash == "" {
		return errors.New("missing prev_hash")
	}
	if !hexHash.MatchString(b.Hash) {
		return fmt.Errorf("hash %q is not a sha256 hex digest", b.Hash)
	}
	return nil
}

// FileStore persists the chain as one JSON document.
// Saves write a temporary file in the same directory, sync it, and rename
// it over the document so a crash never leaves a truncated chain.
type FileStore struct {
	path string // path is the ledger document location
}

// NewFileStore returns a store backed by the JSON document at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the document location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and strictly decodes the document.
func (s *FileStore) Load() ([]Block, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s:\n%w", s.path, err)
	}

	return decodeChain(data)
}

// Save atomically replaces the document with chain.
func (s *FileStore) Save(chain []Block) error {
	data, err := json.MarshalIndent(chain, "", "    ")
	if err != nil {
		return fmt.Errorf("encode chain:\n%w", err)
	}

	return storage.WriteFileAtomic(s.path, append(data, '\n'))
}

// Quarantine renames the current document to <path>.corrupt-<unix>.
func (s *FileStore) Quarantine() (string, error) {
	dest := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
	if err := os.Rename(s.path, dest); err != nil {
		return "", fmt.Errorf("quarantine %s:\n%w", s.path, err)
	}
	return dest, nil
}
