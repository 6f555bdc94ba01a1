package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

const (
	// GenesisModelHash is the model hash committed by the genesis block.
	GenesisModelHash = "GENESIS_ROOT"

	// GenesisPrevHash is the prev_hash sentinel of the genesis block.
	GenesisPrevHash = "0"
)

// Block is one committed training round.
type Block struct {
	Index     uint64         `json:"index"`      // Index increases by one per block, starting at 0
	Timestamp float64        `json:"timestamp"`  // Timestamp is seconds since epoch, informational only
	ModelHash string         `json:"model_hash"` // ModelHash is the weight digest committed by the round
	PrevHash  string         `json:"prev_hash"`  // PrevHash links to the previous block, "0" for genesis
	Metadata  map[string]any `json:"metadata"`   // Metadata is free-form round information, hashed canonically
	Hash      string         `json:"hash"`       // Hash is always recomputed, never trusted from storage
}

// Time returns the block timestamp as a time.Time.
func (b Block) Time() time.Time {
	sec, frac := math.Modf(b.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// ComputeHash returns the SHA-256 of the block content.
// Content is index|timestamp|model_hash|prev_hash|metadata where timestamp
// is the shortest decimal form and metadata is key-sorted compact JSON.
func (b Block) ComputeHash() (string, error) {
	meta, err := canonicalJSON(b.Metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata of block %d:\n%w", b.Index, err)
	}

	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|", b.Index, strconv.FormatFloat(b.Timestamp, 'f', -1, 64), b.ModelHash, b.PrevHash)
	h.Write(meta)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// clone returns a copy whose metadata map can be handed out safely.
func (b Block) clone() Block {
	out := b
	if b.Metadata != nil {
		out.Metadata = make(map[string]any, len(b.Metadata))
		for k, v := range b.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// newBlock builds a block and computes its hash.
func newBlock(index uint64, modelHash, prevHash string, metadata map[string]any, now time.Time) (Block, error) {
	meta, err := normalizeMetadata(metadata)
	if err != nil {
		return Block{}, err
	}

	b := Block{
		Index:     index,
		Timestamp: float64(now.UnixMicro()) / 1e6,
		ModelHash: modelHash,
		PrevHash:  prevHash,
		Metadata:  meta,
	}

	b.Hash, err = b.ComputeHash()
	if err != nil {
		return Block{}, err
	}

	return b, nil
}

// normalizeMetadata round-trips metadata through JSON so an appended block
// holds exactly what a reloaded block will hold (maps, slices, json.Number).
func normalizeMetadata(metadata map[string]any) (map[string]any, error) {
	if len(metadata) == 0 {
		return map[string]any{}, nil
	}

	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	var out map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	return out, nil
}

// canonicalJSON encodes metadata as compact JSON with sorted keys and no
// HTML escaping. Nil and empty maps both encode as {}.
func canonicalJSON(metadata map[string]any) ([]byte, error) {
	if len(metadata) == 0 {
		return []byte("{}"), nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(metadata); err != nil {
		return nil, err
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
