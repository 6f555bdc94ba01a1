package sync

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"FedGuard/internal/ledger"
)

// createTestLedger creates a file ledger with n committed rounds.
func createTestLedger(t *testing.T, n int) *ledger.Ledger {
	t.Helper()

	clock := time.Unix(1700000000, 0)
	l, err := ledger.Open(
		ledger.NewFileStore(filepath.Join(t.TempDir(), "ledger.json")),
		ledger.WithClock(func() time.Time { clock = clock.Add(time.Second); return clock }),
	)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}

	for round := 1; round <= n; round++ {
		hash := fmtHash(round)
		if _, err := l.Append(uint64(round), hash, map[string]any{"client_count": round}); err != nil {
			t.Fatalf("append round %d: %v", round, err)
		}
	}

	return l
}

// fmtHash returns a distinct 64-char model hash for round.
func fmtHash(round int) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 64)
	for i := range b {
		b[i] = hex[(round+i)%16]
	}
	return string(b)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	l := createTestLedger(t, 3)

	data, err := CreateSnapshot(l.Chain())
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	blocks, err := ApplySnapshot(data)
	if err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}

	if diff := cmp.Diff(l.Chain(), blocks); diff != "" {
		t.Errorf("blocks mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshot_MirrorVerifies(t *testing.T) {
	l := createTestLedger(t, 2)

	data, err := CreateSnapshot(l.Chain())
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	mirror, err := Mirror(data)
	if err != nil {
		t.Fatalf("Mirror: %v", err)
	}

	want, _ := l.Tip()
	got, err := mirror.Tip()
	if err != nil {
		t.Fatalf("mirror Tip: %v", err)
	}
	if got.Hash != want.Hash {
		t.Errorf("mirror tip %s, want %s", got.Hash, want.Hash)
	}
	if v := mirror.Verify(); len(v) != 0 {
		t.Errorf("mirror violations: %v", v)
	}
	if _, err := mirror.Append(3, fmtHash(3), nil); !errors.Is(err, ledger.ErrReadOnly) {
		t.Errorf("mirror Append err = %v, want ErrReadOnly", err)
	}
}

func TestSnapshot_TamperedBlockStillDetected(t *testing.T) {
	chain := createTestLedger(t, 2).Chain()
	chain[1].ModelHash = fmtHash(9)

	// The checksum is computed over the edited chain, so only hash
	// recomputation on the receiving side can catch the edit.
	data, err := CreateSnapshot(chain)
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	mirror, err := Mirror(data)
	if err != nil {
		t.Fatalf("Mirror: %v", err)
	}

	violations := mirror.Verify()
	if len(violations) == 0 || violations[0].Index != 1 || violations[0].Kind != ledger.KindHashMismatch {
		t.Errorf("violations = %v, want hash mismatch at block 1", violations)
	}
}

func TestSnapshot_ChecksumMismatch(t *testing.T) {
	l := createTestLedger(t, 1)

	data, err := CreateSnapshot(l.Chain())
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	raw, err := DecompressSnapshot(data)
	if err != nil {
		t.Fatalf("DecompressSnapshot: %v", err)
	}

	// Flip one digit inside the blocks payload.
	idx := len(raw) - 10
	if raw[idx] == '1' {
		raw[idx] = '2'
	} else {
		raw[idx] = '1'
	}

	tampered, err := CompressSnapshot(raw)
	if err != nil {
		t.Fatalf("CompressSnapshot: %v", err)
	}

	if _, err := ApplySnapshot(tampered); !errors.Is(err, ErrBadSnapshot) {
		t.Errorf("ApplySnapshot err = %v, want ErrBadSnapshot", err)
	}
}

func TestSnapshot_Garbage(t *testing.T) {
	if _, err := ApplySnapshot([]byte("definitely not zstd")); !errors.Is(err, ErrBadSnapshot) {
		t.Errorf("ApplySnapshot err = %v, want ErrBadSnapshot", err)
	}
	if _, err := CreateSnapshot(nil); !errors.Is(err, ErrBadSnapshot) {
		t.Errorf("CreateSnapshot(nil) err = %v, want ErrBadSnapshot", err)
	}
}
