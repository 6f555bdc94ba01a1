package storage

import (
	"bytes"
	"path/filepath"
	"testing"
)

// newTestStorage creates a temporary storage for testing.
func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestSetAndGet(t *testing.T) {
	s := newTestStorage(t)

	key := []byte("b:0001")
	value := []byte(`{"index":1}`)

	if err := s.Set(key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !bytes.Equal(got, value) {
		t.Errorf("Get returned %q, want %q", got, value)
	}
}

func TestGetNonExistent(t *testing.T) {
	s := newTestStorage(t)

	got, err := s.Get([]byte("non-existent"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got != nil {
		t.Errorf("Get returned %q, want nil", got)
	}
}

func TestIteratePrefixOrder(t *testing.T) {
	s := newTestStorage(t)

	pairs := []KeyValue{
		{Key: []byte("b:2"), Value: []byte("two")},
		{Key: []byte("a:1"), Value: []byte("other")},
		{Key: []byte("b:1"), Value: []byte("one")},
		{Key: []byte("c:1"), Value: []byte("other")},
	}
	if err := s.SetBatch(pairs); err != nil {
		t.Fatalf("SetBatch failed: %v", err)
	}

	var got []string
	err := s.IteratePrefix([]byte("b:"), func(key, value []byte) error {
		got = append(got, string(key)+"="+string(value))
		return nil
	})
	if err != nil {
		t.Fatalf("IteratePrefix failed: %v", err)
	}

	want := []string{"b:1=one", "b:2=two"}
	if len(got) != len(want) {
		t.Fatalf("IteratePrefix visited %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReplacePrefix(t *testing.T) {
	s := newTestStorage(t)

	if err := s.SetBatch([]KeyValue{
		{Key: []byte("b:1"), Value: []byte("old-1")},
		{Key: []byte("b:2"), Value: []byte("old-2")},
		{Key: []byte("m:tip"), Value: []byte("keep")},
	}); err != nil {
		t.Fatalf("SetBatch failed: %v", err)
	}

	if err := s.ReplacePrefix([]byte("b:"), []KeyValue{{Key: []byte("b:1"), Value: []byte("new-1")}}); err != nil {
		t.Fatalf("ReplacePrefix failed: %v", err)
	}

	if got, _ := s.Get([]byte("b:2")); got != nil {
		t.Errorf("b:2 survived replace: %q", got)
	}
	if got, _ := s.Get([]byte("b:1")); string(got) != "new-1" {
		t.Errorf("b:1 = %q, want new-1", got)
	}
	if got, _ := s.Get([]byte("m:tip")); string(got) != "keep" {
		t.Errorf("key outside prefix changed: %q", got)
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	s, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	got, err := s.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get after reopen = %q, want v", got)
	}
}

func TestPrefixUpperBound(t *testing.T) {
	tests := []struct {
		prefix []byte
		want   []byte
	}{
		{[]byte("b:"), []byte("b;")},
		{[]byte{0x01, 0xFF}, []byte{0x02}},
		{[]byte{0xFF, 0xFF}, nil},
	}

	for _, tt := range tests {
		got := prefixUpperBound(tt.prefix)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("prefixUpperBound(%x) = %x, want %x", tt.prefix, got, tt.want)
		}
	}
}
