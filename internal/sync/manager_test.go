package sync

import (
	"testing"
	"time"
)

func TestSnapshotManager_LatestTracksAppends(t *testing.T) {
	l := createTestLedger(t, 1)
	manager := NewSnapshotManager(l)

	first, tip, err := manager.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if tip != 1 {
		t.Errorf("tip = %d, want 1", tip)
	}

	again, _, err := manager.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if &again[0] != &first[0] {
		t.Error("snapshot rebuilt without new blocks")
	}

	if _, err := l.Append(2, fmtHash(2), nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	data, tip, err := manager.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if tip != 2 {
		t.Errorf("tip = %d, want 2", tip)
	}

	blocks, err := ApplySnapshot(data)
	if err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
	if len(blocks) != 3 {
		t.Errorf("snapshot holds %d blocks, want 3", len(blocks))
	}
}

func TestSnapshotManager_BackgroundRefresh(t *testing.T) {
	l := createTestLedger(t, 0)
	manager := NewSnapshotManager(l)
	manager.SetInterval(10 * time.Millisecond)

	manager.Start()
	defer manager.Stop()

	if _, err := l.Append(1, fmtHash(1), nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		manager.mu.RLock()
		length := manager.length
		manager.mu.RUnlock()

		if length == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("background loop did not pick up the appended block")
}
