package dedup

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestObserve_FirstSeen(t *testing.T) {
	l, err := NewLedger(16, 100, 90)
	if err != nil {
		t.Fatalf("NewLedger error: %v", err)
	}

	if !l.Observe("room1", "m1") {
		t.Error("first observation should report first-seen")
	}
	if l.Observe("room1", "m1") {
		t.Error("second observation of same id should not be first-seen")
	}
	if !l.Observe("room2", "m1") {
		t.Error("same id in a different room is independent")
	}
}

func TestObserve_Concurrent(t *testing.T) {
	l, err := NewLedger(16, 100, 90)
	if err != nil {
		t.Fatalf("NewLedger error: %v", err)
	}

	// N handlers racing on the same message id: exactly one wins.
	const handlers = 32
	var firsts atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < handlers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Observe("room1", "shared-msg") {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := firsts.Load(); got != 1 {
		t.Errorf("first-seen count = %d, want 1", got)
	}
}

func TestObserve_WindowTrim(t *testing.T) {
	l, err := NewLedger(16, 100, 90)
	if err != nil {
		t.Fatalf("NewLedger error: %v", err)
	}

	for i := 0; i < 101; i++ {
		l.Observe("room1", fmt.Sprintf("m%d", i))
	}

	// Overflow trimmed to the newest 90 ids: the oldest fell out and may be
	// learned again; the newest are still remembered.
	if !l.Observe("room1", "m0") {
		t.Error("m0 should have been trimmed out of the window")
	}
	if l.Observe("room1", "m100") {
		t.Error("m100 should still be in the window")
	}
}

func TestObserve_RoomEviction(t *testing.T) {
	l, err := NewLedger(2, 100, 90)
	if err != nil {
		t.Fatalf("NewLedger error: %v", err)
	}

	l.Observe("r1", "m")
	l.Observe("r2", "m")
	l.Observe("r3", "m") // evicts r1

	if !l.Observe("r1", "m") {
		t.Error("evicted room should start a fresh window")
	}
}
