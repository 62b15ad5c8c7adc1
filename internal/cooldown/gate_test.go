package cooldown

import (
	"testing"
	"time"
)

func TestGate_ReadyWithoutRecord(t *testing.T) {
	g := NewGate()
	if !g.Ready("b1", "r1", "repeat", 5*time.Second) {
		t.Error("gate should be ready when no prior record exists")
	}
}

func TestGate_RefreshBlocksUntilElapsed(t *testing.T) {
	g := NewGate()
	now := time.Unix(1000, 0)
	g.SetClock(func() time.Time { return now })

	g.Refresh("b1", "r1", "repeat")
	if g.Ready("b1", "r1", "repeat", 5*time.Second) {
		t.Error("gate should not be ready immediately after refresh")
	}

	now = now.Add(4 * time.Second)
	if g.Ready("b1", "r1", "repeat", 5*time.Second) {
		t.Error("gate should not be ready before cooldown elapses")
	}

	now = now.Add(time.Second)
	if !g.Ready("b1", "r1", "repeat", 5*time.Second) {
		t.Error("gate should be ready once cooldown has elapsed")
	}
}

func TestGate_KeysAreIndependent(t *testing.T) {
	g := NewGate()
	now := time.Unix(1000, 0)
	g.SetClock(func() time.Time { return now })

	g.Refresh("b1", "r1", "repeat")

	cd := 5 * time.Second
	if !g.Ready("b1", "r1", "speak", cd) {
		t.Error("different action should have its own cooldown")
	}
	if !g.Ready("b1", "r2", "repeat", cd) {
		t.Error("different room should have its own cooldown")
	}
	if !g.Ready("b2", "r1", "repeat", cd) {
		t.Error("different bot should have its own cooldown")
	}
}
