package repeater

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stellarlinkco/parrot/internal/accounts"
	"github.com/stellarlinkco/parrot/internal/bus"
	"github.com/stellarlinkco/parrot/internal/cooldown"
	"github.com/stellarlinkco/parrot/internal/corpus"
)

type runnerFixture struct {
	runner *Runner
	store  *corpus.Store
	gate   *cooldown.Gate
	acct   *accounts.Store

	sent    []string
	results []bus.SendResult
	delays  []time.Duration
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	dir := t.TempDir()

	store, err := corpus.Open(filepath.Join(dir, "corpus.db"), 15, 2)
	if err != nil {
		t.Fatalf("open corpus: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	acct, err := accounts.Open(filepath.Join(dir, "accounts.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("open accounts: %v", err)
	}
	t.Cleanup(func() { acct.Close() })

	f := &runnerFixture{store: store, gate: cooldown.NewGate(), acct: acct}

	f.runner = NewRunner(f.gate, store, acct, bus.NewMessageBus(16), func(msg bus.OutboundMessage) bus.SendResult {
		f.sent = append(f.sent, msg.Text)
		if len(f.results) == 0 {
			return bus.SendOK
		}
		res := f.results[0]
		f.results = f.results[1:]
		return res
	})
	f.runner.sleep = func(d time.Duration) { f.delays = append(f.delays, d) }
	return f
}

func TestRun_SendsItemsInOrder(t *testing.T) {
	f := newRunnerFixture(t)

	f.runner.Run("telegram", "R1", "B1", ActionRepeat, []string{"a", "b", "c"})

	if len(f.sent) != 3 || f.sent[0] != "a" || f.sent[1] != "b" || f.sent[2] != "c" {
		t.Errorf("sent = %v, want [a b c] in order", f.sent)
	}
	if len(f.delays) != 3 {
		t.Fatalf("delays = %d, want one wait before each item", len(f.delays))
	}
}

func TestRun_DelayPolicy(t *testing.T) {
	for i := 0; i < 50; i++ {
		first := randomDelay(true)
		if first < 2*time.Second || first > 5*time.Second {
			t.Fatalf("first delay %v outside [2s, 5s]", first)
		}
		next := randomDelay(false)
		if next < time.Second || next > 3*time.Second {
			t.Fatalf("subsequent delay %v outside [1s, 3s]", next)
		}
	}
}

func TestRun_RefreshesCooldownBeforeEachSend(t *testing.T) {
	f := newRunnerFixture(t)
	now := time.Unix(1000, 0)
	f.gate.SetClock(func() time.Time { return now })

	f.runner.Run("telegram", "R1", "B1", ActionRepeat, []string{"a"})

	if f.gate.Ready("B1", "R1", ActionRepeat, 5*time.Second) {
		t.Error("cooldown should have been refreshed by the send")
	}
}

func TestRun_RejectedHealthyBansAndAborts(t *testing.T) {
	f := newRunnerFixture(t)
	if err := f.acct.SetHealthy("B1", true); err != nil {
		t.Fatalf("SetHealthy: %v", err)
	}
	f.results = []bus.SendResult{bus.SendOK, bus.SendRejected, bus.SendOK}

	f.runner.Run("telegram", "R1", "B1", ActionRepeat, []string{"a", "b", "c"})

	if len(f.sent) != 2 {
		t.Fatalf("sent %d items, want 2 (batch aborted after rejection)", len(f.sent))
	}
	if !f.store.IsBanned("R1", "B1", "b") {
		t.Error("rejected item should be auto-banned for a healthy account")
	}
	if f.store.IsBanned("R1", "B1", "a") || f.store.IsBanned("R1", "B1", "c") {
		t.Error("only the rejected item gets banned")
	}
}

func TestRun_RejectedUnhealthySkipsBanAndContinues(t *testing.T) {
	f := newRunnerFixture(t)
	// B1 has no healthy flag: rejection is attributed to account state.
	f.results = []bus.SendResult{bus.SendRejected, bus.SendOK}

	f.runner.Run("telegram", "R1", "B1", ActionRepeat, []string{"a", "b"})

	if len(f.sent) != 2 {
		t.Fatalf("sent %d items, want 2 (batch continues)", len(f.sent))
	}
	if f.store.IsBanned("R1", "B1", "a") {
		t.Error("no ban when the account is unhealthy")
	}
}
