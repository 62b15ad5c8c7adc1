package cron

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewJob(t *testing.T) {
	job := NewJob("speak", Schedule{Kind: "every", EveryMs: 5000}, Payload{Kind: "speak"})
	if job.ID == "" {
		t.Error("job ID should not be empty")
	}
	if job.Name != "speak" {
		t.Errorf("name = %q, want speak", job.Name)
	}
	if !job.Enabled {
		t.Error("job should be enabled by default")
	}
	if job.Payload.Kind != "speak" {
		t.Errorf("payload kind = %q, want speak", job.Payload.Kind)
	}
}

func TestEnsureJob_PersistsAndDeduplicates(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "jobs.json")
	s := NewService(storePath)

	if err := s.EnsureJob("prune", Schedule{Kind: "cron", Expr: "0 0 4 * * *"}, Payload{Kind: "prune"}); err != nil {
		t.Fatalf("EnsureJob error: %v", err)
	}
	// A second ensure with the same payload kind is a no-op.
	if err := s.EnsureJob("prune-again", Schedule{Kind: "cron", Expr: "0 0 5 * * *"}, Payload{Kind: "prune"}); err != nil {
		t.Fatalf("EnsureJob error: %v", err)
	}

	jobs := s.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("len(jobs) = %d, want 1", len(jobs))
	}
	if jobs[0].Name != "prune" {
		t.Errorf("jobs[0].name = %q, want prune", jobs[0].Name)
	}

	// Verify persistence
	data, err := os.ReadFile(storePath)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	var stored []Job
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("stored jobs = %d, want 1", len(stored))
	}
}

func TestService_EveryJobFires(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "jobs.json")
	s := NewService(storePath)

	var fired atomic.Int64
	s.OnJob = func(job Job) error {
		if job.Payload.Kind == "speak" {
			fired.Add(1)
		}
		return nil
	}

	if err := s.EnsureJob("speak", Schedule{Kind: "every", EveryMs: 100}, Payload{Kind: "speak"}); err != nil {
		t.Fatalf("EnsureJob error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	deadline := time.After(5 * time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("every-job did not fire")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestService_LoadOnStart(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "jobs.json")
	jobs := []Job{NewJob("speak", Schedule{Kind: "every", EveryMs: 5000}, Payload{Kind: "speak"})}
	data, _ := json.MarshalIndent(jobs, "", "  ")
	if err := os.WriteFile(storePath, data, 0644); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	s := NewService(storePath)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	if got := s.ListJobs(); len(got) != 1 || got[0].Name != "speak" {
		t.Errorf("loaded jobs = %v, want the persisted speak job", got)
	}
}
