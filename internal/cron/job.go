package cron

import "github.com/google/uuid"

// Schedule describes when a job runs: Kind "cron" uses a 6-field cron
// expression, Kind "every" a fixed interval.
type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
}

// Payload names the engine action the job triggers.
type Payload struct {
	Kind string `json:"kind"` // "speak" or "prune"
}

type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type Job struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Schedule Schedule `json:"schedule"`
	Payload  Payload  `json:"payload"`
	Enabled  bool     `json:"enabled"`
	State    JobState `json:"state"`
}

func NewJob(name string, schedule Schedule, payload Payload) Job {
	return Job{
		ID:       uuid.NewString(),
		Name:     name,
		Schedule: schedule,
		Payload:  payload,
		Enabled:  true,
	}
}
