package model

import "time"

// RunKind identifies which command produced a ledger entry.
type RunKind string

const (
	RunKindDaily RunKind = "daily"
	RunKindPrune RunKind = "prune"
)

// RunStatus represents the state of a recorded run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one entry of the run ledger.
type Run struct {
	ID         string     `json:"id" yaml:"id"`
	Kind       RunKind    `json:"kind" yaml:"kind"`
	Mode       MergeMode  `json:"mode,omitempty" yaml:"mode,omitempty"`
	Status     RunStatus  `json:"status" yaml:"status"`
	Result     *RunResult `json:"result,omitempty" yaml:"result,omitempty"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorType  string     `json:"error_type,omitempty" yaml:"error_type,omitempty"`
	StartedAt  time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// RunResult holds the counters of a completed run.
type RunResult struct {
	Provider        string `json:"provider" yaml:"provider"`
	Fetched         int    `json:"fetched" yaml:"fetched"`
	DiscoveredToday int    `json:"discovered_today" yaml:"discovered_today"`
	NewCount        int    `json:"new_count" yaml:"new_count"`
	BaselineCount   int    `json:"baseline_count" yaml:"baseline_count"`
	Removed         int    `json:"removed,omitempty" yaml:"removed,omitempty"`
}
