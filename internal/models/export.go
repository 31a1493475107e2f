package models

import (
	"fmt"
	"time"
)

// ExportState is the lifecycle state of a report export attempt.
type ExportState string

const (
	ExportRequested ExportState = "requested"
	ExportPolling   ExportState = "polling"
	ExportCompleted ExportState = "completed"
	ExportFailed    ExportState = "failed"
	ExportTimedOut  ExportState = "timed_out"
)

// Terminal reports whether no further transition is possible.
func (s ExportState) Terminal() bool {
	return s == ExportCompleted || s == ExportFailed || s == ExportTimedOut
}

var exportTransitions = map[ExportState][]ExportState{
	"":              {ExportRequested},
	ExportRequested: {ExportPolling, ExportFailed},
	ExportPolling:   {ExportCompleted, ExportFailed, ExportTimedOut},
	ExportCompleted: {ExportFailed},
}

// ExportJob tracks one attempt at exporting a scan's report. It is owned by
// the worker executing it until it reaches a terminal state.
type ExportJob struct {
	Scan     ScanRef       `json:"scan"`
	ExportID string        `json:"export_id,omitempty"`
	State    ExportState   `json:"state"`
	Attempt  int           `json:"attempt"`
	Wait     time.Duration `json:"wait"`
	Polls    int           `json:"polls"`
	Error    string        `json:"error,omitempty"`
}

// Transition moves the job to next, rejecting non-monotonic moves. A completed
// job may still fail when its download does.
func (j *ExportJob) Transition(next ExportState) error {
	for _, allowed := range exportTransitions[j.State] {
		if allowed == next {
			j.State = next
			return nil
		}
	}
	return fmt.Errorf("invalid export transition %q -> %q", j.State, next)
}
