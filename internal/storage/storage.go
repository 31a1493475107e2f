// Package storage lays out a run's files on disk and reads and writes the
// retry manifest.
package storage

import "time"

// TimestampFormat is used for the {timestamp} placeholder of the output
// filename template.
const TimestampFormat = "20060102_150405"

// File suffixes appended to the output stem.
const (
	ReportSuffix   = "_report.txt"
	ManifestSuffix = "_failed_scans.csv"
	DebugSuffix    = "_debug.txt"
	SummarySuffix  = "_summary.json"
	LedgerSuffix   = "_ledger.json"
)

// RunPaths are the files one run produces. Every path derives from Output.
type RunPaths struct {
	Output   string `json:"output"`
	Report   string `json:"report"`
	Manifest string `json:"manifest"`
	DebugLog string `json:"debug_log"`
	Summary  string `json:"summary"`
	Ledger   string `json:"ledger"`
}

// Layout resolves run paths inside an output directory.
type Layout interface {
	RunPaths(template, tenant string, ts time.Time) (RunPaths, error)
	EnsureDirectoryExists() error
}
