package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/scaggregator/internal/models"
)

// LoadRunReport reads a run's ledger file.
func LoadRunReport(path string) (*models.RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ledger file: %w", err)
	}

	var report models.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse ledger file %s: %w", path, err)
	}
	return &report, nil
}

// LatestLedger returns the most recently written ledger file in dir, or ""
// when there is none.
func LatestLedger(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+LedgerSuffix))
	if err != nil {
		return "", err
	}

	latest := ""
	var latestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) ||
			(info.ModTime().Equal(latestMod) && m > latest) {
			latest, latestMod = m, info.ModTime()
		}
	}
	return latest, nil
}
