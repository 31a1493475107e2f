package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// LocalStorage places run files under a local output directory.
type LocalStorage struct {
	baseDir string
}

// NewLocal creates a new local storage instance
func NewLocal(baseDir string) *LocalStorage {
	return &LocalStorage{
		baseDir: baseDir,
	}
}

var placeholderPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

// ValidateTemplate rejects filename templates with unknown placeholders or
// path separators.
func ValidateTemplate(template string) error {
	if strings.TrimSpace(template) == "" {
		return fmt.Errorf("output filename template is empty")
	}
	if strings.ContainsAny(template, `/\`) {
		return fmt.Errorf("output filename template %q must not contain path separators", template)
	}
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if m[1] != "tenant" && m[1] != "timestamp" {
			return fmt.Errorf("output filename template %q: unknown placeholder {%s}", template, m[1])
		}
	}
	return nil
}

// RunPaths expands the filename template and derives the companion files.
func (s *LocalStorage) RunPaths(template, tenant string, ts time.Time) (RunPaths, error) {
	if err := ValidateTemplate(template); err != nil {
		return RunPaths{}, err
	}

	name := strings.NewReplacer(
		"{tenant}", sanitize(tenant),
		"{timestamp}", s.formatTimestamp(ts),
	).Replace(template)
	if filepath.Ext(name) == "" {
		name += ".csv"
	}

	output := filepath.Join(s.baseDir, name)
	stem := strings.TrimSuffix(output, filepath.Ext(output))
	return RunPaths{
		Output:   output,
		Report:   stem + ReportSuffix,
		Manifest: stem + ManifestSuffix,
		DebugLog: stem + DebugSuffix,
		Summary:  stem + SummarySuffix,
		Ledger:   stem + LedgerSuffix,
	}, nil
}

// formatTimestamp converts a time.Time to filename-safe format
func (s *LocalStorage) formatTimestamp(t time.Time) string {
	return t.Format(TimestampFormat)
}

// EnsureDirectoryExists creates the storage directory if it doesn't exist
func (s *LocalStorage) EnsureDirectoryExists() error {
	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// FileSize returns the size of path, or 0 if it cannot be read.
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}
