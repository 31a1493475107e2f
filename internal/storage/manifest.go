package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ppiankov/scaggregator/internal/models"
)

// ManifestColumns is the retry manifest header, in order.
var ManifestColumns = []string{"ProjectName", "ProjectId", "BranchName", "ScanId", "ScanDate"}

// ErrInvalidManifest is returned for manifests that cannot be used as input.
var ErrInvalidManifest = errors.New("invalid retry manifest")

// WriteManifest writes scans to path. The header is written even when there
// are no scans.
func WriteManifest(path string, scans []models.ScanRef) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	if err := EncodeManifest(f, scans); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	return nil
}

// EncodeManifest writes the manifest CSV to w.
func EncodeManifest(w io.Writer, scans []models.ScanRef) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ManifestColumns); err != nil {
		return fmt.Errorf("write manifest header: %w", err)
	}
	for _, s := range scans {
		if err := cw.Write([]string{s.ProjectName, s.ProjectID, s.BranchName, s.ScanID, s.CreatedAt}); err != nil {
			return fmt.Errorf("write manifest row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// LoadManifest reads a retry manifest from path.
func LoadManifest(path string) ([]models.ScanRef, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	scans, err := DecodeManifest(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scans, nil
}

// DecodeManifest parses manifest CSV. Columns are matched by name, so extra
// columns and reordering are accepted; a missing column is rejected. Rows
// without a scan id are rejected and blank lines skipped.
func DecodeManifest(r io.Reader) ([]models.ScanRef, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidManifest)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrInvalidManifest, err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		index[h] = i
	}

	var missing []string
	for _, col := range ManifestColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", ErrInvalidManifest, strings.Join(missing, ", "))
	}

	field := func(row []string, col string) string {
		i := index[col]
		if i >= len(row) {
			return ""
		}
		return row[i]
	}

	var scans []models.ScanRef
	line := 1
	for {
		row, err := cr.Read()
		line++
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidManifest, line, err)
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}

		scan := models.ScanRef{
			ProjectName: field(row, "ProjectName"),
			ProjectID:   field(row, "ProjectId"),
			BranchName:  field(row, "BranchName"),
			ScanID:      field(row, "ScanId"),
			CreatedAt:   field(row, "ScanDate"),
		}
		if strings.TrimSpace(scan.ScanID) == "" {
			return nil, fmt.Errorf("%w: line %d: empty ScanId", ErrInvalidManifest, line)
		}
		scans = append(scans, scan)
	}
	return scans, nil
}
