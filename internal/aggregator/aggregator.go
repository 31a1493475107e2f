// Package aggregator is the merge engine: it extracts the package table from
// each downloaded archive and streams every row, prefixed with the scan's
// provenance, into one output CSV.
package aggregator

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ppiankov/scaggregator/internal/ledger"
	"github.com/ppiankov/scaggregator/internal/logging"
	"github.com/ppiankov/scaggregator/internal/models"
	"github.com/ppiankov/scaggregator/internal/progress"
)

// PackageTableSuffix identifies the package table inside an export archive.
const PackageTableSuffix = "Packages.csv"

// Archive warning messages recorded in the ledger.
const (
	MsgNoPackageTable    = "no package table (Packages.csv) in ZIP archive"
	MsgEmptyPackageTable = "empty package table (Packages.csv) in ZIP archive"
)

// Aggregator merges artifacts into a single CSV stream. It is not safe for
// concurrent use; one Merge call owns the output for its whole lifetime.
type Aggregator struct {
	ledger   *ledger.Ledger
	log      *logging.Logger
	observer progress.Observer
	filter   *Filter
}

// New creates an aggregator. A malformed filter expression is reported as a
// warning and filtering is disabled.
func New(l *ledger.Ledger, log *logging.Logger, filterExpr string) *Aggregator {
	if log == nil {
		log = logging.Nop()
	}
	a := &Aggregator{ledger: l, log: log, observer: progress.Nop{}}

	f, err := ParseFilter(filterExpr)
	if err != nil {
		l.Warning("package filter", fmt.Sprintf("filter disabled: %v", err))
	} else {
		a.filter = f
	}
	if f.OnMetadata() {
		log.Warn("filter field %q is a metadata column; package rows are matched before it is added, so no rows will be filtered", f.Field)
	}
	return a
}

// SetObserver routes merge progress to o.
func (a *Aggregator) SetObserver(o progress.Observer) {
	if o == nil {
		o = progress.Nop{}
	}
	a.observer = o
}

// Filter returns the active filter, or nil when filtering is off.
func (a *Aggregator) Filter() *Filter {
	return a.filter
}

type mergeState struct {
	cw        *csv.Writer
	refHeader []string
	bound     boundFilter
	stats     models.MergeStats
}

// Merge streams the artifacts, in order, into w. Archive problems are
// recorded in the ledger and the artifact is skipped. The returned error is
// non-nil only when writing the output fails or ctx is cancelled; the stats
// are valid either way.
func (a *Aggregator) Merge(ctx context.Context, artifacts []models.ReportArtifact, w io.Writer) (models.MergeStats, error) {
	st := &mergeState{cw: csv.NewWriter(w)}

	a.observer.Start("Merging reports", len(artifacts))
	defer a.observer.Done()

	for _, art := range artifacts {
		if err := ctx.Err(); err != nil {
			st.cw.Flush()
			return st.stats, err
		}
		a.observer.SetContext(progress.Fields{"project": art.Metadata.ProjectName, "branch": art.Metadata.BranchName})

		if err := a.mergeArtifact(art, st); err != nil {
			var ae *archiveError
			if !errors.As(err, &ae) {
				st.cw.Flush()
				return st.stats, err
			}
			st.stats.FilesFailed++
			a.ledger.ArchiveWarning(art.Metadata, ae.msg)
		} else {
			st.stats.FilesProcessed++
		}
		a.observer.Update(1)
	}

	st.cw.Flush()
	if err := st.cw.Error(); err != nil {
		return st.stats, fmt.Errorf("write output: %w", err)
	}

	if a.filter != nil {
		if !st.bound.FieldPresent() && st.refHeader != nil {
			a.log.Warn("filter field %q not in package header, no rows filtered", a.filter.Field)
		}
		a.log.Info("Filtering summary: %d packages filtered out of %d total packages",
			st.stats.RowsFiltered, st.stats.RowsSeen)
	}
	return st.stats, nil
}

// archiveError marks a per-artifact problem that is recorded and skipped.
type archiveError struct {
	msg string
}

func (e *archiveError) Error() string { return e.msg }

func archiveErrorf(format string, args ...interface{}) error {
	return &archiveError{msg: fmt.Sprintf(format, args...)}
}

func (a *Aggregator) mergeArtifact(art models.ReportArtifact, st *mergeState) error {
	zr, err := zip.OpenReader(art.Path)
	if err != nil {
		return archiveErrorf("error opening ZIP archive: %v", err)
	}
	defer func() { _ = zr.Close() }()

	var entry *zip.File
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, PackageTableSuffix) {
			entry = f
			break
		}
	}
	if entry == nil {
		return &archiveError{msg: MsgNoPackageTable}
	}

	rc, err := entry.Open()
	if err != nil {
		return archiveErrorf("error opening %s: %v", entry.Name, err)
	}
	defer func() { _ = rc.Close() }()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return &archiveError{msg: MsgEmptyPackageTable}
	}
	if err != nil {
		return archiveErrorf("error reading package header: %v", err)
	}
	header = normalizeHeader(header)

	if st.refHeader == nil {
		st.refHeader = append([]string(nil), header...)
		if err := st.cw.Write(append(append([]string(nil), models.MetadataColumns...), header...)); err != nil {
			return fmt.Errorf("write output header: %w", err)
		}
		if a.filter != nil {
			st.bound = a.filter.Bind(st.refHeader)
		}
	} else if !headersEqual(header, st.refHeader) {
		st.stats.HeaderMismatches++
		a.log.Warn("header mismatch in %s/%s scan %s (%s), merging positionally",
			art.Metadata.ProjectName, art.Metadata.BranchName, art.Metadata.ScanID,
			describeHeaderDiff(st.refHeader, header))
	}

	meta := art.Metadata.Values()
	written, filtered := 0, 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return archiveErrorf("error parsing package table after %d rows: %v", written+filtered, err)
		}

		st.stats.RowsSeen++
		if a.filter != nil && !st.bound.Match(row) {
			st.stats.RowsFiltered++
			filtered++
			continue
		}

		out := make([]string, 0, len(meta)+len(row))
		out = append(out, meta...)
		out = append(out, row...)
		if err := st.cw.Write(out); err != nil {
			return fmt.Errorf("write output row: %w", err)
		}
		st.stats.RowsWritten++
		written++
	}

	if filtered > 0 {
		a.log.Info("Merged %d packages from %s/%s (filtered out %d packages)",
			written, art.Metadata.ProjectName, art.Metadata.BranchName, filtered)
	} else {
		a.log.Info("Merged %d packages from %s/%s", written, art.Metadata.ProjectName, art.Metadata.BranchName)
	}
	return nil
}

// FilterCSV re-applies f to an already merged CSV, reading from r and writing
// the header and matching rows to w. It returns rows kept and rows dropped.
func FilterCSV(r io.Reader, w io.Writer, f *Filter) (kept, dropped int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cw := csv.NewWriter(w)

	header, err := cr.Read()
	if err == io.EOF {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("read header: %w", err)
	}
	header = normalizeHeader(header)
	if err := cw.Write(header); err != nil {
		return 0, 0, fmt.Errorf("write header: %w", err)
	}

	var bound boundFilter
	if f != nil {
		bound = f.Bind(header)
	}
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return kept, dropped, fmt.Errorf("read row: %w", err)
		}
		if f != nil && !bound.Match(row) {
			dropped++
			continue
		}
		if err := cw.Write(row); err != nil {
			return kept, dropped, fmt.Errorf("write row: %w", err)
		}
		kept++
	}

	cw.Flush()
	return kept, dropped, cw.Error()
}
