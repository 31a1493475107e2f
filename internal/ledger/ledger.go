// Package ledger collects categorized failures and warnings from every
// pipeline stage without interrupting it.
package ledger

import (
	"sync"
	"time"

	"github.com/ppiankov/scaggregator/internal/logging"
	"github.com/ppiankov/scaggregator/internal/models"
)

// Ledger is an append-only, concurrency-safe record sink. Stages share one
// instance and only append to it.
type Ledger struct {
	mu      sync.Mutex
	records []models.FailureRecord
	log     *logging.Logger
	now     func() time.Time
}

// New creates an empty ledger. Records are echoed to log as they arrive.
func New(log *logging.Logger) *Ledger {
	if log == nil {
		log = logging.Nop()
	}
	return &Ledger{log: log, now: time.Now}
}

// Record appends a record.
func (l *Ledger) Record(category models.FailureCategory, subject models.FailureSubject, message string, attempts int) {
	l.append(models.FailureRecord{
		Category: category,
		Subject:  subject,
		Message:  message,
		Attempts: attempts,
	})
}

func (l *Ledger) append(rec models.FailureRecord) {
	rec.At = l.now()
	subject := rec.Subject

	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()

	switch rec.Category {
	case models.CategoryNoSCAScan:
		l.log.Debug("%s/%s: %s", subject.ProjectName, subject.BranchName, rec.Message)
	case models.CategoryReportGeneration:
		l.log.Error("report for %s/%s scan %s failed after %d attempts: %s",
			subject.ProjectName, subject.BranchName, subject.ScanID, rec.Attempts, rec.Message)
	case models.CategoryGeneralWarning:
		l.log.Warn("%s: %s", rec.Topic, rec.Message)
	default:
		l.log.Warn("%s: %s", rec.Category, rec.Message)
	}
}

// NoSCAScan records a branch without a qualifying scan.
func (l *Ledger) NoSCAScan(b models.BranchRef, reason string) {
	l.Record(models.CategoryNoSCAScan, models.SubjectForBranch(b), reason, 0)
}

// BranchDiscoveryError records a project whose branches could not be listed.
func (l *Ledger) BranchDiscoveryError(p models.ProjectRef, err error) {
	l.Record(models.CategoryBranchDiscovery,
		models.FailureSubject{ProjectName: p.Name, ProjectID: p.ID}, err.Error(), 0)
}

// ScanDiscoveryError records a branch whose scan selection errored.
func (l *Ledger) ScanDiscoveryError(b models.BranchRef, err error) {
	l.Record(models.CategoryScanDiscovery, models.SubjectForBranch(b), err.Error(), 0)
}

// ReportFailure records a scan whose export failed after every attempt.
func (l *Ledger) ReportFailure(s models.ScanRef, message string, attempts int) {
	l.Record(models.CategoryReportGeneration, models.SubjectForScan(s), message, attempts)
}

// ArchiveWarning records an artifact that could not be merged.
func (l *Ledger) ArchiveWarning(meta models.ReportMetadata, message string) {
	l.Record(models.CategoryArchiveWarning, models.FailureSubject{
		ProjectName: meta.ProjectName,
		ProjectID:   meta.ProjectID,
		BranchName:  meta.BranchName,
		ScanID:      meta.ScanID,
		ScanDate:    meta.ScanDate,
	}, message, 0)
}

// Warning records a run-level warning under topic.
func (l *Ledger) Warning(topic, message string) {
	l.append(models.FailureRecord{
		Category: models.CategoryGeneralWarning,
		Topic:    topic,
		Message:  message,
	})
}

// Records returns a copy of every record in arrival order.
func (l *Ledger) Records() []models.FailureRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.FailureRecord, len(l.records))
	copy(out, l.records)
	return out
}

// ByCategory returns the records of one category in arrival order.
func (l *Ledger) ByCategory(category models.FailureCategory) []models.FailureRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.FailureRecord
	for _, r := range l.records {
		if r.Category == category {
			out = append(out, r)
		}
	}
	return out
}

// Counts returns the number of records per category.
func (l *Ledger) Counts() map[models.FailureCategory]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := make(map[models.FailureCategory]int)
	for _, r := range l.records {
		counts[r.Category]++
	}
	return counts
}

// Len returns the total number of records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// FailedScans returns the scans that need a retry, one per scan id, in the
// order their failures were recorded.
func (l *Ledger) FailedScans() []models.ScanRef {
	seen := make(map[string]bool)
	var out []models.ScanRef
	for _, r := range l.ByCategory(models.CategoryReportGeneration) {
		if seen[r.Subject.ScanID] {
			continue
		}
		seen[r.Subject.ScanID] = true
		out = append(out, r.Subject.Scan())
	}
	return out
}
