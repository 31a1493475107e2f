// Package runner is the export engine: for each selected scan it requests a
// report export, polls until the export finishes, and downloads the archive,
// restarting the whole sequence when any step fails.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/scaggregator/internal/apiclient"
	"github.com/ppiankov/scaggregator/internal/ledger"
	"github.com/ppiankov/scaggregator/internal/logging"
	"github.com/ppiankov/scaggregator/internal/models"
	"github.com/ppiankov/scaggregator/internal/progress"
	"github.com/ppiankov/scaggregator/internal/workpool"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultAttempts       = 4
	DefaultPollInterval   = 5 * time.Second
	DefaultPollMaxWait    = 2 * time.Minute
	DefaultMaxPollingTime = 2 * time.Hour
	DefaultFileFormat     = "ScanReportCsv"
)

// ErrTimedOut is returned when an export did not finish within the polling
// budget.
var ErrTimedOut = errors.New("export polling timed out")

// ExportAPI is the slice of the platform API the engine needs.
type ExportAPI interface {
	RequestExport(ctx context.Context, scanID, fileFormat string) (string, error)
	ExportStatus(ctx context.Context, exportID string) (apiclient.ExportStatus, error)
	Download(ctx context.Context, path string, dst io.Writer) (int64, error)
}

// Options configures the engine.
type Options struct {
	FileFormat     string
	Workers        int
	Attempts       int
	RequestDelay   time.Duration
	PollInterval   time.Duration
	PollMaxWait    time.Duration
	MaxPollingTime time.Duration
	TempDir        string
}

// RunResult is the outcome of exporting one scan.
type RunResult struct {
	Scan     models.ScanRef         `json:"scan"`
	Artifact *models.ReportArtifact `json:"artifact,omitempty"`
	Attempts int                    `json:"attempts"`
	Bytes    int64                  `json:"bytes"`
	Duration time.Duration          `json:"duration"`
	Success  bool                   `json:"success"`
	Error    string                 `json:"error,omitempty"`
}

// Engine runs export jobs on a bounded worker pool. Each worker drives one
// scan to completion or definitive failure before taking the next.
type Engine struct {
	api      ExportAPI
	opts     Options
	ledger   *ledger.Ledger
	log      *logging.Logger
	observer progress.Observer

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu         sync.Mutex
	tempDir    string
	ownTempDir bool
	files      []string
}

// New creates an export engine.
func New(api ExportAPI, l *ledger.Ledger, log *logging.Logger, opts Options) *Engine {
	if log == nil {
		log = logging.Nop()
	}
	if opts.Attempts < 1 {
		opts.Attempts = DefaultAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PollMaxWait < opts.PollInterval {
		opts.PollMaxWait = DefaultPollMaxWait
		if opts.PollMaxWait < opts.PollInterval {
			opts.PollMaxWait = opts.PollInterval
		}
	}
	if opts.MaxPollingTime <= 0 {
		opts.MaxPollingTime = DefaultMaxPollingTime
	}
	if opts.FileFormat == "" {
		opts.FileFormat = DefaultFileFormat
	}
	return &Engine{
		api:      api,
		opts:     opts,
		ledger:   l,
		log:      log,
		observer: progress.Nop{},
		sleep:    workpool.Sleep,
		now:      time.Now,
	}
}

// SetObserver routes stage progress to o.
func (e *Engine) SetObserver(o progress.Observer) {
	if o == nil {
		o = progress.Nop{}
	}
	e.observer = o
}

// Run exports every scan and returns one result per scan that was started.
// Definitive failures are recorded in the ledger. The error is non-nil only
// for fatal conditions or cancellation; results gathered so far are still
// returned.
func (e *Engine) Run(ctx context.Context, scans []models.ScanRef) ([]RunResult, error) {
	if err := e.ensureTempDir(); err != nil {
		return nil, err
	}

	e.observer.Start("Generating reports", len(scans))
	defer e.observer.Done()

	var results workpool.Collector[RunResult]
	err := workpool.Run(ctx, e.opts.Workers, scans, func(ctx context.Context, scan models.ScanRef) error {
		defer e.observer.Update(1)
		e.observer.SetContext(progress.Fields{"project": scan.ProjectName, "branch": scan.BranchName})

		res, err := e.ExportScan(ctx, scan)
		results.Add(res)
		if err != nil {
			return err
		}
		if !res.Success {
			e.ledger.ReportFailure(scan, res.Error, res.Attempts)
		}
		return nil
	})
	return results.Items(), err
}

// ExportScan runs up to the configured number of attempts for one scan. Each
// attempt restarts from the export request with a fresh backoff schedule.
// The error is non-nil only when the run must stop.
func (e *Engine) ExportScan(ctx context.Context, scan models.ScanRef) (RunResult, error) {
	start := e.now()
	result := RunResult{Scan: scan}

	var lastErr error
	for attempt := 1; attempt <= e.opts.Attempts; attempt++ {
		result.Attempts = attempt
		job := &models.ExportJob{Scan: scan, Attempt: attempt}

		artifact, n, err := e.attempt(ctx, job)
		if err == nil {
			result.Artifact = &artifact
			result.Bytes = n
			result.Success = true
			result.Duration = e.now().Sub(start)
			e.log.Debug("%s: report downloaded (%d bytes, attempt %d)", scan, n, attempt)
			return result, nil
		}

		lastErr = err
		if apiclient.IsFatal(err) || ctx.Err() != nil {
			result.Error = err.Error()
			result.Duration = e.now().Sub(start)
			return result, err
		}
		if attempt < e.opts.Attempts {
			e.log.Warn("%s: attempt %d/%d failed: %v", scan, attempt, e.opts.Attempts, err)
		}
	}

	result.Error = lastErr.Error()
	result.Duration = e.now().Sub(start)
	return result, nil
}

// attempt runs the request/poll/download sequence once.
func (e *Engine) attempt(ctx context.Context, job *models.ExportJob) (models.ReportArtifact, int64, error) {
	if e.opts.RequestDelay > 0 {
		if err := e.sleep(ctx, e.opts.RequestDelay); err != nil {
			return models.ReportArtifact{}, 0, err
		}
	}

	if err := job.Transition(models.ExportRequested); err != nil {
		return models.ReportArtifact{}, 0, err
	}
	exportID, err := e.api.RequestExport(ctx, job.Scan.ScanID, e.opts.FileFormat)
	if err != nil {
		return models.ReportArtifact{}, 0, e.fail(job, err)
	}
	job.ExportID = exportID
	if err := job.Transition(models.ExportPolling); err != nil {
		return models.ReportArtifact{}, 0, err
	}

	fileURL, err := e.poll(ctx, job)
	if err != nil {
		return models.ReportArtifact{}, 0, err
	}
	if err := job.Transition(models.ExportCompleted); err != nil {
		return models.ReportArtifact{}, 0, err
	}

	path := filepath.Join(e.tempDir, ArtifactName(job.Scan))
	n, err := e.download(ctx, DownloadPath(fileURL, exportID), path)
	if err != nil {
		return models.ReportArtifact{}, 0, e.fail(job, err)
	}

	return models.ReportArtifact{Path: path, Metadata: models.MetadataFor(job.Scan)}, n, nil
}

// poll queries the export status until it is terminal. Waits start at the
// poll interval and double after every non-terminal answer up to the
// configured maximum. Transport errors count as non-terminal answers.
func (e *Engine) poll(ctx context.Context, job *models.ExportJob) (string, error) {
	start := e.now()
	job.Wait = e.opts.PollInterval

	for {
		job.Polls++
		st, err := e.api.ExportStatus(ctx, job.ExportID)
		if err != nil {
			if apiclient.IsFatal(err) || ctx.Err() != nil {
				return "", err
			}
			e.log.Debug("%s: status poll %d failed: %v", job.Scan, job.Polls, err)
		} else {
			switch strings.ToLower(strings.TrimSpace(st.Status)) {
			case "completed":
				if st.FileURL == "" {
					return apiclient.DefaultDownloadPath(job.ExportID), nil
				}
				return st.FileURL, nil
			case "failed", "error":
				msg := st.ErrorMessage
				if msg == "" {
					msg = "no error message"
				}
				return "", e.fail(job, fmt.Errorf("export %s failed: %s", job.ExportID, msg))
			}
			e.log.Debug("%s: export %s is %s", job.Scan, job.ExportID, st.Status)
		}

		if e.now().Sub(start) >= e.opts.MaxPollingTime {
			job.Error = ErrTimedOut.Error()
			_ = job.Transition(models.ExportTimedOut)
			return "", fmt.Errorf("export %s: %w after %s", job.ExportID, ErrTimedOut, e.opts.MaxPollingTime)
		}

		if err := e.sleep(ctx, job.Wait); err != nil {
			return "", err
		}
		job.Wait *= 2
		if job.Wait > e.opts.PollMaxWait {
			job.Wait = e.opts.PollMaxWait
		}
	}
}

func (e *Engine) fail(job *models.ExportJob, err error) error {
	job.Error = err.Error()
	_ = job.Transition(models.ExportFailed)
	return err
}

// download streams the archive to path. A partial file is removed.
func (e *Engine) download(ctx context.Context, remotePath, path string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create artifact file: %w", err)
	}
	e.track(path)

	n, err := e.api.Download(ctx, remotePath, f)
	closeErr := f.Close()
	if err == nil && closeErr != nil {
		err = fmt.Errorf("close artifact file: %w", closeErr)
	}
	if err == nil && n == 0 {
		err = errors.New("downloaded archive is empty")
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return n, nil
}

func (e *Engine) ensureTempDir() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tempDir != "" {
		return nil
	}
	if e.opts.TempDir == "" {
		dir, err := os.MkdirTemp("", "scaggregator-*")
		if err != nil {
			return fmt.Errorf("create temp directory: %w", err)
		}
		e.tempDir = dir
		e.ownTempDir = true
		return nil
	}
	if err := os.MkdirAll(e.opts.TempDir, 0o755); err != nil {
		return fmt.Errorf("create temp directory: %w", err)
	}
	e.tempDir = e.opts.TempDir
	return nil
}

func (e *Engine) track(path string) {
	e.mu.Lock()
	e.files = append(e.files, path)
	e.mu.Unlock()
}

// TempDir returns the directory artifacts are downloaded to.
func (e *Engine) TempDir() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tempDir
}

// Cleanup removes every downloaded artifact and then the temp directory if
// it is empty or was created by the engine.
func (e *Engine) Cleanup() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tempDir == "" {
		return nil
	}

	var errs []error
	for _, f := range e.files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	e.files = nil

	if e.ownTempDir {
		if err := os.RemoveAll(e.tempDir); err != nil {
			errs = append(errs, err)
		}
	} else if entries, err := os.ReadDir(e.tempDir); err == nil && len(entries) == 0 {
		if err := os.Remove(e.tempDir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Artifacts returns the artifacts of successful results only.
func Artifacts(results []RunResult) []models.ReportArtifact {
	var out []models.ReportArtifact
	for _, r := range results {
		if r.Success && r.Artifact != nil {
			out = append(out, *r.Artifact)
		}
	}
	return out
}

// DownloadPath reduces a file URL to the path the client downloads from. Bare
// paths are used as they are; an empty URL falls back to the export's default
// download location.
func DownloadPath(fileURL, exportID string) string {
	fileURL = strings.TrimSpace(fileURL)
	if fileURL == "" {
		return apiclient.DefaultDownloadPath(exportID)
	}
	if u, err := url.Parse(fileURL); err == nil && u.Scheme != "" && u.Host != "" {
		if u.Path == "" {
			return apiclient.DefaultDownloadPath(exportID)
		}
		return u.Path
	}
	if !strings.HasPrefix(fileURL, "/") {
		return "/" + fileURL
	}
	return fileURL
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ArtifactName is the temp file name for a scan's archive.
func ArtifactName(s models.ScanRef) string {
	branch := unsafeNameChars.ReplaceAllString(s.BranchName, "_")
	return fmt.Sprintf("%s_%s.zip", unsafeNameChars.ReplaceAllString(s.ScanID, "_"), branch)
}
