// Package pipeline sequences the discovery, export and merge stages of a run
// and writes the run's companion files.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/ppiankov/scaggregator/internal/aggregator"
	"github.com/ppiankov/scaggregator/internal/apiclient"
	"github.com/ppiankov/scaggregator/internal/discovery"
	"github.com/ppiankov/scaggregator/internal/ledger"
	"github.com/ppiankov/scaggregator/internal/logging"
	"github.com/ppiankov/scaggregator/internal/models"
	"github.com/ppiankov/scaggregator/internal/policy"
	"github.com/ppiankov/scaggregator/internal/progress"
	"github.com/ppiankov/scaggregator/internal/reporter"
	"github.com/ppiankov/scaggregator/internal/runner"
	"github.com/ppiankov/scaggregator/internal/storage"
)

// Early exit messages.
const (
	MsgNoProjects = "No projects found. Exiting."
	MsgNoBranches = "No branches found. Exiting."
	MsgNoScans    = "No SCA scans found. Exiting."
	MsgNoReports  = "No reports generated. Nothing to merge."
	MsgNoRetry    = "Retry manifest lists no scans. Exiting."
)

// API is everything the pipeline needs from the platform.
type API interface {
	discovery.ScanSource
	runner.ExportAPI
	Authenticate(ctx context.Context) error
}

// Config holds the run settings.
type Config struct {
	Tenant           string
	OutputDir        string
	FilenameTemplate string
	CleanupTemp      bool
	DebugLog         bool
	FilterExpr       string
	Discovery        discovery.Options
	Export           runner.Options
	Policy           *policy.Policy
}

// Result describes a finished (or early-exited) run.
type Result struct {
	Report *models.RunReport
	Paths  storage.RunPaths
	// EarlyExit is set when a stage found nothing to hand on.
	EarlyExit string
	// Policy is nil when no policy was configured.
	Policy *policy.Result
	// Merged is false when no output CSV was written.
	Merged bool
}

// Orchestrator runs the pipeline.
type Orchestrator struct {
	api      API
	cfg      Config
	log      *logging.Logger
	layout   storage.Layout
	observer progress.Observer
	now      func() time.Time
	newID    func() string
}

// New creates an orchestrator writing into cfg.OutputDir.
func New(api API, cfg Config, log *logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.Nop()
	}
	return &Orchestrator{
		api:      api,
		cfg:      cfg,
		log:      log,
		layout:   storage.NewLocal(cfg.OutputDir),
		observer: progress.Nop{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SetObserver routes stage progress to o.
func (o *Orchestrator) SetObserver(obs progress.Observer) {
	if obs == nil {
		obs = progress.Nop{}
	}
	o.observer = obs
}

// run is the state shared by the stages of one invocation.
type run struct {
	id      string
	mode    models.RunMode
	started time.Time
	paths   storage.RunPaths
	ledger  *ledger.Ledger
	stats   models.RunStats
	scans   []models.ScanRef
	done    map[string]bool
}

// Run executes a full run: discovery, export and merge. A non-nil error is
// returned for fatal conditions and interrupts; on interrupt the result still
// describes the files written.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	r, closeLog, err := o.begin(models.ModeFull)
	if err != nil {
		return nil, err
	}
	defer closeLog()

	if err := o.api.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	o.log.Info("authenticated with tenant %s", o.cfg.Tenant)

	d := discovery.New(o.api, r.ledger, o.log, o.cfg.Discovery)
	d.SetObserver(o.observer)

	o.banner("Stage 1: Discovering Projects")
	projects, err := d.Projects(ctx)
	if err != nil {
		return o.abort(ctx, r, err)
	}
	r.stats.TotalProjects = len(projects)
	o.log.Print("Total projects: %s", humanize.Comma(int64(len(projects))))
	if len(projects) == 0 {
		return o.earlyExit(r, MsgNoProjects)
	}

	o.banner("Stage 2: Discovering Branches")
	branches, err := d.Branches(ctx, projects)
	if err != nil {
		return o.abort(ctx, r, err)
	}
	r.stats.TotalBranches = len(branches)
	o.log.Print("Total branches: %s (avg %.1f per project)",
		humanize.Comma(int64(len(branches))), float64(len(branches))/float64(len(projects)))
	if len(branches) == 0 {
		return o.earlyExit(r, MsgNoBranches)
	}

	o.banner("Stage 3: Finding Latest SCA Scans")
	scans, err := d.SelectScans(ctx, branches)
	if err != nil {
		return o.abort(ctx, r, err)
	}
	r.stats.ScansFound = len(scans)
	r.stats.ScansNotFound = len(branches) - len(scans)
	o.log.Print("Scans found: %s, branches without SCA scan: %s",
		humanize.Comma(int64(len(scans))), humanize.Comma(int64(r.stats.ScansNotFound)))
	if len(scans) == 0 {
		return o.earlyExit(r, MsgNoScans)
	}

	return o.exportAndMerge(ctx, r, scans)
}

// RunRetry re-exports and merges the scans of a retry manifest, skipping
// discovery.
func (o *Orchestrator) RunRetry(ctx context.Context, scans []models.ScanRef) (*Result, error) {
	r, closeLog, err := o.begin(models.ModeRetry)
	if err != nil {
		return nil, err
	}
	defer closeLog()

	r.stats.RetryScans = len(scans)
	if len(scans) == 0 {
		return o.earlyExit(r, MsgNoRetry)
	}

	if err := o.api.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	o.log.Print("Retrying %s scans from manifest", humanize.Comma(int64(len(scans))))

	return o.exportAndMerge(ctx, r, scans)
}

// begin prepares the output directory and debug log. The returned func closes
// the debug log when one was opened.
func (o *Orchestrator) begin(mode models.RunMode) (*run, func(), error) {
	r := &run{
		id:      o.newID(),
		mode:    mode,
		started: o.now(),
		ledger:  ledger.New(o.log),
		done:    make(map[string]bool),
	}

	paths, err := o.layout.RunPaths(o.cfg.FilenameTemplate, o.cfg.Tenant, r.started)
	if err != nil {
		return nil, nil, err
	}
	if err := o.layout.EnsureDirectoryExists(); err != nil {
		return nil, nil, err
	}
	r.paths = paths

	r.stats = models.RunStats{
		RunID:      r.id,
		Mode:       mode,
		Tenant:     o.cfg.Tenant,
		StartedAt:  r.started,
		FilterExpr: o.cfg.FilterExpr,
	}

	closeLog := func() {}
	if o.cfg.DebugLog {
		if err := o.log.OpenDebugLog(paths.DebugLog, r.id); err != nil {
			return nil, nil, err
		}
		closeLog = func() {
			if err := o.log.Close(); err != nil {
				o.log.Warn("close debug log: %v", err)
			}
		}
	}
	o.log.Debug("run %s (%s) writing to %s", r.id, mode, paths.Output)
	return r, closeLog, nil
}

func (o *Orchestrator) exportAndMerge(ctx context.Context, r *run, scans []models.ScanRef) (*Result, error) {
	r.scans = scans

	engine := runner.New(o.api, r.ledger, o.log, o.cfg.Export)
	engine.SetObserver(o.observer)
	if o.cfg.CleanupTemp {
		defer func() {
			if err := engine.Cleanup(); err != nil {
				o.log.Warn("temp cleanup: %v", err)
			} else {
				o.log.Info("temporary files removed")
			}
		}()
	}

	o.banner("Stage 4: Generating SCA Reports")
	results, runErr := engine.Run(ctx, scans)
	artifacts := inScanOrder(runner.Artifacts(results), scans)
	for _, a := range artifacts {
		r.done[a.Metadata.ScanID] = true
	}
	r.stats.ReportsGenerated = len(artifacts)
	r.stats.ReportsFailed = len(r.ledger.ByCategory(models.CategoryReportGeneration))
	o.log.Print("Reports generated: %d, failed: %d", r.stats.ReportsGenerated, r.stats.ReportsFailed)
	if runErr != nil && !isInterrupt(ctx, runErr) {
		return nil, runErr
	}

	res := &Result{Paths: r.paths}
	switch {
	case len(artifacts) == 0:
		if runErr == nil {
			res.EarlyExit = MsgNoReports
		}
	case runErr == nil:
		o.banner("Stage 5: Merging Reports")
		merged, err := o.merge(ctx, r, artifacts)
		if err != nil && !isInterrupt(ctx, err) {
			return nil, err
		}
		if err != nil {
			// partial output; every scan goes to the manifest instead
			_ = os.Remove(r.paths.Output)
			merged = false
			r.stats.OutputFile, r.stats.OutputSize = "", 0
		}
		res.Merged = merged
		runErr = err
	}

	r.stats.Interrupted = runErr != nil
	return o.finish(r, res, runErr)
}

// merge streams every artifact into the output file.
func (o *Orchestrator) merge(ctx context.Context, r *run, artifacts []models.ReportArtifact) (bool, error) {
	f, err := os.Create(r.paths.Output)
	if err != nil {
		return false, fmt.Errorf("create output file: %w", err)
	}

	agg := aggregator.New(r.ledger, o.log, o.cfg.FilterExpr)
	agg.SetObserver(o.observer)
	if agg.Filter() == nil {
		r.stats.FilterExpr = ""
	}

	stats, mergeErr := agg.Merge(ctx, artifacts, f)
	closeErr := f.Close()
	r.stats.Merge = stats
	r.stats.OutputFile = r.paths.Output
	r.stats.OutputSize = storage.FileSize(r.paths.Output)

	if mergeErr != nil {
		return true, mergeErr
	}
	if closeErr != nil {
		return true, fmt.Errorf("close output file: %w", closeErr)
	}

	o.log.Print("Total packages: %s (files processed %d, failed %d)",
		humanize.Comma(int64(stats.RowsWritten)), stats.FilesProcessed, stats.FilesFailed)
	if r.stats.FilterExpr != "" {
		o.log.Print("Package filter %q: filtered out %s of %s rows", r.stats.FilterExpr,
			humanize.Comma(int64(stats.RowsFiltered)), humanize.Comma(int64(stats.RowsSeen)))
	}
	return true, nil
}

// abort handles a discovery-stage error: interrupts still produce the run
// report, anything else is fatal.
func (o *Orchestrator) abort(ctx context.Context, r *run, err error) (*Result, error) {
	if !isInterrupt(ctx, err) {
		return nil, err
	}
	r.stats.Interrupted = true
	return o.finish(r, &Result{Paths: r.paths}, err)
}

// earlyExit ends a run that found nothing to export. The execution report,
// summary and ledger are written only when the ledger holds records, so
// discovery errors are never lost behind an early exit.
func (o *Orchestrator) earlyExit(r *run, msg string) (*Result, error) {
	o.log.Print("%s", msg)
	r.stats.Duration = o.now().Sub(r.started)
	res := &Result{Paths: r.paths, EarlyExit: msg}
	if r.ledger.Len() == 0 {
		res.Report = o.report(r, "")
		return res, nil
	}

	report, err := o.writeReports(r, "")
	if err != nil {
		return nil, err
	}
	res.Report = report
	o.log.Print("Execution report: %s", r.paths.Report)
	return res, nil
}

// finish writes the manifest, execution report, JSON summary and ledger file,
// then evaluates the policy. runErr is returned unchanged so interrupts
// propagate after the outputs are flushed.
func (o *Orchestrator) finish(r *run, res *Result, runErr error) (*Result, error) {
	if r.stats.Interrupted {
		o.recordPending(r)
	}

	manifest := ""
	if failed := o.retryScans(r); len(failed) > 0 {
		if err := storage.WriteManifest(r.paths.Manifest, failed); err != nil {
			return nil, err
		}
		manifest = r.paths.Manifest
		o.log.Info("retry manifest written: %s (%d scans)", manifest, len(failed))
	}

	r.stats.Duration = o.now().Sub(r.started)
	report, err := o.writeReports(r, manifest)
	if err != nil {
		return nil, err
	}
	res.Report = report

	if o.cfg.Policy != nil && !r.stats.Interrupted {
		res.Policy = o.cfg.Policy.Evaluate(report)
		for _, v := range res.Policy.Violations {
			o.log.Error("Policy violation [%s]: %s", v.Rule, v.Message)
		}
	}

	return res, runErr
}

// writeReports writes the execution report, JSON summary and ledger file.
func (o *Orchestrator) writeReports(r *run, manifest string) (*models.RunReport, error) {
	report := o.report(r, manifest)
	if err := writeFile(r.paths.Report, func(f *os.File) error {
		return reporter.NewTextReporter(f).Generate(report)
	}); err != nil {
		return nil, err
	}
	if err := writeFile(r.paths.Summary, func(f *os.File) error {
		return reporter.NewJSONReporter(f, true).GenerateSummaryOnly(report)
	}); err != nil {
		return nil, err
	}
	if err := writeFile(r.paths.Ledger, func(f *os.File) error {
		return reporter.NewJSONReporter(f, false).Generate(report)
	}); err != nil {
		return nil, err
	}
	return report, nil
}

// recordPending notes the scans left unmerged by an interrupt.
func (o *Orchestrator) recordPending(r *run) {
	pending := o.pendingScans(r)
	if len(pending) == 0 {
		return
	}
	exported := 0
	for _, s := range pending {
		if r.done[s.ScanID] {
			exported++
		}
	}
	r.ledger.Warning("interrupted", fmt.Sprintf(
		"%d scans were not merged before the interrupt (%d already exported); they are listed in the retry manifest",
		len(pending), exported))
}

// pendingScans are the selected scans without a definitive failure. An
// interrupted run merges nothing, so exported scans are pending too.
func (o *Orchestrator) pendingScans(r *run) []models.ScanRef {
	failed := make(map[string]bool)
	for _, s := range r.ledger.FailedScans() {
		failed[s.ScanID] = true
	}
	var out []models.ScanRef
	for _, s := range r.scans {
		if !failed[s.ScanID] {
			out = append(out, s)
		}
	}
	return out
}

// retryScans lists definitive failures, plus unfinished scans after an
// interrupt.
func (o *Orchestrator) retryScans(r *run) []models.ScanRef {
	scans := r.ledger.FailedScans()
	if r.stats.Interrupted {
		scans = append(scans, o.pendingScans(r)...)
	}
	return scans
}

func (o *Orchestrator) report(r *run, manifest string) *models.RunReport {
	return &models.RunReport{
		GeneratedAt:  o.now(),
		Stats:        r.stats,
		Records:      r.ledger.Records(),
		ManifestFile: manifest,
	}
}

func (o *Orchestrator) banner(stage string) {
	o.log.Print("")
	o.log.Print("%s", stage)
}

func writeFile(path string, fn func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// inScanOrder sorts artifacts by the position of their scan in scans so the
// merged output does not depend on worker scheduling.
func inScanOrder(artifacts []models.ReportArtifact, scans []models.ScanRef) []models.ReportArtifact {
	pos := make(map[string]int, len(scans))
	for i, s := range scans {
		pos[s.ScanID] = i
	}
	sort.SliceStable(artifacts, func(i, j int) bool {
		return pos[artifacts[i].Metadata.ScanID] < pos[artifacts[j].Metadata.ScanID]
	})
	return artifacts
}

// isInterrupt reports whether err stems from the run's context being
// cancelled rather than from a fatal platform error.
func isInterrupt(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil && !apiclient.IsFatal(err)
}
