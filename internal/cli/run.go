package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/ppiankov/scaggregator/internal/apiclient"
	"github.com/ppiankov/scaggregator/internal/config"
	"github.com/ppiankov/scaggregator/internal/discovery"
	"github.com/ppiankov/scaggregator/internal/logging"
	"github.com/ppiankov/scaggregator/internal/models"
	"github.com/ppiankov/scaggregator/internal/pipeline"
	"github.com/ppiankov/scaggregator/internal/policy"
	"github.com/ppiankov/scaggregator/internal/progress"
	"github.com/ppiankov/scaggregator/internal/reporter"
	"github.com/ppiankov/scaggregator/internal/runner"
	"github.com/ppiankov/scaggregator/internal/storage"
	"github.com/ppiankov/scaggregator/internal/tui"
)

var (
	runBaseURL       string
	runIAMURL        string
	runTenant        string
	runAPIKey        string
	runOutputDir     string
	runTempDir       string
	runTemplate      string
	runPackageFilter string
	runPageSize      int
	runBranchWorkers int
	runScanWorkers   int
	runReportWorkers int
	runAttempts      int
	runPollInterval  time.Duration
	runMaxPolling    time.Duration
	runNoCleanup     bool
	runDebugLog      bool
	runRetryFile     string
	runPolicyFile    string
	runNoTUI         bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Discover scans, export their SCA reports and merge the packages",
	Long: `Run performs a full aggregation:

  1. Projects  - list every project on the tenant
  2. Branches  - infer each project's branches from its scans
  3. Scans     - pick the newest completed SCA scan per branch
  4. Reports   - export, poll and download each scan's package report
  5. Merge     - combine the package tables into one CSV

Next to the CSV it writes an execution report, a JSON summary, the failure
ledger and, when exports failed, a retry manifest. Pass the manifest to
--retry to re-export only those scans.

Press Ctrl+C to stop early; the report and manifest are still written and
the manifest lists every scan that was not exported.

Example:
  scaggregator run --tenant acme --base-url https://ast.checkmarx.net
  scaggregator run --filter "Repository=npm||Maven" --report-workers 3
  scaggregator run --retry output/sca_packages_acme_20260301_101500_failed_scans.csv`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runBaseURL, "base-url", "", "CxOne API base URL")
	f.StringVar(&runIAMURL, "iam-url", "", "identity service URL (default: derived from base URL)")
	f.StringVar(&runTenant, "tenant", "", "tenant name")
	f.StringVar(&runAPIKey, "api-key", "", "API key (prefer CXONE_API_KEY)")
	f.StringVarP(&runOutputDir, "output-dir", "o", "", "directory for the merged CSV and run files")
	f.StringVar(&runTempDir, "temp-dir", "", "directory for downloaded report archives")
	f.StringVar(&runTemplate, "output-template", "", "output filename template ({tenant}, {timestamp})")
	f.StringVar(&runPackageFilter, "filter", "", `package filter, e.g. "Repository=npm||Maven"`)
	f.IntVar(&runPageSize, "page-size", 0, "items per API page")
	f.IntVar(&runBranchWorkers, "branch-workers", 0, "concurrent branch discovery workers")
	f.IntVar(&runScanWorkers, "scan-workers", 0, "concurrent scan selection workers")
	f.IntVar(&runReportWorkers, "report-workers", 0, "concurrent report exports")
	f.IntVar(&runAttempts, "export-attempts", 0, "full export attempts per scan")
	f.DurationVar(&runPollInterval, "poll-interval", 0, "initial export status poll interval")
	f.DurationVar(&runMaxPolling, "max-polling-time", 0, "give up polling one export after this long")
	f.BoolVar(&runNoCleanup, "no-cleanup", false, "keep downloaded archives in the temp dir")
	f.BoolVar(&runDebugLog, "debug-log", false, "write a timestamped debug log next to the output")
	f.StringVar(&runRetryFile, "retry", "", "retry the scans listed in a failed-scans manifest")
	f.StringVar(&runPolicyFile, "policy", "", "run policy file (default: .scaggregator-policy.yaml when found)")
	f.BoolVar(&runNoTUI, "no-tui", false, "plain log output even on a terminal")
}

func runRun(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	pol, err := loadPolicy(runPolicyFile)
	if err != nil {
		return err
	}

	var retryScans []models.ScanRef
	if runRetryFile != "" {
		retryScans, err = storage.LoadManifest(runRetryFile)
		if err != nil {
			return fmt.Errorf("failed to load retry manifest: %w", err)
		}
	}

	log := newRunLogger()
	client := apiclient.New(apiclient.Options{
		BaseURL:       cfg.BaseURL,
		IAMURL:        cfg.IAMEndpoint(),
		Tenant:        cfg.Tenant,
		APIKey:        cfg.APIKey,
		Timeout:       cfg.RequestTimeout,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
		RateLimitWait: cfg.RateLimitWait,
		Logger:        log,
	})
	orch := pipeline.New(client, pipelineConfig(cfg, pol), log)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	var ui *tui.Progress
	if !runNoTUI && term.IsTerminal(int(os.Stderr.Fd())) {
		ui = tui.NewProgress(os.Stderr, cancel)
		orch.SetObserver(ui)
		log.SetSilent(true)
		ui.Launch()
	} else {
		orch.SetObserver(progress.NewConsole(log))
	}

	var res *pipeline.Result
	if runRetryFile != "" {
		res, err = orch.RunRetry(ctx, retryScans)
	} else {
		res, err = orch.Run(ctx)
	}

	if ui != nil {
		if uiErr := ui.Stop(); uiErr != nil {
			log.Warn("progress display: %v", uiErr)
		}
		log.SetSilent(false)
	}

	if res != nil {
		writeSummary(cmd.OutOrStdout(), res)
	}
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("interrupted: %w", err)
		}
		return err
	}

	if res.Policy != nil && !res.Policy.Pass {
		return &PolicyError{Violations: len(res.Policy.Violations)}
	}
	return nil
}

// applyRunFlags copies explicitly set flags over the loaded configuration.
func applyRunFlags(flags *pflag.FlagSet, c *config.Config) {
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("base-url", func() { c.BaseURL = runBaseURL })
	set("iam-url", func() { c.IAMURL = runIAMURL })
	set("tenant", func() { c.Tenant = runTenant })
	set("api-key", func() { c.APIKey = runAPIKey })
	set("output-dir", func() { c.OutputDir = runOutputDir })
	set("temp-dir", func() { c.TempDir = runTempDir })
	set("output-template", func() { c.OutputFilenameTemplate = runTemplate })
	set("filter", func() { c.PackageFilter = runPackageFilter })
	set("page-size", func() { c.PageSize = runPageSize })
	set("branch-workers", func() { c.BranchWorkers = runBranchWorkers })
	set("scan-workers", func() { c.ScanWorkers = runScanWorkers })
	set("report-workers", func() { c.ReportWorkers = runReportWorkers })
	set("export-attempts", func() { c.ExportAttempts = runAttempts })
	set("poll-interval", func() { c.PollInterval = runPollInterval })
	set("max-polling-time", func() { c.MaxPollingTime = runMaxPolling })
	set("no-cleanup", func() { c.CleanupTemp = !runNoCleanup })
	set("debug-log", func() { c.DebugLog = runDebugLog })
}

// loadPolicy reads path, or the nearest policy file when path is empty. No
// policy file yields a nil policy.
func loadPolicy(path string) (*policy.Policy, error) {
	if path == "" {
		path = policy.FindPolicyFile()
		if path == "" {
			return nil, nil
		}
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("policy file: %w", err)
	}

	p, err := policy.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	return p, nil
}

func pipelineConfig(c *config.Config, pol *policy.Policy) pipeline.Config {
	return pipeline.Config{
		Tenant:           c.Tenant,
		OutputDir:        c.OutputDir,
		FilenameTemplate: c.OutputFilenameTemplate,
		CleanupTemp:      c.CleanupTemp,
		DebugLog:         c.DebugLog,
		FilterExpr:       c.PackageFilter,
		Discovery: discovery.Options{
			PageSize:      c.PageSize,
			BranchWorkers: c.BranchWorkers,
			ScanWorkers:   c.ScanWorkers,
		},
		Export: runner.Options{
			FileFormat:     c.FileFormat,
			Workers:        c.ReportWorkers,
			Attempts:       c.ExportAttempts,
			RequestDelay:   c.ReportDelay,
			PollInterval:   c.PollInterval,
			PollMaxWait:    c.PollMaxWait,
			MaxPollingTime: c.MaxPollingTime,
			TempDir:        c.TempDir,
		},
		Policy: pol,
	}
}

// writeSummary prints the end-of-run summary. Runs that exited before export
// wrote no files and print nothing.
func writeSummary(w io.Writer, res *pipeline.Result) {
	if res.Report == nil {
		return
	}
	if res.EarlyExit != "" && res.EarlyExit != pipeline.MsgNoReports {
		if len(res.Report.Records) > 0 {
			fmt.Fprintf(w, "%-20s %s\n", "Execution Report:", res.Paths.Report)
		}
		return
	}

	s := res.Report.Stats
	rule := strings.Repeat("=", 60)
	line := func(label, format string, args ...interface{}) {
		fmt.Fprintf(w, "%-20s %s\n", label+":", fmt.Sprintf(format, args...))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "EXECUTION SUMMARY")
	fmt.Fprintln(w, rule)
	line("Run ID", "%s", s.RunID)
	if s.Mode == models.ModeRetry {
		line("Retry Scans", "%s", humanize.Comma(int64(s.RetryScans)))
	} else {
		line("Projects", "%s", humanize.Comma(int64(s.TotalProjects)))
		line("Branches", "%s", humanize.Comma(int64(s.TotalBranches)))
		line("Scans Found", "%s", humanize.Comma(int64(s.ScansFound)))
		line("No SCA Scan", "%s", humanize.Comma(int64(s.ScansNotFound)))
	}
	line("Reports Generated", "%s", humanize.Comma(int64(s.ReportsGenerated)))
	line("Reports Failed", "%s", humanize.Comma(int64(s.ReportsFailed)))
	if res.Merged {
		line("Total Packages", "%s", humanize.Comma(int64(s.Merge.RowsWritten)))
		if s.FilterExpr != "" {
			line("Filtered Out", "%s of %s (%s)", humanize.Comma(int64(s.Merge.RowsFiltered)),
				humanize.Comma(int64(s.Merge.RowsSeen)), s.FilterExpr)
		}
		line("Output File", "%s (%s)", res.Paths.Output, humanize.Bytes(uint64(s.OutputSize)))
	}
	line("Execution Report", "%s", res.Paths.Report)
	if res.Report.ManifestFile != "" {
		line("Failed Scans", "%s", res.Report.ManifestFile)
	}
	line("Elapsed", "%s", reporter.FormatElapsed(s.Duration))
	if s.Interrupted {
		fmt.Fprintln(w, "Run was interrupted; rerun with --retry to finish the remaining scans.")
	}
	if res.Policy != nil {
		if res.Policy.Pass {
			line("Policy", "PASS")
		} else {
			line("Policy", "FAIL (%d violations)", len(res.Policy.Violations))
			for _, v := range res.Policy.Violations {
				fmt.Fprintf(w, "  - [%s] %s\n", v.Rule, v.Message)
			}
		}
	}
	fmt.Fprintln(w, rule)
}

// newRunLogger builds the logger used by run.
var newRunLogger = func() *logging.Logger { return newLogger() }
