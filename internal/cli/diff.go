package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/scaggregator/internal/models"
	"github.com/ppiankov/scaggregator/internal/storage"
)

var (
	diffFormat  string
	diffOutput  string
	diffFailNew bool
)

var diffCmd = &cobra.Command{
	Use:   "diff <baseline_ledger.json> [current_ledger.json]",
	Short: "Show which failures changed between two runs",
	Long: `Compare the failure ledgers of two runs.

Shows failures that are new in the current run, failures that no longer
occur, and per-category deltas. Records match on category, project, branch
and topic, so a branch that failed with a different scan still counts as the
same failure.

The current run defaults to the newest ledger in the output directory.
Compare a run with its retry to see which exports the retry recovered.

Exit codes:
  0  No new failures (or --fail-new not set)
  2  New failures detected (with --fail-new)

Example:
  scaggregator diff output/run1_ledger.json output/run2_ledger.json
  scaggregator diff output/run1_ledger.json --fail-new --format json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDiff,
}

func init() {
	diffCmd.Flags().StringVarP(&diffFormat, "format", "f", "text",
		"output format: text or json")
	diffCmd.Flags().StringVarP(&diffOutput, "output", "o", "",
		"write output to file instead of stdout")
	diffCmd.Flags().BoolVar(&diffFailNew, "fail-new", false,
		"exit 2 if new failures are found (for CI gating)")
}

// DiffResult is the structured output of a diff operation.
type DiffResult struct {
	Baseline         string                 `json:"baseline"`
	Current          string                 `json:"current"`
	NewFailures      []models.FailureRecord `json:"new_failures"`
	ResolvedFailures []models.FailureRecord `json:"resolved_failures"`
	Summary          DiffSummary            `json:"summary"`
}

// DiffSummary holds aggregate counts for a diff.
type DiffSummary struct {
	BaselineTotal int                            `json:"baseline_total"`
	CurrentTotal  int                            `json:"current_total"`
	NewCount      int                            `json:"new_count"`
	ResolvedCount int                            `json:"resolved_count"`
	Delta         int                            `json:"delta"` // positive = more failures
	NewByCategory map[models.FailureCategory]int `json:"new_by_category"`
	Packages      [2]int                         `json:"packages"` // baseline, current
}

// NewFailuresError is returned by diff --fail-new when the current run has
// failures the baseline did not.
type NewFailuresError struct {
	Count int
}

func (e *NewFailuresError) Error() string {
	return fmt.Sprintf("%d new failure(s) since baseline", e.Count)
}

func runDiff(cmd *cobra.Command, args []string) error {
	baselinePath := args[0]
	currentPath := ""
	if len(args) == 2 {
		currentPath = args[1]
	} else {
		latest, err := storage.LatestLedger(cfg.OutputDir)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		if latest == "" {
			return fmt.Errorf("no ledger files in %s; pass the current ledger explicitly", cfg.OutputDir)
		}
		currentPath = latest
	}

	baseline, err := storage.LoadRunReport(baselinePath)
	if err != nil {
		return fmt.Errorf("failed to load baseline: %w", err)
	}
	current, err := storage.LoadRunReport(currentPath)
	if err != nil {
		return fmt.Errorf("failed to load current run: %w", err)
	}

	result := computeDiff(baseline, current)
	result.Baseline = labelRun(baselinePath, baseline)
	result.Current = labelRun(currentPath, current)

	if err := outputDiff(cmd.OutOrStdout(), result, diffFormat, diffOutput); err != nil {
		return err
	}

	if diffFailNew && result.Summary.NewCount > 0 {
		return &NewFailuresError{Count: result.Summary.NewCount}
	}
	return nil
}

func labelRun(path string, r *models.RunReport) string {
	return fmt.Sprintf("%s (%s, %s)", path, r.Stats.Mode, r.GeneratedAt.Format("2006-01-02 15:04:05"))
}

// recordKey identifies a failure across runs.
func recordKey(rec models.FailureRecord) string {
	return strings.Join([]string{
		string(rec.Category), rec.Subject.ProjectID, rec.Subject.BranchName, rec.Topic,
	}, "|")
}

// computeDiff calculates new and resolved failures between baseline and current.
func computeDiff(baseline, current *models.RunReport) *DiffResult {
	baseSet := make(map[string]models.FailureRecord, len(baseline.Records))
	for _, rec := range baseline.Records {
		baseSet[recordKey(rec)] = rec
	}
	currSet := make(map[string]models.FailureRecord, len(current.Records))
	for _, rec := range current.Records {
		currSet[recordKey(rec)] = rec
	}

	var newFailures, resolved []models.FailureRecord
	for key, rec := range currSet {
		if _, found := baseSet[key]; !found {
			newFailures = append(newFailures, rec)
		}
	}
	for key, rec := range baseSet {
		if _, found := currSet[key]; !found {
			resolved = append(resolved, rec)
		}
	}
	sortRecords(newFailures)
	sortRecords(resolved)

	newByCategory := map[models.FailureCategory]int{}
	for _, rec := range newFailures {
		newByCategory[rec.Category]++
	}

	return &DiffResult{
		NewFailures:      newFailures,
		ResolvedFailures: resolved,
		Summary: DiffSummary{
			BaselineTotal: len(baseSet),
			CurrentTotal:  len(currSet),
			NewCount:      len(newFailures),
			ResolvedCount: len(resolved),
			Delta:         len(currSet) - len(baseSet),
			NewByCategory: newByCategory,
			Packages:      [2]int{baseline.Stats.Merge.RowsWritten, current.Stats.Merge.RowsWritten},
		},
	}
}

func sortRecords(recs []models.FailureRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recordKey(recs[i]) < recordKey(recs[j])
	})
}

// outputDiff renders the diff result to the chosen format.
func outputDiff(stdout io.Writer, result *DiffResult, format, outputPath string) error {
	writer := stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		writer = f
	}

	switch format {
	case "json":
		enc := json.NewEncoder(writer)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "text":
		printDiffText(writer, result)
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (use text or json)", format)
	}
}

func printDiffText(w io.Writer, r *DiffResult) {
	p := func(format string, args ...interface{}) {
		_, _ = fmt.Fprintf(w, format, args...)
	}

	p("Baseline: %s\n", r.Baseline)
	p("Current:  %s\n\n", r.Current)

	deltaSign := "+"
	if r.Summary.Delta < 0 {
		deltaSign = ""
	}
	p("Failures: %d → %d (%s%d)\n", r.Summary.BaselineTotal, r.Summary.CurrentTotal, deltaSign, r.Summary.Delta)
	p("Packages: %d → %d\n", r.Summary.Packages[0], r.Summary.Packages[1])
	p("New: %d   Resolved: %d\n\n", r.Summary.NewCount, r.Summary.ResolvedCount)

	if len(r.NewFailures) > 0 {
		p("New Failures:\n")
		p("--------------------------------------------------\n")
		for _, rec := range r.NewFailures {
			p("  [%s] %s: %s\n", rec.Category, describeSubject(rec), rec.Message)
		}
		p("\n")
	}

	if len(r.ResolvedFailures) > 0 {
		p("Resolved Failures:\n")
		p("--------------------------------------------------\n")
		for _, rec := range r.ResolvedFailures {
			p("  ✓ [%s] %s\n", rec.Category, describeSubject(rec))
		}
		p("\n")
	}

	if len(r.Summary.NewByCategory) > 0 {
		p("New by Category:\n")
		for _, c := range models.AllCategories {
			if n := r.Summary.NewByCategory[c]; n > 0 {
				p("  %s: %d\n", c, n)
			}
		}
		p("\n")
	}

	if r.Summary.NewCount == 0 && r.Summary.ResolvedCount == 0 {
		p("No change in failures.\n")
	} else if r.Summary.NewCount == 0 {
		p("No new failures, only recoveries.\n")
	}
}

func describeSubject(rec models.FailureRecord) string {
	s := rec.Subject
	switch {
	case s.ProjectName != "" && s.BranchName != "":
		return s.ProjectName + "/" + s.BranchName
	case s.ProjectName != "":
		return s.ProjectName
	case rec.Topic != "":
		return rec.Topic
	}
	return "-"
}
