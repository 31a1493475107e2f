package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/scaggregator/internal/models"
	"github.com/ppiankov/scaggregator/internal/reporter"
	"github.com/ppiankov/scaggregator/internal/storage"
)

var (
	statusFormat string
	statusDir    string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the outcome of the most recent run",
	Long: `Status reads the newest ledger file in the output directory and shows the
run's statistics and failure counts without opening the full report.

Example:
  scaggregator status
  scaggregator status --output-dir ./output --format json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "text",
		"output format: text or json")
	statusCmd.Flags().StringVarP(&statusDir, "output-dir", "o", "",
		"output directory to inspect (default from config)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	dir := statusDir
	if dir == "" {
		dir = cfg.OutputDir
	}

	path, err := storage.LatestLedger(dir)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if path == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "No runs found in %s.\n", dir)
		fmt.Fprintln(cmd.OutOrStdout(), "Run 'scaggregator run' to produce one.")
		return nil
	}

	report, err := storage.LoadRunReport(path)
	if err != nil {
		return err
	}

	switch statusFormat {
	case "json":
		return reporter.NewJSONReporter(cmd.OutOrStdout(), true).GenerateSummaryOnly(report)
	case "text":
		writeStatusText(cmd.OutOrStdout(), path, report)
		return nil
	default:
		return fmt.Errorf("unknown format %q (expected text or json)", statusFormat)
	}
}

func writeStatusText(w io.Writer, path string, report *models.RunReport) {
	s := report.Stats
	fmt.Fprintf(w, "Run:       %s (%s, %s)\n", s.RunID, s.Mode, humanize.Time(report.GeneratedAt))
	fmt.Fprintf(w, "Ledger:    %s\n", path)
	if s.Interrupted {
		fmt.Fprintln(w, "State:     interrupted")
	}
	fmt.Fprintf(w, "Reports:   %s generated, %s failed (%.1f%%)\n",
		humanize.Comma(int64(s.ReportsGenerated)), humanize.Comma(int64(s.ReportsFailed)), s.FailureRate())
	fmt.Fprintf(w, "Packages:  %s\n", humanize.Comma(int64(s.Merge.RowsWritten)))
	if s.OutputFile != "" {
		size := humanize.Bytes(uint64(s.OutputSize))
		if _, err := os.Stat(s.OutputFile); err != nil {
			size = "missing"
		}
		fmt.Fprintf(w, "Output:    %s (%s)\n", s.OutputFile, size)
	}
	if report.ManifestFile != "" {
		fmt.Fprintf(w, "Retry:     scaggregator run --retry %s\n", report.ManifestFile)
	}

	counts := report.CountByCategory()
	if len(counts) == 0 {
		fmt.Fprintln(w, "Ledger:    no errors or warnings")
		return
	}
	fmt.Fprintln(w, "Records:")
	for _, c := range models.AllCategories {
		if n := counts[c]; n > 0 {
			fmt.Fprintf(w, "  %-24s %s\n", c, humanize.Comma(int64(n)))
		}
	}
}
