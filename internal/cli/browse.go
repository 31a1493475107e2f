package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ppiankov/scaggregator/internal/logging"
	"github.com/ppiankov/scaggregator/internal/models"
	"github.com/ppiankov/scaggregator/internal/storage"
	"github.com/ppiankov/scaggregator/internal/tui"
)

var browseCmd = &cobra.Command{
	Use:   "browse <ledger.json>",
	Short: "Browse the failures and warnings of a finished run",
	Long: `browse opens the failure ledger of a run (the _ledger.json file written
next to the merged CSV). Records are grouped by category and subject; every
failed export shows whether it is listed in the run's retry manifest.

Keys: tab/shift+tab category, enter record history, m retry manifest only,
r copy the retry command, ? help, q quit.

Example:
  scaggregator browse output/sca_packages_acme_20260301_101500_ledger.json`,
	Args: cobra.ExactArgs(1),
	RunE: runBrowse,
}

func runBrowse(cmd *cobra.Command, args []string) error {
	report, err := storage.LoadRunReport(args[0])
	if err != nil {
		return err
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("browse needs an interactive terminal; read %s or the execution report instead", args[0])
	}
	return tui.Browse(report, loadRunManifest(report, args[0], newLogger()))
}

// loadRunManifest reads the retry manifest a ledger points at. The recorded
// path may be relative to the directory the run was started from, so the
// ledger's own directory is tried too. The manifest path on report is updated
// to the one that was read; nil is returned when neither can be read.
func loadRunManifest(report *models.RunReport, ledgerPath string, log *logging.Logger) []models.ScanRef {
	if report.ManifestFile == "" {
		return nil
	}
	candidates := []string{report.ManifestFile}
	if !filepath.IsAbs(report.ManifestFile) {
		candidates = append(candidates, filepath.Join(filepath.Dir(ledgerPath), filepath.Base(report.ManifestFile)))
	}
	for _, path := range candidates {
		scans, err := storage.LoadManifest(path)
		if err == nil {
			report.ManifestFile = path
			if scans == nil {
				scans = []models.ScanRef{}
			}
			return scans
		}
		log.Debug("retry manifest %s: %v", path, err)
	}
	log.Warn("retry manifest %s could not be read; membership is shown as unknown", report.ManifestFile)
	return nil
}
