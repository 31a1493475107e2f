package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/scaggregator/internal/storage"
)

var validateManifestCmd = &cobra.Command{
	Use:   "validate-manifest <file>",
	Short: "Check a failed-scans manifest before retrying it",
	Long: `validate-manifest reads a retry manifest written by "scaggregator run" and
checks its header and rows. Every row needs a scan id; the project and branch
columns are carried into the merged output of the retry.

Returns exit 0 if the manifest can be retried, exit 1 otherwise.

Example:
  scaggregator validate-manifest output/sca_packages_acme_20260301_101500_failed_scans.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runValidateManifest,
}

func runValidateManifest(cmd *cobra.Command, args []string) error {
	scans, err := storage.LoadManifest(args[0])
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	projects := make(map[string]bool)
	for _, s := range scans {
		projects[s.ProjectID] = true
	}
	fmt.Fprintf(cmd.OutOrStdout(), "VALID: %s scans across %s projects\n",
		humanize.Comma(int64(len(scans))), humanize.Comma(int64(len(projects))))
	return nil
}
