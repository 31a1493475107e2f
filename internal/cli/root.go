package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/scaggregator/internal/config"
	"github.com/ppiankov/scaggregator/internal/logging"
)

const (
	ExitOK         = 0 // Success, including early exits
	ExitFatal      = 1 // Configuration, auth, manifest or I/O error, or interrupt
	ExitPolicyFail = 2 // Run policy violated
)

// buildVersion is set by SetVersion from main.
var buildVersion = "dev"

var (
	// Global config instance
	cfg *config.Config

	// Global flags
	configFile string
	envFile    string
	verbose    bool
	debug      bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "scaggregator",
	Short: "CxOne SCA package aggregator",
	Long: `scaggregator collects the SCA package inventory of every project branch
on a CxOne tenant and merges it into a single CSV file.

For each branch it picks the newest completed SCA scan, exports the scan's
package report, and merges the package tables with project, branch and scan
columns prepended. Branches without a usable scan and failed exports are
listed in an execution report; failed exports also go to a retry manifest.

Quick start:
  scaggregator config > scaggregator.yaml
  export CXONE_API_KEY=...
  scaggregator run

Other commands:
  scaggregator run --retry output/sca_packages_acme_20260301_101500_failed_scans.csv
  scaggregator validate-manifest <manifest.csv>
  scaggregator filter merged.csv --filter "Repository=npm"
  scaggregator browse output/sca_packages_acme_20260301_101500_ledger.json`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(config.LoadOptions{ConfigFile: configFile, EnvFile: envFile})
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if verbose {
			cfg.Verbose = true
		}
		if debug {
			cfg.Debug = true
		}
		return nil
	},
}

// SetVersion records the build version reported by the version command.
func SetVersion(v string) {
	buildVersion = v
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error
		return HandleError(err)
	}
	return ExitOK
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (default: ./scaggregator.yaml or ~/scaggregator.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "",
		"env file with CXONE_* variables (default: .env when present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"debug mode (very verbose)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateManifestCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(filterCmd)
	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd shows version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "scaggregator %s\n", buildVersion)
		fmt.Fprintln(cmd.OutOrStdout(), "CxOne SCA package aggregator")
	},
}

// HandleError determines the appropriate exit code for an error
func HandleError(err error) int {
	if err == nil {
		return ExitOK
	}
	var pe *PolicyError
	var nf *NewFailuresError
	if errors.As(err, &pe) || errors.As(err, &nf) {
		return ExitPolicyFail
	}
	return ExitFatal
}

// PolicyError reports a finished run that violated the run policy.
type PolicyError struct {
	Violations int
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("run policy failed with %d violation(s)", e.Violations)
}

// newLogger builds the console logger for the loaded config.
func newLogger() *logging.Logger {
	if cfg == nil {
		return logging.New(os.Stderr, verbose, debug)
	}
	return logging.New(os.Stderr, cfg.Verbose, cfg.Debug)
}
