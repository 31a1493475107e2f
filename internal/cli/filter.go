package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/scaggregator/internal/aggregator"
)

var (
	filterExpr   string
	filterOutput string
)

var filterCmd = &cobra.Command{
	Use:   "filter <merged.csv>",
	Short: "Filter an already merged package CSV",
	Long: `filter applies a package filter to a CSV written by "scaggregator run"
without contacting the platform. The expression has the same form as
run --filter: Field=value, Field=v1||v2 (any) or Field=v1&&v2 (all),
compared case-insensitively.

Example:
  scaggregator filter merged.csv --filter "Repository=npm"
  scaggregator filter merged.csv --filter "Repository=npm||Maven" -o js_and_java.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runFilter,
}

func init() {
	filterCmd.Flags().StringVarP(&filterExpr, "filter", "f", "",
		"filter expression (required)")
	filterCmd.Flags().StringVarP(&filterOutput, "output", "o", "",
		"output file (default: <input>_filtered.csv)")
}

func runFilter(cmd *cobra.Command, args []string) error {
	f, err := aggregator.ParseFilter(filterExpr)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("--filter is required")
	}

	input := args[0]
	output := filterOutput
	if output == "" {
		output = filteredName(input)
	}
	if filepath.Clean(output) == filepath.Clean(input) {
		return fmt.Errorf("output must differ from input")
	}

	in, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}

	kept, dropped, err := aggregator.FilterCSV(in, out, f)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to filter %s: %w", input, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Kept %s packages, filtered out %s (%s)\n",
		humanize.Comma(int64(kept)), humanize.Comma(int64(dropped)), f)
	fmt.Fprintf(cmd.OutOrStdout(), "Output: %s\n", output)
	return nil
}

func filteredName(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_filtered" + ext
}
