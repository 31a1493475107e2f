package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/scaggregator/internal/config"
)

var configOutput string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print a sample configuration file",
	Long: `config prints a commented scaggregator.yaml listing every setting with its
default value.

Example:
  scaggregator config > scaggregator.yaml
  scaggregator config -o ~/scaggregator.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().StringVarP(&configOutput, "output", "o", "",
		"write the sample to a file instead of stdout")
}

func runConfig(cmd *cobra.Command, args []string) error {
	sample := config.GenerateSampleConfig()
	if configOutput == "" {
		fmt.Fprint(cmd.OutOrStdout(), sample)
		return nil
	}

	if _, err := os.Stat(configOutput); err == nil {
		return fmt.Errorf("%s already exists", configOutput)
	}
	if err := os.WriteFile(configOutput, []byte(sample), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sample configuration written to %s\n", configOutput)
	return nil
}
