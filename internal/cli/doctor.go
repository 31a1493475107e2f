package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/scaggregator/internal/apiclient"
	"github.com/ppiankov/scaggregator/internal/config"
	"github.com/ppiankov/scaggregator/internal/logging"
	"github.com/ppiankov/scaggregator/internal/policy"
)

var (
	doctorFormat string
	doctorPolicy string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check environment readiness and diagnose common problems",
	Long: `Doctor validates your scaggregator setup end-to-end:

  1. Config     - settings complete and consistent?
  2. Identity   - API key accepted by the tenant's identity service?
  3. API        - projects endpoint reachable with that token?
  4. Output dir - writable?
  5. Temp dir   - writable?
  6. Policy     - policy file found and valid?

Fix the issues it reports, then run 'scaggregator run' with confidence.`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().StringVar(&doctorFormat, "format", "text",
		"output format: text or json")
	doctorCmd.Flags().StringVar(&doctorPolicy, "policy", "",
		"policy file to check (default: .scaggregator-policy.yaml when found)")
}

type doctorCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok", "warn", "fail"
	Detail string `json:"detail,omitempty"`
}

type doctorResult struct {
	Checks  []doctorCheck `json:"checks"`
	Summary string        `json:"summary"`
}

// doctorTimeout bounds the platform checks.
const doctorTimeout = 20 * time.Second

func runDoctor(cmd *cobra.Command, args []string) error {
	var checks []doctorCheck

	configCheck := checkConfig(cfg)
	checks = append(checks, configCheck)

	if configCheck.Status == "fail" {
		checks = append(checks,
			doctorCheck{Name: "identity", Status: "warn", Detail: "skipped (config incomplete)"},
			doctorCheck{Name: "api", Status: "warn", Detail: "skipped (config incomplete)"})
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
		client := doctorClient(cfg)
		identity := checkIdentity(ctx, client, cfg)
		checks = append(checks, identity)
		if identity.Status == "ok" {
			checks = append(checks, checkAPI(ctx, client))
		}
		cancel()
	}

	checks = append(checks, checkDir("output dir", cfg.OutputDir))
	checks = append(checks, checkDir("temp dir", cfg.TempDir))
	checks = append(checks, checkPolicy(doctorPolicy))

	result := doctorResult{Checks: checks, Summary: summarizeChecks(checks)}

	if doctorFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	writeDoctorText(cmd.OutOrStdout(), result)
	return nil
}

func summarizeChecks(checks []doctorCheck) string {
	fails, warns := 0, 0
	for _, c := range checks {
		switch c.Status {
		case "fail":
			fails++
		case "warn":
			warns++
		}
	}

	switch {
	case fails > 0:
		return fmt.Sprintf("%d issue(s) found", fails)
	case warns > 0:
		return fmt.Sprintf("ok with %d warning(s)", warns)
	}
	return "all checks passed"
}

func writeDoctorText(w io.Writer, result doctorResult) {
	icons := map[string]string{
		"ok":   "✓",
		"warn": "△",
		"fail": "✗",
	}

	for _, c := range result.Checks {
		icon := icons[c.Status]
		if c.Detail != "" {
			fmt.Fprintf(w, "  %s %-12s %s\n", icon, c.Name, c.Detail)
		} else {
			fmt.Fprintf(w, "  %s %s\n", icon, c.Name)
		}
	}

	fmt.Fprintf(w, "\n%s\n", result.Summary)
}

func checkConfig(c *config.Config) doctorCheck {
	if err := c.Validate(); err != nil {
		return doctorCheck{Name: "config", Status: "fail", Detail: err.Error()}
	}
	return doctorCheck{Name: "config", Status: "ok", Detail: fmt.Sprintf("tenant %s at %s", c.Tenant, c.BaseURL)}
}

func doctorClient(c *config.Config) *apiclient.Client {
	return apiclient.New(apiclient.Options{
		BaseURL:       c.BaseURL,
		IAMURL:        c.IAMEndpoint(),
		Tenant:        c.Tenant,
		APIKey:        c.APIKey,
		Timeout:       c.RequestTimeout,
		RateLimitWait: c.RateLimitWait,
		Logger:        logging.Nop(),
	})
}

func checkIdentity(ctx context.Context, client *apiclient.Client, c *config.Config) doctorCheck {
	if err := client.Authenticate(ctx); err != nil {
		return doctorCheck{Name: "identity", Status: "fail", Detail: err.Error()}
	}
	return doctorCheck{Name: "identity", Status: "ok", Detail: c.IAMEndpoint()}
}

func checkAPI(ctx context.Context, client *apiclient.Client) doctorCheck {
	page, err := client.ListProjectsPage(ctx, 1, 0)
	if err != nil {
		return doctorCheck{Name: "api", Status: "fail", Detail: err.Error()}
	}
	if page.Total > 0 {
		return doctorCheck{Name: "api", Status: "ok", Detail: fmt.Sprintf("%d projects visible", page.Total)}
	}
	if len(page.Projects) == 0 {
		return doctorCheck{Name: "api", Status: "warn", Detail: "no projects visible to this API key"}
	}
	return doctorCheck{Name: "api", Status: "ok", Detail: "projects visible"}
}

func checkDir(name, dir string) doctorCheck {
	info, err := os.Stat(dir)
	if err != nil {
		// created on first run
		return doctorCheck{Name: name, Status: "ok", Detail: fmt.Sprintf("%s (will be created on first run)", dir)}
	}
	if !info.IsDir() {
		return doctorCheck{Name: name, Status: "fail", Detail: fmt.Sprintf("%s exists but is not a directory", dir)}
	}

	tmpFile := filepath.Join(dir, ".doctor-check")
	if err := os.WriteFile(tmpFile, []byte("ok"), 0600); err != nil {
		return doctorCheck{Name: name, Status: "fail", Detail: fmt.Sprintf("%s not writable: %v", dir, err)}
	}
	_ = os.Remove(tmpFile)

	return doctorCheck{Name: name, Status: "ok", Detail: dir}
}

func checkPolicy(path string) doctorCheck {
	if path == "" {
		path = policy.FindPolicyFile()
	}
	if path == "" {
		return doctorCheck{Name: "policy", Status: "ok", Detail: "none (exit code 2 disabled)"}
	}
	if _, err := loadPolicy(path); err != nil {
		return doctorCheck{Name: "policy", Status: "fail", Detail: err.Error()}
	}
	return doctorCheck{Name: "policy", Status: "ok", Detail: path}
}
