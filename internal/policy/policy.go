package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ppiankov/scaggregator/internal/models"
	"gopkg.in/yaml.v3"
)

// FileNames are the policy file names searched for by FindPolicyFile.
var FileNames = []string{".scaggregator-policy.yaml", ".scaggregator-policy.yml"}

// Policy defines acceptance rules for a finished run.
type Policy struct {
	Version string `yaml:"version"`
	Rules   Rules  `yaml:"rules"`
}

// Rules contains all configurable policy rules.
type Rules struct {
	MaxReportFailures *int     `yaml:"max_report_failures,omitempty"`
	MaxFailureRate    *float64 `yaml:"max_failure_rate,omitempty"`
	MinPackages       *int     `yaml:"min_packages,omitempty"`
	ForbidCategories  []string `yaml:"forbid_categories,omitempty"`
}

// Violation is a single policy failure.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Result holds the outcome of a policy check.
type Result struct {
	Pass       bool        `json:"pass"`
	Violations []Violation `json:"violations"`
}

// LoadFromFile reads a policy file. A missing file yields a nil policy.
func LoadFromFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read policy: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}

	return &p, nil
}

func (p *Policy) validate() error {
	known := make(map[string]bool, len(models.AllCategories))
	for _, c := range models.AllCategories {
		known[string(c)] = true
	}
	for _, c := range p.Rules.ForbidCategories {
		if !known[c] {
			return fmt.Errorf("unknown category %q in forbid_categories", c)
		}
	}
	if r := p.Rules.MaxFailureRate; r != nil && (*r < 0 || *r > 100) {
		return fmt.Errorf("max_failure_rate %.1f must be between 0 and 100", *r)
	}
	return nil
}

// FindPolicyFile searches for a policy file in the current directory
// and parent directories up to the filesystem root.
func FindPolicyFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	return findFrom(dir)
}

func findFrom(dir string) string {
	for {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// Evaluate checks a finished run against the policy rules.
func (p *Policy) Evaluate(report *models.RunReport) *Result {
	if p == nil {
		return &Result{Pass: true}
	}

	var violations []Violation
	stats := report.Stats

	// max_report_failures
	if p.Rules.MaxReportFailures != nil {
		if stats.ReportsFailed > *p.Rules.MaxReportFailures {
			violations = append(violations, Violation{
				Rule:    "max_report_failures",
				Message: fmt.Sprintf("report failures %d exceeds limit %d", stats.ReportsFailed, *p.Rules.MaxReportFailures),
			})
		}
	}

	// max_failure_rate
	if p.Rules.MaxFailureRate != nil {
		if rate := stats.FailureRate(); rate > *p.Rules.MaxFailureRate {
			violations = append(violations, Violation{
				Rule:    "max_failure_rate",
				Message: fmt.Sprintf("failure rate %.1f%% exceeds limit %.1f%%", rate, *p.Rules.MaxFailureRate),
			})
		}
	}

	// min_packages
	if p.Rules.MinPackages != nil {
		if stats.Merge.RowsWritten < *p.Rules.MinPackages {
			violations = append(violations, Violation{
				Rule:    "min_packages",
				Message: fmt.Sprintf("merged packages %d below minimum %d", stats.Merge.RowsWritten, *p.Rules.MinPackages),
			})
		}
	}

	// forbid_categories
	if len(p.Rules.ForbidCategories) > 0 {
		counts := report.CountByCategory()
		for _, c := range p.Rules.ForbidCategories {
			if count := counts[models.FailureCategory(c)]; count > 0 {
				violations = append(violations, Violation{
					Rule:    "forbid_categories",
					Message: fmt.Sprintf("forbidden category %q has %d records", c, count),
				})
			}
		}
	}

	return &Result{
		Pass:       len(violations) == 0,
		Violations: violations,
	}
}
