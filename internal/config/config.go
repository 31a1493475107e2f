package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ppiankov/scaggregator/internal/storage"
)

const (
	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "CXONE"

	// DefaultEnvFile is loaded when present; a missing default file is not an error.
	DefaultEnvFile = ".env"
)

// Config holds all configuration for the aggregator.
type Config struct {
	// Platform access
	BaseURL string `mapstructure:"base_url"`
	IAMURL  string `mapstructure:"iam_url"`
	Tenant  string `mapstructure:"tenant"`
	APIKey  string `mapstructure:"api_key"`

	// Output layout
	OutputDir              string `mapstructure:"output_dir"`
	TempDir                string `mapstructure:"temp_dir"`
	OutputFilenameTemplate string `mapstructure:"output_filename_template"`
	CleanupTemp            bool   `mapstructure:"cleanup_temp"`
	DebugLog               bool   `mapstructure:"debug_log"`

	// HTTP behaviour
	PageSize       int           `mapstructure:"page_size"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	RateLimitWait  time.Duration `mapstructure:"rate_limit_wait"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// Concurrency
	BranchWorkers int `mapstructure:"branch_workers"`
	ScanWorkers   int `mapstructure:"scan_workers"`
	ReportWorkers int `mapstructure:"report_workers"`

	// Export engine
	ReportDelay    time.Duration `mapstructure:"report_delay"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	PollMaxWait    time.Duration `mapstructure:"poll_max_wait"`
	MaxPollingTime time.Duration `mapstructure:"max_polling_time"`
	ExportAttempts int           `mapstructure:"export_attempts"`
	FileFormat     string        `mapstructure:"file_format"`

	// Merge
	PackageFilter string `mapstructure:"package_filter"`

	Verbose bool `mapstructure:"verbose"`
	Debug   bool `mapstructure:"debug"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		OutputDir:              "./output",
		TempDir:                "./temp",
		OutputFilenameTemplate: "sca_packages_{tenant}_{timestamp}.csv",
		CleanupTemp:            true,
		DebugLog:               false,
		PageSize:               100,
		MaxRetries:             3,
		RetryDelay:             2 * time.Second,
		RateLimitWait:          30 * time.Second,
		RequestTimeout:         60 * time.Second,
		BranchWorkers:          10,
		ScanWorkers:            10,
		ReportWorkers:          5,
		ReportDelay:            time.Second,
		PollInterval:           5 * time.Second,
		PollMaxWait:            2 * time.Minute,
		MaxPollingTime:         2 * time.Hour,
		ExportAttempts:         4,
		FileFormat:             "ScanReportCsv",
	}
}

// LoadOptions selects the config and env files for Load.
type LoadOptions struct {
	// ConfigFile is an explicit YAML file; empty searches the standard locations.
	ConfigFile string
	// EnvFile is an explicit env file; empty loads DefaultEnvFile when present.
	EnvFile string
}

// Load loads configuration with the following precedence (lowest to highest):
// 1. Default values
// 2. Config file (./scaggregator.yaml, ~/scaggregator.yaml, $XDG_CONFIG_HOME/scaggregator/)
// 3. Env file (.env or --env-file)
// 4. Environment variables (CXONE_*)
// 5. CLI flags (handled by caller)
//
// Load does not validate; callers apply flag overrides first and then call Validate.
func Load(opts LoadOptions) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("scaggregator")
	v.SetConfigType("yaml")

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			v.AddConfigPath(filepath.Join(xdgConfig, "scaggregator"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("base_url", "")
	v.SetDefault("iam_url", "")
	v.SetDefault("tenant", "")
	v.SetDefault("api_key", "")
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("temp_dir", d.TempDir)
	v.SetDefault("output_filename_template", d.OutputFilenameTemplate)
	v.SetDefault("cleanup_temp", d.CleanupTemp)
	v.SetDefault("debug_log", d.DebugLog)
	v.SetDefault("page_size", d.PageSize)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("retry_delay", d.RetryDelay)
	v.SetDefault("rate_limit_wait", d.RateLimitWait)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("branch_workers", d.BranchWorkers)
	v.SetDefault("scan_workers", d.ScanWorkers)
	v.SetDefault("report_workers", d.ReportWorkers)
	v.SetDefault("report_delay", d.ReportDelay)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("poll_max_wait", d.PollMaxWait)
	v.SetDefault("max_polling_time", d.MaxPollingTime)
	v.SetDefault("export_attempts", d.ExportAttempts)
	v.SetDefault("file_format", d.FileFormat)
	v.SetDefault("package_filter", "")
	v.SetDefault("verbose", false)
	v.SetDefault("debug", false)
}

// loadEnvFile exports the variables of an env file into the process
// environment. Variables already set in the environment win.
func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "base_url")
	}
	if c.Tenant == "" {
		missing = append(missing, "tenant")
	}
	if c.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s (set them in the config file, %s_* env vars or flags)",
			strings.Join(missing, ", "), EnvPrefix)
	}

	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base_url: %q", c.BaseURL)
	}

	positive := []struct {
		name  string
		value int
	}{
		{"page_size", c.PageSize},
		{"branch_workers", c.BranchWorkers},
		{"scan_workers", c.ScanWorkers},
		{"report_workers", c.ReportWorkers},
		{"export_attempts", c.ExportAttempts},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.ReportDelay < 0 {
		return fmt.Errorf("report_delay cannot be negative")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.PollMaxWait < c.PollInterval {
		return fmt.Errorf("poll_max_wait (%s) cannot be shorter than poll_interval (%s)", c.PollMaxWait, c.PollInterval)
	}
	if c.MaxPollingTime <= 0 {
		return fmt.Errorf("max_polling_time must be positive")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir cannot be empty")
	}
	if c.TempDir == "" {
		return fmt.Errorf("temp_dir cannot be empty")
	}
	if err := storage.ValidateTemplate(c.OutputFilenameTemplate); err != nil {
		return err
	}

	return nil
}

// IAMEndpoint returns the identity service URL, derived from the base URL
// when iam_url is not set.
func (c *Config) IAMEndpoint() string {
	if c.IAMURL != "" {
		return strings.TrimRight(c.IAMURL, "/")
	}
	return DeriveIAMURL(c.BaseURL)
}

// DeriveIAMURL replaces the leading "ast." host label of baseURL with "iam.".
func DeriveIAMURL(baseURL string) string {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Host == "" {
		return strings.TrimRight(baseURL, "/")
	}
	if strings.HasPrefix(u.Host, "ast.") {
		u.Host = "iam." + strings.TrimPrefix(u.Host, "ast.")
	}
	return u.String()
}

// GenerateSampleConfig generates a sample configuration file content
func GenerateSampleConfig() string {
	return `# CxOne SCA Package Aggregator configuration
# Save this file as ./scaggregator.yaml or ~/scaggregator.yaml
# Every key can also be set as CXONE_<KEY> in the environment or a .env file.

# Platform access (required)
base_url: https://ast.checkmarx.net
tenant: your-tenant
# api_key: prefer CXONE_API_KEY in the environment

# Identity service; derived from base_url ("ast." -> "iam.") when empty
# iam_url: https://iam.checkmarx.net

# Output layout
output_dir: ./output
temp_dir: ./temp
output_filename_template: sca_packages_{tenant}_{timestamp}.csv
cleanup_temp: true

# Append every log line to <output>_debug.txt
debug_log: false

# HTTP behaviour
page_size: 100
max_retries: 3
retry_delay: 2s
rate_limit_wait: 30s
request_timeout: 60s

# Concurrency
branch_workers: 10
scan_workers: 10
report_workers: 5

# Export engine
report_delay: 1s
poll_interval: 5s
poll_max_wait: 2m
max_polling_time: 2h
export_attempts: 4
file_format: ScanReportCsv

# Keep only matching package rows, e.g. "PackageRepository=npm||maven"
package_filter: ""

verbose: false
debug: false
`
}
