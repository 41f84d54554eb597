// Package config holds the settings of a seeding run.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all settings for a run. Zero-valued fields after Load are
// filled from Default.
type Config struct {
	// Inputs
	RecordsDir      string `yaml:"records_dir"`
	ConsentTemplate string `yaml:"consent_template"`
	AuthoredDates   string `yaml:"authored_dates"`

	// Services
	ComposeFile string        `yaml:"compose_file"`
	Records     ServiceConfig `yaml:"records"`
	Consents    ServiceConfig `yaml:"consents"`

	// Consent domain queried during reconciliation.
	Domain string `yaml:"domain"`

	// Selection
	IDs   []string `yaml:"ids"`
	Limit int      `yaml:"limit"`

	Upload UploadConfig `yaml:"upload"`

	// Ledger is the path of the SQLite run ledger; empty disables it.
	Ledger string `yaml:"ledger"`

	// FailOnMissing makes an incomplete reconciliation fail the run.
	FailOnMissing bool `yaml:"fail_on_missing"`
}

// ServiceConfig locates one HTTP service. BaseURL wins over docker compose
// resolution of Service/Port.
type ServiceConfig struct {
	BaseURL string `yaml:"base_url"`
	Service string `yaml:"service"`
	Port    int    `yaml:"port"`
}

// UploadConfig tunes the dispatchers.
type UploadConfig struct {
	Workers      int     `yaml:"workers"`
	RateLimit    float64 `yaml:"rate_limit"`
	Timeout      string  `yaml:"timeout"`
	StrictStatus bool    `yaml:"strict_status"`
}

// Endpoint paths under the service base URLs.
const (
	RecordUploadPath  = "/fhir"
	ConsentAddPath    = "/ttp-fhir/fhir/gics/$addConsent"
	ConsentQueryPath  = "/ttp-fhir/fhir/gics/$allConsentsForDomain"
	DefaultDomain     = "MII"
	DefaultWorkers    = 16
	DefaultTimeout    = "30s"
	defaultRecordSvc  = "cd-hds"
	defaultConsentSvc = "gics"
	defaultPort       = 8080
)

// Environment overrides.
const (
	EnvRecordURL   = "FHIR_SEED_RECORD_URL"
	EnvConsentURL  = "FHIR_SEED_CONSENT_URL"
	EnvComposeFile = "FHIR_SEED_COMPOSE_FILE"
	EnvDomain      = "FHIR_SEED_DOMAIN"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Records:  ServiceConfig{Service: defaultRecordSvc, Port: defaultPort},
		Consents: ServiceConfig{Service: defaultConsentSvc, Port: defaultPort},
		Domain:   DefaultDomain,
		Upload: UploadConfig{
			Workers: DefaultWorkers,
			Timeout: DefaultTimeout,
		},
	}
}

// Load reads a YAML config file over the defaults and applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvRecordURL); v != "" {
		c.Records.BaseURL = v
	}
	if v := os.Getenv(EnvConsentURL); v != "" {
		c.Consents.BaseURL = v
	}
	if v := os.Getenv(EnvComposeFile); v != "" {
		c.ComposeFile = v
	}
	if v := os.Getenv(EnvDomain); v != "" {
		c.Domain = v
	}
}

// GetTimeout parses Upload.Timeout. Empty or invalid means no timeout.
func (c *Config) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Upload.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// Validate checks the settings needed for a full seeding run.
func (c *Config) Validate() error {
	var errs []error
	if c.RecordsDir == "" {
		errs = append(errs, errors.New("records directory not set"))
	}
	if c.ConsentTemplate == "" {
		errs = append(errs, errors.New("consent template not set"))
	}
	errs = append(errs, c.validateCommon()...)
	return errors.Join(errs...)
}

// ValidateVerify checks the settings needed for a reconciliation-only run.
func (c *Config) ValidateVerify() error {
	return errors.Join(c.validateCommon()...)
}

func (c *Config) validateCommon() []error {
	var errs []error
	if c.AuthoredDates == "" {
		errs = append(errs, errors.New("authored dates file not set"))
	}
	if strings.TrimSpace(c.Domain) == "" {
		errs = append(errs, errors.New("consent domain not set"))
	}
	if c.Limit < 0 {
		errs = append(errs, fmt.Errorf("invalid limit %d: must not be negative", c.Limit))
	}
	if c.Upload.Workers < 1 {
		errs = append(errs, fmt.Errorf("invalid workers %d: must be at least 1", c.Upload.Workers))
	}
	if c.Upload.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("invalid rate limit %v: must not be negative", c.Upload.RateLimit))
	}
	if c.Upload.Timeout != "" {
		if _, err := time.ParseDuration(c.Upload.Timeout); err != nil {
			errs = append(errs, fmt.Errorf("invalid timeout %q: %w", c.Upload.Timeout, err))
		}
	}
	return errs
}

// Endpoint joins a base URL and a path.
func Endpoint(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + path
}
