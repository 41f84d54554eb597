package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/life-research/fts-next-test-patient-uploader/internal/config"
)

// RunFlags are the flags shared by commands that talk to the services.
// A flag only overrides the config file when it was set explicitly.
type RunFlags struct {
	RecordsDir      string
	ConsentTemplate string
	AuthoredDates   string
	ComposeFile     string
	RecordURL       string
	ConsentURL      string
	Domain          string
	IDs             []string
	Limit           int
	Workers         int
	RateLimit       float64
	Timeout         string
	StrictStatus    bool
	Ledger          string
	FailOnMissing   bool
}

func addSelectionFlags(fs *pflag.FlagSet, f *RunFlags) {
	fs.StringVarP(&f.AuthoredDates, "authored-dates", "a", "", "path to the authored dates JSON file")
	fs.StringSliceVar(&f.IDs, "ids", nil, "explicit entity ids (comma separated)")
	fs.IntVarP(&f.Limit, "limit", "n", 0, "number of entities to select (0 = all)")
}

func addServiceFlags(fs *pflag.FlagSet, f *RunFlags) {
	fs.StringVarP(&f.ComposeFile, "docker-compose", "d", "", "path to the docker compose file")
	fs.StringVar(&f.ConsentURL, "consent-url", "", "consent service base URL (skips docker compose)")
	fs.StringVar(&f.Domain, "domain", config.DefaultDomain, "consent domain to reconcile")
	fs.StringVar(&f.Timeout, "timeout", config.DefaultTimeout, "per-request timeout")
	fs.StringVar(&f.Ledger, "ledger", "", "path to the SQLite run ledger")
	fs.BoolVar(&f.FailOnMissing, "fail-on-missing", false, "exit 1 when consents are missing from the registry")
}

func addUploadFlags(fs *pflag.FlagSet, f *RunFlags) {
	fs.StringVarP(&f.RecordsDir, "patients-dir", "p", "", "directory with one {id}.json bundle per patient")
	fs.StringVarP(&f.ConsentTemplate, "consent-template", "c", "", "path to the consent template")
	fs.StringVar(&f.RecordURL, "records-url", "", "clinical data server base URL (skips docker compose)")
	fs.IntVar(&f.Workers, "workers", config.DefaultWorkers, "concurrent requests per upload phase")
	fs.Float64Var(&f.RateLimit, "rate", 0, "requests per second per upload phase (0 = unlimited)")
	fs.BoolVar(&f.StrictStatus, "strict-status", false, "count non-2xx responses as failed uploads")
}

// loadConfig reads --config and applies explicitly set flags on top.
func loadConfig(cmd *cobra.Command, rootOpts *RootOptions, f *RunFlags) (*config.Config, error) {
	cfg, err := config.Load(rootOpts.ConfigPath)
	if err != nil {
		return nil, err
	}

	fs := cmd.Flags()
	set := func(name string, apply func()) {
		if fl := fs.Lookup(name); fl != nil && fl.Changed {
			apply()
		}
	}

	set("patients-dir", func() { cfg.RecordsDir = f.RecordsDir })
	set("consent-template", func() { cfg.ConsentTemplate = f.ConsentTemplate })
	set("authored-dates", func() { cfg.AuthoredDates = f.AuthoredDates })
	set("docker-compose", func() { cfg.ComposeFile = f.ComposeFile })
	set("records-url", func() { cfg.Records.BaseURL = f.RecordURL })
	set("consent-url", func() { cfg.Consents.BaseURL = f.ConsentURL })
	set("domain", func() { cfg.Domain = f.Domain })
	set("ids", func() { cfg.IDs = f.IDs })
	set("limit", func() { cfg.Limit = f.Limit })
	set("workers", func() { cfg.Upload.Workers = f.Workers })
	set("rate", func() { cfg.Upload.RateLimit = f.RateLimit })
	set("timeout", func() { cfg.Upload.Timeout = f.Timeout })
	set("strict-status", func() { cfg.Upload.StrictStatus = f.StrictStatus })
	set("ledger", func() { cfg.Ledger = f.Ledger })
	set("fail-on-missing", func() { cfg.FailOnMissing = f.FailOnMissing })

	return cfg, nil
}
