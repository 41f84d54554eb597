package cli

import (
	"github.com/spf13/cobra"

	"github.com/life-research/fts-next-test-patient-uploader/internal/seed"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	RunFlags

	// Resolver overrides docker compose port resolution (for testing).
	Resolver seed.Resolver
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Reconcile the registry against the selection without uploading",
		Long: `Query the consent registry for the consent domain and compare the
subject identifiers it returns with the selection.

Example:
  fhir-seed verify -d compose.yaml -a authored.json -n 100
  fhir-seed verify --consent-url http://localhost:8081 -a authored.json --fail-on-missing`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, opts)
		},
	}

	addSelectionFlags(cmd.Flags(), &opts.RunFlags)
	addServiceFlags(cmd.Flags(), &opts.RunFlags)

	return cmd
}

func runVerify(cmd *cobra.Command, opts *VerifyOptions) error {
	out := opts.formatter(cmd.OutOrStdout())

	cfg, err := loadConfig(cmd, opts.RootOptions, &opts.RunFlags)
	if err != nil {
		return startupError(out, "failed to load config", err)
	}
	if err := cfg.ValidateVerify(); err != nil {
		return startupError(out, "invalid configuration", err)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	led, closeLedger, err := openLedger(cfg)
	if err != nil {
		_ = out.Error(ErrCodeLedger, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer closeLedger()

	sum, err := newSeeder(cfg, led, opts.Resolver).Verify(ctx)
	if sum == nil && err != nil {
		return startupError(out, "startup failed", err)
	}
	return finishSummary(out, cfg, sum, err)
}
