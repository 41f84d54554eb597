package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/life-research/fts-next-test-patient-uploader/internal/compose"
	"github.com/life-research/fts-next-test-patient-uploader/internal/config"
	"github.com/life-research/fts-next-test-patient-uploader/internal/ledger"
	"github.com/life-research/fts-next-test-patient-uploader/internal/render"
	"github.com/life-research/fts-next-test-patient-uploader/internal/seed"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	RunFlags

	// Tokens overrides the consent token generator (for testing).
	// If nil, defaults to render.UUIDGenerator.
	Tokens render.TokenGenerator
	// Resolver overrides docker compose port resolution (for testing).
	Resolver seed.Resolver
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upload patients and consents, then reconcile",
		Long: `Upload the selected patient bundles to the clinical data server and a
rendered consent per patient to the consent service. Both uploads run
concurrently. Once the consents are uploaded the registry is queried for the
consent domain and compared with the selection.

Service addresses come from docker compose unless given explicitly.

Example:
  fhir-seed seed -d compose.yaml -p ./patients -c consent.json -a authored.json -n 100
  fhir-seed seed --records-url http://localhost:8080 --consent-url http://localhost:8081 \
    -p ./patients -c consent.json -a authored.json --ids p1,p2`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, opts)
		},
	}

	addUploadFlags(cmd.Flags(), &opts.RunFlags)
	addSelectionFlags(cmd.Flags(), &opts.RunFlags)
	addServiceFlags(cmd.Flags(), &opts.RunFlags)

	return cmd
}

func runSeed(cmd *cobra.Command, opts *SeedOptions) error {
	out := opts.formatter(cmd.OutOrStdout())

	cfg, err := loadConfig(cmd, opts.RootOptions, &opts.RunFlags)
	if err != nil {
		return startupError(out, "failed to load config", err)
	}
	if err := cfg.Validate(); err != nil {
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

	s := newSeeder(cfg, led, opts.Resolver)
	s.Tokens = opts.Tokens

	plan, err := s.Prepare(ctx)
	if err != nil {
		return startupError(out, "startup failed", err)
	}

	sum, runErr := s.Execute(ctx, plan)
	return finishSummary(out, cfg, sum, runErr)
}

// newSeeder builds a Seeder resolving services through docker compose
// unless resolver is set.
func newSeeder(cfg *config.Config, led *ledger.Ledger, resolver seed.Resolver) *seed.Seeder {
	if resolver == nil {
		resolver = &compose.Resolver{ComposeFile: cfg.ComposeFile}
	}
	return &seed.Seeder{
		Config:   cfg,
		Resolver: resolver,
		Ledger:   led,
		Logger:   slog.Default(),
	}
}

// openLedger opens cfg.Ledger when configured. The returned close func is
// always safe to call.
func openLedger(cfg *config.Config) (*ledger.Ledger, func(), error) {
	if cfg.Ledger == "" {
		return nil, func() {}, nil
	}
	led, err := ledger.Open(cfg.Ledger)
	if err != nil {
		return nil, nil, err
	}
	return led, func() {
		if err := led.Close(); err != nil {
			slog.Error("error closing ledger", "error", err)
		}
	}, nil
}

// finishSummary prints the summary and maps the outcome to an exit error.
func finishSummary(out *OutputFormatter, cfg *config.Config, sum *seed.Summary, runErr error) error {
	if sum == nil {
		_ = out.Error(ErrCodeGeneric, runErr.Error(), nil)
		return WrapExitError(ExitFailure, "run failed", runErr)
	}
	if err := out.Success(newSummaryView(sum)); err != nil {
		return err
	}

	if runErr != nil {
		// Uploads never fail the run on their own; a missing report means
		// the registry query failed, anything else is a ledger write.
		code := ErrCodeLedger
		if sum.Report == nil {
			code = ErrCodeReconciliation
		}
		slog.Error("run failed", "code", code, "error", runErr)
		return WrapExitError(ExitFailure, "run failed", runErr)
	}
	if cfg.FailOnMissing && sum.Report != nil && !sum.Report.Complete() {
		slog.Error("reconciliation incomplete", "code", ErrCodeIncomplete, "missing", len(sum.Report.Missing))
		return NewExitError(ExitFailure, "reconciliation incomplete: consents missing from registry")
	}
	return nil
}

func startupError(out *OutputFormatter, message string, err error) error {
	_ = out.Error(ErrCodeStartup, message+": "+err.Error(), nil)
	return WrapExitError(ExitCommandError, message, err)
}

// signalContext cancels on SIGINT/SIGTERM or when the command's context ends.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
