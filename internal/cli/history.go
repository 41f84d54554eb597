package cli

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/life-research/fts-next-test-patient-uploader/internal/ledger"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Ledger string
	Limit  int
}

// HistoryView is the list of recorded runs.
type HistoryView struct {
	Runs []ledger.RunSummary `json:"runs"`
}

func (v *HistoryView) String() string {
	if len(v.Runs) == 0 {
		return "No runs recorded."
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tDOMAIN\tSTATUS\tSELECTED\tUPLOADED\tFAILED\tCONFIRMED\tMISSING\tUNEXPECTED")
	for _, r := range v.Runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.ID, r.StartedAt.Format(time.RFC3339), r.Domain, r.Status,
			r.Selected, r.Uploaded, r.Failed, r.Confirmed, r.Missing, r.Unexpected)
	}
	_ = tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

// RunDetailView is one run's failed uploads and reconciliation.
type RunDetailView struct {
	RunID          string              `json:"run_id"`
	FailedUploads  []ledger.UploadRow  `json:"failed_uploads"`
	Reconciliation map[string][]string `json:"reconciliation"`
}

func (v *RunDetailView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s\n", v.RunID)
	fmt.Fprintf(&b, "Failed uploads: %d\n", len(v.FailedUploads))
	for _, u := range v.FailedUploads {
		fmt.Fprintf(&b, "  %s %s: %s\n", u.Phase, u.EntityID, u.Error)
	}
	for _, status := range []string{ledger.Confirmed, ledger.Missing, ledger.Unexpected} {
		ids := v.Reconciliation[status]
		fmt.Fprintf(&b, "%s: %d%s\n", status, len(ids), idList(ids))
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show runs recorded in the ledger",
		Long: `List recent runs recorded in the SQLite ledger, newest first. With a run
id, show that run's failed uploads and reconciliation outcome.

Example:
  fhir-seed history --ledger ./seed.db
  fhir-seed history --ledger ./seed.db 01920c4e-7f3a-7b1c-9d2e-3f4a5b6c7d8e`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Ledger, "ledger", "", "path to the SQLite run ledger (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "number of runs to list (0 = all)")
	_ = cmd.MarkFlagRequired("ledger")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions, args []string) error {
	out := opts.formatter(cmd.OutOrStdout())
	ctx := cmd.Context()

	led, err := ledger.Open(opts.Ledger)
	if err != nil {
		_ = out.Error(ErrCodeLedger, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer func() {
		if closeErr := led.Close(); closeErr != nil {
			cmd.PrintErrln("error closing ledger:", closeErr)
		}
	}()

	if len(args) == 0 {
		runs, err := led.Runs(ctx, opts.Limit)
		if err != nil {
			_ = out.Error(ErrCodeLedger, err.Error(), nil)
			return WrapExitError(ExitFailure, "failed to read ledger", err)
		}
		return out.Success(&HistoryView{Runs: runs})
	}

	view, err := runDetail(cmd, led, args[0])
	if err != nil {
		_ = out.Error(ErrCodeLedger, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to read ledger", err)
	}
	return out.Success(view)
}

func runDetail(cmd *cobra.Command, led *ledger.Ledger, runID string) (*RunDetailView, error) {
	ctx := cmd.Context()

	uploads, err := led.Uploads(ctx, runID)
	if err != nil {
		return nil, err
	}
	statuses, err := led.Reconciliation(ctx, runID)
	if err != nil {
		return nil, err
	}

	view := &RunDetailView{
		RunID:          runID,
		FailedUploads:  []ledger.UploadRow{},
		Reconciliation: map[string][]string{},
	}
	for _, u := range uploads {
		if !u.OK {
			view.FailedUploads = append(view.FailedUploads, u)
		}
	}
	for id, status := range statuses {
		view.Reconciliation[status] = append(view.Reconciliation[status], id)
	}
	for _, ids := range view.Reconciliation {
		slices.Sort(ids)
	}
	return view, nil
}
