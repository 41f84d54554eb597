package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/life-research/fts-next-test-patient-uploader/internal/selection"
)

var errAuthoredDatesRequired = errors.New("authored dates file not set")

// SelectOptions holds flags for the select command.
type SelectOptions struct {
	*RootOptions
	RunFlags
}

// SelectionView lists selected ids.
type SelectionView struct {
	IDs []string `json:"ids"`
}

// String prints one id per line.
func (v *SelectionView) String() string {
	return strings.Join(v.IDs, "\n")
}

// NewSelectCommand creates the select command.
func NewSelectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SelectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "select",
		Short: "Print the ids a run would seed",
		Long: `Print the entity ids selected from the authored dates file, in the
order they would be uploaded. Nothing is sent to any service.

Example:
  fhir-seed select -a authored.json -n 10
  fhir-seed select -a authored.json --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelect(cmd, opts)
		},
	}

	addSelectionFlags(cmd.Flags(), &opts.RunFlags)

	return cmd
}

func runSelect(cmd *cobra.Command, opts *SelectOptions) error {
	out := opts.formatter(cmd.OutOrStdout())

	cfg, err := loadConfig(cmd, opts.RootOptions, &opts.RunFlags)
	if err != nil {
		return startupError(out, "failed to load config", err)
	}
	if cfg.AuthoredDates == "" {
		return startupError(out, "invalid configuration", errAuthoredDatesRequired)
	}

	idx, err := selection.LoadAuthoredIndex(cfg.AuthoredDates)
	if err != nil {
		return startupError(out, "failed to load authored dates", err)
	}

	ids := selection.SelectFromIndex(idx, selection.Options{IDs: cfg.IDs, Limit: cfg.Limit})
	if ids == nil {
		ids = []string{}
	}
	return out.Success(&SelectionView{IDs: ids})
}
