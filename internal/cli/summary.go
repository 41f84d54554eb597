package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/life-research/fts-next-test-patient-uploader/internal/dispatch"
	"github.com/life-research/fts-next-test-patient-uploader/internal/reconcile"
	"github.com/life-research/fts-next-test-patient-uploader/internal/seed"
)

// SummaryView is the JSON shape of a run summary.
type SummaryView struct {
	RunID    string            `json:"run_id,omitempty"`
	Selected int               `json:"selected"`
	Records  *PhaseView        `json:"records,omitempty"`
	Consents *PhaseView        `json:"consents,omitempty"`
	Report   *reconcile.Report `json:"report,omitempty"`
}

// PhaseView summarizes one upload phase.
type PhaseView struct {
	Target     string        `json:"target"`
	Dispatched int           `json:"dispatched"`
	Succeeded  int64         `json:"succeeded"`
	Failures   []FailureView `json:"failures,omitempty"`
}

// FailureView is one failed entity.
type FailureView struct {
	ID         string `json:"id"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error"`
}

func newSummaryView(sum *seed.Summary) *SummaryView {
	return &SummaryView{
		RunID:    sum.RunID,
		Selected: sum.Selected,
		Records:  newPhaseView(sum.Records),
		Consents: newPhaseView(sum.Consents),
		Report:   sum.Report,
	}
}

func newPhaseView(res *dispatch.Result) *PhaseView {
	if res == nil {
		return nil
	}
	v := &PhaseView{Target: res.Target, Dispatched: res.Dispatched, Succeeded: res.Succeeded}
	for _, o := range res.Failures() {
		v.Failures = append(v.Failures, FailureView{ID: o.ID, StatusCode: o.StatusCode, Error: o.Err.Error()})
	}
	return v
}

// String renders the summary for text output.
func (v *SummaryView) String() string {
	var b strings.Builder
	writeSummary(&b, v)
	return strings.TrimRight(b.String(), "\n")
}

func writeSummary(w io.Writer, v *SummaryView) {
	if v.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", v.RunID)
	}
	fmt.Fprintf(w, "Selected: %d\n", v.Selected)
	writePhase(w, "Records", v.Records)
	writePhase(w, "Consents", v.Consents)

	r := v.Report
	if r == nil {
		return
	}
	fmt.Fprintf(w, "Reconciliation (domain %s): %s\n", r.Domain, completeStatus(r.Complete()))
	fmt.Fprintf(w, "  Confirmed:  %d\n", len(r.Confirmed))
	fmt.Fprintf(w, "  Missing:    %d%s\n", len(r.Missing), idList(r.Missing))
	fmt.Fprintf(w, "  Unexpected: %d%s\n", len(r.Unexpected), idList(r.Unexpected))
}

func writePhase(w io.Writer, name string, p *PhaseView) {
	if p == nil {
		return
	}
	fmt.Fprintf(w, "%s: %d/%d uploaded\n", name, p.Succeeded, p.Dispatched)
	for _, f := range p.Failures {
		fmt.Fprintf(w, "  FAILED %s: %s\n", f.ID, f.Error)
	}
}

func completeStatus(complete bool) string {
	if complete {
		return "COMPLETE"
	}
	return "INCOMPLETE"
}

func idList(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return " [" + strings.Join(ids, ", ") + "]"
}
