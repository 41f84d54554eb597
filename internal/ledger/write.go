package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/life-research/fts-next-test-patient-uploader/internal/dispatch"
	"github.com/life-research/fts-next-test-patient-uploader/internal/reconcile"
)

// timeLayout is fixed-width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run statuses.
const (
	StatusRunning    = "running"
	StatusComplete   = "complete"
	StatusIncomplete = "incomplete"
	StatusFailed     = "failed"
)

// Reconciliation row statuses.
const (
	Confirmed  = "confirmed"
	Missing    = "missing"
	Unexpected = "unexpected"
)

// BeginRun inserts a run row with status running.
func (l *Ledger) BeginRun(ctx context.Context, id, domain string, selected int, startedAt time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, domain, selected, status)
		VALUES (?, ?, ?, ?, ?)
	`, id, startedAt.UTC().Format(timeLayout), domain, selected, StatusRunning)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun stamps the finish time and final status.
func (l *Ledger) FinishRun(ctx context.Context, id, status string, finishedAt time.Time) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, status = ? WHERE id = ?
	`, finishedAt.UTC().Format(timeLayout), status, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: unknown run %s", id)
	}
	return nil
}

// RecordUploads writes one row per outcome of an upload phase in a single
// transaction.
func (l *Ledger) RecordUploads(ctx context.Context, runID string, res *dispatch.Result) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record uploads: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO uploads (run_id, phase, entity_id, ok, status_code, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("record uploads: %w", err)
	}
	defer stmt.Close()

	for _, o := range res.Outcomes {
		msg := ""
		if o.Err != nil {
			msg = o.Err.Error()
		}
		if _, err := stmt.ExecContext(ctx, runID, res.Domain, o.ID, o.OK, o.StatusCode, msg); err != nil {
			return fmt.Errorf("record upload %s: %w", o.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record uploads: %w", err)
	}
	return nil
}

// RecordReport writes the reconciliation status of every id in report.
func (l *Ledger) RecordReport(ctx context.Context, runID string, report *reconcile.Report) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record report: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reconciliations (run_id, entity_id, status)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, entity_id) DO UPDATE SET status = excluded.status
	`)
	if err != nil {
		return fmt.Errorf("record report: %w", err)
	}
	defer stmt.Close()

	groups := []struct {
		status string
		ids    []string
	}{
		{Confirmed, report.Confirmed},
		{Missing, report.Missing},
		{Unexpected, report.Unexpected},
	}
	for _, g := range groups {
		for _, id := range g.ids {
			if _, err := stmt.ExecContext(ctx, runID, id, g.status); err != nil {
				return fmt.Errorf("record reconciliation %s: %w", id, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record report: %w", err)
	}
	return nil
}
