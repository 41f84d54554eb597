package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RunSummary is one run with aggregated counts.
type RunSummary struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Domain     string     `json:"domain"`
	Selected   int        `json:"selected"`
	Status     string     `json:"status"`
	Uploaded   int        `json:"uploaded"`
	Failed     int        `json:"failed"`
	Confirmed  int        `json:"confirmed"`
	Missing    int        `json:"missing"`
	Unexpected int        `json:"unexpected"`
}

// UploadRow is one recorded upload outcome.
type UploadRow struct {
	Phase      string `json:"phase"`
	EntityID   string `json:"entity_id"`
	OK         bool   `json:"ok"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error,omitempty"`
}

// Runs returns up to limit runs, newest first. limit <= 0 returns all.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `
		SELECT r.id, r.started_at, r.finished_at, r.domain, r.selected, r.status,
		       (SELECT COUNT(*) FROM uploads u WHERE u.run_id = r.id AND u.ok = 1),
		       (SELECT COUNT(*) FROM uploads u WHERE u.run_id = r.id AND u.ok = 0),
		       (SELECT COUNT(*) FROM reconciliations c WHERE c.run_id = r.id AND c.status = 'confirmed'),
		       (SELECT COUNT(*) FROM reconciliations c WHERE c.run_id = r.id AND c.status = 'missing'),
		       (SELECT COUNT(*) FROM reconciliations c WHERE c.run_id = r.id AND c.status = 'unexpected')
		FROM runs r
		ORDER BY r.started_at DESC, r.id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var (
			r        RunSummary
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Domain, &r.Selected, &r.Status,
			&r.Uploaded, &r.Failed, &r.Confirmed, &r.Missing, &r.Unexpected); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse started_at of %s: %w", r.ID, err)
		}
		if finished.Valid {
			t, err := time.Parse(timeLayout, finished.String)
			if err != nil {
				return nil, fmt.Errorf("parse finished_at of %s: %w", r.ID, err)
			}
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Uploads returns the upload rows of a run ordered by phase and entity.
func (l *Ledger) Uploads(ctx context.Context, runID string) ([]UploadRow, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT phase, entity_id, ok, status_code, error
		FROM uploads
		WHERE run_id = ?
		ORDER BY phase ASC, entity_id COLLATE BINARY ASC, seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}
	defer rows.Close()

	out := []UploadRow{}
	for rows.Next() {
		var u UploadRow
		if err := rows.Scan(&u.Phase, &u.EntityID, &u.OK, &u.StatusCode, &u.Error); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploads: %w", err)
	}
	return out, nil
}

// Reconciliation returns entity id -> status for a run.
func (l *Ledger) Reconciliation(ctx context.Context, runID string) (map[string]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT entity_id, status FROM reconciliations
		WHERE run_id = ?
		ORDER BY entity_id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query reconciliations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan reconciliation: %w", err)
		}
		out[id] = status
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reconciliations: %w", err)
	}
	return out, nil
}
