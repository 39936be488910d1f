// Package moderation enforces the report ledger and the ban state machine.
// Reports accumulate in PostgreSQL; bans live on the user record and are
// evaluated lazily, so a temporary ban past its expiry stops being enforced
// while the stored field remains until an explicit unban.
package moderation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chatdude/anonchat/internal/errs"
)

// Ledger stores abuse reports in PostgreSQL. Each (reporter, reported) pair
// is recorded at most once.
type Ledger struct {
	db *sql.DB
}

// ReportCount is one row of the top-N aggregation.
type ReportCount struct {
	UserID int64
	Count  int
}

// NewLedger creates a report ledger backed by the given database handle.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Insert files a report. Returns errs.ErrConflict if the ordered pair was
// already recorded.
func (l *Ledger) Insert(ctx context.Context, reporterID, reportedID int64) error {
	const query = `
		INSERT INTO reports (reporter_id, reported_id)
		VALUES ($1, $2)
		ON CONFLICT (reporter_id, reported_id) DO NOTHING`

	res, err := l.db.ExecContext(ctx, query, reporterID, reportedID)
	if err != nil {
		return fmt.Errorf("moderation: insert report: %w", errors.Join(errs.ErrPersistence, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("moderation: insert report: %w", errors.Join(errs.ErrPersistence, err))
	}
	if n == 0 {
		return fmt.Errorf("report already filed: %w", errs.ErrConflict)
	}
	return nil
}

// Exists reports whether the ordered pair has been recorded.
func (l *Ledger) Exists(ctx context.Context, reporterID, reportedID int64) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM reports WHERE reporter_id = $1 AND reported_id = $2
		)`

	var exists bool
	if err := l.db.QueryRowContext(ctx, query, reporterID, reportedID).Scan(&exists); err != nil {
		return false, fmt.Errorf("moderation: exists: %w", errors.Join(errs.ErrPersistence, err))
	}
	return exists, nil
}

// CountByTarget returns the number of distinct reports against a user.
func (l *Ledger) CountByTarget(ctx context.Context, reportedID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM reports WHERE reported_id = $1`

	var count int
	if err := l.db.QueryRowContext(ctx, query, reportedID).Scan(&count); err != nil {
		return 0, fmt.Errorf("moderation: count: %w", errors.Join(errs.ErrPersistence, err))
	}
	return count, nil
}

// DeleteByTarget removes all reports filed against a user.
func (l *Ledger) DeleteByTarget(ctx context.Context, reportedID int64) error {
	const query = `DELETE FROM reports WHERE reported_id = $1`

	if _, err := l.db.ExecContext(ctx, query, reportedID); err != nil {
		return fmt.Errorf("moderation: delete reports: %w", errors.Join(errs.ErrPersistence, err))
	}
	return nil
}

// TopReported returns the n most reported users, highest count first.
func (l *Ledger) TopReported(ctx context.Context, n int) ([]ReportCount, error) {
	const query = `
		SELECT reported_id, COUNT(*) AS cnt
		FROM reports
		GROUP BY reported_id
		ORDER BY cnt DESC, reported_id
		LIMIT $1`

	rows, err := l.db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("moderation: top reported: %w", errors.Join(errs.ErrPersistence, err))
	}
	defer rows.Close()

	var out []ReportCount
	for rows.Next() {
		var rc ReportCount
		if err := rows.Scan(&rc.UserID, &rc.Count); err != nil {
			return nil, fmt.Errorf("moderation: top reported scan: %w", err)
		}
		out = append(out, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("moderation: top reported rows: %w", errors.Join(errs.ErrPersistence, err))
	}
	return out, nil
}
