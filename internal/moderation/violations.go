package moderation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chatdude/anonchat/internal/errs"
	"github.com/chatdude/anonchat/internal/user"
)

// Violations mirrors moderation outcomes per user: the report count at the
// time moderation last acted, the reason, and a copy of the applied ban.
// Written whenever moderation acts; read by operators.
type Violations struct {
	db *sql.DB
}

// NewViolations creates a violation ledger over the given database handle.
func NewViolations(db *sql.DB) *Violations {
	return &Violations{db: db}
}

// Upsert writes the violation row for a user.
func (v *Violations) Upsert(ctx context.Context, userID int64, count int, reason string, ban user.BanState) error {
	const query = `
		INSERT INTO violations (user_id, report_count, reason, ban_kind, ban_expires, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			report_count = EXCLUDED.report_count,
			reason       = EXCLUDED.reason,
			ban_kind     = EXCLUDED.ban_kind,
			ban_expires  = EXCLUDED.ban_expires,
			updated_at   = NOW()`

	var expires sql.NullTime
	if ban.Kind == user.BanTemporary {
		expires = sql.NullTime{Time: ban.Expires, Valid: true}
	}

	if _, err := v.db.ExecContext(ctx, query, userID, count, reason, string(ban.Kind), expires); err != nil {
		return fmt.Errorf("moderation: upsert violation: %w", errors.Join(errs.ErrPersistence, err))
	}
	return nil
}

// Delete removes the violation row for a user (explicit unban).
func (v *Violations) Delete(ctx context.Context, userID int64) error {
	const query = `DELETE FROM violations WHERE user_id = $1`

	if _, err := v.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("moderation: delete violation: %w", errors.Join(errs.ErrPersistence, err))
	}
	return nil
}
