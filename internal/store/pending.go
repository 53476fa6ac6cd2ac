// internal/store/pending.go
package store

import (
	"context"
	"database/sql"
	"errors"

	apperrors "entitlement-workers/internal/common/errors"
	"entitlement-workers/internal/models"
)

const pendingColumns = `id, provider_reference, item_id, amount_paid, currency, provider,
	buyer_email, buyer_name, buyer_phone, status, subject_id, created_at, completed_at`

// PendingLedger records payments the provider authorized before the buyer
// finished the profile step. Rows are created and moved to "paid" by the
// checkout webhook; this service only reads them and completes them.
type PendingLedger struct {
	db *sql.DB
}

func NewPendingLedger(db *sql.DB) *PendingLedger {
	return &PendingLedger{db: db}
}

func (l *PendingLedger) FindByReference(ctx context.Context, reference string) (*models.PendingPayment, bool, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+pendingColumns+` FROM pending_payments WHERE provider_reference = $1`,
		reference,
	)

	p, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewDatabaseError("find pending payment", err)
	}
	return p, true, nil
}

// MarkCompleted moves a row to "completed" and links it to the subject. Buyer
// details only overwrite stored values when non-empty. It reports false when
// the row was already completed or does not exist.
func (l *PendingLedger) MarkCompleted(ctx context.Context, id, subjectID int64, buyer models.BuyerDetails) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
		UPDATE pending_payments
		SET status = 'completed',
			subject_id = $2,
			buyer_email = COALESCE(NULLIF($3, ''), buyer_email),
			buyer_name = COALESCE(NULLIF($4, ''), buyer_name),
			buyer_phone = COALESCE(NULLIF($5, ''), buyer_phone),
			completed_at = NOW()
		WHERE id = $1 AND status IN ('awaiting_completion', 'paid')`,
		id, subjectID, buyer.Email, buyer.Name, buyer.Phone,
	)
	if err != nil {
		return false, apperrors.NewDatabaseError("complete pending payment", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.NewDatabaseError("complete pending payment", err)
	}
	return n > 0, nil
}

// ListUnresolved returns rows the provider confirmed but nobody completed,
// oldest first.
func (l *PendingLedger) ListUnresolved(ctx context.Context) ([]models.PendingPayment, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+pendingColumns+` FROM pending_payments WHERE status = 'paid' ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list pending payments", err)
	}
	defer rows.Close()

	pending := make([]models.PendingPayment, 0)
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan pending payment", err)
		}
		pending = append(pending, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list pending payments", err)
	}
	return pending, nil
}

func scanPending(row rowScanner) (*models.PendingPayment, error) {
	var (
		p           models.PendingPayment
		subjectID   sql.NullInt64
		completedAt sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.ProviderReference, &p.ItemID, &p.AmountPaid, &p.Currency, &p.Provider,
		&p.BuyerEmail, &p.BuyerName, &p.BuyerPhone, &p.Status, &subjectID, &p.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if subjectID.Valid {
		id := subjectID.Int64
		p.SubjectID = &id
	}
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	return &p, nil
}
