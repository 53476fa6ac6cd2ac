// internal/store/entitlements.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "entitlement-workers/internal/common/errors"
	"entitlement-workers/internal/models"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const entitlementColumns = `id, subject_id, item_id, amount_paid, currency, provider,
	provider_transaction_id, credential_username, credential_secret, created_at`

// Entitlements is the read/insert surface shared by the Postgres store and its cache.
type Entitlements interface {
	FindBySubjectAndItem(ctx context.Context, subjectID, itemID int64) (*models.Entitlement, bool, error)
	TryInsert(ctx context.Context, e models.Entitlement) (*models.Entitlement, bool, error)
}

// EntitlementStore persists entitlements in Postgres. The UNIQUE (subject_id, item_id)
// constraint is the arbiter under concurrent activation.
type EntitlementStore struct {
	db *sql.DB
}

func NewEntitlementStore(db *sql.DB) *EntitlementStore {
	return &EntitlementStore{db: db}
}

func (s *EntitlementStore) FindBySubjectAndItem(ctx context.Context, subjectID, itemID int64) (*models.Entitlement, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE subject_id = $1 AND item_id = $2`,
		subjectID, itemID,
	)

	e, err := scanEntitlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewDatabaseError("find entitlement", err)
	}
	return e, true, nil
}

// TryInsert writes e unless an entitlement for the same (subject, item) exists.
// It returns the stored row and whether this call created it. A lost race
// returns the winner's row with inserted=false, never an error.
func (s *EntitlementStore) TryInsert(ctx context.Context, e models.Entitlement) (*models.Entitlement, bool, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO entitlements (
			subject_id, item_id, amount_paid, currency, provider,
			provider_transaction_id, credential_username, credential_secret
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subject_id, item_id) DO NOTHING
		RETURNING id, created_at`,
		e.SubjectID, e.ItemID, e.AmountPaid, e.Currency, string(e.Provider),
		e.ProviderTransactionID, e.CredentialUsername, e.CredentialSecret,
	).Scan(&e.ID, &e.CreatedAt)

	switch {
	case err == nil:
		return &e, true, nil
	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		existing, found, findErr := s.FindBySubjectAndItem(ctx, e.SubjectID, e.ItemID)
		if findErr != nil {
			return nil, false, findErr
		}
		if !found {
			return nil, false, apperrors.NewDatabaseError("insert entitlement",
				fmt.Errorf("conflict on subject %d item %d but no row found", e.SubjectID, e.ItemID))
		}
		return existing, false, nil
	default:
		return nil, false, apperrors.NewDatabaseError("insert entitlement", err)
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntitlement(row rowScanner) (*models.Entitlement, error) {
	var e models.Entitlement
	err := row.Scan(
		&e.ID, &e.SubjectID, &e.ItemID, &e.AmountPaid, &e.Currency, &e.Provider,
		&e.ProviderTransactionID, &e.CredentialUsername, &e.CredentialSecret, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
