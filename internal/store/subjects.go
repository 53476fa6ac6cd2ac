// internal/store/subjects.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	apperrors "entitlement-workers/internal/common/errors"
	"entitlement-workers/internal/models"
)

const subjectColumns = `id, email, name, phone, created_at`

// SubjectRepository reads and creates buyer accounts in the users table.
// E-mail comparison is case-insensitive throughout.
type SubjectRepository struct {
	db *sql.DB
}

func NewSubjectRepository(db *sql.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

func (r *SubjectRepository) FindByID(ctx context.Context, id int64) (*models.Subject, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+subjectColumns+` FROM users WHERE id = $1`, id)

	s, err := scanSubject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewSubjectNotFoundError(id)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("find subject", err)
	}
	return s, nil
}

func (r *SubjectRepository) FindByEmail(ctx context.Context, email string) (*models.Subject, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+subjectColumns+` FROM users WHERE LOWER(email) = LOWER($1)`,
		strings.TrimSpace(email),
	)

	s, err := scanSubject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewDatabaseError("find subject by email", err)
	}
	return s, true, nil
}

// FindOrCreate returns the subject owning email, creating it with profile if
// none exists. The boolean is true when this call created the row.
func (r *SubjectRepository) FindOrCreate(ctx context.Context, email string, profile models.Profile) (*models.Subject, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, false, apperrors.NewValidationError("subject email is required")
	}

	if s, found, err := r.FindByEmail(ctx, email); err != nil || found {
		return s, false, err
	}

	s := models.Subject{Email: email, Name: profile.Name, Phone: profile.Phone}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (email, name, phone)
		VALUES ($1, $2, $3)
		ON CONFLICT ((LOWER(email))) DO NOTHING
		RETURNING id, created_at`,
		s.Email, s.Name, s.Phone,
	).Scan(&s.ID, &s.CreatedAt)

	switch {
	case err == nil:
		return &s, true, nil
	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		existing, found, findErr := r.FindByEmail(ctx, email)
		if findErr != nil {
			return nil, false, findErr
		}
		if !found {
			return nil, false, apperrors.NewDatabaseError("create subject",
				fmt.Errorf("conflict on email but no row found"))
		}
		return existing, false, nil
	default:
		return nil, false, apperrors.NewDatabaseError("create subject", err)
	}
}

func scanSubject(row rowScanner) (*models.Subject, error) {
	var s models.Subject
	if err := row.Scan(&s.ID, &s.Email, &s.Name, &s.Phone, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
