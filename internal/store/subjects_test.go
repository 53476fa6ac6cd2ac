package store

import (
	"context"
	"testing"
	"time"

	apperrors "entitlement-workers/internal/common/errors"
	"entitlement-workers/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var subjectRowColumns = []string{"id", "email", "name", "phone", "created_at"}

func TestSubjectRepository_FindByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(subjectRowColumns).
			AddRow(int64(42), "Buyer@Example.com", "Ana", "", time.Now()))

	s, err := NewSubjectRepository(db).FindByID(context.Background(), 42)

	require.NoError(t, err)
	assert.Equal(t, "Buyer@Example.com", s.Email)
}

func TestSubjectRepository_FindByID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM users`).
		WillReturnRows(sqlmock.NewRows(subjectRowColumns))

	_, err = NewSubjectRepository(db).FindByID(context.Background(), 42)

	assert.ErrorIs(t, err, apperrors.ErrSubjectNotFound)
}

func TestSubjectRepository_FindOrCreate_Existing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM users WHERE LOWER\(email\) = LOWER\(\$1\)`).
		WithArgs("buyer@example.com").
		WillReturnRows(sqlmock.NewRows(subjectRowColumns).
			AddRow(int64(8), "buyer@example.com", "", "", time.Now()))

	s, created, err := NewSubjectRepository(db).FindOrCreate(context.Background(), " Buyer@Example.com ", models.Profile{})

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(8), s.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubjectRepository_FindOrCreate_Creates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM users`).
		WithArgs("new@example.com").
		WillReturnRows(sqlmock.NewRows(subjectRowColumns))
	mock.ExpectQuery(`INSERT INTO users .+ ON CONFLICT`).
		WithArgs("new@example.com", "New Buyer", "+15550100").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(101), time.Now()))

	s, created, err := NewSubjectRepository(db).FindOrCreate(context.Background(), "new@example.com",
		models.Profile{Name: "New Buyer", Phone: "+15550100"})

	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(101), s.ID)
	assert.Equal(t, "New Buyer", s.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubjectRepository_FindOrCreate_LostRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM users`).
		WillReturnRows(sqlmock.NewRows(subjectRowColumns))
	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectQuery(`SELECT .+ FROM users`).
		WillReturnRows(sqlmock.NewRows(subjectRowColumns).
			AddRow(int64(55), "new@example.com", "", "", time.Now()))

	s, created, err := NewSubjectRepository(db).FindOrCreate(context.Background(), "new@example.com", models.Profile{})

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(55), s.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubjectRepository_FindOrCreate_EmptyEmail(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, _, err = NewSubjectRepository(db).FindOrCreate(context.Background(), "  ", models.Profile{})

	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
