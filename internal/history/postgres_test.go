package history

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trial-match-server/internal/domain"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
		sqlmock.MonitorPingsOption(true),
	)
	require.NoError(t, err)
	return db, mock
}

func TestNewPostgresStore_NilDB(t *testing.T) {
	store, err := NewPostgresStore(nil)
	assert.Error(t, err)
	assert.Nil(t, store)
}

func TestPostgresStore_Save(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	mock.ExpectPing()
	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	record := testRecord("user-1", "NCT00000001")

	mock.ExpectQuery(`INSERT INTO match_history`).
		WithArgs(
			record.UserID, record.TrialID, record.MatchScore,
			string(record.EligibilityStatus), record.RecommendedAction,
			record.Reasoning, record.Notes,
			sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), time.Now()))

	err = store.Save(context.Background(), record)

	require.NoError(t, err)
	assert.Equal(t, int64(7), record.ID)
	assert.False(t, record.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	mock.ExpectPing()
	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "trial_id", "match_score", "eligibility_status",
		"recommended_action", "reasoning", "notes", "created_at", "updated_at",
	}).AddRow(
		int64(7), "user-1", "NCT00000001", 95, "eligible",
		"Contact the study coordinator to discuss enrollment", "", "", now, now,
	)

	mock.ExpectQuery(`SELECT id, user_id, trial_id, match_score`).
		WithArgs("user-1", "NCT00000001").
		WillReturnRows(rows)

	record, err := store.Get(context.Background(), "user-1", "NCT00000001")

	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 95, record.MatchScore)
	assert.Equal(t, domain.StatusEligible, record.EligibilityStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	mock.ExpectPing()
	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT id, user_id, trial_id, match_score`).
		WithArgs("user-missing", "NCT99999999").
		WillReturnError(sql.ErrNoRows)

	record, err := store.Get(context.Background(), "user-missing", "NCT99999999")

	require.NoError(t, err)
	assert.Nil(t, record, "Missing records return nil without error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Count(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	mock.ExpectPing()
	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM match_history`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

	count, err := store.Count(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Delete(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	mock.ExpectPing()
	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	mock.ExpectExec(`DELETE FROM match_history WHERE user_id = \$1 AND trial_id = \$2`).
		WithArgs("user-1", "NCT00000001").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), "user-1", "NCT00000001"))

	mock.ExpectExec(`DELETE FROM match_history WHERE user_id = \$1 AND trial_id = \$2`).
		WithArgs("user-1", "NCT00000001").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, store.Delete(context.Background(), "user-1", "NCT00000001"), domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
