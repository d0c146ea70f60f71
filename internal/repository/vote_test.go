package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"pollapp/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoteRepository_FindByIdentity(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewVoteRepository(db)
	ctx := context.Background()

	t.Run("Found", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "poll_id", "option_id", "user_id", "voter_key"}).
			AddRow(5, 3, 9, 7, "user:7")
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "votes" WHERE poll_id = $1 AND voter_key = $2 ORDER BY "votes"."id" LIMIT $3`)).
			WithArgs(3, "user:7", 1).
			WillReturnRows(rows)

		vote, err := repo.FindByIdentity(ctx, 3, models.UserIdentity(7))
		require.NoError(t, err)
		require.NotNil(t, vote)
		assert.Equal(t, uint(9), vote.OptionID)
		assert.Equal(t, models.UserIdentity(7), vote.Identity())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Missing", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "votes" WHERE poll_id = $1 AND voter_key = $2`)).
			WithArgs(3, "ip:10.0.0.1", 1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		vote, err := repo.FindByIdentity(ctx, 3, models.AnonymousIdentity("10.0.0.1"))
		assert.NoError(t, err)
		assert.Nil(t, vote)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Unresolved identity skips the store", func(t *testing.T) {
		vote, err := repo.FindByIdentity(ctx, 3, models.AnonymousIdentity(models.UnknownIP))
		assert.NoError(t, err)
		assert.Nil(t, vote)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Store failure", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "votes"`)).
			WillReturnError(errors.New("connection reset"))

		_, err := repo.FindByIdentity(ctx, 3, models.UserIdentity(7))
		assert.Equal(t, models.CodeInternal, models.ErrorCode(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestVoteRepository_Create(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewVoteRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		vote, err := models.NewVote(3, 9, models.UserIdentity(7))
		require.NoError(t, err)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "votes"`)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
		mock.ExpectCommit()

		require.NoError(t, repo.Create(ctx, vote))
		assert.Equal(t, uint(11), vote.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Unique violation", func(t *testing.T) {
		vote, err := models.NewVote(3, 9, models.UserIdentity(7))
		require.NoError(t, err)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "votes"`)).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_votes_poll_voter"})
		mock.ExpectRollback()

		err = repo.Create(ctx, vote)
		assert.ErrorIs(t, err, ErrDuplicateVote)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Other failure", func(t *testing.T) {
		vote, err := models.NewVote(3, 9, models.UserIdentity(7))
		require.NoError(t, err)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "votes"`)).
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err = repo.Create(ctx, vote)
		assert.Equal(t, models.CodeInternal, models.ErrorCode(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestVoteRepository_UpdateOption(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewVoteRepository(db)

	vote := &models.Vote{ID: 5, PollID: 3, OptionID: 9}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "votes" SET "option_id"=$1,"updated_at"=$2 WHERE`)).
		WithArgs(10, sqlmock.AnyArg(), 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpdateOption(context.Background(), vote, 10))
	assert.Equal(t, uint(10), vote.OptionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, isUniqueViolation(nil))
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.True(t, isUniqueViolation(errors.New("UNIQUE constraint failed: votes.poll_id, votes.voter_key")))
	assert.True(t, isUniqueViolation(errors.New(`duplicate key value violates unique constraint "idx_votes_poll_voter"`)))
	assert.False(t, isUniqueViolation(errors.New("connection refused")))
}
