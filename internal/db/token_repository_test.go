package db

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	insertTokenQuery = regexp.QuoteMeta("INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at)")
	deleteTokenQuery = regexp.QuoteMeta("DELETE FROM refresh_tokens WHERE id = ANY($1::uuid[])")
)

func newToken(userID uuid.UUID) *RefreshToken {
	now := time.Now()
	return &RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: "hash",
		ExpiresAt: now.Add(7 * 24 * time.Hour),
		CreatedAt: now,
	}
}

func TestTokenRepository_Create(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewTokenRepository(database)
	token := newToken(uuid.New())

	mock.ExpectExec(insertTokenQuery).
		WithArgs(token.ID, token.UserID, token.TokenHash, token.ExpiresAt, token.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), token))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_FindByHash(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewTokenRepository(database)
	userID := uuid.New()
	first, second := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND token_hash = $2")).
		WithArgs(userID, "hash").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token_hash", "expires_at", "created_at"}).
			AddRow(first.String(), userID.String(), "hash", now.Add(time.Hour), now).
			AddRow(second.String(), userID.String(), "hash", now.Add(time.Hour), now))

	tokens, err := repo.FindByHash(context.Background(), userID, "hash")
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, first, tokens[0].ID)
	assert.Equal(t, second, tokens[1].ID)
}

func TestTokenRepository_Delete_Empty(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewTokenRepository(database)

	require.NoError(t, repo.Delete(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_Delete(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewTokenRepository(database)

	mock.ExpectExec(deleteTokenQuery).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.Delete(context.Background(), []uuid.UUID{uuid.New(), uuid.New()}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_Rotate_Commits(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewTokenRepository(database)
	next := newToken(uuid.New())

	mock.ExpectBegin()
	mock.ExpectExec(deleteTokenQuery).WithArgs(sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertTokenQuery).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Rotate(context.Background(), []uuid.UUID{uuid.New()}, next))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_Rotate_AlreadyRotatedRollsBack(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewTokenRepository(database)

	mock.ExpectBegin()
	mock.ExpectExec(deleteTokenQuery).WithArgs(sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Rotate(context.Background(), []uuid.UUID{uuid.New()}, newToken(uuid.New()))
	assert.ErrorIs(t, err, ErrTokenNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_Rotate_InsertFailureRollsBack(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewTokenRepository(database)

	mock.ExpectBegin()
	mock.ExpectExec(deleteTokenQuery).WithArgs(sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertTokenQuery).WillReturnError(errors.New("insert failed"))
	mock.ExpectRollback()

	err := repo.Rotate(context.Background(), []uuid.UUID{uuid.New()}, newToken(uuid.New()))
	assert.EqualError(t, err, "insert failed")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_DeleteExpired(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewTokenRepository(database)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refresh_tokens WHERE expires_at < $1")).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestWithTx_PanicRollsBack(t *testing.T) {
	database, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = database.WithTx(context.Background(), func(tx DBTX) error {
			panic("boom")
		})
	})
	require.NoError(t, mock.ExpectationsWereMet())
}
