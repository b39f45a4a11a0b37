package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var ErrTokenNotFound = errors.New("token not found")

// RefreshToken is one outstanding refresh grant. TokenHash is the SHA-256 of
// the issued token; the raw value is never stored.
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type TokenRepository struct {
	db *DB
}

func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) Create(ctx context.Context, token *RefreshToken) error {
	return insertToken(ctx, r.db, token)
}

// FindByHash returns every record of userID whose hash matches, expired ones included.
func (r *TokenRepository) FindByHash(ctx context.Context, userID uuid.UUID, tokenHash string) ([]*RefreshToken, error) {
	query := `
		SELECT id, user_id, token_hash, expires_at, created_at
		FROM refresh_tokens
		WHERE user_id = $1 AND token_hash = $2
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, userID, tokenHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*RefreshToken
	for rows.Next() {
		token := &RefreshToken{}
		if err := rows.Scan(&token.ID, &token.UserID, &token.TokenHash, &token.ExpiresAt, &token.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}

	return tokens, rows.Err()
}

func (r *TokenRepository) Delete(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := deleteTokens(ctx, r.db, ids)
	return err
}

func (r *TokenRepository) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	return err
}

// Rotate deletes oldIDs and inserts next in one transaction. If any old record
// is already gone, nothing is written and ErrTokenNotFound is returned, so a
// refresh token can be rotated at most once.
func (r *TokenRepository) Rotate(ctx context.Context, oldIDs []uuid.UUID, next *RefreshToken) error {
	return r.db.WithTx(ctx, func(tx DBTX) error {
		deleted, err := deleteTokens(ctx, tx, oldIDs)
		if err != nil {
			return err
		}
		if deleted != int64(len(oldIDs)) {
			return ErrTokenNotFound
		}
		return insertToken(ctx, tx, next)
	})
}

// DeleteExpired removes records whose expiry is before now.
func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func insertToken(ctx context.Context, q DBTX, token *RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := q.ExecContext(ctx, query,
		token.ID, token.UserID, token.TokenHash, token.ExpiresAt, token.CreatedAt,
	)
	return err
}

func deleteTokens(ctx context.Context, q DBTX, ids []uuid.UUID) (int64, error) {
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}

	result, err := q.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = ANY($1::uuid[])`, pq.Array(strIDs))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
