package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrUserNotFound = errors.New("user not found")
var ErrEmailExists = errors.New("email already exists")

// ActionPurpose selects one of the single-use token slots on a user row.
type ActionPurpose string

const (
	PurposeReset        ActionPurpose = "reset"
	PurposeVerification ActionPurpose = "verification"
)

func (p ActionPurpose) columns() (hashCol, expiresCol string, err error) {
	switch p {
	case PurposeReset:
		return "reset_token_hash", "reset_token_expires_at", nil
	case PurposeVerification:
		return "verification_token_hash", "verification_token_expires_at", nil
	default:
		return "", "", fmt.Errorf("unknown action token purpose %q", p)
	}
}

// ActionToken is a pending password-reset or email-verification token.
// Only the hash of the raw value is stored.
type ActionToken struct {
	Hash      string
	ExpiresAt time.Time
}

type User struct {
	ID                uuid.UUID
	Email             string
	PasswordHash      string
	DisplayName       string
	PhotoURL          string
	Role              string
	Status            string
	EmailVerified     bool
	ResetToken        *ActionToken
	VerificationToken *ActionToken
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ProfileUpdate carries the optional profile fields; nil fields are left untouched.
type ProfileUpdate struct {
	DisplayName *string
	PhotoURL    *string
}

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, password_hash, display_name, photo_url, role, status, email_verified,
		reset_token_hash, reset_token_expires_at, verification_token_hash, verification_token_expires_at,
		created_at, updated_at`

func (r *UserRepository) Create(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, email, password_hash, display_name, photo_url, role, status, email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.DisplayName, user.PhotoURL,
		user.Role, user.Status, user.EmailVerified, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return err
	}

	return nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	return exists, err
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id uuid.UUID, update ProfileUpdate) error {
	sets := []string{}
	args := []any{id}
	if update.DisplayName != nil {
		args = append(args, *update.DisplayName)
		sets = append(sets, fmt.Sprintf("display_name = $%d", len(args)))
	}
	if update.PhotoURL != nil {
		args = append(args, *update.PhotoURL)
		sets = append(sets, fmt.Sprintf("photo_url = $%d", len(args)))
	}
	sets = append(sets, "updated_at = NOW()")

	query := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
	return r.execOne(ctx, ErrUserNotFound, query, args...)
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, ErrUserNotFound, query, id, passwordHash)
}

// SetActionToken stores a pending token for purpose, replacing any previous one.
// A nil token clears the slot.
func (r *UserRepository) SetActionToken(ctx context.Context, id uuid.UUID, purpose ActionPurpose, token *ActionToken) error {
	hashCol, expiresCol, err := purpose.columns()
	if err != nil {
		return err
	}

	var hash sql.NullString
	var expires sql.NullTime
	if token != nil {
		hash = sql.NullString{String: token.Hash, Valid: true}
		expires = sql.NullTime{Time: token.ExpiresAt, Valid: true}
	}

	query := fmt.Sprintf(`UPDATE users SET %s = $2, %s = $3, updated_at = NOW() WHERE id = $1`, hashCol, expiresCol)
	return r.execOne(ctx, ErrUserNotFound, query, id, hash, expires)
}

// ConsumeResetToken sets a new password, clears the reset slot and deletes
// every refresh token of the user in one transaction, but only while the slot
// still holds tokenHash. ErrTokenNotFound means another request consumed or
// replaced it first.
func (r *UserRepository) ConsumeResetToken(ctx context.Context, id uuid.UUID, tokenHash, passwordHash string) error {
	return r.db.WithTx(ctx, func(tx DBTX) error {
		query := `
			UPDATE users
			SET password_hash = $3, reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = NOW()
			WHERE id = $1 AND reset_token_hash = $2
		`
		if err := execOne(ctx, tx, ErrTokenNotFound, query, id, tokenHash, passwordHash); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, id)
		return err
	})
}

// ConsumeVerificationToken marks the email verified and clears the slot under
// the same compare-and-clear rule as ConsumeResetToken.
func (r *UserRepository) ConsumeVerificationToken(ctx context.Context, id uuid.UUID, tokenHash string) error {
	query := `
		UPDATE users
		SET email_verified = TRUE, verification_token_hash = NULL, verification_token_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND verification_token_hash = $2
	`
	return r.execOne(ctx, ErrTokenNotFound, query, id, tokenHash)
}

// Delete removes the user; refresh tokens go with it via ON DELETE CASCADE.
func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.execOne(ctx, ErrUserNotFound, `DELETE FROM users WHERE id = $1`, id)
}

func (r *UserRepository) execOne(ctx context.Context, notFound error, query string, args ...any) error {
	return execOne(ctx, r.db, notFound, query, args...)
}

func execOne(ctx context.Context, q DBTX, notFound error, query string, args ...any) error {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return notFound
	}

	return nil
}

func scanUser(row *sql.Row) (*User, error) {
	user := &User{}
	var resetHash, verifyHash sql.NullString
	var resetExpires, verifyExpires sql.NullTime

	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.DisplayName, &user.PhotoURL,
		&user.Role, &user.Status, &user.EmailVerified,
		&resetHash, &resetExpires, &verifyHash, &verifyExpires,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if resetHash.Valid && resetExpires.Valid {
		user.ResetToken = &ActionToken{Hash: resetHash.String, ExpiresAt: resetExpires.Time}
	}
	if verifyHash.Valid && verifyExpires.Valid {
		user.VerificationToken = &ActionToken{Hash: verifyHash.String, ExpiresAt: verifyExpires.Time}
	}

	return user, nil
}
