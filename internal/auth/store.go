package auth

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/swotplanner/backend/internal/db"
)

// UserStore is the slice of the credential store the auth service needs.
// *db.UserRepository satisfies it.
type UserStore interface {
	Create(ctx context.Context, user *db.User) error
	GetByEmail(ctx context.Context, email string) (*db.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, update db.ProfileUpdate) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetActionToken(ctx context.Context, id uuid.UUID, purpose db.ActionPurpose, token *db.ActionToken) error
	// ConsumeResetToken also revokes every refresh token of the user, in the
	// same write as the password change.
	ConsumeResetToken(ctx context.Context, id uuid.UUID, tokenHash, passwordHash string) error
	ConsumeVerificationToken(ctx context.Context, id uuid.UUID, tokenHash string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// TokenStore persists refresh-token hashes. *db.TokenRepository satisfies it.
type TokenStore interface {
	Create(ctx context.Context, token *db.RefreshToken) error
	FindByHash(ctx context.Context, userID uuid.UUID, tokenHash string) ([]*db.RefreshToken, error)
	Delete(ctx context.Context, ids []uuid.UUID) error
	DeleteAllForUser(ctx context.Context, userID uuid.UUID) error
	Rotate(ctx context.Context, oldIDs []uuid.UUID, next *db.RefreshToken) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Notifier delivers raw ephemeral tokens out of band.
type Notifier interface {
	SendPasswordReset(ctx context.Context, email, rawToken string, expiresAt time.Time) error
	SendEmailVerification(ctx context.Context, email, rawToken string, expiresAt time.Time) error
}

// AvatarStore keeps profile photos. Put returns the public URL of the object.
type AvatarStore interface {
	Put(ctx context.Context, userID uuid.UUID, contentType string, body io.Reader, size int64) (string, error)
	DeleteAll(ctx context.Context, userID uuid.UUID) error
}
