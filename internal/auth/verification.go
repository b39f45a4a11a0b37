package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/swotplanner/backend/internal/db"
	apperrors "github.com/swotplanner/backend/internal/errors"
)

const (
	ResetRequestedMessage    = "If an account exists for this email, a password reset link has been sent"
	VerificationSentMessage  = "Verification email sent"
	AlreadyVerifiedMessage   = "Email is already verified"
	actionTokenBytes         = 32
	invalidResetMessage      = "Invalid or expired reset token"
	invalidVerificationToken = "Invalid or expired verification token"
)

func generateActionToken() (string, error) {
	b := make([]byte, actionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// InitiateReset answers the same way whether or not the email belongs to an
// account. Only known accounts get a token.
func (s *Service) InitiateReset(ctx context.Context, email string) (string, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			s.log.Debug(ctx, "password reset requested for unknown email")
			return ResetRequestedMessage, nil
		}
		return "", apperrors.DatabaseError("Failed to look up user").WithCause(err)
	}

	raw, token, err := s.newActionToken(s.resetTTL)
	if err != nil {
		return "", err
	}
	if err := s.users.SetActionToken(ctx, user.ID, db.PurposeReset, token); err != nil {
		return "", apperrors.DatabaseError("Failed to store reset token").WithCause(err)
	}

	if err := s.notifier.SendPasswordReset(ctx, user.Email, raw, token.ExpiresAt); err != nil {
		s.log.Error(ctx, "failed to deliver password reset", err, map[string]interface{}{"user_id": user.ID.String()})
	}
	s.record("reset_request", nil)
	return ResetRequestedMessage, nil
}

func (s *Service) InitiateVerification(ctx context.Context, subjectID uuid.UUID) (string, error) {
	user, err := s.getUser(ctx, subjectID)
	if err != nil {
		return "", err
	}
	if user.EmailVerified {
		return AlreadyVerifiedMessage, nil
	}

	raw, token, err := s.newActionToken(s.verificationTTL)
	if err != nil {
		return "", err
	}
	if err := s.users.SetActionToken(ctx, user.ID, db.PurposeVerification, token); err != nil {
		return "", apperrors.DatabaseError("Failed to store verification token").WithCause(err)
	}

	if err := s.notifier.SendEmailVerification(ctx, user.Email, raw, token.ExpiresAt); err != nil {
		return "", apperrors.InternalError("Failed to send verification email").WithCause(err)
	}
	s.record("verification_request", nil)
	return VerificationSentMessage, nil
}

// ConfirmReset sets a new password when rawToken matches the pending reset
// token. The token is consumed and every refresh token of the account revoked.
func (s *Service) ConfirmReset(ctx context.Context, email, rawToken, newPassword string) (err error) {
	defer func() { s.record("reset_confirm", err) }()

	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return apperrors.InvalidToken(invalidResetMessage)
		}
		return apperrors.DatabaseError("Failed to look up user").WithCause(err)
	}

	tokenHash := hashToken(rawToken)
	if !s.checkActionToken(ctx, user.ID, db.PurposeReset, user.ResetToken, tokenHash) {
		return apperrors.InvalidToken(invalidResetMessage)
	}

	passwordHash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.ConsumeResetToken(ctx, user.ID, tokenHash, passwordHash); err != nil {
		if errors.Is(err, db.ErrTokenNotFound) {
			return apperrors.InvalidToken(invalidResetMessage)
		}
		return apperrors.DatabaseError("Failed to reset password").WithCause(err)
	}

	return nil
}

func (s *Service) ConfirmVerification(ctx context.Context, email, rawToken string) (err error) {
	defer func() { s.record("verification_confirm", err) }()

	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return apperrors.InvalidToken(invalidVerificationToken)
		}
		return apperrors.DatabaseError("Failed to look up user").WithCause(err)
	}

	tokenHash := hashToken(rawToken)
	if !s.checkActionToken(ctx, user.ID, db.PurposeVerification, user.VerificationToken, tokenHash) {
		return apperrors.InvalidToken(invalidVerificationToken)
	}

	if err := s.users.ConsumeVerificationToken(ctx, user.ID, tokenHash); err != nil {
		if errors.Is(err, db.ErrTokenNotFound) {
			return apperrors.InvalidToken(invalidVerificationToken)
		}
		return apperrors.DatabaseError("Failed to verify email").WithCause(err)
	}
	return nil
}

func (s *Service) newActionToken(ttl time.Duration) (string, *db.ActionToken, error) {
	raw, err := generateActionToken()
	if err != nil {
		return "", nil, apperrors.InternalError("Failed to generate token").WithCause(err)
	}
	return raw, &db.ActionToken{
		Hash:      hashToken(raw),
		ExpiresAt: s.now().Add(ttl),
	}, nil
}

// checkActionToken reports whether pending matches tokenHash and has not
// expired. A token is expired once expiresAt < now; expired tokens are cleared.
func (s *Service) checkActionToken(ctx context.Context, userID uuid.UUID, purpose db.ActionPurpose, pending *db.ActionToken, tokenHash string) bool {
	if pending == nil {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(pending.Hash), []byte(tokenHash)) != 1 {
		return false
	}
	if pending.ExpiresAt.Before(s.now()) {
		if err := s.users.SetActionToken(ctx, userID, purpose, nil); err != nil {
			s.log.Warn(ctx, "failed to clear expired action token", map[string]interface{}{
				"user_id": userID.String(),
				"purpose": string(purpose),
			})
		}
		return false
	}
	return true
}
