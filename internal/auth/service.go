package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/swotplanner/backend/internal/db"
	apperrors "github.com/swotplanner/backend/internal/errors"
	"github.com/swotplanner/backend/internal/logger"
	"github.com/swotplanner/backend/internal/metrics"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost      = 12
	DefaultResetTTL        = time.Hour
	DefaultVerificationTTL = 24 * time.Hour

	statusActive = "active"
)

// UserView is the client-facing shape of an account. It never carries
// password or action-token fields.
type UserView struct {
	UID           string    `json:"uid"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"displayName"`
	PhotoURL      string    `json:"photoURL,omitempty"`
	Role          Role      `json:"role"`
	Status        string    `json:"status"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func newUserView(u *db.User) *UserView {
	return &UserView{
		UID:           u.ID.String(),
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		PhotoURL:      u.PhotoURL,
		Role:          Role(u.Role),
		Status:        u.Status,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

type AuthResult struct {
	User *UserView
	TokenPair
}

type Service struct {
	users    UserStore
	tokens   TokenStore
	codec    *Codec
	notifier Notifier
	avatars  AvatarStore
	metrics  *metrics.Metrics
	log      *logger.Logger

	bcryptCost      int
	resetTTL        time.Duration
	verificationTTL time.Duration
	now             func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithAvatarStore(a AvatarStore) Option {
	return func(s *Service) { s.avatars = a }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.bcryptCost = cost
		}
	}
}

// WithActionTokenTTLs overrides the reset and verification lifetimes.
// Non-positive values keep the defaults.
func WithActionTokenTTLs(reset, verification time.Duration) Option {
	return func(s *Service) {
		if reset > 0 {
			s.resetTTL = reset
		}
		if verification > 0 {
			s.verificationTTL = verification
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(users UserStore, tokens TokenStore, codec *Codec, opts ...Option) *Service {
	s := &Service{
		users:           users,
		tokens:          tokens,
		codec:           codec,
		bcryptCost:      DefaultBcryptCost,
		resetTTL:        DefaultResetTTL,
		verificationTTL: DefaultVerificationTTL,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Default().WithComponent("auth")
	}
	if s.notifier == nil {
		s.notifier = NewLogNotifier(s.log, false)
	}
	return s
}

func (s *Service) Codec() *Codec {
	return s.codec
}

func (s *Service) Register(ctx context.Context, email, password, displayName string) (result *AuthResult, err error) {
	defer func() { s.record("register", err) }()

	email = normalizeEmail(email)
	exists, err := s.users.EmailExists(ctx, email)
	if err != nil {
		return nil, apperrors.DatabaseError("Failed to check email").WithCause(err)
	}
	if exists {
		return nil, apperrors.EmailExists()
	}

	passwordHash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &db.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		DisplayName:  displayName,
		Role:         string(RoleUser),
		Status:       statusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, db.ErrEmailExists) {
			return nil, apperrors.EmailExists()
		}
		return nil, apperrors.DatabaseError("Failed to create user").WithCause(err)
	}

	s.log.Info(ctx, "user registered", map[string]interface{}{"user_id": user.ID.String()})
	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, email, password string) (result *AuthResult, err error) {
	defer func() { s.record("login", err) }()

	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			// Spend the same bcrypt work as a real comparison.
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, apperrors.InvalidCredentials()
		}
		return nil, apperrors.DatabaseError("Failed to look up user").WithCause(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperrors.InvalidCredentials()
	}

	s.upgradePasswordHash(ctx, user, password)
	return s.issueSession(ctx, user)
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// single-use: its record is deleted in the same transaction that stores the
// replacement.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (pair *TokenPair, err error) {
	defer func() { s.record("refresh", err) }()

	claims := s.codec.Verify(refreshToken)
	if claims == nil || claims.Type != TokenTypeRefresh {
		return nil, apperrors.Unauthorized("Invalid refresh token")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, apperrors.Unauthorized("Invalid refresh token")
	}

	records, err := s.tokens.FindByHash(ctx, userID, hashToken(refreshToken))
	if err != nil {
		return nil, apperrors.DatabaseError("Failed to look up refresh token").WithCause(err)
	}

	now := s.now()
	ids := make([]uuid.UUID, 0, len(records))
	live := false
	for _, rec := range records {
		ids = append(ids, rec.ID)
		if !rec.ExpiresAt.Before(now) {
			live = true
		}
	}
	if !live {
		if len(ids) > 0 {
			if err := s.tokens.Delete(ctx, ids); err != nil {
				s.log.Warn(ctx, "failed to delete expired refresh token", map[string]interface{}{"error": err.Error()})
			}
		}
		return nil, apperrors.TokenRevoked()
	}
	if len(ids) > 1 {
		s.log.Warn(ctx, "duplicate refresh token records", map[string]interface{}{
			"user_id": userID.String(),
			"count":   len(ids),
		})
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, apperrors.Unauthorized("Invalid refresh token")
		}
		return nil, apperrors.DatabaseError("Failed to look up user").WithCause(err)
	}

	next, record, err := s.newPair(user)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.Rotate(ctx, ids, record); err != nil {
		if errors.Is(err, db.ErrTokenNotFound) {
			return nil, apperrors.TokenRevoked()
		}
		return nil, apperrors.DatabaseError("Failed to rotate refresh token").WithCause(err)
	}

	return next, nil
}

// Logout removes the records matching refreshToken for subjectID. It is
// idempotent: an empty, unknown or already revoked token is not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string, subjectID uuid.UUID) (err error) {
	defer func() { s.record("logout", err) }()

	if refreshToken == "" {
		return nil
	}

	records, err := s.tokens.FindByHash(ctx, subjectID, hashToken(refreshToken))
	if err != nil {
		return apperrors.DatabaseError("Failed to look up refresh token").WithCause(err)
	}
	if len(records) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	if err := s.tokens.Delete(ctx, ids); err != nil {
		return apperrors.DatabaseError("Failed to revoke refresh token").WithCause(err)
	}
	return nil
}

func (s *Service) CheckEmail(ctx context.Context, email string) (bool, error) {
	exists, err := s.users.EmailExists(ctx, normalizeEmail(email))
	if err != nil {
		return false, apperrors.DatabaseError("Failed to check email").WithCause(err)
	}
	return exists, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*UserView, error) {
	user, err := s.getUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return newUserView(user), nil
}

func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, update db.ProfileUpdate) error {
	if update.DisplayName == nil && update.PhotoURL == nil {
		return nil
	}
	if err := s.users.UpdateProfile(ctx, id, update); err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return apperrors.NotFound("User")
		}
		return apperrors.DatabaseError("Failed to update profile").WithCause(err)
	}
	return nil
}

// SetPassword replaces the password of the signed-in account and signs out
// every other session.
func (s *Service) SetPassword(ctx context.Context, principal *Principal, email, password string) (err error) {
	defer func() { s.record("set_password", err) }()

	if principal == nil || normalizeEmail(email) != principal.Email {
		return apperrors.Forbidden("Email does not match the signed-in account")
	}

	passwordHash, err := s.hashPassword(password)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, principal.SubjectID, passwordHash); err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return apperrors.NotFound("User")
		}
		return apperrors.DatabaseError("Failed to update password").WithCause(err)
	}
	return s.revokeAll(ctx, principal.SubjectID)
}

// UploadPhoto stores a new profile photo and points the account at it.
func (s *Service) UploadPhoto(ctx context.Context, id uuid.UUID, contentType string, body io.Reader, size int64) (string, error) {
	if s.avatars == nil {
		return "", apperrors.StorageError("Photo storage is not configured")
	}
	if _, err := s.getUser(ctx, id); err != nil {
		return "", err
	}

	url, err := s.avatars.Put(ctx, id, contentType, body, size)
	if err != nil {
		return "", apperrors.StorageError("Failed to store photo").WithCause(err)
	}
	if err := s.UpdateProfile(ctx, id, db.ProfileUpdate{PhotoURL: &url}); err != nil {
		return "", err
	}
	return url, nil
}

// DeleteAccount removes stored photos first so a storage failure leaves the
// account intact for a retry. Refresh tokens cascade with the user row.
func (s *Service) DeleteAccount(ctx context.Context, id uuid.UUID) (err error) {
	defer func() { s.record("delete_account", err) }()

	if s.avatars != nil {
		if err := s.avatars.DeleteAll(ctx, id); err != nil {
			return apperrors.StorageError("Failed to delete stored files").WithCause(err)
		}
	}

	if err := s.users.Delete(ctx, id); err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return apperrors.NotFound("User")
		}
		return apperrors.DatabaseError("Failed to delete account").WithCause(err)
	}

	s.log.Info(ctx, "account deleted", map[string]interface{}{"user_id": id.String()})
	return nil
}

// PurgeExpiredTokens deletes refresh-token records past their expiry.
func (s *Service) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	n, err := s.tokens.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.RecordSwept(n)
	return n, nil
}

func (s *Service) getUser(ctx context.Context, id uuid.UUID) (*db.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, apperrors.NotFound("User")
		}
		return nil, apperrors.DatabaseError("Failed to look up user").WithCause(err)
	}
	return user, nil
}

func (s *Service) issueSession(ctx context.Context, user *db.User) (*AuthResult, error) {
	pair, record, err := s.newPair(user)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Create(ctx, record); err != nil {
		return nil, apperrors.DatabaseError("Failed to store refresh token").WithCause(err)
	}
	return &AuthResult{User: newUserView(user), TokenPair: *pair}, nil
}

// newPair signs an access/refresh pair and builds the record for the refresh
// token without storing it.
func (s *Service) newPair(user *db.User) (*TokenPair, *db.RefreshToken, error) {
	accessToken, err := s.codec.IssueAccessToken(user.ID.String(), user.Email, Role(user.Role))
	if err != nil {
		return nil, nil, apperrors.InternalError("Failed to issue token").WithCause(err)
	}
	refreshToken, err := s.codec.IssueRefreshToken(user.ID.String())
	if err != nil {
		return nil, nil, apperrors.InternalError("Failed to issue token").WithCause(err)
	}

	now := s.now()
	record := &db.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: hashToken(refreshToken),
		ExpiresAt: now.Add(s.codec.RefreshTTL()),
		CreatedAt: now,
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.codec.AccessTTL().Seconds()),
	}, record, nil
}

func (s *Service) revokeAll(ctx context.Context, userID uuid.UUID) error {
	if err := s.tokens.DeleteAllForUser(ctx, userID); err != nil {
		return apperrors.DatabaseError("Failed to revoke sessions").WithCause(err)
	}
	return nil
}

func (s *Service) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", apperrors.ValidationError("Validation failed", apperrors.FieldError{
			Field:   "password",
			Message: "Password must be at most 72 bytes long",
		})
	}
	if err != nil {
		return "", apperrors.InternalError("Failed to hash password").WithCause(err)
	}
	return string(hash), nil
}

// upgradePasswordHash rehashes with the configured cost after a successful
// login when the stored hash is weaker. Failures only log.
func (s *Service) upgradePasswordHash(ctx context.Context, user *db.User, password string) {
	cost, err := bcrypt.Cost([]byte(user.PasswordHash))
	if err != nil || cost >= s.bcryptCost {
		return
	}
	hash, err := s.hashPassword(password)
	if err != nil {
		return
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		s.log.Warn(ctx, "failed to upgrade password hash", map[string]interface{}{"user_id": user.ID.String()})
		return
	}
	user.PasswordHash = hash
}

func (s *Service) record(operation string, err error) {
	switch {
	case err == nil:
		s.metrics.RecordAuthEvent(operation, metrics.OutcomeSuccess)
	case apperrors.Is(err, apperrors.KindInternal):
		s.metrics.RecordAuthEvent(operation, metrics.OutcomeError)
	default:
		s.metrics.RecordAuthEvent(operation, metrics.OutcomeFailure)
	}
}

// hashToken is the lookup key stored for refresh and action tokens.
func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("swotplanner-dummy-password"), DefaultBcryptCost)
