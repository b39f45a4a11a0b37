// Package authtest provides in-memory credential stores for tests.
package authtest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/swotplanner/backend/internal/db"
)

// UserStore mirrors db.UserRepository semantics over a map.
type UserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*db.User

	// Tokens, when set, loses every refresh token of a user whose reset
	// token is consumed.
	Tokens *TokenStore
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[uuid.UUID]*db.User)}
}

func (s *UserStore) Create(_ context.Context, user *db.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == user.Email {
			return db.ErrEmailExists
		}
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *UserStore) GetByEmail(_ context.Context, email string) (*db.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return clone(u), nil
		}
	}
	return nil, db.ErrUserNotFound
}

func (s *UserStore) GetByID(_ context.Context, id uuid.UUID) (*db.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	return clone(u), nil
}

func (s *UserStore) EmailExists(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *UserStore) UpdateProfile(_ context.Context, id uuid.UUID, update db.ProfileUpdate) error {
	return s.mutate(id, db.ErrUserNotFound, func(u *db.User) bool {
		if update.DisplayName != nil {
			u.DisplayName = *update.DisplayName
		}
		if update.PhotoURL != nil {
			u.PhotoURL = *update.PhotoURL
		}
		return true
	})
}

func (s *UserStore) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	return s.mutate(id, db.ErrUserNotFound, func(u *db.User) bool {
		u.PasswordHash = passwordHash
		return true
	})
}

func (s *UserStore) SetActionToken(_ context.Context, id uuid.UUID, purpose db.ActionPurpose, token *db.ActionToken) error {
	var slot func(u *db.User) **db.ActionToken
	switch purpose {
	case db.PurposeReset:
		slot = func(u *db.User) **db.ActionToken { return &u.ResetToken }
	case db.PurposeVerification:
		slot = func(u *db.User) **db.ActionToken { return &u.VerificationToken }
	default:
		return fmt.Errorf("unknown action token purpose %q", purpose)
	}
	return s.mutate(id, db.ErrUserNotFound, func(u *db.User) bool {
		if token == nil {
			*slot(u) = nil
		} else {
			cp := *token
			*slot(u) = &cp
		}
		return true
	})
}

func (s *UserStore) ConsumeResetToken(ctx context.Context, id uuid.UUID, tokenHash, passwordHash string) error {
	err := s.mutate(id, db.ErrTokenNotFound, func(u *db.User) bool {
		if u.ResetToken == nil || u.ResetToken.Hash != tokenHash {
			return false
		}
		u.PasswordHash = passwordHash
		u.ResetToken = nil
		return true
	})
	if err != nil || s.Tokens == nil {
		return err
	}
	return s.Tokens.DeleteAllForUser(ctx, id)
}

func (s *UserStore) ConsumeVerificationToken(_ context.Context, id uuid.UUID, tokenHash string) error {
	return s.mutate(id, db.ErrTokenNotFound, func(u *db.User) bool {
		if u.VerificationToken == nil || u.VerificationToken.Hash != tokenHash {
			return false
		}
		u.EmailVerified = true
		u.VerificationToken = nil
		return true
	})
}

func (s *UserStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return db.ErrUserNotFound
	}
	delete(s.users, id)
	return nil
}

// Put stores a user directly, bypassing uniqueness checks.
func (s *UserStore) Put(user *db.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = clone(user)
}

// mutate applies fn to the stored user; fn returning false reports notMatched.
func (s *UserStore) mutate(id uuid.UUID, notMatched error, fn func(u *db.User) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return notMatched
	}
	if !fn(u) {
		return notMatched
	}
	u.UpdatedAt = time.Now()
	return nil
}

func clone(u *db.User) *db.User {
	cp := *u
	if u.ResetToken != nil {
		t := *u.ResetToken
		cp.ResetToken = &t
	}
	if u.VerificationToken != nil {
		t := *u.VerificationToken
		cp.VerificationToken = &t
	}
	return &cp
}

// TokenStore mirrors db.TokenRepository semantics, including the
// all-or-nothing Rotate.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[uuid.UUID]*db.RefreshToken

	// Users, when set, makes deleting a user cascade to its tokens.
	Users *UserStore
}

// Link connects users and tokens the way the foreign key and the reset
// transaction connect the two tables.
func Link(users *UserStore, tokens *TokenStore) {
	users.Tokens = tokens
	tokens.Users = users
}

func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[uuid.UUID]*db.RefreshToken)}
}

func (s *TokenStore) Create(_ context.Context, token *db.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *token
	s.tokens[token.ID] = &cp
	return nil
}

func (s *TokenStore) FindByHash(_ context.Context, userID uuid.UUID, tokenHash string) ([]*db.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cascade()
	var out []*db.RefreshToken
	for _, t := range s.tokens {
		if t.UserID == userID && t.TokenHash == tokenHash {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *TokenStore) Delete(_ context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.tokens, id)
	}
	return nil
}

func (s *TokenStore) DeleteAllForUser(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tokens {
		if t.UserID == userID {
			delete(s.tokens, id)
		}
	}
	return nil
}

func (s *TokenStore) Rotate(_ context.Context, oldIDs []uuid.UUID, next *db.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range oldIDs {
		if _, ok := s.tokens[id]; !ok {
			return db.ErrTokenNotFound
		}
	}
	for _, id := range oldIDs {
		delete(s.tokens, id)
	}
	cp := *next
	s.tokens[next.ID] = &cp
	return nil
}

func (s *TokenStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.tokens {
		if t.ExpiresAt.Before(now) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

// Count returns the number of records held for userID.
func (s *TokenStore) Count(userID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cascade()
	n := 0
	for _, t := range s.tokens {
		if t.UserID == userID {
			n++
		}
	}
	return n
}

func (s *TokenStore) cascade() {
	if s.Users == nil {
		return
	}
	s.Users.mu.Lock()
	defer s.Users.mu.Unlock()
	for id, t := range s.tokens {
		if _, ok := s.Users.users[t.UserID]; !ok {
			delete(s.tokens, id)
		}
	}
}

// AvatarStore keeps uploaded objects in memory keyed by user.
type AvatarStore struct {
	mu      sync.Mutex
	objects map[uuid.UUID][][]byte

	// Err, when set, is returned by every call.
	Err error
}

func NewAvatarStore() *AvatarStore {
	return &AvatarStore{objects: make(map[uuid.UUID][][]byte)}
}

func (s *AvatarStore) Put(_ context.Context, userID uuid.UUID, contentType string, body io.Reader, size int64) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[userID] = append(s.objects[userID], buf.Bytes())
	return fmt.Sprintf("http://avatars.test/avatars/%s/%d", userID, len(s.objects[userID])), nil
}

func (s *AvatarStore) DeleteAll(_ context.Context, userID uuid.UUID) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, userID)
	return nil
}

func (s *AvatarStore) Count(userID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects[userID])
}

// Notifier captures the last raw token sent per email.
type Notifier struct {
	mu            sync.Mutex
	Resets        map[string]string
	Verifications map[string]string
}

func NewNotifier() *Notifier {
	return &Notifier{Resets: make(map[string]string), Verifications: make(map[string]string)}
}

func (n *Notifier) SendPasswordReset(_ context.Context, email, rawToken string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Resets[email] = rawToken
	return nil
}

func (n *Notifier) SendEmailVerification(_ context.Context, email, rawToken string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Verifications[email] = rawToken
	return nil
}

func (n *Notifier) ResetToken(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Resets[email]
}

func (n *Notifier) VerificationToken(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Verifications[email]
}
