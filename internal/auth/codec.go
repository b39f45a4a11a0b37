package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessTokenTTL  = 24 * time.Hour
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	issuer = "swotplanner"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the payload of both token types. Refresh tokens leave Email and
// Role empty.
type Claims struct {
	Email string    `json:"email,omitempty"`
	Role  Role      `json:"role,omitempty"`
	Type  TokenType `json:"type"`
	jwt.RegisteredClaims
}

// Codec signs and verifies HS256 tokens with a secret fixed at construction.
type Codec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewCodec(secret []byte, accessTTL, refreshTTL time.Duration) *Codec {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Codec{
		secret:     key,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func (c *Codec) AccessTTL() time.Duration  { return c.accessTTL }
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

func (c *Codec) IssueAccessToken(subjectID, email string, role Role) (string, error) {
	return c.sign(&Claims{
		Email: email,
		Role:  role,
		Type:  TokenTypeAccess,
	}, subjectID, c.accessTTL)
}

func (c *Codec) IssueRefreshToken(subjectID string) (string, error) {
	return c.sign(&Claims{Type: TokenTypeRefresh}, subjectID, c.refreshTTL)
}

func (c *Codec) sign(claims *Claims, subjectID string, ttl time.Duration) (string, error) {
	if subjectID == "" {
		return "", errors.New("auth: empty token subject")
	}
	now := c.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subjectID,
		Issuer:    issuer,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Verify returns the token's claims, or nil when the signature, algorithm,
// expiry or shape is wrong. Callers treat nil as unauthenticated.
func (c *Codec) Verify(tokenString string) *Claims {
	if tokenString == "" {
		return nil
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		// exp has one-second precision and the library rejects now == exp;
		// the leeway keeps a token valid through its expiry second.
		jwt.WithLeeway(time.Second),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !token.Valid {
		return nil
	}

	if claims.Subject == "" {
		return nil
	}
	switch claims.Type {
	case TokenTypeAccess, TokenTypeRefresh:
	default:
		return nil
	}

	return claims
}
