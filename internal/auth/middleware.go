package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	apperrors "github.com/swotplanner/backend/internal/errors"
)

type contextKey string

const principalContextKey contextKey = "principal"

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	SubjectID uuid.UUID
	Email     string
	Role      Role
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

func PrincipalFromContext(ctx context.Context) *Principal {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	if !ok {
		return nil
	}
	return p
}

// Middleware rejects requests without a bearer token with 401 and requests
// whose token does not verify as an access token with 403.
func Middleware(codec *Codec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := apperrors.GetRequestID(r.Context())

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apperrors.WriteError(w, requestID, apperrors.Unauthorized("Authentication required"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				apperrors.WriteError(w, requestID, apperrors.Unauthorized("Invalid authorization header format"))
				return
			}

			claims := codec.Verify(strings.TrimSpace(parts[1]))
			if claims == nil || claims.Type != TokenTypeAccess {
				apperrors.WriteError(w, requestID, apperrors.Forbidden("Invalid or expired token"))
				return
			}

			subjectID, err := uuid.Parse(claims.Subject)
			if err != nil {
				apperrors.WriteError(w, requestID, apperrors.Forbidden("Invalid or expired token"))
				return
			}

			ctx := WithPrincipal(r.Context(), &Principal{
				SubjectID: subjectID,
				Email:     claims.Email,
				Role:      claims.Role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole composes after Middleware and admits only the given role.
func RequireRole(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil || p.Role != role {
				apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), apperrors.Forbidden("Insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
