package auth

import (
	"net/url"
	"regexp"
	"strings"

	apperrors "github.com/swotplanner/backend/internal/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	MinPasswordLength    = 6
	MinDisplayNameLength = 2
	MaxDisplayNameLength = 100
)

// MaxPasswordBytes is bcrypt's input limit.
const MaxPasswordBytes = 72

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// normalizeEmail is the canonical form used for storage and lookups.
// A Caser is stateful, so each call gets its own.
func normalizeEmail(email string) string {
	return strings.TrimSpace(cases.Fold().String(norm.NFC.String(email)))
}

// fieldErrors collects per-field failures for one request.
type fieldErrors []apperrors.FieldError

func (f *fieldErrors) add(field, message string) {
	*f = append(*f, apperrors.FieldError{Field: field, Message: message})
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return apperrors.ValidationError("Validation failed", f...)
}

func (f *fieldErrors) email(field, value string) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		f.add(field, "Email is required")
	case !emailRegex.MatchString(value):
		f.add(field, "Must be a valid email address")
	}
}

func (f *fieldErrors) password(field, value string) {
	switch {
	case value == "":
		f.add(field, "Password is required")
	case len([]rune(value)) < MinPasswordLength:
		f.add(field, "Password must be at least 6 characters long")
	case len(value) > MaxPasswordBytes:
		f.add(field, "Password must be at most 72 bytes long")
	}
}

func (f *fieldErrors) required(field, value, message string) {
	if strings.TrimSpace(value) == "" {
		f.add(field, message)
	}
}

func (f *fieldErrors) displayName(field string, value *string) {
	if value == nil {
		return
	}
	n := len([]rune(strings.TrimSpace(*value)))
	switch {
	case n < MinDisplayNameLength:
		f.add(field, "Display name must be at least 2 characters long")
	case n > MaxDisplayNameLength:
		f.add(field, "Display name must be at most 100 characters long")
	}
}

func (f *fieldErrors) photoURL(field string, value *string) {
	if value == nil || *value == "" {
		return
	}
	u, err := url.Parse(*value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		f.add(field, "Photo URL must be a valid URL")
	}
}

func (r *RegisterRequest) Validate() error {
	var errs fieldErrors
	errs.email("email", r.Email)
	errs.password("password", r.Password)
	if r.DisplayName != "" {
		errs.displayName("displayName", &r.DisplayName)
	}
	return errs.err()
}

func (r *LoginRequest) Validate() error {
	var errs fieldErrors
	errs.email("email", r.Email)
	errs.required("password", r.Password, "Password is required")
	return errs.err()
}

func (r *RefreshRequest) Validate() error {
	var errs fieldErrors
	errs.required("refreshToken", r.RefreshToken, "Refresh token is required")
	return errs.err()
}

func (r *EmailRequest) Validate() error {
	var errs fieldErrors
	errs.email("email", r.Email)
	return errs.err()
}

func (r *ResetConfirmRequest) Validate() error {
	var errs fieldErrors
	errs.email("email", r.Email)
	errs.required("token", r.Token, "Token is required")
	errs.password("password", r.Password)
	return errs.err()
}

func (r *VerifyConfirmRequest) Validate() error {
	var errs fieldErrors
	errs.email("email", r.Email)
	errs.required("token", r.Token, "Token is required")
	return errs.err()
}

func (r *SetPasswordRequest) Validate() error {
	var errs fieldErrors
	errs.email("email", r.Email)
	errs.password("password", r.Password)
	return errs.err()
}

func (r *ProfileRequest) Validate() error {
	var errs fieldErrors
	errs.displayName("displayName", r.DisplayName)
	errs.photoURL("photoURL", r.PhotoURL)
	return errs.err()
}
