package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Kind tags the outcome of a failed operation. Callers switch on the kind
// instead of matching messages.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindInvalidToken
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidToken:
		return "invalid_token"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind to the status code written at the HTTP boundary.
// Conflicts surface as 400 to match the register contract.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindConflict, KindInvalidToken:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Common error codes
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeTokenRevoked       = "TOKEN_REVOKED"
	CodeEmailExists        = "EMAIL_EXISTS"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeDatabaseError      = "DATABASE_ERROR"
	CodeStorageError       = "STORAGE_ERROR"
)

// FieldError describes one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AppError represents a structured application error
type AppError struct {
	Kind    Kind
	Code    string
	Message string
	Fields  []FieldError
	Cause   error

	stack []uintptr
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the status code for the error's kind.
func (e *AppError) HTTPStatus() int {
	return e.Kind.HTTPStatus()
}

// WithCause sets the underlying cause of the error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// WithFields attaches per-field validation failures.
func (e *AppError) WithFields(fields []FieldError) *AppError {
	e.Fields = fields
	return e
}

// Stack returns the call stack captured when the error was created.
func (e *AppError) Stack() string {
	if len(e.stack) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}

// New creates a new AppError
func New(kind Kind, code, message string) *AppError {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	return &AppError{
		Kind:    kind,
		Code:    code,
		Message: message,
		stack:   pcs[:n],
	}
}

// Client error constructors

func BadRequest(message string) *AppError {
	return New(KindValidation, CodeInvalidRequest, message)
}

func ValidationError(message string, fields ...FieldError) *AppError {
	return New(KindValidation, CodeValidationError, message).WithFields(fields)
}

func Unauthorized(message string) *AppError {
	return New(KindUnauthorized, CodeUnauthorized, message)
}

func InvalidCredentials() *AppError {
	return New(KindUnauthorized, CodeInvalidCredentials, "Invalid email or password")
}

func TokenRevoked() *AppError {
	return New(KindUnauthorized, CodeTokenRevoked, "Refresh token has been revoked")
}

func InvalidToken(message string) *AppError {
	return New(KindInvalidToken, CodeInvalidToken, message)
}

func Forbidden(message string) *AppError {
	return New(KindForbidden, CodeForbidden, message)
}

func NotFound(resource string) *AppError {
	return New(KindNotFound, CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func Conflict(message string) *AppError {
	return New(KindConflict, CodeConflict, message)
}

func EmailExists() *AppError {
	return New(KindConflict, CodeEmailExists, "Email is already in use")
}

func RateLimited() *AppError {
	return New(KindRateLimited, CodeRateLimited, "Too many requests, please try again later")
}

// Server error constructors

func InternalError(message string) *AppError {
	return New(KindInternal, CodeInternalError, message)
}

func DatabaseError(message string) *AppError {
	return New(KindInternal, CodeDatabaseError, message)
}

func StorageError(message string) *AppError {
	return New(KindInternal, CodeStorageError, message)
}

// KindOf reports the kind of err. Errors that are not AppErrors are internal.
func KindOf(err error) Kind {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Envelope is the uniform JSON body of every response.
type Envelope struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Data    any          `json:"data,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
	Code    string       `json:"code,omitempty"`
	Stack   string       `json:"stack,omitempty"`
}

var exposeStack bool

// SetExposeStack controls whether error responses carry a stack trace.
// It is set once at startup and enabled outside production only.
func SetExposeStack(enabled bool) {
	exposeStack = enabled
}

// WriteError writes an error envelope to the HTTP response writer
func WriteError(w http.ResponseWriter, requestID string, err error) {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		appErr = InternalError("An unexpected error occurred").WithCause(err)
	}

	resp := Envelope{
		Success: false,
		Message: appErr.Message,
		Errors:  appErr.Fields,
		Code:    appErr.Code,
	}
	if exposeStack {
		resp.Stack = appErr.Stack()
	}

	writeEnvelope(w, requestID, appErr.HTTPStatus(), resp)
}

// WriteSuccess writes a success envelope.
func WriteSuccess(w http.ResponseWriter, requestID string, status int, message string, data any) {
	if message == "" {
		message = "Operation successful"
	}
	writeEnvelope(w, requestID, status, Envelope{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func writeEnvelope(w http.ResponseWriter, requestID string, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set(RequestIDHeader, requestID)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}
