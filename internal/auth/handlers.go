package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/swotplanner/backend/internal/db"
	apperrors "github.com/swotplanner/backend/internal/errors"
)

const (
	maxBodyBytes  = 1 << 20
	MaxPhotoBytes = 5 << 20
)

var allowedPhotoTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type EmailRequest struct {
	Email string `json:"email"`
}

type ResetConfirmRequest struct {
	Email    string `json:"email"`
	Token    string `json:"token"`
	Password string `json:"password"`
}

type VerifyConfirmRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

type SetPasswordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ProfileRequest struct {
	DisplayName *string `json:"displayName"`
	PhotoURL    *string `json:"photoURL"`
}

type RegisterResponse struct {
	UID          string `json:"uid"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type LoginResponse struct {
	User         *UserView `json:"user"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
}

type emptyData struct{}

type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) error {
	var req RegisterRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	res, err := h.service.Register(r.Context(), req.Email, req.Password, strings.TrimSpace(req.DisplayName))
	if err != nil {
		return err
	}

	success(w, r, http.StatusCreated, "User registered successfully", RegisterResponse{
		UID:          res.User.UID,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
	})
	return nil
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) error {
	var req LoginRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	res, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		return err
	}

	success(w, r, http.StatusOK, "Login successful", LoginResponse{
		User:         res.User,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
	})
	return nil
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) error {
	p, err := principal(r)
	if err != nil {
		return err
	}

	// The body is optional; without a refresh token logout is a no-op.
	var req LogoutRequest
	if err := decode(r, &req); err != nil && r.ContentLength > 0 {
		return err
	}

	if err := h.service.Logout(r.Context(), req.RefreshToken, p.SubjectID); err != nil {
		return err
	}

	success(w, r, http.StatusOK, "Logout successful", emptyData{})
	return nil
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) error {
	var req RefreshRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		return err
	}

	success(w, r, http.StatusOK, "Token refreshed successfully", pair)
	return nil
}

func (h *Handlers) CheckEmail(w http.ResponseWriter, r *http.Request) error {
	var req EmailRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	exists, err := h.service.CheckEmail(r.Context(), req.Email)
	if err != nil {
		return err
	}

	success(w, r, http.StatusOK, "Email check completed", map[string]bool{"exists": exists})
	return nil
}

func (h *Handlers) RequestPasswordReset(w http.ResponseWriter, r *http.Request) error {
	var req EmailRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	message, err := h.service.InitiateReset(r.Context(), req.Email)
	if err != nil {
		return err
	}

	success(w, r, http.StatusOK, message, map[string]string{"message": message})
	return nil
}

func (h *Handlers) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) error {
	var req ResetConfirmRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	if err := h.service.ConfirmReset(r.Context(), req.Email, req.Token, req.Password); err != nil {
		return err
	}

	success(w, r, http.StatusOK, "Password has been reset", emptyData{})
	return nil
}

func (h *Handlers) RequestEmailVerification(w http.ResponseWriter, r *http.Request) error {
	p, err := principal(r)
	if err != nil {
		return err
	}

	message, err := h.service.InitiateVerification(r.Context(), p.SubjectID)
	if err != nil {
		return err
	}

	success(w, r, http.StatusOK, message, map[string]string{"message": message})
	return nil
}

func (h *Handlers) ConfirmEmailVerification(w http.ResponseWriter, r *http.Request) error {
	var req VerifyConfirmRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	if err := h.service.ConfirmVerification(r.Context(), req.Email, req.Token); err != nil {
		return err
	}

	success(w, r, http.StatusOK, "Email verified", emptyData{})
	return nil
}

func (h *Handlers) SetPassword(w http.ResponseWriter, r *http.Request) error {
	p, err := principal(r)
	if err != nil {
		return err
	}

	var req SetPasswordRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	if err := h.service.SetPassword(r.Context(), p, req.Email, req.Password); err != nil {
		return err
	}

	success(w, r, http.StatusOK, "Password updated", emptyData{})
	return nil
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) error {
	p, err := principal(r)
	if err != nil {
		return err
	}

	user, err := h.service.GetUser(r.Context(), p.SubjectID)
	if err != nil {
		return err
	}

	success(w, r, http.StatusOK, "User retrieved", user)
	return nil
}

func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) error {
	p, err := principal(r)
	if err != nil {
		return err
	}

	var req ProfileRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	update := db.ProfileUpdate{PhotoURL: req.PhotoURL}
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		update.DisplayName = &name
	}

	if err := h.service.UpdateProfile(r.Context(), p.SubjectID, update); err != nil {
		return err
	}

	success(w, r, http.StatusOK, "Profile updated", emptyData{})
	return nil
}

func (h *Handlers) UploadPhoto(w http.ResponseWriter, r *http.Request) error {
	p, err := principal(r)
	if err != nil {
		return err
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxPhotoBytes+(64<<10))
	if err := r.ParseMultipartForm(MaxPhotoBytes); err != nil {
		return apperrors.BadRequest("Photo must be a multipart upload of at most 5MB")
	}

	file, header, err := r.FormFile("photo")
	if err != nil {
		return apperrors.ValidationError("Validation failed", apperrors.FieldError{Field: "photo", Message: "Photo is required"})
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !allowedPhotoTypes[contentType] {
		return apperrors.ValidationError("Validation failed", apperrors.FieldError{Field: "photo", Message: "Photo must be a JPEG, PNG, GIF or WebP image"})
	}

	url, err := h.service.UploadPhoto(r.Context(), p.SubjectID, contentType, file, header.Size)
	if err != nil {
		return err
	}

	success(w, r, http.StatusOK, "Photo uploaded", map[string]string{"photoURL": url})
	return nil
}

func (h *Handlers) DeleteAccount(w http.ResponseWriter, r *http.Request) error {
	p, err := principal(r)
	if err != nil {
		return err
	}

	if err := h.service.DeleteAccount(r.Context(), p.SubjectID); err != nil {
		return err
	}

	success(w, r, http.StatusOK, "Account deleted", emptyData{})
	return nil
}

// GetUser is the admin lookup of any account by id.
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) error {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return apperrors.BadRequest("Invalid user id")
	}

	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		return err
	}

	success(w, r, http.StatusOK, "User retrieved", user)
	return nil
}

func principal(r *http.Request) (*Principal, error) {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		return nil, apperrors.Unauthorized("Authentication required")
	}
	return p, nil
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.BadRequest("Request body is required")
		}
		return apperrors.BadRequest("Invalid request body")
	}
	return nil
}

func success(w http.ResponseWriter, r *http.Request, status int, message string, data any) {
	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), status, message, data)
}
