package handlers

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tubeshelf/accounts/internal/media"
	"github.com/tubeshelf/accounts/internal/services"
	"github.com/tubeshelf/accounts/types"
)

const (
	formFieldFullName   = "fullName"
	formFieldEmail      = "email"
	formFieldUsername   = "username"
	formFieldPassword   = "password"
	formFieldAvatar     = "avatar"
	formFieldCoverImage = "coverImage"

	maxMultipartMemory = 1 << 20
	multipartOverhead  = 1 << 20
)

// AccountService is the set of use-cases served under /users.
type AccountService interface {
	Authenticator
	Register(ctx context.Context, in services.RegisterInput) (types.User, error)
	Login(ctx context.Context, in services.LoginInput) (services.LoginResult, error)
	Logout(ctx context.Context, user types.User) error
	Refresh(ctx context.Context, refreshToken string) (types.TokenPair, error)
	Current(ctx context.Context, userID string) (types.User, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
	UpdateAccount(ctx context.Context, userID, fullName, email string) (types.User, error)
	UpdateAvatar(ctx context.Context, userID, localPath string) (types.User, error)
	UpdateCoverImage(ctx context.Context, userID, localPath string) (types.User, error)
}

// UserHandlerConfig carries cookie lifetimes and upload limits.
type UserHandlerConfig struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	TempDir         string
	MaxUploadBytes  int64
	Logger          *slog.Logger
}

// UserHandler provides the account endpoints.
type UserHandler struct {
	svc    AccountService
	cfg    UserHandlerConfig
	logger *slog.Logger
}

func NewUserHandler(svc AccountService, cfg UserHandlerConfig) *UserHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandler{svc: svc, cfg: cfg, logger: logger}
}

// UserRouter registers the /users routes. limit guards the credential
// endpoints and may be nil.
func UserRouter(r chi.Router, handler *UserHandler, limit func(http.Handler) http.Handler) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}

	r.With(limit).Post("/register", handler.Register)
	r.With(limit).Post("/login", handler.Login)
	r.With(limit).Post("/refresh-token", handler.RefreshToken)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(handler.svc, handler.logger))
		r.Post("/logout", handler.Logout)
		r.Post("/change-password", handler.ChangePassword)
		r.Get("/current", handler.Current)
		r.Patch("/account", handler.UpdateAccount)
		r.Patch("/avatar", handler.UpdateAvatar)
		r.Patch("/cover-image", handler.UpdateCoverImage)
	})
}

type LoginResponse struct {
	User         types.User `json:"user"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	if err := h.parseMultipart(w, r, 2); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	avatarPath, err := h.spool(r.MultipartForm, formFieldAvatar)
	if err != nil && !errors.Is(err, media.ErrNoFile) {
		h.writeUploadError(w, r, err)
		return
	}
	coverPath, err := h.spool(r.MultipartForm, formFieldCoverImage)
	if err != nil && !errors.Is(err, media.ErrNoFile) {
		media.Discard(avatarPath)
		h.writeUploadError(w, r, err)
		return
	}

	user, err := h.svc.Register(r.Context(), services.RegisterInput{
		FullName:       r.FormValue(formFieldFullName),
		Email:          r.FormValue(formFieldEmail),
		Username:       r.FormValue(formFieldUsername),
		Password:       r.FormValue(formFieldPassword),
		AvatarPath:     avatarPath,
		CoverImagePath: coverPath,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusCreated, user, "User registered successfully")
}

func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var in services.LoginInput
	if err := decodeBody(r, map[string]*string{
		formFieldUsername: &in.Username,
		formFieldEmail:    &in.Email,
		formFieldPassword: &in.Password,
	}); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.svc.Login(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.setSessionCookies(w, result.Tokens)
	writeSuccess(w, http.StatusOK, LoginResponse{
		User:         result.User,
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
	}, "User logged in successfully")
}

func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized request")
		return
	}

	if err := h.svc.Logout(r.Context(), user); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.clearSessionCookies(w)
	writeSuccess(w, http.StatusOK, map[string]any{}, "User logged out")
}

func (h *UserHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var presented string
	if cookie, err := r.Cookie(refreshTokenCookie); err == nil {
		presented = strings.TrimSpace(cookie.Value)
	}
	if presented == "" {
		if err := decodeBody(r, map[string]*string{refreshTokenCookie: &presented}); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	pair, err := h.svc.Refresh(r.Context(), presented)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.setSessionCookies(w, pair)
	writeSuccess(w, http.StatusOK, pair, "Access token refreshed")
}

func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized request")
		return
	}

	var oldPassword, newPassword string
	if err := decodeBody(r, map[string]*string{
		"oldPassword": &oldPassword,
		"newPassword": &newPassword,
	}); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.svc.ChangePassword(r.Context(), user.ID, oldPassword, newPassword); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{}, "Password changed successfully")
}

func (h *UserHandler) Current(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized request")
		return
	}

	current, err := h.svc.Current(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, current, "Current user fetched successfully")
}

func (h *UserHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized request")
		return
	}

	var fullName, email string
	if err := decodeBody(r, map[string]*string{
		formFieldFullName: &fullName,
		formFieldEmail:    &email,
	}); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updated, err := h.svc.UpdateAccount(r.Context(), user.ID, fullName, email)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, updated, "Account details updated successfully")
}

func (h *UserHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	h.updateImage(w, r, formFieldAvatar, h.svc.UpdateAvatar, "Avatar image updated successfully")
}

func (h *UserHandler) UpdateCoverImage(w http.ResponseWriter, r *http.Request) {
	h.updateImage(w, r, formFieldCoverImage, h.svc.UpdateCoverImage, "Cover image updated successfully")
}

func (h *UserHandler) updateImage(
	w http.ResponseWriter,
	r *http.Request,
	field string,
	update func(ctx context.Context, userID, localPath string) (types.User, error),
	message string,
) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized request")
		return
	}

	if err := h.parseMultipart(w, r, 1); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	localPath, err := h.spool(r.MultipartForm, field)
	if err != nil && !errors.Is(err, media.ErrNoFile) {
		h.writeUploadError(w, r, err)
		return
	}

	updated, err := update(r.Context(), user.ID, localPath)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, updated, message)
}

// parseMultipart caps the body at files uploads plus form overhead.
func (h *UserHandler) parseMultipart(w http.ResponseWriter, r *http.Request, files int64) error {
	if h.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, files*h.cfg.MaxUploadBytes+multipartOverhead)
	}
	return r.ParseMultipartForm(maxMultipartMemory)
}

// spool writes the first file of field to the temp dir. Missing fields
// yield media.ErrNoFile.
func (h *UserHandler) spool(form *multipart.Form, field string) (string, error) {
	if form == nil || len(form.File[field]) == 0 {
		return "", media.ErrNoFile
	}
	return media.Spool(form.File[field][0], h.cfg.TempDir, h.cfg.MaxUploadBytes)
}

func (h *UserHandler) writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, media.ErrTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "Uploaded file is too large")
		return
	}
	h.logger.ErrorContext(r.Context(), "failed to spool upload", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func (h *UserHandler) setSessionCookies(w http.ResponseWriter, pair types.TokenPair) {
	http.SetCookie(w, sessionCookie(accessTokenCookie, pair.AccessToken, h.cfg.AccessTokenTTL))
	http.SetCookie(w, sessionCookie(refreshTokenCookie, pair.RefreshToken, h.cfg.RefreshTokenTTL))
}

func (h *UserHandler) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, sessionCookie(accessTokenCookie, "", -1))
	http.SetCookie(w, sessionCookie(refreshTokenCookie, "", -1))
}

// sessionCookie builds an http-only secure cookie. A negative ttl expires it.
func sessionCookie(name, value string, ttl time.Duration) *http.Cookie {
	maxAge := int(ttl / time.Second)
	if ttl < 0 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}
