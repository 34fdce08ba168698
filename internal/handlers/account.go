package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/learnhub/lmsapi/internal/services"
	"github.com/learnhub/lmsapi/types"
)

const (
	formFieldName        = "name"
	formFieldEmail       = "email"
	formFieldPassword    = "password"
	formFieldOldPassword = "oldPassword"
	formFieldNewPassword = "newPassword"
	urlParamResetToken   = "resetToken"
)

// AccountService is the account lifecycle the handlers drive.
type AccountService interface {
	Signup(ctx context.Context, in services.SignupInput) (services.AuthResult, error)
	Login(ctx context.Context, in services.LoginInput) (services.AuthResult, error)
	GetProfile(ctx context.Context, userID int) (types.User, error)
	ForgotPassword(ctx context.Context, in services.ForgotPasswordInput) error
	ResetPassword(ctx context.Context, in services.ResetPasswordInput) error
	ChangePassword(ctx context.Context, in services.ChangePasswordInput) error
	UpdateProfile(ctx context.Context, in services.UpdateProfileInput) (types.User, error)
	DeleteProfile(ctx context.Context, userID int) error
}

// AccountHandler provides HTTP handlers for the account lifecycle.
type AccountHandler struct {
	accounts AccountService
	cookie   CookieConfig
	reporter ErrorReporter
	log      *slog.Logger
}

func NewAccountHandler(accounts AccountService, cookie CookieConfig, reporter ErrorReporter, log *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		cookie:   cookie,
		reporter: reporter,
		log:      log,
	}
}

// AccountRouter registers account routes on the given router.
func AccountRouter(r chi.Router, handler *AccountHandler, sessions SessionVerifier) {
	requireSession := RequireSession(sessions)

	r.Post("/signup", handler.Signup)
	r.Post("/login", handler.Login)
	r.Get("/logout", handler.Logout)
	r.Post("/forgot-password", handler.ForgotPassword)
	r.Post("/reset/{resetToken}", handler.ResetPassword)

	r.Group(func(r chi.Router) {
		r.Use(requireSession)
		r.Get("/myprofile", handler.GetProfile)
		r.Put("/change-password", handler.ChangePassword)
		r.Put("/update", handler.UpdateProfile)
		r.Delete("/delete-profile", handler.DeleteProfile)
	})
}

func (h *AccountHandler) Signup(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	defer form.Close()

	res, err := h.accounts.Signup(r.Context(), services.SignupInput{
		Name:     form.value(formFieldName),
		Email:    form.value(formFieldEmail),
		Password: form.value(formFieldPassword),
		Avatar:   form.avatar,
	})
	if err != nil {
		writeServiceError(w, r, h.log, h.reporter, "signup", err)
		return
	}

	setSessionCookie(w, h.cookie, res.Token)
	writeOK(w, http.StatusCreated, "User created successfully", &res.User)
}

func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	defer form.Close()

	res, err := h.accounts.Login(r.Context(), services.LoginInput{
		Email:    form.value(formFieldEmail),
		Password: form.value(formFieldPassword),
	})
	if err != nil {
		writeServiceError(w, r, h.log, h.reporter, "login", err)
		return
	}

	setSessionCookie(w, h.cookie, res.Token)
	writeOK(w, http.StatusOK, "Welcome back "+res.User.Name, &res.User)
}

func (h *AccountHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	clearSessionCookie(w, h.cookie)
	writeOK(w, http.StatusOK, "User logged out successfully", nil)
}

func (h *AccountHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	user, err := h.accounts.GetProfile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.log, h.reporter, "get_profile", err)
		return
	}
	writeOK(w, http.StatusOK, "User details", &user)
}

func (h *AccountHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	defer form.Close()

	email := strings.TrimSpace(form.value(formFieldEmail))
	if err := h.accounts.ForgotPassword(r.Context(), services.ForgotPasswordInput{Email: email}); err != nil {
		writeServiceError(w, r, h.log, h.reporter, "forgot_password", err)
		return
	}
	writeOK(w, http.StatusOK, "Reset password email has been sent to "+email+" successfully", nil)
}

func (h *AccountHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	defer form.Close()

	err := h.accounts.ResetPassword(r.Context(), services.ResetPasswordInput{
		Token:    chi.URLParam(r, urlParamResetToken),
		Password: form.value(formFieldPassword),
	})
	if err != nil {
		writeServiceError(w, r, h.log, h.reporter, "reset_password", err)
		return
	}
	writeOK(w, http.StatusOK, "Password reset successfully", nil)
}

func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	form, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	defer form.Close()

	err := h.accounts.ChangePassword(r.Context(), services.ChangePasswordInput{
		UserID:      userID,
		OldPassword: form.value(formFieldOldPassword),
		NewPassword: form.value(formFieldNewPassword),
	})
	if err != nil {
		writeServiceError(w, r, h.log, h.reporter, "change_password", err)
		return
	}
	writeOK(w, http.StatusOK, "Password changed successfully", nil)
}

func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	form, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	defer form.Close()

	user, err := h.accounts.UpdateProfile(r.Context(), services.UpdateProfileInput{
		UserID: userID,
		Name:   form.value(formFieldName),
		Avatar: form.avatar,
	})
	if err != nil {
		writeServiceError(w, r, h.log, h.reporter, "update_profile", err)
		return
	}
	writeOK(w, http.StatusOK, "Profile updated successfully", &user)
}

func (h *AccountHandler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	if err := h.accounts.DeleteProfile(r.Context(), userID); err != nil {
		writeServiceError(w, r, h.log, h.reporter, "delete_profile", err)
		return
	}
	clearSessionCookie(w, h.cookie)
	writeOK(w, http.StatusOK, "profile deleted successfully", nil)
}

func (h *AccountHandler) parseForm(w http.ResponseWriter, r *http.Request) (*requestForm, bool) {
	form, err := parseRequestForm(w, r)
	if err != nil {
		var fe formError
		if !errors.As(err, &fe) {
			fe = errInvalidBody
		}
		writeError(w, http.StatusBadRequest, fe.Error())
		return nil, false
	}
	return form, true
}

func (h *AccountHandler) userID(w http.ResponseWriter, r *http.Request) (int, bool) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, msgUnauthenticated)
		return 0, false
	}
	return identity.UserID, true
}
