package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/learnhub/lmsapi/internal/auth"
	"github.com/learnhub/lmsapi/internal/avatar"
	"github.com/learnhub/lmsapi/internal/mail"
	"github.com/learnhub/lmsapi/internal/store"
	"github.com/learnhub/lmsapi/types"
)

const (
	msgAllInputsRequired   = "All input fields are required"
	msgAllFieldsRequired   = "All fields are required"
	msgEmailRequired       = "Email is required"
	msgPasswordRequired    = "Password is required"
	msgEmailExists         = "Email already exists"
	msgUserNotFound        = "User not found"
	msgUserGone            = "User does not exist"
	msgInvalidCredentials  = "Invalid email or password"
	msgInvalidOldPassword  = "Invalid old password"
	msgInvalidResetToken   = "Token is invalid or expired. Please try again later."
	msgUploadFailed        = "File upload failed, please try again"
	msgInvalidImage        = "Please upload a valid image file"
	msgMailFailed          = "Failed to send reset email. Please try again."
	resetMailSubject       = "Reset Password"
	resetPasswordPathToken = "/reset-password/"
)

// UserRepository is the Credential Store. Implementations must enforce
// email uniqueness themselves and report a collision from Create as
// store.ErrDuplicate; the service never pre-checks. Writes touch only the
// columns they name so overlapping requests cannot revert each other.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateProfile(ctx context.Context, id int, update types.ProfileUpdate) (types.User, error)
	SetPassword(ctx context.Context, id int, passwordHash string) error
	SetResetToken(ctx context.Context, id int, tokenHash string, expiry time.Time) error
	ClearResetToken(ctx context.Context, id int, tokenHash string) error
	Delete(ctx context.Context, id int) (types.User, error)
	ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (types.User, error)
}

type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) (bool, error)
}

type SessionIssuer interface {
	Issue(userID int) (string, error)
}

type AvatarManager interface {
	Upload(ctx context.Context, upload *avatar.Upload) (types.Avatar, error)
	Delete(ctx context.Context, assetID string) error
	Replace(ctx context.Context, oldAssetID string, upload *avatar.Upload, swap func(types.Avatar) error) (types.Avatar, error)
}

type AccountConfig struct {
	FrontendURL   string
	ResetTokenTTL time.Duration
}

type SignupInput struct {
	Name     string
	Email    string
	Password string
	Avatar   *avatar.Upload
}

type LoginInput struct {
	Email    string
	Password string
}

type ForgotPasswordInput struct {
	Email string
}

type ResetPasswordInput struct {
	Token    string
	Password string
}

type ChangePasswordInput struct {
	UserID      int
	OldPassword string
	NewPassword string
}

type UpdateProfileInput struct {
	UserID int
	Name   string
	Avatar *avatar.Upload
}

// AuthResult is a user together with a freshly issued session token.
type AuthResult struct {
	User  types.User
	Token string
}

// AccountService implements the account lifecycle: signup, login, profile
// management and password recovery.
type AccountService struct {
	users    UserRepository
	hasher   PasswordHasher
	sessions SessionIssuer
	avatars  AvatarManager
	mailer   mail.Mailer
	cfg      AccountConfig
	log      *slog.Logger
	now      func() time.Time
}

func NewAccountService(
	users UserRepository,
	hasher PasswordHasher,
	sessions SessionIssuer,
	avatars AvatarManager,
	mailer mail.Mailer,
	cfg AccountConfig,
	log *slog.Logger,
) *AccountService {
	return &AccountService{
		users:    users,
		hasher:   hasher,
		sessions: sessions,
		avatars:  avatars,
		mailer:   mailer,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

func (s *AccountService) Signup(ctx context.Context, in SignupInput) (AuthResult, error) {
	const op = "services.AccountService.Signup"
	log := s.log.With(slog.String("op", op))

	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	if in.Name == "" || in.Email == "" || in.Password == "" {
		return AuthResult{}, newError(KindBadRequest, msgAllInputsRequired, nil)
	}
	if err := validate.Struct(signupFields{Name: in.Name, Email: in.Email, Password: in.Password}); err != nil {
		return AuthResult{}, validationFailed(err)
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return AuthResult{}, internalError(op, err)
	}

	user := types.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: digest,
		Avatar:       types.PlaceholderAvatar(in.Email),
	}
	if in.Avatar != nil {
		uploaded, err := s.avatars.Upload(ctx, in.Avatar)
		if err != nil {
			return AuthResult{}, uploadError(err)
		}
		user.Avatar = uploaded
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		if in.Avatar != nil {
			s.releaseAvatar(ctx, log, user.Avatar.AssetID)
		}
		if errors.Is(err, store.ErrDuplicate) {
			return AuthResult{}, newError(KindConflict, msgEmailExists, err)
		}
		return AuthResult{}, internalError(op, err)
	}

	token, err := s.sessions.Issue(created.ID)
	if err != nil {
		return AuthResult{}, internalError(op, err)
	}
	log.Info("account created", slog.Int("user_id", created.ID))
	return AuthResult{User: created, Token: token}, nil
}

func (s *AccountService) Login(ctx context.Context, in LoginInput) (AuthResult, error) {
	const op = "services.AccountService.Login"

	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return AuthResult{}, newError(KindBadRequest, msgAllInputsRequired, nil)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return AuthResult{}, s.lookupError(op, err)
	}

	ok, err := s.hasher.Verify(in.Password, user.PasswordHash)
	if err != nil {
		return AuthResult{}, internalError(op, err)
	}
	if !ok {
		return AuthResult{}, newError(KindUnauthorized, msgInvalidCredentials, nil)
	}

	token, err := s.sessions.Issue(user.ID)
	if err != nil {
		return AuthResult{}, internalError(op, err)
	}
	return AuthResult{User: user, Token: token}, nil
}

func (s *AccountService) GetProfile(ctx context.Context, userID int) (types.User, error) {
	const op = "services.AccountService.GetProfile"

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return types.User{}, s.lookupError(op, err)
	}
	return user, nil
}

// ForgotPassword stores a new reset token for the account and mails the
// plaintext link. If the mail cannot be handed off the token is withdrawn.
func (s *AccountService) ForgotPassword(ctx context.Context, in ForgotPasswordInput) error {
	const op = "services.AccountService.ForgotPassword"
	log := s.log.With(slog.String("op", op))

	email := normalizeEmail(in.Email)
	if email == "" {
		return newError(KindBadRequest, msgEmailRequired, nil)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return s.lookupError(op, err)
	}

	reset, err := auth.NewResetToken(s.now(), s.cfg.ResetTokenTTL)
	if err != nil {
		return internalError(op, err)
	}
	if err := s.users.SetResetToken(ctx, user.ID, reset.Hash, reset.Expiry); err != nil {
		return s.lookupError(op, err)
	}

	if err := s.mailer.Send(ctx, s.resetMail(user.Email, reset.Plaintext)); err != nil {
		if rbErr := s.users.ClearResetToken(context.WithoutCancel(ctx), user.ID, reset.Hash); rbErr != nil {
			log.Error("failed to withdraw reset token", slog.Int("user_id", user.ID), slog.Any("error", rbErr))
		}
		return newError(KindMailFailed, msgMailFailed, err)
	}
	return nil
}

// ResetPassword spends a reset token. The lookup, password write and token
// removal happen in one store call, so a token works at most once.
func (s *AccountService) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	const op = "services.AccountService.ResetPassword"

	token := strings.TrimSpace(in.Token)
	if token == "" {
		return newError(KindInvalidOrExpiredToken, msgInvalidResetToken, nil)
	}
	if in.Password == "" {
		return newError(KindBadRequest, msgPasswordRequired, nil)
	}
	if err := validate.Struct(passwordFields{Password: in.Password}); err != nil {
		return validationFailed(err)
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return internalError(op, err)
	}

	if _, err := s.users.ConsumeResetToken(ctx, auth.HashResetToken(token), digest, s.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindInvalidOrExpiredToken, msgInvalidResetToken, err)
		}
		return internalError(op, err)
	}
	return nil
}

func (s *AccountService) ChangePassword(ctx context.Context, in ChangePasswordInput) error {
	const op = "services.AccountService.ChangePassword"

	if in.OldPassword == "" || in.NewPassword == "" {
		return newError(KindBadRequest, msgAllFieldsRequired, nil)
	}

	user, err := s.users.GetByID(ctx, in.UserID)
	if err != nil {
		return s.lookupError(op, err)
	}

	ok, err := s.hasher.Verify(in.OldPassword, user.PasswordHash)
	if err != nil {
		return internalError(op, err)
	}
	if !ok {
		return newError(KindUnauthorized, msgInvalidOldPassword, nil)
	}
	if err := validate.Struct(passwordFields{Password: in.NewPassword}); err != nil {
		return validationFailed(err)
	}

	digest, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return internalError(op, err)
	}
	if err := s.users.SetPassword(ctx, user.ID, digest); err != nil {
		return s.lookupError(op, err)
	}
	return nil
}

// UpdateProfile changes the display name and/or avatar. A new avatar is
// stored and persisted before the previous one is released.
func (s *AccountService) UpdateProfile(ctx context.Context, in UpdateProfileInput) (types.User, error) {
	const op = "services.AccountService.UpdateProfile"

	user, err := s.users.GetByID(ctx, in.UserID)
	if err != nil {
		return types.User{}, s.lookupError(op, err)
	}

	var update types.ProfileUpdate
	if name := strings.TrimSpace(in.Name); name != "" {
		if err := validate.Struct(profileFields{Name: name}); err != nil {
			return types.User{}, validationFailed(err)
		}
		update.Name = &name
	}

	if in.Avatar == nil {
		if update.Name == nil {
			return user, nil
		}
		saved, err := s.users.UpdateProfile(ctx, user.ID, update)
		if err != nil {
			return types.User{}, s.lookupError(op, err)
		}
		return saved, nil
	}

	_, err = s.avatars.Replace(ctx, user.Avatar.AssetID, in.Avatar, func(next types.Avatar) error {
		update.Avatar = &next
		saved, err := s.users.UpdateProfile(ctx, user.ID, update)
		if err != nil {
			return err
		}
		user = saved
		return nil
	})
	if err != nil {
		if errors.Is(err, avatar.ErrInvalidImage) || errors.Is(err, avatar.ErrUploadFailed) {
			return types.User{}, uploadError(err)
		}
		return types.User{}, s.lookupError(op, err)
	}
	return user, nil
}

// DeleteProfile removes the account and then its avatar. The record is
// authoritative: an asset that cannot be released is logged, not returned.
func (s *AccountService) DeleteProfile(ctx context.Context, userID int) error {
	const op = "services.AccountService.DeleteProfile"
	log := s.log.With(slog.String("op", op))

	user, err := s.users.Delete(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindBadRequest, msgUserGone, err)
		}
		return internalError(op, err)
	}

	s.releaseAvatar(ctx, log, user.Avatar.AssetID)
	log.Info("account deleted", slog.Int("user_id", userID))
	return nil
}

func (s *AccountService) lookupError(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindNotFound, msgUserNotFound, err)
	}
	return internalError(op, err)
}

// uploadError separates a file the client must fix from an asset store
// failure worth retrying.
func uploadError(err error) error {
	if errors.Is(err, avatar.ErrInvalidImage) {
		return newError(KindBadRequest, msgInvalidImage, err)
	}
	return newError(KindUploadFailed, msgUploadFailed, err)
}

func (s *AccountService) releaseAvatar(ctx context.Context, log *slog.Logger, assetID string) {
	if err := s.avatars.Delete(context.WithoutCancel(ctx), assetID); err != nil {
		log.Error("failed to release avatar", slog.String("asset_id", assetID), slog.Any("error", err))
	}
}

func (s *AccountService) resetMail(to, token string) mail.Message {
	link := html.EscapeString(s.cfg.FrontendURL + resetPasswordPathToken + url.PathEscape(token))
	body := fmt.Sprintf(
		`You can reset your password by clicking <a href="%s" target="_blank">Reset your password</a>. `+
			`If the above link does not work, copy-paste this link in a new tab: %s. `+
			`If you did not request this, kindly ignore.`,
		link, link,
	)
	return mail.Message{To: to, Subject: resetMailSubject, HTML: body}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
