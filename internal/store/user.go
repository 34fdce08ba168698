package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/learnhub/lmsapi/types"
)

const userColumns = `id, name, email, password_hash, avatar_asset_id, avatar_url,
		reset_token_hash, reset_token_expiry, created_at, updated_at`

// UserRepository handles persistence for users.
// Email uniqueness is enforced by the users_email_key constraint; Create
// reports a collision as ErrDuplicate.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.Avatar.AssetID,
		&user.Avatar.URL,
		&user.ResetTokenHash,
		&user.ResetTokenExpiry,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	const op = "store.UserRepository.GetByID"

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return types.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return user, err
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const op = "store.UserRepository.GetByEmail"

	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return types.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return user, err
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	const op = "store.UserRepository.Create"

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (name, email, password_hash, avatar_asset_id, avatar_url,
			reset_token_hash, reset_token_expiry, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Avatar.AssetID,
		user.Avatar.URL,
		user.ResetTokenHash,
		user.ResetTokenExpiry,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID); err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrDuplicate
		}
		return types.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// UpdateProfile changes the name and/or avatar columns. Nil fields keep
// their stored value; credentials and reset state are never touched.
func (r *UserRepository) UpdateProfile(ctx context.Context, id int, update types.ProfileUpdate) (types.User, error) {
	const op = "store.UserRepository.UpdateProfile"

	var assetID, avatarURL *string
	if update.Avatar != nil {
		assetID, avatarURL = &update.Avatar.AssetID, &update.Avatar.URL
	}

	query := `
		UPDATE users
		SET name = COALESCE($1, name),
			avatar_asset_id = COALESCE($2, avatar_asset_id),
			avatar_url = COALESCE($3, avatar_url),
			updated_at = $4
		WHERE id = $5
		RETURNING ` + userColumns
	user, err := scanUser(r.db.QueryRowContext(ctx, query, update.Name, assetID, avatarURL, time.Now(), id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return types.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return user, err
}

func (r *UserRepository) SetPassword(ctx context.Context, id int, passwordHash string) error {
	const op = "store.UserRepository.SetPassword"

	const query = `UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`
	return r.execOne(ctx, op, query, passwordHash, time.Now(), id)
}

// SetResetToken records an outstanding reset token, replacing any earlier one.
func (r *UserRepository) SetResetToken(ctx context.Context, id int, tokenHash string, expiry time.Time) error {
	const op = "store.UserRepository.SetResetToken"

	const query = `
		UPDATE users
		SET reset_token_hash = $1,
			reset_token_expiry = $2,
			updated_at = $3
		WHERE id = $4`
	return r.execOne(ctx, op, query, tokenHash, expiry, time.Now(), id)
}

// ClearResetToken withdraws tokenHash if it is still the outstanding token.
// A token that was already spent or replaced is left alone.
func (r *UserRepository) ClearResetToken(ctx context.Context, id int, tokenHash string) error {
	const op = "store.UserRepository.ClearResetToken"

	const query = `
		UPDATE users
		SET reset_token_hash = NULL,
			reset_token_expiry = NULL,
			updated_at = $1
		WHERE id = $2
			AND reset_token_hash = $3`
	if _, err := r.db.ExecContext(ctx, query, time.Now(), id, tokenHash); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *UserRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the user and returns the row as it was, so callers can
// release resources the record referenced.
func (r *UserRepository) Delete(ctx context.Context, id int) (types.User, error) {
	const op = "store.UserRepository.Delete"

	query := `DELETE FROM users WHERE id = $1 RETURNING ` + userColumns
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return types.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return user, err
}

// ConsumeResetToken sets a new password for the holder of an unexpired reset
// token and clears the token in the same statement. A token can therefore be
// spent at most once; any miss is ErrNotFound.
func (r *UserRepository) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (types.User, error) {
	const op = "store.UserRepository.ConsumeResetToken"

	query := `
		UPDATE users
		SET password_hash = $1,
			reset_token_hash = NULL,
			reset_token_expiry = NULL,
			updated_at = $2
		WHERE reset_token_hash = $3
			AND reset_token_expiry > $2
		RETURNING ` + userColumns
	user, err := scanUser(r.db.QueryRowContext(ctx, query, passwordHash, now, tokenHash))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return types.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return user, err
}
