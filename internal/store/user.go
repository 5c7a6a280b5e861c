package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tubeshelf/accounts/types"
)

const uniqueViolation = "23505"

const userColumns = `id, username, email, full_name, avatar, cover_image, password_hash, refresh_token, created_at, updated_at`

// UserRepository handles persistence for users in Postgres.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	if !validID(id) {
		return types.User{}, ErrNotFound
	}
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// FindByUsernameOrEmail returns the first user matching either field.
func (r *UserRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE username = $1 OR email = $2 LIMIT 1`
	return scanUser(r.db.QueryRowContext(ctx, query, username, email))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (id, username, email, full_name, avatar, cover_image, password_hash, refresh_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Username,
		user.Email,
		user.FullName,
		user.Avatar,
		user.CoverImage,
		user.PasswordHash,
		nullString(user.RefreshToken),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return types.User{}, mapWriteError(err)
	}
	return user, nil
}

func (r *UserRepository) UpdateAccount(ctx context.Context, id, fullName, email string) (types.User, error) {
	const query = `
		UPDATE users
		SET full_name = $1,
			email = $2,
			updated_at = $3
		WHERE id = $4
		RETURNING ` + userColumns
	return r.updateReturning(ctx, id, query, fullName, email, time.Now().UTC(), id)
}

func (r *UserRepository) UpdateAvatar(ctx context.Context, id, url string) (types.User, error) {
	const query = `UPDATE users SET avatar = $1, updated_at = $2 WHERE id = $3 RETURNING ` + userColumns
	return r.updateReturning(ctx, id, query, url, time.Now().UTC(), id)
}

func (r *UserRepository) UpdateCoverImage(ctx context.Context, id, url string) (types.User, error) {
	const query = `UPDATE users SET cover_image = $1, updated_at = $2 WHERE id = $3 RETURNING ` + userColumns
	return r.updateReturning(ctx, id, query, url, time.Now().UTC(), id)
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) (types.User, error) {
	const query = `UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3 RETURNING ` + userColumns
	return r.updateReturning(ctx, id, query, passwordHash, time.Now().UTC(), id)
}

// SetRefreshToken overwrites the stored refresh token. An empty token clears it.
func (r *UserRepository) SetRefreshToken(ctx context.Context, id, token string) error {
	const query = `UPDATE users SET refresh_token = $1, updated_at = $2 WHERE id = $3`
	return r.execAffected(ctx, id, query, nullString(token), time.Now().UTC(), id)
}

// SwapRefreshToken replaces the stored refresh token only while it still
// equals current. A lost race or a stale token yields ErrNotFound.
func (r *UserRepository) SwapRefreshToken(ctx context.Context, id, current, next string) error {
	if current == "" {
		return ErrNotFound
	}
	const query = `UPDATE users SET refresh_token = $1, updated_at = $2 WHERE id = $3 AND refresh_token = $4`
	return r.execAffected(ctx, id, query, nullString(next), time.Now().UTC(), id, current)
}

func (r *UserRepository) updateReturning(ctx context.Context, id, query string, args ...any) (types.User, error) {
	if !validID(id) {
		return types.User{}, ErrNotFound
	}
	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return types.User{}, mapWriteError(err)
	}
	return user, nil
}

func (r *UserRepository) execAffected(ctx context.Context, id, query string, args ...any) error {
	if !validID(id) {
		return ErrNotFound
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	var refreshToken sql.NullString
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.FullName,
		&user.Avatar,
		&user.CoverImage,
		&user.PasswordHash,
		&refreshToken,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	user.RefreshToken = refreshToken.String
	return user, nil
}

func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

// validID rejects ids that would make Postgres fail the uuid cast.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
