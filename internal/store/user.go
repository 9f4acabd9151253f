package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/platformai/sci-auth/types"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Timestamps are persisted as RFC 3339 UTC text so the column stays
// readable and sortable in the database file.
const timeLayout = time.RFC3339Nano

const userColumns = `user_id, user_name, role, credit, token, credential_kind, credential, api_key, created_at, updated_at`

// UserRepository handles persistence for user accounts.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByIdentifier(ctx context.Context, identifier string) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE user_id = ?`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, identifier))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// Create inserts a new account and fails with ErrDuplicate when the
// identifier is already taken. Registration uses this path so an existing
// credential can never be overwritten.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		user.Identifier,
		user.DisplayName,
		user.Role,
		user.Credit,
		user.TokenCount,
		user.CredentialKind,
		user.Credential,
		user.APIKey,
		now.Format(timeLayout),
		now.Format(timeLayout),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrDuplicate
		}
		return types.User{}, err
	}
	return user, nil
}

// Upsert inserts the account or, when the identifier already exists,
// refreshes its profile, balance, and credential fields. The whole
// operation is a single statement so two concurrent authentications of the
// same identifier can never interleave partial writes or produce two rows.
// Role and created_at are preserved on update.
func (r *UserRepository) Upsert(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()

	const query = `
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			user_name = excluded.user_name,
			credit = excluded.credit,
			token = excluded.token,
			credential_kind = excluded.credential_kind,
			credential = excluded.credential,
			api_key = excluded.api_key,
			updated_at = excluded.updated_at
		RETURNING ` + userColumns
	stored, err := scanUser(r.db.QueryRowContext(
		ctx,
		query,
		user.Identifier,
		user.DisplayName,
		user.Role,
		user.Credit,
		user.TokenCount,
		user.CredentialKind,
		user.Credential,
		user.APIKey,
		now.Format(timeLayout),
		now.Format(timeLayout),
	))
	if err != nil {
		return types.User{}, err
	}
	return stored, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	var createdAt, updatedAt string
	if err := row.Scan(
		&user.Identifier,
		&user.DisplayName,
		&user.Role,
		&user.Credit,
		&user.TokenCount,
		&user.CredentialKind,
		&user.Credential,
		&user.APIKey,
		&createdAt,
		&updatedAt,
	); err != nil {
		return types.User{}, err
	}

	var err error
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return types.User{}, err
	}
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return types.User{}, err
	}
	return user, nil
}

func parseTime(value string) (time.Time, error) {
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Parse(time.RFC3339, value)
	}
	return parsed, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
