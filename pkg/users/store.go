package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gatherly/gatherly/pkg/httputil"
	"github.com/gatherly/gatherly/pkg/storage/postgres"
)

const userColumns = `id, username, email, password_hash, full_name, date_of_birth, bio,
	location, website, avatar_url, cover_url, privacy, notifications,
	refresh_token_id, identity_provider_id, is_active, deactivated_at, deactivation_reason, created_at, updated_at`

// Store persists user accounts.
type Store struct {
	db *sql.DB
}

// NewStore builds a Store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new user. Username and email collisions surface as
// conflicts via the unique indexes.
func (s *Store) Create(ctx context.Context, u *User) error {
	privacy, err := json.Marshal(u.Privacy)
	if err != nil {
		return fmt.Errorf("marshal privacy: %w", err)
	}
	notifications, err := json.Marshal(u.Notifications)
	if err != nil {
		return fmt.Errorf("marshal notifications: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash, full_name, privacy, notifications)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		u.Username, u.Email, u.PasswordHash, u.FullName, privacy, notifications).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if postgres.IsUniqueViolation(err) {
		return httputil.Conflict("user with that username or email already exists")
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var (
		u             User
		dob           sql.NullTime
		idpID         sql.NullInt64
		deactivatedAt sql.NullTime
		privacy       []byte
		notifications []byte
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FullName, &dob, &u.Bio,
		&u.Location, &u.Website, &u.AvatarURL, &u.CoverURL, &privacy, &notifications,
		&u.RefreshTokenID, &idpID, &u.IsActive, &deactivatedAt, &u.DeactivationReason, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httputil.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if dob.Valid {
		u.DateOfBirth = &dob.Time
	}
	if idpID.Valid {
		u.IdentityProviderID = &idpID.Int64
	}
	if deactivatedAt.Valid {
		u.DeactivatedAt = &deactivatedAt.Time
	}
	if len(privacy) > 0 {
		if err := json.Unmarshal(privacy, &u.Privacy); err != nil {
			return nil, fmt.Errorf("unmarshal privacy: %w", err)
		}
	}
	if len(notifications) > 0 {
		if err := json.Unmarshal(notifications, &u.Notifications); err != nil {
			return nil, fmt.Errorf("unmarshal notifications: %w", err)
		}
	}
	return &u, nil
}

// GetByID fetches a user by id.
func (s *Store) GetByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id)
	return scanUser(row)
}

// GetByLogin fetches a user by username or email, case-insensitively.
func (s *Store) GetByLogin(ctx context.Context, login string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE lower(username) = lower($1) OR lower(email) = lower($1)", login)
	return scanUser(row)
}

// UsernameTaken reports whether another user holds the username.
func (s *Store) UsernameTaken(ctx context.Context, username string, excludeID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM users WHERE lower(username) = lower($1) AND id <> $2)",
		username, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return exists, nil
}

// List returns a page of users ordered by id, with the total count.
// A non-empty search matches username or email substrings.
func (s *Store) List(ctx context.Context, search string, limit, offset int) ([]User, int, error) {
	where := ""
	args := []interface{}{}
	if search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		where = " WHERE lower(username) LIKE $1 OR lower(email) LIKE $1"
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf("SELECT %s FROM users%s ORDER BY id LIMIT $%d OFFSET $%d",
		userColumns, where, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	list := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *u)
	}
	return list, total, rows.Err()
}

// ProfileUpdate carries sparse profile changes; nil fields are left
// untouched.
type ProfileUpdate struct {
	FullName    *string
	Username    *string
	Bio         *string
	Location    *string
	Website     *string
	DateOfBirth *time.Time
	ClearDOB    bool
}

// UpdateProfile applies a sparse update and returns the fresh row.
func (s *Store) UpdateProfile(ctx context.Context, id int64, upd ProfileUpdate) (*User, error) {
	sets := []string{}
	args := []interface{}{id}
	set := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.FullName != nil {
		set("full_name", *upd.FullName)
	}
	if upd.Username != nil {
		set("username", *upd.Username)
	}
	if upd.Bio != nil {
		set("bio", *upd.Bio)
	}
	if upd.Location != nil {
		set("location", *upd.Location)
	}
	if upd.Website != nil {
		set("website", *upd.Website)
	}
	if upd.ClearDOB {
		sets = append(sets, "date_of_birth = NULL")
	} else if upd.DateOfBirth != nil {
		set("date_of_birth", *upd.DateOfBirth)
	}

	if len(sets) == 0 {
		return nil, httputil.BadRequest("no fields to update")
	}
	sets = append(sets, "updated_at = now()")

	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $1 RETURNING %s",
		strings.Join(sets, ", "), userColumns)
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if postgres.IsUniqueViolation(err) {
		return nil, httputil.Conflict("username is already taken")
	}
	return u, err
}

// UpdateEmail changes the email address.
func (s *Store) UpdateEmail(ctx context.Context, id int64, email string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET email = $2, updated_at = now() WHERE id = $1", id, email)
	if postgres.IsUniqueViolation(err) {
		return httputil.Conflict("email is already in use")
	}
	if err != nil {
		return fmt.Errorf("update email: %w", err)
	}
	return requireOneRow(res)
}

// SetAvatar updates the avatar URL. An empty URL clears it.
func (s *Store) SetAvatar(ctx context.Context, id int64, url string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET avatar_url = $2, updated_at = now() WHERE id = $1", id, url)
	if err != nil {
		return fmt.Errorf("set avatar: %w", err)
	}
	return requireOneRow(res)
}

// UpdatePassword sets a new hash and clears the stored refresh token
// id in one statement, logging the user out everywhere.
func (s *Store) UpdatePassword(ctx context.Context, id int64, hash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, refresh_token_id = '', updated_at = now()
		WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireOneRow(res)
}

// SetRefreshTokenID records the jti of the current refresh token.
// Empty string means no valid refresh token.
func (s *Store) SetRefreshTokenID(ctx context.Context, id int64, jti string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET refresh_token_id = $2, updated_at = now() WHERE id = $1", id, jti)
	if err != nil {
		return fmt.Errorf("set refresh token id: %w", err)
	}
	return requireOneRow(res)
}

// SetIdentityProvider links the account to an external identity
// provider. A nil providerID clears the link.
func (s *Store) SetIdentityProvider(ctx context.Context, id int64, providerID *int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET identity_provider_id = $2, updated_at = now() WHERE id = $1", id, providerID)
	if postgres.IsForeignKeyViolation(err) {
		return httputil.NotFound("identity provider not found")
	}
	if err != nil {
		return fmt.Errorf("set identity provider: %w", err)
	}
	return requireOneRow(res)
}

// UpdatePrivacy replaces the privacy settings.
func (s *Store) UpdatePrivacy(ctx context.Context, id int64, p PrivacySettings) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal privacy: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET privacy = $2, updated_at = now() WHERE id = $1", id, raw)
	if err != nil {
		return fmt.Errorf("update privacy: %w", err)
	}
	return requireOneRow(res)
}

// UpdateNotifications replaces the notification settings.
func (s *Store) UpdateNotifications(ctx context.Context, id int64, n NotificationSettings) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notifications: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET notifications = $2, updated_at = now() WHERE id = $1", id, raw)
	if err != nil {
		return fmt.Errorf("update notifications: %w", err)
	}
	return requireOneRow(res)
}

// Deactivate marks the account inactive and clears the refresh token.
func (s *Store) Deactivate(ctx context.Context, id int64, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_active = FALSE, deactivated_at = now(),
			deactivation_reason = $2, refresh_token_id = '', updated_at = now()
		WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	return requireOneRow(res)
}

// Reactivate restores a deactivated account.
func (s *Store) Reactivate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_active = TRUE, deactivated_at = NULL,
			deactivation_reason = '', updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("reactivate user: %w", err)
	}
	return requireOneRow(res)
}

// Delete removes the account permanently. Memberships and role grants
// cascade.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireOneRow(res)
}

// PurgeDeactivatedBefore deletes accounts deactivated before the
// cutoff. Called by the maintenance job once the reactivation window
// has passed.
func (s *Store) PurgeDeactivatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM users WHERE NOT is_active AND deactivated_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge deactivated users: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge deactivated users: rows affected: %w", err)
	}
	return n, nil
}

// Counts returns total and active user counts for gauges.
func (s *Store) Counts(ctx context.Context) (total, active int64, err error) {
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(*) FILTER (WHERE is_active) FROM users").Scan(&total, &active)
	if err != nil {
		return 0, 0, fmt.Errorf("count users: %w", err)
	}
	return total, active, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return httputil.NotFound("user not found")
	}
	return nil
}
