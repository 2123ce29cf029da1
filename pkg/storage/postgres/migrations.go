package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gatherly/gatherly/pkg/observability"
)

// migrations run in order inside a single transaction per statement
// group. Statements are idempotent so startup can re-apply them.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL,
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		date_of_birth DATE,
		bio TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		website TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		cover_url TEXT NOT NULL DEFAULT '',
		privacy JSONB NOT NULL DEFAULT '{}',
		notifications JSONB NOT NULL DEFAULT '{}',
		refresh_token_id TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		deactivated_at TIMESTAMPTZ,
		deactivation_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_username_key ON users (lower(username))`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_key ON users (lower(email))`,
	`CREATE INDEX IF NOT EXISTS users_deactivated_at_idx ON users (deactivated_at) WHERE deactivated_at IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS policies (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		statements JSONB NOT NULL DEFAULT '[]',
		builtin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS policies_name_key ON policies (name)`,

	`CREATE TABLE IF NOT EXISTS roles (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		builtin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS roles_name_key ON roles (name)`,

	`CREATE TABLE IF NOT EXISTS role_policies (
		role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		policy_id BIGINT NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
		PRIMARY KEY (role_id, policy_id)
	)`,

	`CREATE TABLE IF NOT EXISTS user_roles (
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		granted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, role_id)
	)`,

	`CREATE TABLE IF NOT EXISTS groups (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_private BOOLEAN NOT NULL DEFAULT FALSE,
		creator_id BIGINT NOT NULL REFERENCES users(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS groups_name_key ON groups (lower(name))`,

	`CREATE TABLE IF NOT EXISTS group_members (
		group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (group_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS group_members_user_idx ON group_members (user_id)`,

	`CREATE TABLE IF NOT EXISTS identity_providers (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'oidc',
		issuer_url TEXT NOT NULL,
		client_id TEXT NOT NULL,
		client_secret TEXT NOT NULL DEFAULT '',
		redirect_url TEXT NOT NULL DEFAULT '',
		scopes TEXT NOT NULL DEFAULT 'openid,profile,email',
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS identity_providers_name_key ON identity_providers (name)`,

	// Accounts provisioned through an external provider keep a back
	// reference; locally registered accounts leave it NULL.
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS
		identity_provider_id BIGINT REFERENCES identity_providers(id) ON DELETE SET NULL`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		actor_id BIGINT,
		action TEXT NOT NULL,
		resource TEXT NOT NULL,
		outcome TEXT NOT NULL,
		request_id TEXT NOT NULL DEFAULT '',
		remote_addr TEXT NOT NULL DEFAULT '',
		detail JSONB NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS audit_logs_occurred_at_idx ON audit_logs (occurred_at)`,
	`CREATE INDEX IF NOT EXISTS audit_logs_actor_idx ON audit_logs (actor_id)`,
}

// Migrate applies the schema. Safe to call on every startup.
func Migrate(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	logger.WithField("statements", len(migrations)).Info("schema migrations applied")
	return nil
}
