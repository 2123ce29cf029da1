package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gatherly/gatherly/pkg/httputil"
	"github.com/gatherly/gatherly/pkg/storage/postgres"
)

// Store persists roles, policies, and their associations.
type Store struct {
	db *sql.DB
}

// NewStore builds a Store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreatePolicy inserts a policy. Name collisions surface as conflicts.
func (s *Store) CreatePolicy(ctx context.Context, p *Policy) error {
	raw, err := json.Marshal(p.Statements)
	if err != nil {
		return fmt.Errorf("marshal statements: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO policies (name, description, statements, builtin)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		p.Name, p.Description, raw, p.Builtin).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if postgres.IsUniqueViolation(err) {
		return httputil.Conflict("policy %q already exists", p.Name)
	}
	if err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}
	return nil
}

// GetPolicy fetches a policy by id.
func (s *Store) GetPolicy(ctx context.Context, id int64) (*Policy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, statements, builtin, created_at, updated_at
		FROM policies WHERE id = $1`, id)
	return scanPolicy(row)
}

// GetPolicyByName fetches a policy by unique name.
func (s *Store) GetPolicyByName(ctx context.Context, name string) (*Policy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, statements, builtin, created_at, updated_at
		FROM policies WHERE name = $1`, name)
	return scanPolicy(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPolicy(row rowScanner) (*Policy, error) {
	var (
		p   Policy
		raw []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &raw, &p.Builtin, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httputil.NotFound("policy not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan policy: %w", err)
	}
	if err := json.Unmarshal(raw, &p.Statements); err != nil {
		return nil, fmt.Errorf("unmarshal statements: %w", err)
	}
	return &p, nil
}

// ListPolicies returns all policies ordered by name.
func (s *Store) ListPolicies(ctx context.Context) ([]Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, statements, builtin, created_at, updated_at
		FROM policies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	defer rows.Close()

	policies := []Policy{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

// UpdatePolicy replaces a policy's description and statements. Builtin
// policies keep their name.
func (s *Store) UpdatePolicy(ctx context.Context, p *Policy) error {
	raw, err := json.Marshal(p.Statements)
	if err != nil {
		return fmt.Errorf("marshal statements: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE policies SET description = $2, statements = $3, updated_at = now()
		WHERE id = $1`, p.ID, p.Description, raw)
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	return requireOneRow(res, "policy not found")
}

// DeletePolicy removes a non-builtin policy.
func (s *Store) DeletePolicy(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM policies WHERE id = $1 AND NOT builtin", id)
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	return requireOneRow(res, "policy not found or builtin")
}

// CreateRole inserts a role.
func (s *Store) CreateRole(ctx context.Context, r *Role) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO roles (name, description, builtin)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		r.Name, r.Description, r.Builtin).
		Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if postgres.IsUniqueViolation(err) {
		return httputil.Conflict("role %q already exists", r.Name)
	}
	if err != nil {
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

// GetRole fetches a role and its attached policies.
func (s *Store) GetRole(ctx context.Context, id int64) (*Role, error) {
	var r Role
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, builtin, created_at, updated_at
		FROM roles WHERE id = $1`, id).
		Scan(&r.ID, &r.Name, &r.Description, &r.Builtin, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httputil.NotFound("role not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan role: %w", err)
	}
	policies, err := s.policiesForRole(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r.Policies = policies
	return &r, nil
}

// GetRoleByName fetches a role by unique name, without policies.
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	var r Role
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, builtin, created_at, updated_at
		FROM roles WHERE name = $1`, name).
		Scan(&r.ID, &r.Name, &r.Description, &r.Builtin, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httputil.NotFound("role not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan role: %w", err)
	}
	return &r, nil
}

func (s *Store) policiesForRole(ctx context.Context, roleID int64) ([]Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.description, p.statements, p.builtin, p.created_at, p.updated_at
		FROM policies p
		JOIN role_policies rp ON rp.policy_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.name`, roleID)
	if err != nil {
		return nil, fmt.Errorf("query role policies: %w", err)
	}
	defer rows.Close()

	policies := []Policy{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

// ListRoles returns all roles ordered by name, without policies.
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, builtin, created_at, updated_at
		FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Builtin, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// UpdateRole updates a role's description.
func (s *Store) UpdateRole(ctx context.Context, r *Role) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE roles SET description = $2, updated_at = now()
		WHERE id = $1`, r.ID, r.Description)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return requireOneRow(res, "role not found")
}

// DeleteRole removes a non-builtin role.
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM roles WHERE id = $1 AND NOT builtin", id)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	return requireOneRow(res, "role not found or builtin")
}

// AttachPolicy links a policy to a role. Attaching twice is a no-op.
func (s *Store) AttachPolicy(ctx context.Context, roleID, policyID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_policies (role_id, policy_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, roleID, policyID)
	if err != nil {
		return fmt.Errorf("attach policy: %w", err)
	}
	return nil
}

// DetachPolicy unlinks a policy from a role.
func (s *Store) DetachPolicy(ctx context.Context, roleID, policyID int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM role_policies WHERE role_id = $1 AND policy_id = $2", roleID, policyID)
	if err != nil {
		return fmt.Errorf("detach policy: %w", err)
	}
	return requireOneRow(res, "policy not attached to role")
}

// AssignRole grants a role to a user. Assigning twice is a no-op.
func (s *Store) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// RevokeRole removes a role from a user.
func (s *Store) RevokeRole(ctx context.Context, userID, roleID int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2", userID, roleID)
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	return requireOneRow(res, "role not assigned to user")
}

// RolesForUser returns the names of the user's roles.
func (s *Store) RolesForUser(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.name FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user roles: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan role name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// PoliciesForUser returns every policy reachable through the user's
// roles, deduplicated by id.
func (s *Store) PoliciesForUser(ctx context.Context, userID int64) ([]Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT p.id, p.name, p.description, p.statements, p.builtin, p.created_at, p.updated_at
		FROM policies p
		JOIN role_policies rp ON rp.policy_id = p.id
		JOIN user_roles ur ON ur.role_id = rp.role_id
		WHERE ur.user_id = $1
		ORDER BY p.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user policies: %w", err)
	}
	defer rows.Close()

	policies := []Policy{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

// UsersWithRole returns the ids of users holding the role. The checker
// uses it to invalidate cached decisions when a role changes.
func (s *Store) UsersWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM user_roles WHERE role_id = $1", roleID)
	if err != nil {
		return nil, fmt.Errorf("query role users: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func requireOneRow(res sql.Result, notFoundMsg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return httputil.NotFound("%s", notFoundMsg)
	}
	return nil
}
