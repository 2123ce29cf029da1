package rbac

import (
	"context"
	"encoding/json"
	"fmt"
)

// Built-in policy names.
const (
	PolicyAdminFullAccess = "admin-full-access"
	PolicyMemberBase      = "member-base"
)

var builtinPolicies = []Policy{
	{
		Name:        PolicyAdminFullAccess,
		Description: "Grants every action on every resource.",
		Statements:  []Statement{{Effect: EffectAllow, Actions: []string{"*"}, Resources: []string{"*"}}},
		Builtin:     true,
	},
	{
		Name:        PolicyMemberBase,
		Description: "Baseline read access for regular members.",
		Statements: []Statement{{
			Effect:    EffectAllow,
			Actions:   []string{"user.read", "group.read"},
			Resources: []string{"*"},
		}},
		Builtin: true,
	},
}

var builtinRoles = map[string]string{
	RoleSuperadmin: PolicyAdminFullAccess,
	RoleAdmin:      PolicyAdminFullAccess,
	RoleMember:     PolicyMemberBase,
}

// EnsureBuiltins idempotently creates the built-in roles and policies
// and links them. Runs at startup, after migrations.
func (s *Store) EnsureBuiltins(ctx context.Context) error {
	policyIDs := make(map[string]int64, len(builtinPolicies))
	for _, p := range builtinPolicies {
		raw, err := json.Marshal(p.Statements)
		if err != nil {
			return fmt.Errorf("marshal statements: %w", err)
		}
		var id int64
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO policies (name, description, statements, builtin)
			VALUES ($1, $2, $3, TRUE)
			ON CONFLICT (name) DO UPDATE SET builtin = TRUE
			RETURNING id`,
			p.Name, p.Description, raw).Scan(&id)
		if err != nil {
			return fmt.Errorf("seed policy %q: %w", p.Name, err)
		}
		policyIDs[p.Name] = id
	}

	for roleName, policyName := range builtinRoles {
		var roleID int64
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO roles (name, description, builtin)
			VALUES ($1, $2, TRUE)
			ON CONFLICT (name) DO UPDATE SET builtin = TRUE
			RETURNING id`,
			roleName, "Built-in "+roleName+" role").Scan(&roleID)
		if err != nil {
			return fmt.Errorf("seed role %q: %w", roleName, err)
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO role_policies (role_id, policy_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			roleID, policyIDs[policyName])
		if err != nil {
			return fmt.Errorf("link role %q to policy %q: %w", roleName, policyName, err)
		}
	}
	return nil
}
