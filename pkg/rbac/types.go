// Package rbac implements role-based access control: roles reference
// policies, policies carry statements, and a checker evaluates whether
// a user's roles permit an action on a resource.
package rbac

import "time"

// Effect is the result a statement contributes.
type Effect string

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

// Valid reports whether the effect is one of the two known values.
func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// Statement grants or denies a set of actions on a set of resources.
// "*" in either list matches everything.
type Statement struct {
	Effect    Effect   `json:"effect"`
	Actions   []string `json:"actions"`
	Resources []string `json:"resources"`
}

// Policy is a named collection of statements.
type Policy struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Statements  []Statement `json:"statements"`
	Builtin     bool        `json:"builtin"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Role is a named grant target. Users hold roles; roles hold policies.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Builtin     bool      `json:"builtin"`
	Policies    []Policy  `json:"policies,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Built-in roles seeded at startup. Builtin roles and policies cannot
// be deleted or renamed.
const (
	RoleSuperadmin = "superadmin"
	RoleAdmin      = "admin"
	RoleMember     = "member"
)
