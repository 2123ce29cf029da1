package rbac

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/gatherly/gatherly/pkg/audit"
	"github.com/gatherly/gatherly/pkg/auth"
	"github.com/gatherly/gatherly/pkg/contextkeys"
	"github.com/gatherly/gatherly/pkg/httputil"
	"github.com/gatherly/gatherly/pkg/observability"
)

// Handlers serves the role and policy administration API.
type Handlers struct {
	store    *Store
	checker  *Checker
	recorder audit.Recorder
	logger   *observability.Logger
}

// NewHandlers builds rbac Handlers.
func NewHandlers(store *Store, checker *Checker, recorder audit.Recorder, logger *observability.Logger) *Handlers {
	return &Handlers{store: store, checker: checker, recorder: recorder, logger: logger}
}

// RegisterRoutes mounts the RBAC admin endpoints. The caller applies
// the admin-role middleware to the subrouter.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/policies", h.CreatePolicy).Methods(http.MethodPost)
	router.HandleFunc("/policies", h.ListPolicies).Methods(http.MethodGet)
	router.HandleFunc("/policies/{id:[0-9]+}", h.GetPolicy).Methods(http.MethodGet)
	router.HandleFunc("/policies/{id:[0-9]+}", h.UpdatePolicy).Methods(http.MethodPut)
	router.HandleFunc("/policies/{id:[0-9]+}", h.DeletePolicy).Methods(http.MethodDelete)

	router.HandleFunc("/roles", h.CreateRole).Methods(http.MethodPost)
	router.HandleFunc("/roles", h.ListRoles).Methods(http.MethodGet)
	router.HandleFunc("/roles/{id:[0-9]+}", h.GetRole).Methods(http.MethodGet)
	router.HandleFunc("/roles/{id:[0-9]+}", h.UpdateRole).Methods(http.MethodPut)
	router.HandleFunc("/roles/{id:[0-9]+}", h.DeleteRole).Methods(http.MethodDelete)
	router.HandleFunc("/roles/{id:[0-9]+}/policies/{policyID:[0-9]+}", h.AttachPolicy).Methods(http.MethodPost)
	router.HandleFunc("/roles/{id:[0-9]+}/policies/{policyID:[0-9]+}", h.DetachPolicy).Methods(http.MethodDelete)
	router.HandleFunc("/roles/{id:[0-9]+}/users", h.ListRoleUsers).Methods(http.MethodGet)

	router.HandleFunc("/users/{id:[0-9]+}/roles/{roleID:[0-9]+}", h.AssignRole).Methods(http.MethodPost)
	router.HandleFunc("/users/{id:[0-9]+}/roles/{roleID:[0-9]+}", h.RevokeRole).Methods(http.MethodDelete)

	router.HandleFunc("/permissions/check", h.CheckPermission).Methods(http.MethodPost)
}

func validateStatements(statements []Statement) error {
	if len(statements) == 0 {
		return httputil.BadRequest("policy requires at least one statement")
	}
	for i, st := range statements {
		if !st.Effect.Valid() {
			return httputil.BadRequest("statement %d: effect must be Allow or Deny", i)
		}
		if len(st.Actions) == 0 {
			return httputil.BadRequest("statement %d: actions must not be empty", i)
		}
		if len(st.Resources) == 0 {
			return httputil.BadRequest("statement %d: resources must not be empty", i)
		}
	}
	return nil
}

type policyRequest struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Statements  []Statement `json:"statements"`
}

// CreatePolicy creates a policy from a name and statements.
func (h *Handlers) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		httputil.WriteBadRequest(w, "policy name is required")
		return
	}
	if err := validateStatements(req.Statements); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	policy := &Policy{Name: req.Name, Description: req.Description, Statements: req.Statements}
	if err := h.store.CreatePolicy(r.Context(), policy); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	h.record(r, "policy.create", "policy:"+policy.Name, audit.OutcomeSuccess, nil)
	httputil.WriteCreated(w, policy)
}

// ListPolicies returns every policy.
func (h *Handlers) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.store.ListPolicies(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"policies": policies})
}

// GetPolicy returns one policy by id.
func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	policy, err := h.store.GetPolicy(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, policy)
}

// UpdatePolicy replaces a policy's description and statements and
// invalidates cached decisions derived from it.
func (h *Handlers) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req policyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := validateStatements(req.Statements); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	policy := &Policy{ID: id, Description: req.Description, Statements: req.Statements}
	if err := h.store.UpdatePolicy(r.Context(), policy); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	// A statement change can affect any role holding the policy.
	h.checker.InvalidateAll()
	h.record(r, "policy.update", policyResource(id), audit.OutcomeSuccess, nil)
	httputil.WriteSuccessMessage(w, "policy updated", nil)
}

// DeletePolicy removes a non-builtin policy.
func (h *Handlers) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeletePolicy(r.Context(), id); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	h.checker.InvalidateAll()
	h.record(r, "policy.delete", policyResource(id), audit.OutcomeSuccess, nil)
	httputil.WriteNoContent(w)
}

type roleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateRole creates a role.
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		httputil.WriteBadRequest(w, "role name is required")
		return
	}

	role := &Role{Name: req.Name, Description: req.Description}
	if err := h.store.CreateRole(r.Context(), role); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	h.record(r, "role.create", "role:"+role.Name, audit.OutcomeSuccess, nil)
	httputil.WriteCreated(w, role)
}

// ListRoles returns every role.
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"roles": roles})
}

// GetRole returns one role with its policies.
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// UpdateRole updates a role's description.
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.store.UpdateRole(r.Context(), &Role{ID: id, Description: req.Description}); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	h.record(r, "role.update", roleResource(id), audit.OutcomeSuccess, nil)
	httputil.WriteSuccessMessage(w, "role updated", nil)
}

// DeleteRole removes a non-builtin role.
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	h.checker.InvalidateRole(r.Context(), id)
	if err := h.store.DeleteRole(r.Context(), id); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	h.record(r, "role.delete", roleResource(id), audit.OutcomeSuccess, nil)
	httputil.WriteNoContent(w)
}

// ListRoleUsers returns the ids of users holding a role.
func (h *Handlers) ListRoleUsers(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.store.GetRole(r.Context(), id); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	userIDs, err := h.store.UsersWithRole(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"userIds": userIDs})
}

// AttachPolicy links a policy to a role.
func (h *Handlers) AttachPolicy(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	policyID, ok := httputil.ParsePathInt64OrError(w, r, "policyID")
	if !ok {
		return
	}
	// Surface missing rows as 404s before the FK would.
	if _, err := h.store.GetRole(r.Context(), roleID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if _, err := h.store.GetPolicy(r.Context(), policyID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if err := h.store.AttachPolicy(r.Context(), roleID, policyID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	h.checker.InvalidateRole(r.Context(), roleID)
	h.record(r, "role.attach_policy", roleResource(roleID), audit.OutcomeSuccess,
		map[string]interface{}{"policyId": policyID})
	httputil.WriteSuccessMessage(w, "policy attached", nil)
}

// DetachPolicy unlinks a policy from a role.
func (h *Handlers) DetachPolicy(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	policyID, ok := httputil.ParsePathInt64OrError(w, r, "policyID")
	if !ok {
		return
	}
	if err := h.store.DetachPolicy(r.Context(), roleID, policyID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	h.checker.InvalidateRole(r.Context(), roleID)
	h.record(r, "role.detach_policy", roleResource(roleID), audit.OutcomeSuccess,
		map[string]interface{}{"policyId": policyID})
	httputil.WriteSuccessMessage(w, "policy detached", nil)
}

// AssignRole grants a role to a user.
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}
	if _, err := h.store.GetRole(r.Context(), roleID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if err := h.store.AssignRole(r.Context(), userID, roleID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	h.checker.InvalidateUser(userID)
	h.record(r, "user.assign_role", userResource(userID), audit.OutcomeSuccess,
		map[string]interface{}{"roleId": roleID})
	httputil.WriteSuccessMessage(w, "role assigned", nil)
}

// RevokeRole removes a role from a user.
func (h *Handlers) RevokeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.store.RevokeRole(r.Context(), userID, roleID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	h.checker.InvalidateUser(userID)
	h.record(r, "user.revoke_role", userResource(userID), audit.OutcomeSuccess,
		map[string]interface{}{"roleId": roleID})
	httputil.WriteSuccessMessage(w, "role revoked", nil)
}

type checkRequest struct {
	UserID   int64  `json:"userId"`
	Action   string `json:"action"`
	Resource string `json:"resource"`
}

// CheckPermission evaluates a permission question for any user. Meant
// for admins debugging policy configurations.
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID <= 0 || req.Action == "" || req.Resource == "" {
		httputil.WriteBadRequest(w, "userId, action, and resource are required")
		return
	}
	allowed, err := h.checker.Allowed(r.Context(), req.UserID, req.Action, req.Resource)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"allowed": allowed})
}

func (h *Handlers) record(r *http.Request, action, resource string, outcome audit.Outcome, detail map[string]interface{}) {
	ev := audit.Event{
		Action:     action,
		Resource:   resource,
		Outcome:    outcome,
		RequestID:  contextkeys.RequestID(r.Context()),
		RemoteAddr: r.RemoteAddr,
		Detail:     detail,
	}
	if actor, ok := auth.ActorFromContext(r.Context()); ok {
		ev.ActorID = &actor.ID
	}
	if err := h.recorder.Record(r.Context(), ev); err != nil {
		h.logger.WithError(err).WithField("action", action).Warn("audit record failed")
	}
}

func policyResource(id int64) string {
	return "policy:" + strconv.FormatInt(id, 10)
}

func roleResource(id int64) string {
	return "role:" + strconv.FormatInt(id, 10)
}

func userResource(id int64) string {
	return "user:" + strconv.FormatInt(id, 10)
}
