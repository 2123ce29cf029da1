package groups

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gatherly/gatherly/pkg/auth"
	"github.com/gatherly/gatherly/pkg/httputil"
	"github.com/gatherly/gatherly/pkg/observability"
)

// Handlers serves the groups API. All endpoints require an
// authenticated actor.
type Handlers struct {
	service *Service
	logger  *observability.Logger
}

// NewHandlers builds group Handlers.
func NewHandlers(service *Service, logger *observability.Logger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

// RegisterRoutes mounts the group endpoints behind the auth
// middleware.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/groups", h.Create).Methods(http.MethodPost)
	router.HandleFunc("/groups", h.List).Methods(http.MethodGet)
	router.HandleFunc("/groups/{groupID:[0-9]+}", h.Get).Methods(http.MethodGet)
	router.HandleFunc("/groups/{groupID:[0-9]+}", h.Update).Methods(http.MethodPatch)
	router.HandleFunc("/groups/{groupID:[0-9]+}", h.Delete).Methods(http.MethodDelete)
	router.HandleFunc("/groups/{groupID:[0-9]+}/members", h.AddMembers).Methods(http.MethodPost)
	router.HandleFunc("/groups/{groupID:[0-9]+}/members", h.Members).Methods(http.MethodGet)
	router.HandleFunc("/groups/{groupID:[0-9]+}/members/{memberID:[0-9]+}", h.RemoveMember).Methods(http.MethodDelete)
	router.HandleFunc("/groups/{groupID:[0-9]+}/admins/{memberID:[0-9]+}", h.Promote).Methods(http.MethodPost)
	router.HandleFunc("/groups/{groupID:[0-9]+}/admins/{memberID:[0-9]+}", h.Demote).Methods(http.MethodDelete)
	router.HandleFunc("/groups/{groupID:[0-9]+}/join", h.Join).Methods(http.MethodPost)
	router.HandleFunc("/groups/{groupID:[0-9]+}/leave", h.Leave).Methods(http.MethodPost)
}

func actorID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return 0, false
	}
	return actor.ID, true
}

func pathIDs(w http.ResponseWriter, r *http.Request) (groupID int64, uid int64, ok bool) {
	groupID, ok = httputil.ParsePathInt64OrError(w, r, "groupID")
	if !ok {
		return 0, 0, false
	}
	uid, ok = httputil.ParsePathInt64OrError(w, r, "memberID")
	return groupID, uid, ok
}

// Create makes a new group.
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	var in CreateInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	result, err := h.service.Create(r.Context(), id, in)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, result)
}

// List returns groups visible to the caller, optionally filtered by
// search text or scoped with ?filterBy=mine|admin|created. Private
// groups the caller does not belong to are never listed.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	page, err := httputil.ParsePage(r, 10, 100)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	scope := ListScope(httputil.ParseQueryString(r, "filterBy", ""))
	switch scope {
	case ScopeDefault, ScopeMine, ScopeAdmin, ScopeCreated:
	default:
		httputil.WriteBadRequest(w, "filterBy must be one of: mine, admin, created")
		return
	}

	f := ListFilter{
		Search:   httputil.ParseQueryString(r, "search", ""),
		ViewerID: id,
		Scope:    scope,
		Limit:    page.Limit,
		Offset:   page.Offset(),
	}

	list, total, err := h.service.List(r.Context(), f)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"groups":     list,
		"pagination": httputil.NewPagination(page, int64(total)),
	})
}

// Get returns one group.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	groupID, ok := httputil.ParsePathInt64OrError(w, r, "groupID")
	if !ok {
		return
	}
	group, err := h.service.Get(r.Context(), groupID, id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, group)
}

// Update edits group details.
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	groupID, ok := httputil.ParsePathInt64OrError(w, r, "groupID")
	if !ok {
		return
	}
	var in UpdateInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	group, err := h.service.Update(r.Context(), groupID, id, in)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "group updated", group)
}

// Delete removes a group.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	groupID, ok := httputil.ParsePathInt64OrError(w, r, "groupID")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), groupID, id); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "group deleted", nil)
}

// AddMembers bulk-adds users to the group.
func (h *Handlers) AddMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	groupID, ok := httputil.ParsePathInt64OrError(w, r, "groupID")
	if !ok {
		return
	}
	var in struct {
		Members []int64 `json:"members"`
	}
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	result, err := h.service.AddMembers(r.Context(), groupID, id, in.Members)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// Members lists group members; ?role=admin restricts to admins.
func (h *Handlers) Members(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	groupID, ok := httputil.ParsePathInt64OrError(w, r, "groupID")
	if !ok {
		return
	}
	page, err := httputil.ParsePage(r, 20, 100)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	f := MemberFilter{
		AdminsOnly: httputil.ParseQueryString(r, "role", "") == "admin",
		Limit:      page.Limit,
		Offset:     page.Offset(),
	}
	members, total, err := h.service.Members(r.Context(), groupID, id, f)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"members":    members,
		"pagination": httputil.NewPagination(page, int64(total)),
	})
}

// RemoveMember removes a user from the group.
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	groupID, memberID, ok := pathIDs(w, r)
	if !ok {
		return
	}
	if err := h.service.RemoveMember(r.Context(), groupID, id, memberID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "member removed", nil)
}

// Promote makes a member an admin.
func (h *Handlers) Promote(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	groupID, memberID, ok := pathIDs(w, r)
	if !ok {
		return
	}
	if err := h.service.Promote(r.Context(), groupID, id, memberID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "member promoted to admin", nil)
}

// Demote strips admin from a member.
func (h *Handlers) Demote(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	groupID, memberID, ok := pathIDs(w, r)
	if !ok {
		return
	}
	if err := h.service.Demote(r.Context(), groupID, id, memberID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "admin demoted", nil)
}

// Join adds the caller to a public group.
func (h *Handlers) Join(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	groupID, ok := httputil.ParsePathInt64OrError(w, r, "groupID")
	if !ok {
		return
	}
	if err := h.service.Join(r.Context(), groupID, id); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "joined group", nil)
}

// Leave removes the caller from the group.
func (h *Handlers) Leave(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	groupID, ok := httputil.ParsePathInt64OrError(w, r, "groupID")
	if !ok {
		return
	}
	if err := h.service.Leave(r.Context(), groupID, id); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "left group", nil)
}
