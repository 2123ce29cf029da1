package account

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gatherly/gatherly/pkg/auth"
	"github.com/gatherly/gatherly/pkg/contextkeys"
	"github.com/gatherly/gatherly/pkg/httputil"
	"github.com/gatherly/gatherly/pkg/observability"
)

// Handlers serves the account settings API. Every endpoint operates on
// the authenticated user only.
type Handlers struct {
	service *Service
	logger  *observability.Logger
}

// NewHandlers builds account Handlers.
func NewHandlers(service *Service, logger *observability.Logger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

// RegisterRoutes mounts the account settings endpoints behind the auth
// middleware.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/account-settings", h.Get).Methods(http.MethodGet)
	router.HandleFunc("/account-settings/profile", h.UpdateProfile).Methods(http.MethodPatch)
	router.HandleFunc("/account-settings/email", h.UpdateEmail).Methods(http.MethodPatch)
	router.HandleFunc("/account-settings/password", h.ChangePassword).Methods(http.MethodPatch)
	router.HandleFunc("/account-settings/avatar", h.UpdateAvatar).Methods(http.MethodPatch)
	router.HandleFunc("/account-settings/avatar", h.RemoveAvatar).Methods(http.MethodDelete)
	router.HandleFunc("/account-settings/cover", h.UpdateCover).Methods(http.MethodPatch)
	router.HandleFunc("/account-settings/privacy", h.UpdatePrivacy).Methods(http.MethodPatch)
	router.HandleFunc("/account-settings/notifications", h.UpdateNotifications).Methods(http.MethodPatch)
	router.HandleFunc("/account-settings/sessions", h.Sessions).Methods(http.MethodGet)
	router.HandleFunc("/account-settings/sessions/{sessionID}", h.RevokeSession).Methods(http.MethodDelete)
	router.HandleFunc("/account-settings/deactivate", h.Deactivate).Methods(http.MethodPost)
	router.HandleFunc("/account-settings/delete", h.Delete).Methods(http.MethodDelete)
	router.HandleFunc("/account-settings/export-data", h.ExportData).Methods(http.MethodGet)
}

func actorID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return 0, false
	}
	return actor.ID, true
}

// Get returns the full settings view.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// UpdateProfile applies a sparse profile update.
func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	var in ProfileInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	user, err := h.service.UpdateProfile(r.Context(), id, in)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "profile updated", user)
}

// UpdateEmail changes the email address.
func (h *Handlers) UpdateEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	var in struct {
		NewEmail string `json:"newEmail"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	user, err := h.service.UpdateEmail(r.Context(), id, in.NewEmail, in.Password)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "email updated", user)
}

// ChangePassword rotates the password and ends all sessions.
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	var in struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
		ConfirmPassword string `json:"confirmPassword"`
	}
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if err := h.service.ChangePassword(r.Context(), id, in.CurrentPassword, in.NewPassword, in.ConfirmPassword); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "password changed, please log in again on all devices", nil)
}

// UpdateAvatar is not available; image storage is not wired up yet.
func (h *Handlers) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	httputil.WriteServiceError(w, httputil.NotImplemented("avatar upload is not available"))
}

// RemoveAvatar clears the current avatar.
func (h *Handlers) RemoveAvatar(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	if err := h.service.RemoveAvatar(r.Context(), id); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "avatar removed", nil)
}

// UpdateCover is not available; image storage is not wired up yet.
func (h *Handlers) UpdateCover(w http.ResponseWriter, r *http.Request) {
	httputil.WriteServiceError(w, httputil.NotImplemented("cover image upload is not available"))
}

// UpdatePrivacy merges privacy flags.
func (h *Handlers) UpdatePrivacy(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	var in PrivacyInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	privacy, err := h.service.UpdatePrivacy(r.Context(), id, in)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "privacy settings updated", privacy)
}

// UpdateNotifications merges notification flags.
func (h *Handlers) UpdateNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	var in NotificationsInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	prefs, err := h.service.UpdateNotifications(r.Context(), id, in)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "notification preferences updated", prefs)
}

// Sessions lists the user's live sessions.
func (h *Handlers) Sessions(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	views, err := h.service.Sessions(r.Context(), id, contextkeys.SessionID(r.Context()))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"sessions": views})
}

// RevokeSession ends one of the user's other sessions.
func (h *Handlers) RevokeSession(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	sessionID, err := httputil.ParsePathString(r, "sessionID")
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if err := h.service.RevokeSession(r.Context(), id, sessionID, contextkeys.SessionID(r.Context())); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "session revoked", nil)
}

// Deactivate disables the account.
func (h *Handlers) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	var in struct {
		Password string `json:"password"`
		Reason   string `json:"reason"`
	}
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if err := h.service.Deactivate(r.Context(), id, in.Password, in.Reason); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "account deactivated, log in within 30 days to reactivate", nil)
}

// Delete permanently removes the account.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	var in struct {
		Password     string `json:"password"`
		Confirmation string `json:"confirmation"`
	}
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if err := h.service.Delete(r.Context(), id, in.Password, in.Confirmation); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccessMessage(w, "account deleted permanently", nil)
}

// ExportData returns everything stored about the user as JSON.
func (h *Handlers) ExportData(w http.ResponseWriter, r *http.Request) {
	id, ok := actorID(w, r)
	if !ok {
		return
	}
	export, err := h.service.ExportData(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="gatherly-export.json"`)
	httputil.WriteSuccess(w, export)
}
