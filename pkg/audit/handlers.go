package audit

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/gatherly/gatherly/pkg/httputil"
	"github.com/gatherly/gatherly/pkg/observability"
)

// Handlers serves the audit log query API.
type Handlers struct {
	recorder Recorder
	logger   *observability.Logger
}

// NewHandlers builds audit Handlers.
func NewHandlers(recorder Recorder, logger *observability.Logger) *Handlers {
	return &Handlers{recorder: recorder, logger: logger}
}

// RegisterRoutes mounts the audit endpoints. Access control is applied
// by the caller's middleware chain.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit-logs", h.List).Methods(http.MethodGet)
}

// List returns audit events filtered by query parameters.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePage(r, 50, 200)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	actorID, err := httputil.ParseQueryInt(r, "actorId", 0)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid actorId")
		return
	}

	f := Filter{
		ActorID:  int64(actorID),
		Action:   httputil.ParseQueryString(r, "action", ""),
		Resource: httputil.ParseQueryString(r, "resource", ""),
		Outcome:  Outcome(httputil.ParseQueryString(r, "outcome", "")),
		Limit:    page.Limit,
		Offset:   page.Offset(),
	}
	if raw := httputil.ParseQueryString(r, "since", ""); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid since timestamp, expected RFC3339")
			return
		}
		f.Since = since
	}
	if raw := httputil.ParseQueryString(r, "until", ""); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid until timestamp, expected RFC3339")
			return
		}
		f.Until = until
	}

	events, total, err := h.recorder.List(r.Context(), f)
	if err != nil {
		h.logger.WithError(err).Error("failed to list audit events")
		httputil.WriteServiceError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events":     events,
		"pagination": httputil.NewPagination(page, int64(total)),
	})
}
