package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/notifyhub/alertflow/internal/domain"
	"github.com/notifyhub/alertflow/internal/service"
)

type PreferencesHandler struct {
	svc *service.NotificationService
}

func NewPreferencesHandler(svc *service.NotificationService) *PreferencesHandler {
	return &PreferencesHandler{svc: svc}
}

// Get handles GET /api/v1/users/{userID}/preferences
func (h *PreferencesHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetPreferences(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// Put handles PUT /api/v1/users/{userID}/preferences. The path decides
// whose preferences are written.
func (h *PreferencesHandler) Put(w http.ResponseWriter, r *http.Request) {
	var p domain.NotificationPreferences
	if !decodeJSON(w, r, &p) {
		return
	}
	p.UserID = chi.URLParam(r, "userID")

	saved, err := h.svc.UpdatePreferences(r.Context(), &p)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, saved)
}
