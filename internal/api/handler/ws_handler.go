package handler

import (
	"net/http"

	"github.com/notifyhub/alertflow/internal/realtime"
)

// WSHandler upgrades in-app clients to a websocket feed.
type WSHandler struct {
	hub *realtime.Hub
}

func NewWSHandler(hub *realtime.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// Serve handles GET /api/v1/ws. The gateway authenticates the caller and
// forwards its id in X-User-ID.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}
	h.hub.Serve(w, r, userID)
}
