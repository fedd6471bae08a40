package handler

import (
	"net/http"

	"github.com/notifyhub/alertflow/internal/domain"
	"github.com/notifyhub/alertflow/internal/service"
)

// EscalationHandler manages escalation rules and role assignments.
type EscalationHandler struct {
	svc *service.RuleService
}

func NewEscalationHandler(svc *service.RuleService) *EscalationHandler {
	return &EscalationHandler{svc: svc}
}

// ListRules handles GET /api/v1/escalation-rules
func (h *EscalationHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.svc.ListRules(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": rules})
}

// UpsertRule handles PUT /api/v1/escalation-rules
func (h *EscalationHandler) UpsertRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.EscalationRule
	if !decodeJSON(w, r, &rule) {
		return
	}
	saved, err := h.svc.UpsertRule(r.Context(), &rule)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, saved)
}

// AssignRole handles PUT /api/v1/roles
func (h *EscalationHandler) AssignRole(w http.ResponseWriter, r *http.Request) {
	var a domain.RoleAssignment
	if !decodeJSON(w, r, &a) {
		return
	}
	saved, err := h.svc.AssignRole(r.Context(), &a)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, saved)
}
