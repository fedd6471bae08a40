package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/alertflow/internal/api/middleware"
	"github.com/notifyhub/alertflow/internal/domain"
	"github.com/notifyhub/alertflow/internal/service"
)

// NotificationHandler handles notification endpoints.
type NotificationHandler struct {
	svc    *service.NotificationService
	logger *zap.Logger
}

func NewNotificationHandler(svc *service.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{svc: svc, logger: logger}
}

// Create handles POST /api/v1/notifications
//
// @Summary     Create a notification
// @Tags        notifications
// @Accept      json
// @Produce     json
// @Param       X-Idempotency-Key  header    string                           false  "Idempotency key"
// @Param       body               body      domain.CreateNotificationRequest true   "Notification payload"
// @Success     201                {object}  domain.Notification
// @Success     200                {object}  domain.Notification              "Duplicate: returned existing notification"
// @Failure     422                {object}  map[string]string
// @Failure     429                {object}  domain.RateLimitDecision
// @Router      /api/v1/notifications [post]
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateNotificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	idempotencyKey := r.Header.Get("X-Idempotency-Key")
	n, isDuplicate, err := h.svc.Create(r.Context(), req, idempotencyKey)
	if err != nil {
		apimw.Logger(r.Context(), h.logger).Warn("create notification failed", zap.Error(err))
		mapError(w, err)
		return
	}

	status := http.StatusCreated
	if isDuplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, n)
}

// GetByID handles GET /api/v1/notifications/{id}
func (h *NotificationHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

// List handles GET /api/v1/notifications
//
// @Summary  List notifications with filtering and pagination
// @Tags     notifications
// @Produce  json
// @Param    user_id  query     string  false  "Filter by recipient"
// @Param    status   query     string  false  "Filter by status"
// @Param    type     query     string  false  "Filter by type"
// @Param    from     query     string  false  "Created after (RFC3339)"
// @Param    to       query     string  false  "Created before (RFC3339)"
// @Param    page     query     int     false  "Page number (default 1)"
// @Param    limit    query     int     false  "Items per page (default 20, max 100)"
// @Success  200      {object}  map[string]any
// @Router   /api/v1/notifications [get]
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := parseListFilter(r)
	notifications, total, err := h.svc.List(r.Context(), filter)
	if err != nil {
		apimw.Logger(r.Context(), h.logger).Error("list notifications failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":  notifications,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

// MarkRead handles POST /api/v1/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.MarkRead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

// MarkActed handles POST /api/v1/notifications/{id}/acted
func (h *NotificationHandler) MarkActed(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.MarkActed(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

// Lineage handles GET /api/v1/notifications/{id}/lineage
func (h *NotificationHandler) Lineage(w http.ResponseWriter, r *http.Request) {
	l, err := h.svc.Lineage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, l)
}

// Deliveries handles GET /api/v1/notifications/{id}/deliveries
func (h *NotificationHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Deliveries(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": d})
}

func parseListFilter(r *http.Request) domain.ListFilter {
	q := r.URL.Query()
	filter := domain.ListFilter{Page: 1, Limit: 20}

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}
	if u := q.Get("user_id"); u != "" {
		filter.UserID = &u
	}
	if s := q.Get("status"); s != "" {
		st := domain.Status(s)
		filter.Status = &st
	}
	if t := q.Get("type"); t != "" {
		nt := domain.NotificationType(t)
		filter.Type = &nt
	}
	if f := q.Get("from"); f != "" {
		if t, err := time.Parse(time.RFC3339, f); err == nil {
			filter.From = &t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = &t
		}
	}
	return filter
}
