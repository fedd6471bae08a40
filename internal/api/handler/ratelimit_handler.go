package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	apimw "github.com/notifyhub/alertflow/internal/api/middleware"
	"github.com/notifyhub/alertflow/internal/ratelimiter"
)

// RateLimitHandler exposes the sliding-window limiter to other services.
type RateLimitHandler struct {
	limiter apimw.Checker
	logger  *zap.Logger
}

func NewRateLimitHandler(limiter apimw.Checker, logger *zap.Logger) *RateLimitHandler {
	return &RateLimitHandler{limiter: limiter, logger: logger}
}

type rateLimitCheckRequest struct {
	Endpoint      string `json:"endpoint"`
	UserID        string `json:"userId,omitempty"`
	WindowSeconds int    `json:"window_seconds,omitempty"`
	MaxRequests   int    `json:"max_requests,omitempty"`
}

// Check handles POST /api/v1/rate-limit/check
//
// @Summary  Admit or reject one call for (client, endpoint)
// @Tags     rate-limit
// @Accept   json
// @Produce  json
// @Success  200  {object}  domain.RateLimitDecision
// @Failure  429  {object}  domain.RateLimitDecision
// @Failure  503  {object}  map[string]string
// @Router   /api/v1/rate-limit/check [post]
func (h *RateLimitHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req rateLimitCheckRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	d, err := h.limiter.Check(r.Context(), ratelimiter.CheckRequest{
		ClientID:      apimw.ClientID(r, req.UserID),
		Endpoint:      req.Endpoint,
		WindowSeconds: req.WindowSeconds,
		MaxRequests:   req.MaxRequests,
	})
	if err != nil {
		apimw.Logger(r.Context(), h.logger).Warn("rate limit check failed", zap.Error(err))
		mapError(w, err)
		return
	}

	apimw.SetRateLimitHeaders(w, d, time.Now())
	status := http.StatusOK
	if d.Limited {
		status = http.StatusTooManyRequests
	}
	respondJSON(w, status, d)
}
