package handler

import (
	"net/http"
)

// QueueDepths is satisfied by *queue.PriorityQueue.
type QueueDepths interface {
	Depths() (high, normal, low int)
}

// ConnCounter is satisfied by *realtime.Hub.
type ConnCounter interface {
	Total() int
}

// MetricsHandler serves a human-readable JSON snapshot of the delivery
// pipeline. Raw Prometheus metrics live at /metrics.
type MetricsHandler struct {
	q     QueueDepths
	conns ConnCounter
}

func NewMetricsHandler(q QueueDepths, conns ConnCounter) *MetricsHandler {
	return &MetricsHandler{q: q, conns: conns}
}

// GetMetrics handles GET /api/v1/metrics
//
// @Summary  Real-time queue depth and websocket snapshot
// @Tags     metrics
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/metrics [get]
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	high, normal, low := h.q.Depths()
	body := map[string]any{
		"queue_depth": map[string]int{
			"high":   high,
			"normal": normal,
			"low":    low,
			"total":  high + normal + low,
		},
	}
	if h.conns != nil {
		body["ws_connections"] = h.conns.Total()
	}
	respondJSON(w, http.StatusOK, body)
}
