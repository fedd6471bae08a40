package handler

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/notifyhub/alertflow/internal/digest"
	"github.com/notifyhub/alertflow/internal/escalation"
)

// JobRunner is satisfied by *jobs.Runner.
type JobRunner interface {
	RunEscalations(ctx context.Context) (escalation.Report, error)
	RunDigests(ctx context.Context) (digest.Report, error)
	Prune(ctx context.Context) (int64, error)
}

// JobsHandler triggers periodic jobs on demand, for an external scheduler or
// an operator.
type JobsHandler struct {
	runner JobRunner
	logger *zap.Logger
}

func NewJobsHandler(runner JobRunner, logger *zap.Logger) *JobsHandler {
	return &JobsHandler{runner: runner, logger: logger}
}

// RunEscalations handles POST /api/v1/jobs/escalations/run
func (h *JobsHandler) RunEscalations(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.RunEscalations(r.Context())
	if errors.Is(err, escalation.ErrSweepRunning) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("escalation run failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// RunDigests handles POST /api/v1/jobs/digests/run
func (h *JobsHandler) RunDigests(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.RunDigests(r.Context())
	if err != nil {
		h.logger.Error("digest run failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Prune handles POST /api/v1/jobs/rate-limit/prune
func (h *JobsHandler) Prune(w http.ResponseWriter, r *http.Request) {
	n, err := h.runner.Prune(r.Context())
	if err != nil {
		h.logger.Error("rate-limit prune failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"pruned": n})
}
