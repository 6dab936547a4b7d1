// Package api exposes the operational HTTP surface of the queue engine.
// It is an internal dashboard endpoint, not a tenant-facing API.
package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/advisoros/taskqueue/internal/api/shared"
	"github.com/advisoros/taskqueue/internal/store"
)

// StatsReader is the slice of the queue item store the handler needs.
type StatsReader interface {
	CountByStatus(ctx context.Context, organizationID uuid.UUID, queueName string) (*store.QueueStats, error)
}

// StatsHandler serves queue depth and status breakdowns.
type StatsHandler struct {
	stats StatsReader
}

// NewStatsHandler creates a StatsHandler over the given reader.
func NewStatsHandler(stats StatsReader) *StatsHandler {
	if stats == nil {
		panic("stats reader cannot be nil")
	}
	return &StatsHandler{stats: stats}
}

// GetQueueStats handles GET /internal/queues/stats requests.
// Both query parameters are optional: organization_id narrows the counts to
// one tenant, queue to one queue name. Omitting both returns global counts.
func (h *StatsHandler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	orgID := uuid.Nil
	if raw := r.URL.Query().Get("organization_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid organization_id")
			return
		}
		orgID = parsed
	}

	queueName := r.URL.Query().Get("queue")

	stats, err := h.stats.CountByStatus(r.Context(), orgID, queueName)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to load queue stats", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, stats)
}
