package handler

import (
	"net/http"

	"github.com/alanyoungcy/arbgraph/internal/domain"
)

// StatusHandler serves the process summary for dashboards.
type StatusHandler struct {
	status func() domain.BotStatus
}

// NewStatusHandler creates a StatusHandler around a status producer.
func NewStatusHandler(status func() domain.BotStatus) *StatusHandler {
	return &StatusHandler{status: status}
}

// GetStatus responds with mode, uptime, graph size and the last scan.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}
