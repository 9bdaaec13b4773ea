package handler

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/handauncle/hubot-relay/internal/identity"
	"github.com/handauncle/hubot-relay/internal/model"
	"github.com/handauncle/hubot-relay/internal/service"
	"github.com/handauncle/hubot-relay/pkg/logger"
)

// AdminHandler handles maintenance endpoints.
type AdminHandler struct {
	cleanup *service.CleanupService
	logger  *logger.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(cleanup *service.CleanupService, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		cleanup: cleanup,
		logger:  log,
	}
}

type cleanupResponse struct {
	Message string `json:"message"`
	*model.CleanupReport
}

// Cleanup handles POST /admin/cleanup-database
func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dryRun"))

	h.logger.Info("cleanup requested",
		zap.String("by", identity.FromContext(r.Context()).Identifier()),
		zap.Bool("dry_run", dryRun),
	)

	report, err := h.cleanup.Run(r.Context(), service.CleanupOptions{DryRun: dryRun})
	if err != nil {
		h.logger.Error("cleanup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}

	writeJSON(w, http.StatusOK, cleanupResponse{
		Message:       "Database cleanup completed",
		CleanupReport: report,
	})
}
