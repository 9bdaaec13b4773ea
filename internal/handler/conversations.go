// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/handauncle/hubot-relay/internal/identity"
	"github.com/handauncle/hubot-relay/internal/middleware"
	"github.com/handauncle/hubot-relay/internal/model"
	"github.com/handauncle/hubot-relay/internal/service"
	"github.com/handauncle/hubot-relay/pkg/logger"
)

// ConversationHandler handles conversation lookup endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log,
	}
}

// GetOwn handles GET /get-conversation
// Anonymous callers read the shared "unknown" conversation.
func (h *ConversationHandler) GetOwn(w http.ResponseWriter, r *http.Request) {
	userKey := model.UserKey(identity.FromContext(r.Context()).Identifier())
	h.writeConversation(w, r, userKey)
}

// GetByEmail handles GET /get-conversation/{email}
func (h *ConversationHandler) GetByEmail(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(chi.URLParam(r, "email"))
	if err := middleware.ValidateEmail(email); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller := identity.FromContext(r.Context())
	if !strings.EqualFold(email, caller.Identifier()) {
		h.logger.Warn("conversation access denied",
			zap.String("caller", caller.Identifier()),
			zap.String("requested", email),
		)
		writeErrorCode(w, http.StatusForbidden, "you may only access your own conversation", "ACCESS_DENIED")
		return
	}

	h.writeConversation(w, r, model.UserKey(strings.ToLower(email)))
}

// ListUsers handles GET /get-all-users
func (h *ConversationHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Summaries(r.Context())
	if err != nil {
		h.logger.Error("failed to list users", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ConversationHandler) writeConversation(w http.ResponseWriter, r *http.Request, userKey string) {
	conv, err := h.service.Load(r.Context(), userKey)
	if err != nil {
		h.logger.Error("failed to load conversation", zap.String("user_key", userKey), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	writeJSON(w, http.StatusOK, model.ConversationResponse{
		UserKey:      userKey,
		Conversation: conv,
		Count:        len(conv),
	})
}
