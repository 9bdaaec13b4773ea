package handler

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/handauncle/hubot-relay/internal/identity"
	"github.com/handauncle/hubot-relay/internal/middleware"
	"github.com/handauncle/hubot-relay/internal/model"
	"github.com/handauncle/hubot-relay/internal/service"
	"github.com/handauncle/hubot-relay/pkg/logger"
)

const processingMessage = "An identical request is still being processed. Please retry shortly."

// MessageHandler handles the chat endpoint.
type MessageHandler struct {
	messageService *service.MessageService
	maxBodyBytes   int64
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(msgSvc *service.MessageService, maxBodyBytes int64, log *logger.Logger) *MessageHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &MessageHandler{
		messageService: msgSvc,
		maxBodyBytes:   maxBodyBytes,
		logger:         log,
	}
}

// Send handles POST /hubot/message
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "request body too large or unreadable")
		return
	}

	req, err := model.DecodeChatRequest(body, r.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.messageService.Process(ctx, identity.FromContext(ctx), req)
	switch {
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, service.ErrUpstream):
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	case err != nil:
		h.logger.Error("message processing failed",
			zap.String("correlation_id", middleware.GetCorrelationID(ctx)),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if result.Status == service.ChatProcessing {
		writeJSON(w, http.StatusAccepted, model.ProcessingResponse{
			Message: processingMessage,
			Status:  string(service.ChatProcessing),
		})
		return
	}

	writeJSON(w, http.StatusOK, model.ChatResponse{Reply: result.Reply})
}
