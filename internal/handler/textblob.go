package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/handauncle/hubot-relay/internal/middleware"
	"github.com/handauncle/hubot-relay/internal/model"
	"github.com/handauncle/hubot-relay/internal/service"
	"github.com/handauncle/hubot-relay/pkg/logger"
)

const uploadField = "file"

// TextBlobHandler exposes set, append, upload and show over one text blob.
type TextBlobHandler struct {
	blob      *service.TextBlob
	field     string
	label     string
	maxUpload int64
	logger    *logger.Logger
}

// NewTextBlobHandler creates a handler for blob. field names the JSON key
// used by Show; label is the human-readable name used in messages.
func NewTextBlobHandler(blob *service.TextBlob, field, label string, maxUpload int64, log *logger.Logger) *TextBlobHandler {
	if maxUpload <= 0 {
		maxUpload = 5 << 20
	}
	return &TextBlobHandler{
		blob:      blob,
		field:     field,
		label:     label,
		maxUpload: maxUpload,
		logger:    log.With(zap.String("blob", blob.Name())),
	}
}

// Set handles POST /hubot/kb and /hubot/system
func (h *TextBlobHandler) Set(w http.ResponseWriter, r *http.Request) {
	text, ok := h.readText(w, r)
	if !ok {
		return
	}
	h.respond(w, "updated", h.blob.Set(text))
}

// Append handles POST /hubot/add-kb and /hubot/add-system
func (h *TextBlobHandler) Append(w http.ResponseWriter, r *http.Request) {
	text, ok := h.readText(w, r)
	if !ok {
		return
	}
	h.respond(w, "appended", h.blob.Append(text))
}

// SetUpload handles POST /hubot/kb-upload and /hubot/system-upload
func (h *TextBlobHandler) SetUpload(w http.ResponseWriter, r *http.Request) {
	text, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	h.respond(w, "replaced from upload", h.blob.Set(text))
}

// AppendUpload handles POST /hubot/add-kb-upload and /hubot/add-system-upload
func (h *TextBlobHandler) AppendUpload(w http.ResponseWriter, r *http.Request) {
	text, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	h.respond(w, "appended from upload", h.blob.Append(text))
}

// Show handles GET /hubot/show-kb and /hubot/show-system
func (h *TextBlobHandler) Show(w http.ResponseWriter, r *http.Request) {
	value := h.blob.Get()
	status := "loaded"
	if value == "" {
		status = "empty"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		h.field:  value,
		"length": len(value),
		"status": status,
	})
}

func (h *TextBlobHandler) respond(w http.ResponseWriter, action string, length int) {
	h.logger.Info("text blob changed", zap.String("action", action), zap.Int("length", length))
	writeJSON(w, http.StatusOK, model.TextBlobResponse{
		Message: fmt.Sprintf("%s %s", h.label, action),
		Length:  length,
	})
}

// readText accepts a raw text body, a JSON string, or a JSON object carrying
// the text under "text", "content" or the blob's field name.
func (h *TextBlobHandler) readText(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUpload))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return "", false
	}

	text := string(body)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		text, err = h.decodeJSONText(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return "", false
		}
	}

	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, h.label+" text is required")
		return "", false
	}
	return text, true
}

func (h *TextBlobHandler) decodeJSONText(body []byte) (string, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err != nil {
			return "", errors.New("invalid JSON string")
		}
		return s, nil
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return "", errors.New("invalid JSON body")
	}
	for _, key := range []string{h.field, "text", "content"} {
		if s, ok := obj[key].(string); ok && s != "" {
			return s, nil
		}
	}
	return "", nil
}

// readUpload reads the multipart "file" field. Only .txt files are accepted
// and the parsed form's temporary files are removed before returning.
func (h *TextBlobHandler) readUpload(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form with a file field")
		return "", false
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger.Warn("failed to remove upload temp files", zap.Error(err))
		}
	}()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return "", false
	}
	defer file.Close()

	if err := middleware.ValidateUploadName(header.Filename); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	if header.Size > h.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return "", false
	}

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("failed to read upload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read uploaded file")
		return "", false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return "", false
	}
	return string(data), true
}
