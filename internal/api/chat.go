package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/littletone/littletone/internal/chat"
	"github.com/littletone/littletone/internal/history"
	"github.com/littletone/littletone/internal/log"
)

// Size ceilings. The image ceiling applies to the base64 string as
// transmitted; the body ceiling to the whole request.
const (
	maxBodyBytes  = 5 << 20
	maxImageBytes = 4 << 20
)

// chatRequest is the wire format of POST /api/chat.
type chatRequest struct {
	Message   string     `json:"message"`
	Image     string     `json:"image,omitempty"` // base64-encoded
	History   []wireTurn `json:"history,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
}

// wireTurn is a client-supplied history entry. Clients only replay text;
// images are never echoed back through the request body.
type wireTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatHandler serves the conversation endpoint.
type chatHandler struct {
	service *chat.Service
	logger  log.Logger
}

// send handles POST /api/chat.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", h.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
		return
	}

	if req.Message == "" && req.Image == "" {
		writeError(w, http.StatusBadRequest, "message or image is required", h.logger)
		return
	}

	// Reject oversized attachments before any decoding work.
	if len(req.Image) > maxImageBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large", h.logger)
		return
	}

	result, err := h.service.Respond(r.Context(), chat.Request{
		SessionID:   req.SessionID,
		Message:     req.Message,
		ImageBase64: req.Image,
		History:     toTurns(req.History),
	})
	if err != nil {
		if errors.Is(err, chat.ErrNoInput) {
			writeError(w, http.StatusBadRequest, "message or image is required", h.logger)
			return
		}
		h.logger.Error("chat pipeline failed",
			"error", err,
			"message", truncate(req.Message, 80),
		)
		writeError(w, http.StatusInternalServerError, "不好意思，系統暫時出了點狀況，請稍後再試。", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{
		Status:    "success",
		Data:      result.Reply,
		SessionID: result.SessionID,
	}, h.logger)
}

// toTurns converts wire history into stored turns, dropping entries with no
// content or an unknown role.
func toTurns(wire []wireTurn) []history.Turn {
	var turns []history.Turn
	for _, t := range wire {
		if t.Content == "" {
			continue
		}
		switch t.Role {
		case string(history.RoleUser):
			turns = append(turns, history.TextTurn(history.RoleUser, t.Content))
		case string(history.RoleAssistant):
			turns = append(turns, history.TextTurn(history.RoleAssistant, t.Content))
		}
	}
	return turns
}

// truncate shortens s to at most n bytes for logging.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
