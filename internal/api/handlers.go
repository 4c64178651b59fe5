package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Smoke-IT/NurseTalk/internal/models"
)

// twilioWebhookHandler handles POST /webhook. It validates and parses the
// Twilio form payload, runs the message through the pipeline synchronously,
// and acknowledges the provider.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("twilioWebhookHandler invoked", "method", r.Method, "path", r.URL.Path)

	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	if s.twilio == nil {
		slog.Warn("twilioWebhookHandler called without a Twilio transport")
		writeJSONResponse(w, http.StatusNotFound, models.Error("Webhook not configured"))
		return
	}

	msg, ok := s.twilio.ParseWebhook(r)
	if !ok {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid webhook payload"))
		return
	}

	if err := s.ProcessMessage(r.Context(), msg); err != nil {
		// The exchange is already logged; Twilio retries on non-2xx, and a
		// retry would re-run the generator, so acknowledge anyway.
		slog.Error("twilioWebhookHandler pipeline error", "error", err, "from", msg.From)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// conversationLogsHandler handles GET /conversations/{phone}. It returns the
// logged exchanges for a phone number, newest first, optionally capped by a
// limit query parameter.
func (s *Server) conversationLogsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("conversationLogsHandler invoked", "method", r.Method, "path", r.URL.Path)

	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	phone := strings.Trim(strings.TrimPrefix(r.URL.Path, "/conversations/"), "/")
	if phone == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Phone number is required"))
		return
	}
	canonical, err := s.msgService.ValidateAndCanonicalizeRecipient(phone)
	if err != nil {
		slog.Warn("conversationLogsHandler phone validation failed", "error", err, "phone", phone)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number: "+err.Error()))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit parameter"))
			return
		}
	}

	logs, err := s.st.GetConversationLogs(canonical, limit)
	if err != nil {
		slog.Error("conversationLogsHandler failed to fetch logs", "error", err, "phone", canonical)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to retrieve conversation logs"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(logs))
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("NurseTalk API is healthy", nil))
}
