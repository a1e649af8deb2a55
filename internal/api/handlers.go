// Package api provides HTTP handlers for the assist endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gboost/assist/internal/models"
)

// authRequestHandler starts a pairing request (POST /auth/request) and polls
// its status in the background.
func (s *Server) authRequestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.authRequestHandler: processing auth request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		WhatsAppNumber string `json:"whatsappNumber"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		slog.Warn("Server.authRequestHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	req, err := s.authCoord.RequestAuthentication(r.Context(), body.WhatsAppNumber)
	if err != nil {
		if errors.Is(err, models.ErrInvalidPhoneNumber) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.authRequestHandler: pairing request failed", "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Authentication request failed"))
		return
	}

	// Poll to completion in the background; the result lands in the settings
	// store and is visible through /auth/status.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultAuthPollTimeout)
		defer cancel()
		status, pollErr := s.authCoord.Poll(ctx, req.RequestID)
		if pollErr != nil {
			slog.Warn("Server.authRequestHandler: background poll stopped", "requestID", req.RequestID, "error", pollErr)
			return
		}
		slog.Info("Server.authRequestHandler: pairing resolved", "requestID", req.RequestID, "status", status)
	}()

	slog.Info("Server.authRequestHandler: pairing request accepted", "requestID", req.RequestID)
	writeJSONResponse(w, http.StatusAccepted, models.SuccessWithMessage("Authentication request created", req))
}

// authStatusHandler reports the current authentication state (GET /auth/status).
func (s *Server) authStatusHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.authStatusHandler: processing status request", "method", r.Method)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status := s.authCoord.Status(r.Context())
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

// authClearHandler wipes the stored credentials (DELETE /auth).
func (s *Server) authClearHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.authClearHandler: processing clear request", "method", r.Method)
	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", http.MethodDelete)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.authCoord.ClearAuthentication(); err != nil {
		slog.Error("Server.authClearHandler: failed to clear credentials", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to clear credentials"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Credentials cleared", nil))
}

// sendHandler runs an outbound message through the pipeline (POST /messages/send).
func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.sendHandler: processing send request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.sendHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		To   string `json:"to"`
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		slog.Warn("Server.sendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	result, err := s.pipeline.Send(r.Context(), body.To, body.Body)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidPhoneNumber),
			errors.Is(err, models.ErrEmptyRecipient),
			errors.Is(err, models.ErrEmptyMessageBody):
			slog.Warn("Server.sendHandler: validation failed", "error", err, "to", body.To)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		default:
			slog.Error("Server.sendHandler: failed to send message", "error", err, "to", body.To)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		}
		return
	}

	slog.Info("Server.sendHandler: message sent successfully", "to", result.Recipient)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent successfully", result))
}

// settingsHandler reads or patches the settings record (GET/PATCH /settings).
func (s *Server) settingsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.settingsHandler: processing settings request", "method", r.Method)

	switch r.Method {
	case http.MethodGet:
		writeJSONResponse(w, http.StatusOK, models.Success(redactSettings(s.settings.Current())))
	case http.MethodPatch:
		var patch models.SettingsPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			slog.Warn("Server.settingsHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		updated, err := s.settings.Save(patch)
		if err != nil {
			slog.Error("Server.settingsHandler: failed to save settings", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save settings"))
			return
		}
		slog.Info("Server.settingsHandler: settings updated")
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Settings updated", redactSettings(updated)))
	default:
		w.Header().Set("Allow", "GET, PATCH")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// redactSettings masks the auth token before it leaves the service.
func redactSettings(cfg models.Settings) models.Settings {
	if cfg.AuthToken != "" {
		cfg.AuthToken = "***"
	}
	return cfg
}

// autoModeHandler lists and enrolls auto-reply partners (GET/POST /automode).
func (s *Server) autoModeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.autoModeHandler: processing automode request", "method", r.Method)

	switch r.Method {
	case http.MethodGet:
		writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
			"enabled": s.settings.Current().AutoMode,
			"members": s.autoReply.List(),
		}))
	case http.MethodPost:
		var body struct {
			WhatsAppNumber string `json:"whatsappNumber"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			slog.Warn("Server.autoModeHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		canonical, err := s.autoReply.Enroll(body.WhatsAppNumber)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Info("Server.autoModeHandler: partner enrolled", "partner", canonical)
		writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Partner enrolled", canonical))
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// autoModeMemberHandler handles per-partner operations
// (GET/DELETE /automode/{number}).
func (s *Server) autoModeMemberHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.autoModeMemberHandler: processing member request", "method", r.Method, "path", r.URL.Path)

	number := strings.TrimPrefix(r.URL.Path, "/automode/")
	if number == "" || strings.Contains(number, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown automode endpoint"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !s.autoReply.IsEnrolled(number) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Partner not enrolled"))
			return
		}
		canonical, _ := models.NormalizePhoneNumber(number)
		member := map[string]interface{}{
			"whatsappNumber": canonical,
			"context":        s.autoReply.Context(canonical),
		}
		if suggestion, ok := s.autoReply.LatestSuggestion(canonical); ok {
			member["suggestion"] = suggestion
		}
		writeJSONResponse(w, http.StatusOK, models.Success(member))
	case http.MethodDelete:
		if !s.autoReply.IsEnrolled(number) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Partner not enrolled"))
			return
		}
		s.autoReply.Remove(number)
		slog.Info("Server.autoModeMemberHandler: partner removed", "partner", number)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Partner removed", nil))
	default:
		w.Header().Set("Allow", "GET, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// statsHandler returns the usage counters (GET /stats).
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.statsHandler: processing stats request", "method", r.Method)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.st.GetStats()
	if err != nil {
		slog.Error("Server.statsHandler: failed to fetch stats", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch stats"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

// healthHandler provides a health check endpoint for monitoring.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":        "healthy",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"authenticated": s.settings.Current().Authenticated(),
	}

	statusCode := http.StatusOK
	if _, err := s.st.GetStats(); err != nil {
		slog.Warn("Health check: store unavailable", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Store unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, statusCode, healthData)
}
