package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/ifsports/calendar-service/internal/apperr"
	"github.com/ifsports/calendar-service/internal/auth"
	"github.com/ifsports/calendar-service/internal/calendar"
)

// Error codes sent to the front end when the authorization callback fails.
const (
	callbackMissingEmail = "missing_email"
	callbackMissingCode  = "missing_code"
	callbackAuthFailed   = "auth_failed"
)

const maxRequestBody = 1 << 20

// handleLogin returns the consent URL for user_email.
// GET /auth/login?user_email=<email>
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("user_email"))
	if err := validation.Validate(email, validation.Required, is.EmailFormat); err != nil {
		s.writeError(w, r, apperr.BadInput("user_email: "+err.Error(), nil))
		return
	}

	authURL, err := s.auth.AuthorizationURL(email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"authorization_url": authURL})
}

// handleCallback completes the authorization and sends the browser back to the front end.
// GET /auth/callback?code=<code>&state=<email>
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	email := auth.NormalizeEmail(query.Get("state"))

	if providerErr := strings.TrimSpace(query.Get("error")); providerErr != "" {
		s.logger.Warn("authorization denied", "email", email, "error", providerErr)
		s.redirectToFrontend(w, r, callbackFailure(providerErr, email))
		return
	}
	if email == "" {
		s.redirectToFrontend(w, r, callbackFailure(callbackMissingEmail, ""))
		return
	}
	code := strings.TrimSpace(query.Get("code"))
	if code == "" {
		s.redirectToFrontend(w, r, callbackFailure(callbackMissingCode, email))
		return
	}

	if err := s.auth.Exchange(r.Context(), code, email); err != nil {
		envelope := apperr.Envelope(err)
		s.logger.Error("authorization failed", "email", email, "code", envelope.TextCode, "err", err)
		s.redirectToFrontend(w, r, callbackFailure(callbackAuthFailed, email))
		return
	}

	s.redirectToFrontend(w, r, url.Values{
		"status":     {"success"},
		"user_email": {email},
	})
}

func callbackFailure(code, email string) url.Values {
	params := url.Values{
		"status": {"error"},
		"error":  {code},
	}
	if email != "" {
		params.Set("user_email", email)
	}
	return params
}

func (s *Server) redirectToFrontend(w http.ResponseWriter, r *http.Request, params url.Values) {
	target, err := url.Parse(s.frontendURL)
	if err != nil {
		s.writeError(w, r, apperr.Configuration(err, "invalid front-end URL"))
		return
	}
	query := target.Query()
	for key, values := range params {
		query[key] = values
	}
	target.RawQuery = query.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// handleCreateEvents creates one event per match for an authorized user.
// POST /events
func (s *Server) handleCreateEvents(w http.ResponseWriter, r *http.Request) {
	var req CreateEventsRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, r, apperr.BadInput("invalid request body: "+err.Error(), nil))
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, validationError(err))
		return
	}

	descriptors, err := req.Descriptors(s.events.Location())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.events.CreateEvents(r.Context(), req.UserEmail, descriptors)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if wantsICS(r) {
		s.writeICS(w, r, result)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"message":   fmt.Sprintf("Evento criado com sucesso com o ID: %s", strings.Join(result.EventIDs, ", ")),
		"event_ids": result.EventIDs,
	})
}

func wantsICS(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/calendar")
}

func (s *Server) writeICS(w http.ResponseWriter, r *http.Request, result calendar.BatchResult) {
	data, err := calendar.EncodeICS(result.Events)
	if err != nil {
		s.writeError(w, r, apperr.Internal(err, "failed to render iCalendar document"))
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="events.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleHealth pings the credential store.
// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			s.logger.Error("health check failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "detail": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
