package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/ifsports/calendar-service/internal/apperr"
)

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Status          string   `json:"status"`
	Code            string   `json:"code"`
	Detail          string   `json:"detail"`
	CreatedEventIDs []string `json:"created_event_ids,omitempty"`
	Fields          any      `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	envelope := apperr.Envelope(err)

	body := errorResponse{
		Status: "error",
		Code:   envelope.TextCode,
		Detail: envelope.Message,
	}
	if ids, ok := envelope.Metadata["created_event_ids"].([]string); ok {
		body.CreatedEventIDs = ids
	}
	if fields, ok := envelope.Metadata["fields"]; ok {
		body.Fields = fields
	}

	keyvals := []any{"code", envelope.TextCode, "request_id", middleware.GetReqID(r.Context()), "err", err}
	if envelope.Code >= http.StatusInternalServerError {
		s.logger.Error(envelope.Message, keyvals...)
	} else {
		s.logger.Warn(envelope.Message, keyvals...)
	}

	writeJSON(w, envelope.Code, body)
}
