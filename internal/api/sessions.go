package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clinquery/clinquery/internal/ledger"
	"github.com/clinquery/clinquery/internal/nl2sql"
	"github.com/clinquery/clinquery/internal/session"
)

type askRequest struct {
	Question string `json:"question"`
}

type turnError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type turnResponse struct {
	Entry     ledger.Entry `json:"entry"`
	Answer    string       `json:"answer"`
	Columns   []string     `json:"columns"`
	Rows      [][]any      `json:"rows"`
	Truncated bool         `json:"truncated"`
	Error     *turnError   `json:"error"`
}

func newTurnResponse(entry ledger.Entry) turnResponse {
	response := turnResponse{Entry: entry, Answer: entry.Answer, Columns: []string{}, Rows: [][]any{}}
	if entry.Result != nil {
		response.Columns = entry.Result.Columns
		response.Rows = entry.Result.Rows
		response.Truncated = entry.Result.Truncated
	}
	if entry.Error != "" {
		response.Error = &turnError{Kind: entry.ErrorKind, Message: entry.Error}
	}
	return response
}

func handleCreateSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session dependencies are not configured", false, nil)
		return
	}
	s, err := deps.Sessions.Create()
	if err != nil {
		if errors.Is(err, session.ErrTooManySessions) {
			writeError(r.Context(), w, http.StatusTooManyRequests, "SESSION_LIMIT", err.Error(), true, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_CREATE_FAILED", "failed to create session", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, s.Summary())
}

func handleListSessions(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session dependencies are not configured", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": deps.Sessions.List()})
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	s, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid turn request body", false, map[string]any{"details": err.Error()})
		return
	}
	entry, ok := runTurn(deps, w, r, s, nl2sql.NewQuestion(request.Question, nl2sql.ModalityText, deps.Clock()), nil)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newTurnResponse(entry))
}

// runTurn writes the error response itself when the turn produced no entry.
func runTurn(deps Dependencies, w http.ResponseWriter, r *http.Request, s *session.Session, question nl2sql.Question, extra map[string]any) (ledger.Entry, bool) {
	if deps.Turns == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TURNS_NOT_CONFIGURED", "turn pipeline is not configured", false, nil)
		return ledger.Entry{}, false
	}
	entry, err := deps.Turns.Ask(r.Context(), s, question)
	if err != nil {
		handleTurnError(w, r, err, extra)
		return ledger.Entry{}, false
	}
	return entry, true
}

func handleTurnError(w http.ResponseWriter, r *http.Request, err error, extra map[string]any) {
	switch {
	case errors.Is(err, session.ErrEmptyQuestion):
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", err.Error(), false, extra)
	case errors.Is(err, session.ErrClosed):
		writeError(r.Context(), w, http.StatusConflict, "SESSION_CLOSED", err.Error(), false, extra)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(r.Context(), w, http.StatusRequestTimeout, "TURN_CANCELLED", "turn was cancelled before completion", true, extra)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "TURN_FAILED", "turn failed", true, map[string]any{"details": err.Error()})
	}
}

func handleListTurns(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	s, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": s.ID,
		"turns":      s.Ledger.All(),
	})
}

func handleCloseSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session dependencies are not configured", false, nil)
		return
	}
	result, err := deps.Sessions.Close(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session was not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusConflict, "SESSION_BUSY", "session could not be closed", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func lookupSession(deps Dependencies, w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session dependencies are not configured", false, nil)
		return nil, false
	}
	s, err := deps.Sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session was not found", false, nil)
		return nil, false
	}
	return s, true
}
