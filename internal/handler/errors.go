package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pavelanni/mdquiz/internal/assignment"
	"github.com/pavelanni/mdquiz/internal/exam"
	appI18n "github.com/pavelanni/mdquiz/internal/i18n"
	"github.com/pavelanni/mdquiz/internal/kvstore"
	"github.com/pavelanni/mdquiz/internal/model"
	"github.com/pavelanni/mdquiz/internal/qml"
	"github.com/pavelanni/mdquiz/internal/store"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, code string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: appI18n.Error(r.Context(), code, nil)}})
}

// writeError maps a service error to a status code and a localized
// message. Unexpected errors are logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		se   *assignment.StateError
		perr *qml.ParseError
	)
	switch {
	case errors.Is(err, assignment.ErrNotFound):
		writeMessage(w, r, http.StatusNotFound, "token_not_found")
	case errors.As(err, &se):
		switch se.Kind {
		case assignment.KindLocked:
			writeMessage(w, r, http.StatusLocked, "locked")
		case assignment.KindExpired:
			writeMessage(w, r, http.StatusGone, "expired")
		case assignment.KindTooEarly:
			writeMessage(w, r, http.StatusConflict, "too_early")
		default:
			if se.Status == model.StatusCreated {
				writeMessage(w, r, http.StatusForbidden, "verify_first")
				return
			}
			writeMessage(w, r, http.StatusConflict, "not_allowed")
		}
	case errors.As(err, &perr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: errorDetail{
			Code:    "parse_error",
			Message: appI18n.Error(r.Context(), "parse_error", map[string]any{"Error": perr.Error()}),
			Line:    perr.Line,
			Column:  perr.Column,
			Kind:    string(perr.Kind),
		}})
	case errors.Is(err, exam.ErrExamNotFound):
		writeMessage(w, r, http.StatusNotFound, "exam_not_found")
	case errors.Is(err, exam.ErrUnknownQuestion):
		writeMessage(w, r, http.StatusNotFound, "unknown_question")
	case errors.Is(err, exam.ErrInvalidAnswer):
		writeMessage(w, r, http.StatusUnprocessableEntity, "invalid_answer")
	case errors.Is(err, exam.ErrUnknownCandidate):
		writeMessage(w, r, http.StatusUnprocessableEntity, "unknown_candidate")
	case errors.Is(err, exam.ErrNotGraded):
		writeMessage(w, r, http.StatusConflict, "not_graded")
	case errors.Is(err, store.ErrDuplicateCandidate):
		writeMessage(w, r, http.StatusConflict, "duplicate_candidate")
	case errors.Is(err, kvstore.ErrStorageBusy):
		slog.Warn("storage busy", "path", r.URL.Path)
		w.Header().Set("Retry-After", "1")
		writeMessage(w, r, http.StatusServiceUnavailable, "busy")
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeMessage(w, r, http.StatusInternalServerError, "internal")
	}
}
