package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/mdquiz/internal/exam"
	appI18n "github.com/pavelanni/mdquiz/internal/i18n"
	"github.com/pavelanni/mdquiz/internal/model"
	"github.com/pavelanni/mdquiz/internal/store"
)

// maxBodyBytes caps request bodies. Quiz sources are the largest.
const maxBodyBytes = 1 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	exams *exam.Service
	store *store.Store
}

// New creates a new Handler.
func New(svc *exam.Service, s *store.Store) *Handler {
	return &Handler{exams: svc, store: s}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Route("/api/t/{token}", func(r chi.Router) {
		r.Post("/verify", h.handleVerify)
		r.Get("/exam", h.handleExam)
		r.Put("/answers/{questionID}", h.handleSaveAnswer)
		r.Post("/submit", h.handleSubmit)
		r.Get("/status", h.handleStatus)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Post("/exams", h.handlePublish)
		r.Get("/exams/{examID}", h.handleGetExam)
		r.Post("/candidates", h.handleCreateCandidate)
		r.Get("/candidates", h.handleListCandidates)
		r.Post("/assignments", h.handleIssue)
		r.Get("/assignments", h.handleListAssignments)
		r.Get("/assignments/{token}/result", h.handleResult)
		r.Post("/assignments/{token}/grade", h.handleGrade)
		r.Post("/sweep", h.handleSweep)
		r.Put("/settings/show-score", h.handleShowScore)
		r.Get("/export", h.handleExport)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type verifyRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type verifyResponse struct {
	OK        bool   `json:"ok"`
	Remaining int    `json:"remaining"`
	Message   string `json:"message,omitempty"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.exams.Verify(r.Context(), token, req.Name, req.Phone)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !res.OK {
		writeJSON(w, http.StatusUnauthorized, verifyResponse{
			Remaining: res.Remaining,
			Message:   appI18n.T(r.Context(), "VerifyFailed") + " " + appI18n.Tp(r.Context(), "AttemptsRemaining", res.Remaining),
		})
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{OK: true, Remaining: res.Remaining})
}

func (h *Handler) handleExam(w http.ResponseWriter, r *http.Request) {
	view, err := h.exams.GetPublicExam(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type answerRequest struct {
	Answer model.Answer `json:"answer"`
}

type answerResponse struct {
	Status    model.Status `json:"status"`
	Remaining int64        `json:"remaining_seconds"`
}

func (h *Handler) handleSaveAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.exams.SaveAnswer(r.Context(), chi.URLParam(r, "token"), chi.URLParam(r, "questionID"), req.Answer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{Status: a.Status, Remaining: exam.Remaining(a, h.exams.Now())})
}

type submitResponse struct {
	Status        model.Status `json:"status"`
	AutoSubmitted bool         `json:"auto_submitted"`
	Message       string       `json:"message"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	a, err := h.exams.Submit(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	msg := "Submitted"
	if a.Timing.AutoSubmitted {
		msg = "TimeUp"
	}
	writeJSON(w, http.StatusOK, submitResponse{
		Status:        a.Status,
		AutoSubmitted: a.Timing.AutoSubmitted,
		Message:       appI18n.T(r.Context(), msg),
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.exams.GetStatus(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "error", err)
	}
}

// decodeJSON reads a bounded JSON body into v and answers 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		status := http.StatusBadRequest
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		slog.Debug("bad request body", "path", r.URL.Path, "error", err)
		writeMessage(w, r, status, "invalid_request")
		return false
	}
	return true
}
