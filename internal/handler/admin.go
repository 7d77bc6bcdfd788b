package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/mdquiz/internal/exam"
	"github.com/pavelanni/mdquiz/internal/model"
)

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, r, http.StatusRequestEntityTooLarge, "invalid_request")
			return
		}
		writeMessage(w, r, http.StatusBadRequest, "invalid_request")
		return
	}

	res, err := h.exams.PublishExam(r.Context(), string(data))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	spec, err := h.exams.GetExam(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

func (h *Handler) handleCreateCandidate(w http.ResponseWriter, r *http.Request) {
	var c model.Candidate
	if !decodeJSON(w, r, &c) {
		return
	}
	if c.Ref == "" || c.Name == "" || c.Phone == "" {
		writeMessage(w, r, http.StatusBadRequest, "invalid_request")
		return
	}

	created, err := h.store.CreateCandidate(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListCandidates(r.Context())
	if err != nil {
		slog.Error("failed to list candidates", "error", err)
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Candidate{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req exam.IssueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.exams.IssueAssignment(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := h.exams.ListAssignments(r.Context(), r.URL.Query().Get("exam"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.exams.GetResult(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleGrade(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if err := h.exams.GradeNow(r.Context(), token); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.exams.GetResult(r.Context(), token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	rep, err := h.exams.Sweep(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type showScoreRequest struct {
	ShowScore bool `json:"show_score"`
}

func (h *Handler) handleShowScore(w http.ResponseWriter, r *http.Request) {
	var req showScoreRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.exams.SetShowScore(r.Context(), req.ShowScore); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, showScoreRequest{ShowScore: h.exams.ShowScore()})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	exp, err := h.exams.Export(r.Context(), r.URL.Query().Get("exam"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}
