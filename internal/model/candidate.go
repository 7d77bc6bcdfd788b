package model

import "time"

// Candidate is a person who may be issued assignments. Phone is stored
// normalized to digits.
type Candidate struct {
	Ref       string    `json:"ref"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Status    string    `json:"status,omitempty"`
	Score     *int      `json:"score,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Admin is an operator allowed to use the admin API.
type Admin struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ResultExport is the top-level JSON structure of a results export.
type ResultExport struct {
	ExamID     string            `json:"exam_id,omitempty"`
	ExportedAt time.Time         `json:"exported_at"`
	Results    []CandidateResult `json:"results"`
}

// CandidateResult is one assignment flattened for export.
type CandidateResult struct {
	Token         string            `json:"token"`
	ExamID        string            `json:"exam_id"`
	ExamVersion   int               `json:"exam_version"`
	CandidateRef  string            `json:"candidate_ref"`
	CandidateName string            `json:"candidate_name,omitempty"`
	Status        Status            `json:"status"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	SubmittedAt   *time.Time        `json:"submitted_at,omitempty"`
	AutoSubmitted bool              `json:"auto_submitted"`
	Answers       map[string]Answer `json:"answers"`
	Grading       *GradingResult    `json:"grading,omitempty"`
}
