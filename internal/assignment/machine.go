// Package assignment implements the lifecycle of one candidate's attempt at
// an exam: verification, timed answering, submission and grading.
//
// The transition functions in this file are pure: they take the current
// document and the server time, mutate the document when the transition is
// legal and report whether anything changed. Repo wraps them in per-key
// storage locks.
package assignment

import (
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/mdquiz/internal/model"
)

const (
	DefaultMaxAttempts = 3
	// DefaultDuration applies when neither the exam nor the issuer sets one.
	DefaultDuration int64 = 7200
)

// Params describes a new assignment.
type Params struct {
	ExamID       string
	ExamVersion  int
	CandidateRef string
	MaxAttempts  int
	Duration     int64
	MinSubmit    int64
	// Deadline, when set, expires the assignment if it was not started by then.
	Deadline *time.Time
}

// NewToken returns a random access token. It never encodes candidate data.
func NewToken() string {
	return uuid.NewString()
}

// New builds an assignment in the created state.
func New(token string, p Params, now time.Time) *model.Assignment {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	return &model.Assignment{
		Token:        token,
		ExamID:       p.ExamID,
		ExamVersion:  p.ExamVersion,
		CandidateRef: p.CandidateRef,
		Verify:       model.VerifyState{MaxAttempts: p.MaxAttempts},
		Timing: model.TimingState{
			Duration:  max(0, p.Duration),
			MinSubmit: max(0, p.MinSubmit),
			Deadline:  p.Deadline,
		},
		Status:    model.StatusCreated,
		Answers:   map[string]model.Answer{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// VerifyResult is the outcome of one identity check.
type VerifyResult struct {
	OK        bool `json:"ok"`
	Remaining int  `json:"remaining"`
}

// Verify records an identity check. A failed check that exhausts the
// attempts locks the assignment and returns a Locked error; the lockout
// is still a change to persist.
func Verify(a *model.Assignment, matched bool, now time.Time) (VerifyResult, bool, error) {
	switch a.Status {
	case model.StatusVerified, model.StatusInProgress:
		return VerifyResult{OK: true, Remaining: a.Verify.Remaining()}, false, nil
	case model.StatusExpired:
		return VerifyResult{}, false, closed("verify", a)
	case model.StatusCreated:
	default:
		return VerifyResult{}, false, invalid("verify", a)
	}

	if matched {
		a.Verify.Verified = true
		a.Verify.VerifiedAt = &now
		a.Status = model.StatusVerified
		return VerifyResult{OK: true, Remaining: a.Verify.Remaining()}, true, nil
	}

	a.Verify.Attempts++
	if a.Verify.Attempts >= a.Verify.MaxAttempts {
		a.Verify.Locked = true
		a.Status = model.StatusExpired
		return VerifyResult{}, true, closed("verify", a)
	}
	return VerifyResult{Remaining: a.Verify.Remaining()}, true, nil
}

// Begin starts the answering window. It is idempotent once started.
func Begin(a *model.Assignment, now time.Time) (bool, error) {
	switch a.Status {
	case model.StatusVerified:
		a.Status = model.StatusInProgress
		a.Timing.StartedAt = &now
		return true, nil
	case model.StatusInProgress, model.StatusSubmitted, model.StatusGraded:
		return false, nil
	case model.StatusExpired:
		return false, closed("begin", a)
	}
	return false, invalid("begin", a)
}

// SaveAnswer stores or clears one answer. The first write starts the clock.
func SaveAnswer(a *model.Assignment, questionID string, ans model.Answer, now time.Time) (bool, error) {
	switch a.Status {
	case model.StatusVerified:
		a.Status = model.StatusInProgress
		a.Timing.StartedAt = &now
	case model.StatusInProgress:
	case model.StatusExpired:
		return false, closed("save answer", a)
	default:
		return false, invalid("save answer", a)
	}
	if a.Answers == nil {
		a.Answers = map[string]model.Answer{}
	}
	if ans.IsEmpty() {
		delete(a.Answers, questionID)
	} else {
		a.Answers[questionID] = ans
	}
	return true, nil
}

// Submit closes the answering window on the candidate's request. Submitting
// twice is a no-op.
func Submit(a *model.Assignment, now time.Time) (bool, error) {
	switch a.Status {
	case model.StatusInProgress:
	case model.StatusSubmitted, model.StatusGraded:
		return false, nil
	case model.StatusExpired:
		return false, closed("submit", a)
	default:
		return false, invalid("submit", a)
	}
	if a.Timing.TimeUp(now) {
		markSubmitted(a, now, true)
		return true, nil
	}
	if ms := a.Timing.MinSubmit; ms > 0 && a.Timing.Elapsed(now) < time.Duration(ms)*time.Second {
		return false, &StateError{Kind: KindTooEarly, Op: "submit", Status: a.Status}
	}
	markSubmitted(a, now, false)
	return true, nil
}

func markSubmitted(a *model.Assignment, now time.Time, auto bool) {
	a.Status = model.StatusSubmitted
	a.Timing.SubmittedAt = &now
	a.Timing.AutoSubmitted = auto
}

// Tick applies clock-driven transitions: an expired answering window
// auto-submits, and a passed issuance deadline expires an unstarted
// assignment.
func Tick(a *model.Assignment, now time.Time) bool {
	switch a.Status {
	case model.StatusInProgress:
		if a.Timing.TimeUp(now) {
			markSubmitted(a, now, true)
			return true
		}
	case model.StatusCreated, model.StatusVerified:
		if d := a.Timing.Deadline; d != nil && now.After(*d) {
			a.Status = model.StatusExpired
			return true
		}
	}
	return false
}

// Grade attaches the grading result. Re-grading is a no-op.
func Grade(a *model.Assignment, result *model.GradingResult) (bool, error) {
	switch a.Status {
	case model.StatusSubmitted:
		a.Status = model.StatusGraded
		a.Grading = result
		return true, nil
	case model.StatusGraded:
		return false, nil
	}
	return false, invalid("grade", a)
}
