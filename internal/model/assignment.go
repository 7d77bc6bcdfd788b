package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Status is the lifecycle state of an assignment.
type Status string

const (
	StatusCreated    Status = "created"
	StatusVerified   Status = "verified"
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusGraded     Status = "graded"
	StatusExpired    Status = "expired"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusGraded || s == StatusExpired
}

// PreSubmit reports whether the assignment has not been submitted yet.
func (s Status) PreSubmit() bool {
	switch s {
	case StatusCreated, StatusVerified, StatusInProgress:
		return true
	}
	return false
}

// AnswerKind tells which shape an Answer holds.
type AnswerKind int

const (
	AnswerNone AnswerKind = iota
	AnswerText
	AnswerChoices
)

// Answer is either free text (single key or short answer) or a set of
// option keys (multiple). On the wire it is a JSON string or array.
type Answer struct {
	Kind    AnswerKind
	Text    string
	Choices []string
}

// TextAnswer builds a text answer.
func TextAnswer(s string) Answer {
	return Answer{Kind: AnswerText, Text: s}
}

// ChoiceAnswer builds a set answer. Keys are de-duplicated and sorted.
func ChoiceAnswer(keys ...string) Answer {
	c := slices.Clone(keys)
	slices.Sort(c)
	c = slices.Compact(c)
	if c == nil {
		c = []string{}
	}
	return Answer{Kind: AnswerChoices, Choices: c}
}

// IsEmpty reports whether nothing was answered.
func (a Answer) IsEmpty() bool {
	switch a.Kind {
	case AnswerText:
		return a.Text == ""
	case AnswerChoices:
		return len(a.Choices) == 0
	}
	return true
}

// String flattens the answer for prompts and exports.
func (a Answer) String() string {
	switch a.Kind {
	case AnswerText:
		return a.Text
	case AnswerChoices:
		var b bytes.Buffer
		for i, c := range a.Choices {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(c)
		}
		return b.String()
	}
	return ""
}

func (a Answer) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case AnswerText:
		return json.Marshal(a.Text)
	case AnswerChoices:
		if a.Choices == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(a.Choices)
	}
	return []byte("null"), nil
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*a = Answer{}
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = TextAnswer(s)
	case len(data) > 0 && data[0] == '[':
		var keys []string
		if err := json.Unmarshal(data, &keys); err != nil {
			return err
		}
		*a = ChoiceAnswer(keys...)
	default:
		return fmt.Errorf("answer must be a string or an array of strings")
	}
	return nil
}

// VerifyState tracks identity verification attempts.
type VerifyState struct {
	MaxAttempts int        `json:"max_attempts"`
	Attempts    int        `json:"attempts"`
	Locked      bool       `json:"locked"`
	Verified    bool       `json:"verified"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
}

// Remaining returns how many verification attempts are left.
func (v VerifyState) Remaining() int {
	return max(0, v.MaxAttempts-v.Attempts)
}

// TimingState tracks the timed answering window. Durations are in seconds;
// zero means unlimited.
type TimingState struct {
	Duration      int64      `json:"duration"`
	MinSubmit     int64      `json:"min_submit,omitempty"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	AutoSubmitted bool       `json:"auto_submitted"`
}

// NoTimeLimit is reported as remaining time when the duration is unlimited.
const NoTimeLimit int64 = -1

// Remaining returns the seconds left at now, or NoTimeLimit.
func (t TimingState) Remaining(now time.Time) int64 {
	if t.Duration <= 0 {
		return NoTimeLimit
	}
	if t.StartedAt == nil {
		return t.Duration
	}
	used := int64(now.Sub(*t.StartedAt) / time.Second)
	return max(0, t.Duration-used)
}

// TimeUp reports whether the answering window has elapsed at now.
func (t TimingState) TimeUp(now time.Time) bool {
	if t.Duration <= 0 || t.StartedAt == nil {
		return false
	}
	return now.Sub(*t.StartedAt) >= time.Duration(t.Duration)*time.Second
}

// Elapsed returns the time spent since start, or zero if not started.
func (t TimingState) Elapsed(now time.Time) time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return max(0, now.Sub(*t.StartedAt))
}

// Assignment is one candidate's attempt at one exam.
type Assignment struct {
	Token        string            `json:"token"`
	ExamID       string            `json:"exam_id"`
	ExamVersion  int               `json:"exam_version"`
	CandidateRef string            `json:"candidate_ref"`
	Verify       VerifyState       `json:"verify"`
	Timing       TimingState       `json:"timing"`
	Status       Status            `json:"status"`
	Answers      map[string]Answer `json:"answers"`
	Grading      *GradingResult    `json:"grading,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
