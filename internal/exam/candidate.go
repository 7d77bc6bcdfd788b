package exam

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pavelanni/mdquiz/internal/assignment"
	"github.com/pavelanni/mdquiz/internal/grading"
	"github.com/pavelanni/mdquiz/internal/model"
)

// MaxShortAnswerRunes bounds a stored short answer.
const MaxShortAnswerRunes = 10000

// IssueRequest describes an assignment to issue. Zero values take the
// service defaults.
type IssueRequest struct {
	ExamID       string     `json:"exam_id"`
	CandidateRef string     `json:"candidate_ref"`
	MaxAttempts  int        `json:"max_attempts,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
}

// Score is the part of a grading result a candidate may see.
type Score struct {
	Total   int   `json:"total"`
	Max     int   `json:"max"`
	Percent int   `json:"percent"`
	Passed  *bool `json:"passed"`
}

// ExamView is what a verified candidate sees.
type ExamView struct {
	Exam      *model.PublicSpec       `json:"exam"`
	Status    model.Status            `json:"status"`
	Remaining int64                   `json:"remaining_seconds"`
	MinSubmit int64                   `json:"min_submit_seconds,omitempty"`
	Answers   map[string]model.Answer `json:"answers"`
	Score     *Score                  `json:"score,omitempty"`
}

// StatusView is the polling answer for a token.
type StatusView struct {
	Status        model.Status `json:"status"`
	Remaining     int64        `json:"remaining_seconds"`
	AutoSubmitted bool         `json:"auto_submitted,omitempty"`
	Score         *Score       `json:"score,omitempty"`
}

// IssueAssignment creates an assignment against the exam's current version
// and returns it. The token is random.
func (s *Service) IssueAssignment(ctx context.Context, req IssueRequest) (*model.Assignment, error) {
	version, err := s.CurrentVersion(ctx, req.ExamID)
	if err != nil {
		return nil, err
	}
	spec, err := s.spec(ctx, req.ExamID, version)
	if err != nil {
		return nil, err
	}
	if s.registry != nil {
		c, err := s.registry.GetCandidate(ctx, req.CandidateRef)
		if err != nil {
			return nil, fmt.Errorf("look up candidate: %w", err)
		}
		if c == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCandidate, req.CandidateRef)
		}
	}

	duration := spec.Meta.Duration
	if duration == 0 {
		duration = s.cfg.DefaultDuration
	}
	minSubmit := spec.Meta.MinSubmit
	if duration > 0 {
		minSubmit = max(minSubmit, s.cfg.MinSubmitFloor)
	} else {
		minSubmit = 0
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.MaxAttempts
	}

	a := assignment.New(assignment.NewToken(), assignment.Params{
		ExamID:       req.ExamID,
		ExamVersion:  version,
		CandidateRef: req.CandidateRef,
		MaxAttempts:  maxAttempts,
		Duration:     duration,
		MinSubmit:    minSubmit,
		Deadline:     req.Deadline,
	}, s.repo.Now())
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	slog.Info("assignment issued", "token", a.Token, "exam_id", a.ExamID,
		"version", version, "candidate", a.CandidateRef)
	return a, nil
}

// Verify checks the candidate's identity against the registry. Once the
// attempts are used up the assignment is locked.
func (s *Service) Verify(ctx context.Context, token, name, phone string) (assignment.VerifyResult, error) {
	a, err := s.repo.Get(ctx, token)
	if err != nil {
		return assignment.VerifyResult{}, err
	}
	matched := false
	if a.Status == model.StatusCreated && s.registry != nil {
		matched, err = s.registry.CheckIdentity(ctx, a.CandidateRef, name, phone)
		if err != nil {
			return assignment.VerifyResult{}, fmt.Errorf("check identity: %w", err)
		}
	}
	res, _, err := s.repo.Verify(ctx, token, matched)
	if err == nil && !res.OK {
		slog.Info("identity mismatch", "token", token, "remaining", res.Remaining)
	}
	return res, err
}

// GetPublicExam returns the redacted exam and the candidate's progress.
// The first fetch after verification starts the clock.
func (s *Service) GetPublicExam(ctx context.Context, token string) (*ExamView, error) {
	a, err := s.repo.Begin(ctx, token)
	if err != nil {
		return nil, err
	}
	pub, err := s.public(ctx, a.ExamID, a.ExamVersion)
	if err != nil {
		return nil, err
	}
	return &ExamView{
		Exam:      pub,
		Status:    a.Status,
		Remaining: Remaining(a, s.repo.Now()),
		MinSubmit: a.Timing.MinSubmit,
		Answers:   a.Answers,
		Score:     s.visibleScore(a),
	}, nil
}

// SaveAnswer validates and stores one answer. An empty answer clears the
// question.
func (s *Service) SaveAnswer(ctx context.Context, token, questionID string, ans model.Answer) (*model.Assignment, error) {
	a, err := s.repo.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	spec, err := s.spec(ctx, a.ExamID, a.ExamVersion)
	if err != nil {
		return nil, err
	}
	q, ok := spec.Question(questionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	ans, err = normalizeAnswer(q, ans)
	if err != nil {
		return nil, err
	}
	return s.repo.SaveAnswer(ctx, token, questionID, ans)
}

// Submit closes the answering window and schedules grading. Submitting
// again returns the current state.
func (s *Service) Submit(ctx context.Context, token string) (*model.Assignment, error) {
	return s.repo.Submit(ctx, token)
}

// GetStatus reports the status and remaining time. It reads a snapshot
// and only takes the token lock when a clock transition is due, so it does
// not wait on a running grading job.
func (s *Service) GetStatus(ctx context.Context, token string) (*StatusView, error) {
	a, err := s.repo.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.repo.Now()
	next := *a
	if assignment.Tick(&next, now) {
		if a, err = s.repo.Tick(ctx, token); err != nil {
			return nil, err
		}
	}
	return &StatusView{
		Status:        a.Status,
		Remaining:     Remaining(a, now),
		AutoSubmitted: a.Timing.AutoSubmitted,
		Score:         s.visibleScore(a),
	}, nil
}

// Remaining returns the seconds a candidate has left, zero once the
// answering window is closed, or model.NoTimeLimit.
func Remaining(a *model.Assignment, now time.Time) int64 {
	switch a.Status {
	case model.StatusCreated, model.StatusVerified, model.StatusInProgress:
		return a.Timing.Remaining(now)
	}
	return 0
}

func (s *Service) visibleScore(a *model.Assignment) *Score {
	if !s.ShowScore() || a.Status != model.StatusGraded || a.Grading == nil {
		return nil
	}
	g := a.Grading
	return &Score{Total: g.TotalScore, Max: g.MaxScore, Percent: g.Percent, Passed: g.Passed}
}

// normalizeAnswer checks an answer's shape against the question and
// returns its canonical form.
func normalizeAnswer(q model.Question, ans model.Answer) (model.Answer, error) {
	if ans.IsEmpty() {
		return model.Answer{}, nil
	}
	switch q.Type {
	case model.TypeSingle, model.TypeMultiple:
		keys := grading.SelectedKeys(ans)
		for _, k := range keys {
			if _, ok := q.Option(k); !ok {
				return model.Answer{}, fmt.Errorf("%w: %s has no option %q", ErrInvalidAnswer, q.ID, k)
			}
		}
		if q.Type == model.TypeMultiple {
			return model.ChoiceAnswer(keys...), nil
		}
		if len(keys) != 1 {
			return model.Answer{}, fmt.Errorf("%w: %s takes exactly one option", ErrInvalidAnswer, q.ID)
		}
		return model.TextAnswer(keys[0]), nil
	case model.TypeShort:
		if ans.Kind != model.AnswerText {
			return model.Answer{}, fmt.Errorf("%w: %s takes a text answer", ErrInvalidAnswer, q.ID)
		}
		if utf8.RuneCountInString(ans.Text) > MaxShortAnswerRunes {
			return model.Answer{}, fmt.Errorf("%w: %s answer is too long", ErrInvalidAnswer, q.ID)
		}
		if strings.TrimSpace(ans.Text) == "" {
			return model.Answer{}, nil
		}
		return ans, nil
	}
	return model.Answer{}, fmt.Errorf("%w: %s has unknown type %s", ErrInvalidAnswer, q.ID, q.Type)
}
