package exam

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/mdquiz/internal/assignment"
	"github.com/pavelanni/mdquiz/internal/grading"
	"github.com/pavelanni/mdquiz/internal/kvstore"
	"github.com/pavelanni/mdquiz/internal/model"
	"github.com/pavelanni/mdquiz/internal/qml"
)

const physicsQuiz = `---
id: physics
title: Physics
duration: 30m
pass_score: 8
---

## Q1 [single] (5)

Which is a vector?

- A) Mass
- B*) Velocity

## Q2 [multiple] (4)

Pick the SI base units.

- A*) metre
- B*) second
- C) newton

## Q3 [short] (6)

Explain inertia.

[rubric]
Resistance to change in motion.
[/rubric]
`

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type person struct{ name, phone string }

type fakeRegistry struct {
	mu        sync.Mutex
	people    map[string]person
	results   map[string]int
	showScore *bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		people:  map[string]person{"c-1": {"Ada Lovelace", "13812345678"}},
		results: map[string]int{},
	}
}

func (r *fakeRegistry) CheckIdentity(_ context.Context, ref, name, phone string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.people[ref]
	return ok && p.name == name && p.phone == phone, nil
}

func (r *fakeRegistry) GetCandidate(_ context.Context, ref string) (*model.Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.people[ref]
	if !ok {
		return nil, nil
	}
	return &model.Candidate{Ref: ref, Name: p.name, Phone: p.phone}, nil
}

func (r *fakeRegistry) RecordResult(_ context.Context, ref string, _ model.Status, score *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[ref] = *score
	return nil
}

func (r *fakeRegistry) SetShowScore(_ context.Context, show bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.showScore = &show
	return nil
}

func (r *fakeRegistry) result(ref string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.results[ref]
	return v, ok
}

type fixture struct {
	svc   *Service
	kv    *kvstore.MemStore
	reg   *fakeRegistry
	rater *grading.MockRater
	clock *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rater := grading.NewMockRater()
	f := newFixtureWith(t, kvstore.NewMemStore(), rater)
	f.rater = rater
	return f
}

func newFixtureWith(t *testing.T, kv *kvstore.MemStore, rater grading.Rater) *fixture {
	t.Helper()
	reg := newFakeRegistry()
	engine := grading.NewEngine(rater, grading.WithRetryConfig(grading.RetryConfig{MaxAttempts: 1}))
	cfg := DefaultConfig()
	cfg.MinSubmitFloor = 0
	cfg.SweepInterval = 0

	svc := New(kv, reg, engine, cfg)
	clock := &fakeClock{now: t0}
	svc.Repo().SetClock(clock.Now)
	return &fixture{svc: svc, kv: kv, reg: reg, clock: clock}
}

func (f *fixture) publish(t *testing.T, text string) *PublishResult {
	t.Helper()
	res, err := f.svc.PublishExam(context.Background(), text)
	require.NoError(t, err)
	return res
}

func (f *fixture) issue(t *testing.T) string {
	t.Helper()
	a, err := f.svc.IssueAssignment(context.Background(), IssueRequest{ExamID: "physics", CandidateRef: "c-1"})
	require.NoError(t, err)
	return a.Token
}

// started issues an assignment, verifies it and fetches the exam.
func (f *fixture) started(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	token := f.issue(t)
	res, err := f.svc.Verify(ctx, token, "Ada Lovelace", "13812345678")
	require.NoError(t, err)
	require.True(t, res.OK)
	_, err = f.svc.GetPublicExam(ctx, token)
	require.NoError(t, err)
	return token
}

func TestPublishExamVersions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.publish(t, physicsQuiz)
	assert.Equal(t, "physics", first.ExamID)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 3, first.Questions)

	second := f.publish(t, physicsQuiz)
	assert.Equal(t, 2, second.Version)

	spec, err := f.svc.GetExam(ctx, "physics")
	require.NoError(t, err)
	assert.Equal(t, 2, spec.Meta.Version)

	raw, err := f.kv.Get(ctx, versionKey("physics", 1, "public"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"correct"`)
	assert.NotContains(t, string(raw), "Resistance to change")

	_, err = f.kv.Get(ctx, versionKey("physics", 1, "spec"))
	require.NoError(t, err, "earlier versions are kept")
}

func TestPublishExamParseError(t *testing.T) {
	f := newFixture(t)
	broken := strings.Replace(physicsQuiz, "- B*) Velocity", "- B) Velocity", 1)

	_, err := f.svc.PublishExam(context.Background(), broken)
	var perr *qml.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, qml.ErrNoCorrectOption, perr.Kind)

	_, err = f.svc.CurrentVersion(context.Background(), "physics")
	assert.ErrorIs(t, err, ErrExamNotFound)
}

func TestIssueAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.IssueAssignment(ctx, IssueRequest{ExamID: "physics", CandidateRef: "c-1"})
	assert.ErrorIs(t, err, ErrExamNotFound)

	f.publish(t, physicsQuiz)
	_, err = f.svc.IssueAssignment(ctx, IssueRequest{ExamID: "physics", CandidateRef: "nobody"})
	assert.ErrorIs(t, err, ErrUnknownCandidate)

	a, err := f.svc.IssueAssignment(ctx, IssueRequest{ExamID: "physics", CandidateRef: "c-1", MaxAttempts: 5})
	require.NoError(t, err)
	assert.NotEmpty(t, a.Token)
	assert.NotContains(t, a.Token, "c-1")
	assert.Equal(t, 1, a.ExamVersion)
	assert.Equal(t, int64(1800), a.Timing.Duration)
	assert.Equal(t, 5, a.Verify.MaxAttempts)
	assert.Equal(t, model.StatusCreated, a.Status)
}

func TestIssueDefaults(t *testing.T) {
	f := newFixture(t)
	f.svc.cfg.MinSubmitFloor = 60
	untimed := strings.Replace(physicsQuiz, "duration: 30m\n", "", 1)
	f.publish(t, untimed)

	a, err := f.svc.IssueAssignment(context.Background(), IssueRequest{ExamID: "physics", CandidateRef: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, assignment.DefaultDuration, a.Timing.Duration)
	assert.Equal(t, int64(60), a.Timing.MinSubmit)
	assert.Equal(t, assignment.DefaultMaxAttempts, a.Verify.MaxAttempts)

	f.svc.cfg.DefaultDuration = 0
	a, err = f.svc.IssueAssignment(context.Background(), IssueRequest{ExamID: "physics", CandidateRef: "c-1"})
	require.NoError(t, err)
	assert.Zero(t, a.Timing.Duration, "unlimited")
	assert.Zero(t, a.Timing.MinSubmit, "no floor without a time limit")
}

func TestCandidateFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, physicsQuiz)
	token := f.issue(t)

	_, err := f.svc.GetPublicExam(ctx, token)
	assert.True(t, assignment.IsInvalidTransition(err), "exam is hidden before verification")

	res, err := f.svc.Verify(ctx, token, "Ada Lovelace", "00000000000")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, 2, res.Remaining)

	res, err = f.svc.Verify(ctx, token, "Ada Lovelace", "13812345678")
	require.NoError(t, err)
	assert.True(t, res.OK)

	view, err := f.svc.GetPublicExam(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, view.Status)
	assert.Equal(t, int64(1800), view.Remaining)
	assert.Len(t, view.Exam.Questions, 3)
	data, err := json.Marshal(view)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"correct"`)

	f.clock.Advance(5 * time.Minute)
	_, err = f.svc.SaveAnswer(ctx, token, "Q1", model.TextAnswer(" b "))
	require.NoError(t, err)
	_, err = f.svc.SaveAnswer(ctx, token, "Q2", model.ChoiceAnswer("b", "A"))
	require.NoError(t, err)
	a, err := f.svc.SaveAnswer(ctx, token, "Q3", model.TextAnswer("An object keeps its state of motion."))
	require.NoError(t, err)
	assert.Equal(t, model.TextAnswer("B"), a.Answers["Q1"])
	assert.Equal(t, []string{"A", "B"}, a.Answers["Q2"].Choices)

	st, err := f.svc.GetStatus(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), st.Remaining)

	f.rater.AddRating(4.6, "mostly right")
	a, err = f.svc.Submit(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, a.Status)

	require.NoError(t, f.svc.GradeNow(ctx, token))
	result, err := f.svc.GetResult(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 9, result.ObjectiveScore)
	assert.Equal(t, 5, result.SubjectiveScore)
	assert.Equal(t, 14, result.TotalScore)
	assert.Equal(t, 15, result.MaxScore)
	require.NotNil(t, result.Passed)
	assert.True(t, *result.Passed)

	score, ok := f.reg.result("c-1")
	assert.True(t, ok)
	assert.Equal(t, 14, score)

	require.NoError(t, f.svc.GradeNow(ctx, token), "regrading is a no-op")
	assert.Equal(t, 1, f.rater.CallCount())

	st, err = f.svc.GetStatus(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, model.StatusGraded, st.Status)
	assert.Nil(t, st.Score, "score hidden by default")

	require.NoError(t, f.svc.SetShowScore(ctx, true))
	require.NotNil(t, f.reg.showScore)
	assert.True(t, *f.reg.showScore)
	st, err = f.svc.GetStatus(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, st.Score)
	assert.Equal(t, 14, st.Score.Total)
	assert.Equal(t, 93, st.Score.Percent)
}

func TestSaveAnswerValidation(t *testing.T) {
	f := newFixture(t)
	f.publish(t, physicsQuiz)
	token := f.started(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		qid     string
		ans     model.Answer
		wantErr error
	}{
		{"unknown question", "Q9", model.TextAnswer("A"), ErrUnknownQuestion},
		{"unknown option", "Q1", model.TextAnswer("Z"), ErrInvalidAnswer},
		{"two keys on single", "Q1", model.ChoiceAnswer("A", "B"), ErrInvalidAnswer},
		{"unknown key in set", "Q2", model.ChoiceAnswer("A", "Q"), ErrInvalidAnswer},
		{"set on short", "Q3", model.ChoiceAnswer("A"), ErrInvalidAnswer},
		{"too long", "Q3", model.TextAnswer(strings.Repeat("x", MaxShortAnswerRunes+1)), ErrInvalidAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SaveAnswer(ctx, token, tt.qid, tt.ans)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	a, err := f.svc.SaveAnswer(ctx, token, "Q2", model.TextAnswer("a, c"))
	require.NoError(t, err)
	assert.Equal(t, model.ChoiceAnswer("A", "C"), a.Answers["Q2"])

	a, err = f.svc.SaveAnswer(ctx, token, "Q2", model.ChoiceAnswer())
	require.NoError(t, err)
	assert.NotContains(t, a.Answers, "Q2", "an empty answer clears the question")
}

func TestVerifyLockout(t *testing.T) {
	f := newFixture(t)
	f.publish(t, physicsQuiz)
	token := f.issue(t)
	ctx := context.Background()

	for i := range 2 {
		res, err := f.svc.Verify(ctx, token, "Eve", "1")
		require.NoError(t, err)
		assert.Equal(t, 2-i, res.Remaining)
	}
	_, err := f.svc.Verify(ctx, token, "Eve", "1")
	assert.True(t, assignment.IsLocked(err))

	_, err = f.svc.Verify(ctx, token, "Ada Lovelace", "13812345678")
	assert.True(t, assignment.IsLocked(err), "the right identity cannot unlock")

	st, err := f.svc.GetStatus(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, st.Status)
}

func TestPinnedVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, physicsQuiz)
	token := f.started(t)

	flipped := strings.Replace(physicsQuiz, "- A) Mass\n- B*) Velocity", "- A*) Mass\n- B) Velocity", 1)
	require.Equal(t, 2, f.publish(t, flipped).Version)

	_, err := f.svc.SaveAnswer(ctx, token, "Q1", model.TextAnswer("B"))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, token)
	require.NoError(t, err)
	require.NoError(t, f.svc.GradeNow(ctx, token))

	result, err := f.svc.GetResult(ctx, token)
	require.NoError(t, err)
	q1, _ := result.Question("Q1")
	assert.Equal(t, 5, q1.Score, "graded against the version it was issued with")
	assert.Equal(t, 0, f.rater.CallCount(), "unanswered short questions skip the rater")
}

func TestGradeNowRequiresSubmission(t *testing.T) {
	f := newFixture(t)
	f.publish(t, physicsQuiz)
	token := f.started(t)

	err := f.svc.GradeNow(context.Background(), token)
	assert.True(t, assignment.IsInvalidTransition(err))

	_, err = f.svc.GetResult(context.Background(), token)
	assert.ErrorIs(t, err, ErrNotGraded)
}

func TestSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, physicsQuiz)

	running := f.started(t)
	deadline := t0.Add(time.Hour)
	late, err := f.svc.IssueAssignment(ctx, IssueRequest{ExamID: "physics", CandidateRef: "c-1", Deadline: &deadline})
	require.NoError(t, err)

	rep, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Checked: 2}, rep)

	f.clock.Advance(2 * time.Hour)
	rep, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Submitted)
	assert.Equal(t, 1, rep.Expired)
	assert.Equal(t, 1, f.svc.pool.Pending(), "the timeout scheduled grading")

	rep, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Requeued, "a queued token is not queued again")

	a, err := f.svc.Repo().Get(ctx, running)
	require.NoError(t, err)
	assert.True(t, a.Timing.AutoSubmitted)

	_, err = f.svc.Verify(ctx, late.Token, "Ada Lovelace", "13812345678")
	assert.True(t, assignment.IsExpired(err))

	runCtx, cancel := context.WithCancel(ctx)
	f.svc.Start(runCtx)
	t.Cleanup(func() {
		cancel()
		f.svc.Stop()
	})
	require.Eventually(t, func() bool {
		st, err := f.svc.GetStatus(ctx, running)
		return err == nil && st.Status == model.StatusGraded
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitSchedulesGrading(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.svc.Start(ctx)
	t.Cleanup(func() {
		cancel()
		f.svc.Stop()
	})

	f.publish(t, physicsQuiz)
	token := f.started(t)
	f.rater.AddRating(6, "perfect")
	_, err := f.svc.SaveAnswer(ctx, token, "Q3", model.TextAnswer("Objects resist changes to their motion."))
	require.NoError(t, err)

	a, err := f.svc.Submit(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, a.Status, "submit returns before grading")

	require.Eventually(t, func() bool {
		r, err := f.svc.GetResult(ctx, token)
		return err == nil && r.SubjectiveScore == 6
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmittedReadsDuringGrading(t *testing.T) {
	rating := make(chan struct{})
	release := make(chan struct{})
	rater := grading.RaterFunc(func(ctx context.Context, _ grading.RateRequest) (grading.Rating, error) {
		close(rating)
		select {
		case <-release:
		case <-ctx.Done():
			return grading.Rating{}, ctx.Err()
		}
		return grading.Rating{Score: 4, Reason: "ok"}, nil
	})
	f := newFixtureWith(t, kvstore.NewMemStore(kvstore.WithLockTimeout(100*time.Millisecond)), rater)
	ctx := context.Background()
	f.publish(t, physicsQuiz)
	token := f.started(t)
	_, err := f.svc.SaveAnswer(ctx, token, "Q3", model.TextAnswer("Mass resists acceleration."))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, token)
	require.NoError(t, err)

	graded := make(chan error, 1)
	go func() { graded <- f.svc.GradeNow(ctx, token) }()
	<-rating

	// The grading job holds the token lock until the rater returns.
	a, err := f.svc.Submit(ctx, token)
	require.NoError(t, err, "repeat submit must not wait for grading")
	assert.Equal(t, model.StatusSubmitted, a.Status)

	view, err := f.svc.GetPublicExam(ctx, token)
	require.NoError(t, err, "reloading the exam must not wait for grading")
	assert.Equal(t, model.StatusSubmitted, view.Status)
	assert.Contains(t, view.Answers, "Q3")

	close(release)
	require.NoError(t, <-graded)
	res, err := f.svc.GetResult(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 4, res.SubjectiveScore)

	a, err = f.svc.Submit(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, model.StatusGraded, a.Status)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, physicsQuiz)
	token := f.started(t)
	_, err := f.svc.SaveAnswer(ctx, token, "Q1", model.TextAnswer("B"))
	require.NoError(t, err)
	f.issue(t)

	exp, err := f.svc.Export(ctx, "physics")
	require.NoError(t, err)
	require.Len(t, exp.Results, 2)
	for _, r := range exp.Results {
		assert.Equal(t, "Ada Lovelace", r.CandidateName)
	}

	none, err := f.svc.Export(ctx, "chemistry")
	require.NoError(t, err)
	assert.Empty(t, none.Results)
}

func TestUnknownToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Verify(ctx, "no-such-token", "a", "b")
	assert.True(t, errors.Is(err, assignment.ErrNotFound))
	_, err = f.svc.GetStatus(ctx, "../escape")
	assert.ErrorIs(t, err, assignment.ErrNotFound)
}
