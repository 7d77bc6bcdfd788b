package grading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/mdquiz/internal/model"
	"github.com/pavelanni/mdquiz/internal/qml"
)

const demoQuiz = `---
id: demo
pass_score: 12
llm:
  model: base-model
  temperature: 0.1
---

## Q1 [single] (5)

Which number is even?

- A) 3
- B*) 4 {traits:logic=1}
- C) 5

## Q2 [multiple] (6) {partial}

Pick the primes.

- A*) 2
- B) 4
- C*) 3 {traits:logic=2, points=1}
- D) 9

## Q3 [short] (10) {traits:clarity=3}

Why is the sky blue?

[rubric]
Rayleigh scattering.
[/rubric]

[llm]
model=override-model
[/llm]
`

var tGraded = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func demoSpec(t *testing.T) *model.ExamSpec {
	t.Helper()
	spec, _, err := qml.Parse(demoQuiz)
	require.NoError(t, err)
	return spec
}

func noSleep(e *Engine) *[]time.Duration {
	var waits []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return &waits
}

func TestScoreObjective(t *testing.T) {
	spec := demoSpec(t)
	q1, _ := spec.Question("Q1")
	q2, _ := spec.Question("Q2")
	strict := q2
	strict.PartialCredit = false

	tests := []struct {
		name string
		q    model.Question
		ans  model.Answer
		want int
	}{
		{"single correct", q1, model.TextAnswer("B"), 5},
		{"single lower case", q1, model.TextAnswer(" b "), 5},
		{"single wrong", q1, model.TextAnswer("A"), 0},
		{"single two keys", q1, model.ChoiceAnswer("A", "B"), 0},
		{"single empty", q1, model.Answer{}, 0},
		{"multiple exact", q2, model.ChoiceAnswer("C", "A"), 6},
		{"multiple exact as text", q2, model.TextAnswer("a,c"), 6},
		{"partial one hit", q2, model.ChoiceAnswer("A"), 3},
		{"partial hit and wrong cancel", q2, model.ChoiceAnswer("A", "B"), 0},
		{"partial two hits one wrong", q2, model.ChoiceAnswer("A", "C", "D"), 3},
		{"partial never negative", q2, model.ChoiceAnswer("B", "D"), 0},
		{"partial unknown key is wrong", q2, model.ChoiceAnswer("A", "C", "Z"), 3},
		{"strict subset", strict, model.ChoiceAnswer("A"), 0},
		{"strict exact", strict, model.ChoiceAnswer("A", "C"), 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := ScoreObjective(tt.q, tt.ans)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGradeEndToEnd(t *testing.T) {
	spec := demoSpec(t)
	rater := NewMockRater().AddRating(7, "mentions scattering")
	e := NewEngine(rater)
	noSleep(e)

	res := e.Grade(context.Background(), spec, map[string]model.Answer{
		"Q1": model.TextAnswer("B"),
		"Q2": model.ChoiceAnswer("A", "C"),
		"Q3": model.TextAnswer("Because of Rayleigh scattering."),
	}, tGraded)

	assert.Equal(t, 11, res.ObjectiveScore)
	assert.Equal(t, 7, res.SubjectiveScore)
	assert.Equal(t, 18, res.TotalScore)
	assert.Equal(t, 21, res.MaxScore)
	assert.Equal(t, 86, res.Percent)
	require.NotNil(t, res.Passed)
	assert.True(t, *res.Passed)
	assert.False(t, res.NeedsReview)
	assert.Equal(t, tGraded, res.GradedAt)

	ids := make([]string, len(res.PerQuestion))
	for i, qr := range res.PerQuestion {
		ids[i] = qr.QuestionID
	}
	assert.Equal(t, []string{"Q1", "Q2", "Q3"}, ids)

	require.Equal(t, 1, rater.CallCount())
	req := rater.Requests[0]
	assert.Equal(t, "override-model", req.Model, "question override wins")
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.1, *req.Temperature, "missing override key falls back to the exam value")
	assert.Contains(t, req.Prompt, "Rayleigh scattering.")
	assert.Contains(t, req.Prompt, "Because of Rayleigh scattering.")

	ex := res.Exchanges["Q3"]
	assert.Equal(t, 1, ex.Attempts)
	assert.Equal(t, "override-model", ex.Model)
	assert.Contains(t, ex.Response, "mentions scattering")

	// Q1 option B (logic 1) + Q2 option C (logic 2) + Q3 not full marks.
	assert.Equal(t, model.Traits{"logic": 3}, res.Profile.Traits)
	assert.Equal(t, 1, res.Profile.Bonus)
}

func TestGradePassedNilWithoutThreshold(t *testing.T) {
	spec := demoSpec(t)
	spec.Meta.PassScore = nil
	res := NewEngine(nil).Grade(context.Background(), spec, nil, tGraded)
	assert.Nil(t, res.Passed)
	assert.Equal(t, 0, res.TotalScore)
	assert.False(t, res.NeedsReview, "an unanswered short question needs no review")
}

func TestEmptyAnswerSkipsRater(t *testing.T) {
	spec := demoSpec(t)
	rater := NewMockRater()
	res := NewEngine(rater).Grade(context.Background(), spec, map[string]model.Answer{
		"Q3": model.TextAnswer("   "),
	}, tGraded)
	assert.Equal(t, 0, rater.CallCount())
	qr, _ := res.Question("Q3")
	assert.Equal(t, 0, qr.Score)
	assert.NotContains(t, res.Exchanges, "Q3")
}

func TestScoreClampedAndRounded(t *testing.T) {
	tests := []struct {
		rated float64
		want  int
	}{
		{14.6, 10},
		{-3, 0},
		{6.5, 7},
		{6.4, 6},
		{1e30, 10},
		{math.Inf(1), 10},
		{math.Inf(-1), 0},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.rated), func(t *testing.T) {
			spec := demoSpec(t)
			e := NewEngine(NewMockRater().AddRating(tt.rated, "ok"))
			res := e.Grade(context.Background(), spec, map[string]model.Answer{"Q3": model.TextAnswer("x")}, tGraded)
			qr, _ := res.Question("Q3")
			assert.Equal(t, tt.want, qr.Score)
		})
	}
}

func TestQuestionTraitsOnFullScore(t *testing.T) {
	spec := demoSpec(t)
	e := NewEngine(NewMockRater().AddRating(10, "perfect"))
	res := e.Grade(context.Background(), spec, map[string]model.Answer{"Q3": model.TextAnswer("x")}, tGraded)
	assert.Equal(t, model.Traits{"clarity": 3}, res.Profile.Traits)
}

func TestRetryThenSuccess(t *testing.T) {
	spec := demoSpec(t)
	rater := NewMockRater().
		AddError(errors.New("connection reset")).
		AddError(&RatingError{Raw: "I think 5", Err: errors.New("no JSON")}).
		AddRating(5, "fine")
	e := NewEngine(rater)
	waits := noSleep(e)

	res := e.Grade(context.Background(), spec, map[string]model.Answer{"Q3": model.TextAnswer("x")}, tGraded)
	qr, _ := res.Question("Q3")
	assert.Equal(t, 5, qr.Score)
	assert.False(t, qr.NeedsReview)
	assert.Equal(t, 3, res.Exchanges["Q3"].Attempts)
	assert.Len(t, *waits, 2)
}

func TestRetryExhaustedNeedsReview(t *testing.T) {
	spec := demoSpec(t)
	rater := NewMockRater()
	for range 5 {
		rater.AddError(errors.New("503 service unavailable"))
	}
	e := NewEngine(rater)
	noSleep(e)

	res := e.Grade(context.Background(), spec, map[string]model.Answer{
		"Q1": model.TextAnswer("B"),
		"Q3": model.TextAnswer("x"),
	}, tGraded)

	qr, _ := res.Question("Q3")
	assert.Equal(t, 0, qr.Score)
	assert.True(t, qr.NeedsReview)
	assert.True(t, res.NeedsReview)
	assert.Equal(t, 5, res.TotalScore, "objective scores survive a rater outage")
	ex := res.Exchanges["Q3"]
	assert.Equal(t, 3, ex.Attempts)
	assert.Contains(t, ex.Error, "503")
	assert.Equal(t, 3, rater.CallCount())
}

func TestInvalidResponseRetriedOnce(t *testing.T) {
	spec := demoSpec(t)
	rater := NewMockRater()
	for range 3 {
		rater.AddError(&RatingError{Raw: "garbage", Err: errors.New("no score")})
	}
	e := NewEngine(rater)
	noSleep(e)

	res := e.Grade(context.Background(), spec, map[string]model.Answer{"Q3": model.TextAnswer("x")}, tGraded)
	ex := res.Exchanges["Q3"]
	assert.Equal(t, 2, ex.Attempts)
	assert.Equal(t, "garbage", ex.Response)
}

func TestPermanentErrorNotRetried(t *testing.T) {
	spec := demoSpec(t)
	rater := NewMockRater().AddError(&PermanentError{Err: errors.New("invalid api key")})
	e := NewEngine(rater)
	noSleep(e)

	res := e.Grade(context.Background(), spec, map[string]model.Answer{"Q3": model.TextAnswer("x")}, tGraded)
	assert.Equal(t, 1, res.Exchanges["Q3"].Attempts)
	assert.Equal(t, 1, rater.CallCount())
}

type delayedErr struct{ d time.Duration }

func (e delayedErr) Error() string              { return "rate limited" }
func (e delayedErr) RetryDelay() time.Duration { return e.d }

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{InitialWait: 100 * time.Millisecond, MaxWait: time.Second, Multiplier: 2}
	for attempt, base := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second} {
		got := cfg.backoff(attempt, errors.New("x"))
		assert.InDelta(t, float64(base), float64(got), float64(base)*0.2+1, "attempt %d", attempt)
	}
	assert.Equal(t, 300*time.Millisecond, cfg.backoff(0, delayedErr{300 * time.Millisecond}))
	assert.Equal(t, time.Second, cfg.backoff(0, delayedErr{time.Minute}))
}

func TestConcurrencyBound(t *testing.T) {
	var b strings.Builder
	b.WriteString("---\nid: many\n---\n")
	answers := map[string]model.Answer{}
	for i := 1; i <= 8; i++ {
		fmt.Fprintf(&b, "## Q%d [short] (2)\n\nSay something.\n\n[rubric]\nanything\n[/rubric]\n\n", i)
		answers[fmt.Sprintf("Q%d", i)] = model.TextAnswer("something")
	}
	spec, _, err := qml.Parse(b.String())
	require.NoError(t, err)

	var inFlight, peak int32
	var mu sync.Mutex
	rater := RaterFunc(func(ctx context.Context, req RateRequest) (Rating, error) {
		n := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		peak = max(peak, n)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return Rating{Score: 2, Raw: `{"score":2}`}, nil
	})

	res := NewEngine(rater, WithConcurrency(2)).Grade(context.Background(), spec, answers, tGraded)
	assert.Equal(t, 16, res.TotalScore)
	assert.LessOrEqual(t, peak, int32(2))
}
