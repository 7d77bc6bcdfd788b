// Package grading scores submitted answers against an exam specification.
// Choice questions are scored locally; short answers go to a Rater with
// bounded retries, and a failed rating never fails the whole submission.
package grading

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pavelanni/mdquiz/internal/model"
)

// DefaultConcurrency bounds simultaneous rater calls across all jobs.
const DefaultConcurrency = 4

// Engine grades assignments. It is safe for concurrent use.
type Engine struct {
	rater Rater
	retry RetryConfig
	sem   *semaphore.Weighted
	sleep func(context.Context, time.Duration) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryConfig overrides DefaultRetryConfig.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(e *Engine) { e.retry = cfg }
}

// WithConcurrency sets how many rater calls may run at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewEngine creates an engine. A nil rater marks every answered short
// question for manual review.
func NewEngine(r Rater, opts ...Option) *Engine {
	e := &Engine{
		rater: r,
		retry: DefaultRetryConfig(),
		sem:   semaphore.NewWeighted(DefaultConcurrency),
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Grade scores answers against spec. Results follow question order.
func (e *Engine) Grade(ctx context.Context, spec *model.ExamSpec, answers map[string]model.Answer, now time.Time) *model.GradingResult {
	res := &model.GradingResult{
		PerQuestion: make([]model.QuestionResult, len(spec.Questions)),
		MaxScore:    spec.MaxScore(),
		PassScore:   spec.Meta.PassScore,
		GradedAt:    now,
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i, q := range spec.Questions {
		ans := answers[q.ID]
		if q.Type.Objective() {
			score, reason := ScoreObjective(q, ans)
			res.PerQuestion[i] = model.QuestionResult{
				QuestionID: q.ID, Type: q.Type, Score: score, MaxPoints: q.MaxPoints(), Reason: reason,
			}
			continue
		}
		wg.Go(func() {
			qr, ex := e.scoreSubjective(ctx, spec, q, ans)
			mu.Lock()
			defer mu.Unlock()
			res.PerQuestion[i] = qr
			if ex != nil {
				if res.Exchanges == nil {
					res.Exchanges = map[string]model.RaterExchange{}
				}
				res.Exchanges[q.ID] = *ex
			}
		})
	}
	wg.Wait()

	for _, qr := range res.PerQuestion {
		if qr.Type.Objective() {
			res.ObjectiveScore += qr.Score
		} else {
			res.SubjectiveScore += qr.Score
		}
		res.NeedsReview = res.NeedsReview || qr.NeedsReview
	}
	res.TotalScore = res.ObjectiveScore + res.SubjectiveScore
	if res.MaxScore > 0 {
		res.Percent = int(math.Round(float64(res.TotalScore) * 100 / float64(res.MaxScore)))
	}
	if res.PassScore != nil {
		passed := res.TotalScore >= *res.PassScore
		res.Passed = &passed
	}
	res.Profile = BuildProfile(spec, answers, res)
	return res
}

// ScoreObjective scores a single or multiple question. Unknown option keys
// count as wrong selections.
func ScoreObjective(q model.Question, ans model.Answer) (int, string) {
	selected := SelectedKeys(ans)
	if len(selected) == 0 {
		return 0, "no answer"
	}
	correct := q.CorrectKeys()
	hits, wrong := 0, 0
	for _, k := range selected {
		if slices.Contains(correct, k) {
			hits++
		} else {
			wrong++
		}
	}

	switch q.Type {
	case model.TypeSingle:
		if len(selected) == 1 && hits == 1 {
			return q.Points, "correct"
		}
		return 0, "incorrect"
	case model.TypeMultiple:
		if hits == len(correct) && wrong == 0 {
			return q.Points, "correct"
		}
		if !q.PartialCredit || len(correct) == 0 {
			return 0, "incorrect"
		}
		raw := float64(q.Points) * float64(max(0, hits-wrong)) / float64(len(correct))
		score := min(q.Points, max(0, int(math.Round(raw))))
		return score, "partial credit"
	}
	return 0, ""
}

// SelectedKeys normalizes an answer to a sorted set of upper-case option
// keys. A text answer may list several keys separated by commas.
func SelectedKeys(ans model.Answer) []string {
	var raw []string
	switch ans.Kind {
	case model.AnswerText:
		raw = strings.Split(ans.Text, ",")
	case model.AnswerChoices:
		raw = ans.Choices
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		k = strings.ToUpper(strings.TrimSpace(k))
		if k != "" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

func (e *Engine) scoreSubjective(ctx context.Context, spec *model.ExamSpec, q model.Question, ans model.Answer) (model.QuestionResult, *model.RaterExchange) {
	qr := model.QuestionResult{QuestionID: q.ID, Type: q.Type, MaxPoints: q.MaxPoints()}
	text := strings.TrimSpace(ans.String())
	if text == "" {
		qr.Reason = "no answer"
		return qr, nil
	}
	log := slog.With("exam_id", spec.Meta.ID, "question_id", q.ID)
	if e.rater == nil {
		qr.Reason = "no rater configured"
		qr.NeedsReview = true
		return qr, nil
	}

	cfg := spec.ResolvedLLM(q)
	prompt, err := BuildPrompt(cfg.PromptTemplate, q, text)
	if err != nil {
		log.Error("build prompt", "error", err)
		qr.Reason = "prompt error"
		qr.NeedsReview = true
		return qr, &model.RaterExchange{Error: err.Error()}
	}

	ex := &model.RaterExchange{Prompt: prompt, Model: cfg.Model}
	rating, attempts, raw, err := e.rate(ctx, RateRequest{
		QuestionID:  q.ID,
		Prompt:      prompt,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxPoints:   q.MaxPoints(),
	})
	ex.Attempts = attempts
	if err != nil {
		log.Warn("rating failed", "attempts", attempts, "error", err)
		ex.Response = raw
		ex.Error = err.Error()
		qr.Reason = "automatic grading failed; needs manual review"
		qr.NeedsReview = true
		return qr, ex
	}
	ex.Response = raw

	score := rating.Score
	if math.IsNaN(score) {
		score = 0
	}
	score = math.Max(0, math.Min(float64(q.MaxPoints()), score))
	qr.Score = int(math.Round(score))
	qr.Reason = rating.Reason
	log.Debug("rated", "score", qr.Score, "attempts", attempts)
	return qr, ex
}

// BuildProfile sums trait deltas of selected options, plus question-level
// deltas of questions that earned full points, and tallies option bonuses.
func BuildProfile(spec *model.ExamSpec, answers map[string]model.Answer, res *model.GradingResult) model.Profile {
	p := model.Profile{Traits: model.Traits{}}
	add := func(t model.Traits) {
		for k, v := range t {
			p.Traits[k] += v
		}
	}
	for _, q := range spec.Questions {
		if q.Type.Objective() {
			for _, k := range SelectedKeys(answers[q.ID]) {
				opt, ok := q.Option(k)
				if !ok {
					continue
				}
				add(opt.Traits)
				if opt.Bonus != nil {
					p.Bonus += *opt.Bonus
				}
			}
		}
		if len(q.Traits) > 0 {
			if qr, ok := res.Question(q.ID); ok && qr.MaxPoints > 0 && qr.Score == qr.MaxPoints {
				add(q.Traits)
			}
		}
	}
	if len(p.Traits) == 0 {
		p.Traits = nil
	}
	return p
}
