package assignment

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/mdquiz/internal/kvstore"
	"github.com/pavelanni/mdquiz/internal/model"
)

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

func newTestRepo(t *testing.T) (*Repo, *fakeClock) {
	t.Helper()
	kv, err := kvstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	r := NewRepo(kv)
	clk := &fakeClock{now: t0}
	r.SetClock(clk.Now)
	return r, clk
}

func issue(t *testing.T, r *Repo, p Params) string {
	t.Helper()
	tok := NewToken()
	require.NoError(t, r.Create(context.Background(), New(tok, p, r.Now())))
	return tok
}

func TestRepoLifecycle(t *testing.T) {
	r, clk := newTestRepo(t)
	ctx := context.Background()
	tok := issue(t, r, Params{ExamID: "demo", ExamVersion: 1, Duration: 600})

	var submitted []string
	r.OnSubmit(func(a *model.Assignment) { submitted = append(submitted, a.Token) })

	res, _, err := r.Verify(ctx, tok, true)
	require.NoError(t, err)
	assert.True(t, res.OK)

	a, err := r.Begin(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, a.Status)

	clk.Advance(time.Minute)
	_, err = r.SaveAnswer(ctx, tok, "Q1", model.TextAnswer("B"))
	require.NoError(t, err)
	_, err = r.SaveAnswer(ctx, tok, "Q2", model.ChoiceAnswer("C", "A"))
	require.NoError(t, err)

	a, err = r.Submit(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, a.Status)
	assert.Equal(t, []string{tok}, submitted)

	stored, err := r.Get(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, model.ChoiceAnswer("A", "C"), stored.Answers["Q2"])
	assert.Equal(t, 1, stored.ExamVersion)

	a, err = r.Submit(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, a.Status)
	assert.Len(t, submitted, 1, "no-op submit must not reschedule grading")
}

func TestRepoLockoutPersists(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	tok := issue(t, r, Params{ExamID: "demo", MaxAttempts: 2})

	_, _, err := r.Verify(ctx, tok, false)
	require.NoError(t, err)
	_, _, err = r.Verify(ctx, tok, false)
	require.True(t, IsLocked(err), "err = %v", err)

	a, err := r.Get(ctx, tok)
	require.NoError(t, err)
	assert.True(t, a.Verify.Locked)
	assert.Equal(t, 2, a.Verify.Attempts)
	assert.Equal(t, model.StatusExpired, a.Status)
}

func TestRepoFailedOperationWritesNothing(t *testing.T) {
	r, clk := newTestRepo(t)
	ctx := context.Background()
	tok := issue(t, r, Params{ExamID: "demo"})
	before, err := r.Get(ctx, tok)
	require.NoError(t, err)

	clk.Advance(time.Minute)
	_, err = r.SaveAnswer(ctx, tok, "Q1", model.TextAnswer("A"))
	require.True(t, IsInvalidTransition(err))

	after, err := r.Get(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Empty(t, after.Answers)
}

func TestRepoTimeoutDuringAnswer(t *testing.T) {
	r, clk := newTestRepo(t)
	ctx := context.Background()
	tok := issue(t, r, Params{ExamID: "demo", Duration: 60})

	var calls int
	r.OnSubmit(func(*model.Assignment) { calls++ })

	_, _, err := r.Verify(ctx, tok, true)
	require.NoError(t, err)
	_, err = r.SaveAnswer(ctx, tok, "Q1", model.TextAnswer("A"))
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	a, err := r.SaveAnswer(ctx, tok, "Q1", model.TextAnswer("B"))
	require.True(t, IsInvalidTransition(err), "err = %v", err)
	assert.Equal(t, model.StatusSubmitted, a.Status)
	assert.True(t, a.Timing.AutoSubmitted)
	assert.Equal(t, model.TextAnswer("A"), a.Answers["Q1"], "late answer must not be stored")
	assert.Equal(t, 1, calls)

	stored, err := r.Get(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, stored.Status)
}

func TestRepoConcurrentAnswers(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	tok := issue(t, r, Params{ExamID: "demo"})
	_, _, err := r.Verify(ctx, tok, true)
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.SaveAnswer(ctx, tok, fmt.Sprintf("Q%d", i), model.TextAnswer("A"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	a, err := r.Get(ctx, tok)
	require.NoError(t, err)
	assert.Len(t, a.Answers, n)
	assert.Equal(t, model.StatusInProgress, a.Status)
}

func TestRepoUnknownTokens(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	for _, tok := range []string{"nope", "../etc", ""} {
		_, err := r.Get(ctx, tok)
		assert.ErrorIs(t, err, ErrNotFound, tok)
		_, err = r.Submit(ctx, tok)
		assert.ErrorIs(t, err, ErrNotFound, tok)
	}
}

func TestRepoCreateRejectsDuplicateToken(t *testing.T) {
	r, _ := newTestRepo(t)
	tok := issue(t, r, Params{ExamID: "demo"})
	err := r.Create(context.Background(), New(tok, Params{ExamID: "other"}, t0))
	require.Error(t, err)

	toks, err := r.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{tok}, toks)
}
