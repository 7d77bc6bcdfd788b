package grading

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateRequest is one subjective scoring call.
type RateRequest struct {
	QuestionID  string
	Prompt      string
	Model       string
	Temperature *float64
	MaxPoints   int
}

// Rating is a rater's verdict. Score is not yet clamped.
type Rating struct {
	Score  float64
	Reason string
	Raw    string
}

// Rater scores free-text answers, typically by asking an LLM.
type Rater interface {
	Rate(ctx context.Context, req RateRequest) (Rating, error)
}

// RaterFunc adapts a function to the Rater interface.
type RaterFunc func(ctx context.Context, req RateRequest) (Rating, error)

func (f RaterFunc) Rate(ctx context.Context, req RateRequest) (Rating, error) {
	return f(ctx, req)
}

// RatingError reports a response that arrived but could not be understood.
// It gets a single retry.
type RatingError struct {
	Raw string
	Err error
}

func (e *RatingError) Error() string {
	return fmt.Sprintf("unusable rating: %v", e.Err)
}

func (e *RatingError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// retryDelayer is implemented by errors that carry a server-suggested wait.
type retryDelayer interface {
	RetryDelay() time.Duration
}

// MockRater returns canned results in FIFO order and records every request.
type MockRater struct {
	mu        sync.Mutex
	results   []mockResult
	Requests  []RateRequest
	callCount int
}

type mockResult struct {
	rating Rating
	err    error
}

// NewMockRater creates an empty MockRater.
func NewMockRater() *MockRater {
	return &MockRater{}
}

// AddRating queues a successful rating.
func (m *MockRater) AddRating(score float64, reason string) *MockRater {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw := fmt.Sprintf(`{"score": %g, "reason": %q}`, score, reason)
	m.results = append(m.results, mockResult{rating: Rating{Score: score, Reason: reason, Raw: raw}})
	return m
}

// AddError queues a failure.
func (m *MockRater) AddError(err error) *MockRater {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, mockResult{err: err})
	return m
}

func (m *MockRater) Rate(ctx context.Context, req RateRequest) (Rating, error) {
	if err := ctx.Err(); err != nil {
		return Rating{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.Requests = append(m.Requests, req)
	if len(m.results) == 0 {
		return Rating{}, fmt.Errorf("mock rater: no results queued")
	}
	r := m.results[0]
	m.results = m.results[1:]
	return r.rating, r.err
}

// CallCount returns how many times Rate was called.
func (m *MockRater) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}
