package grading

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig bounds how hard the engine tries to get a rating.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
	// CallTimeout caps each individual rater call.
	CallTimeout time.Duration
}

// DefaultRetryConfig allows two retries after the first attempt.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: 900 * time.Millisecond,
		MaxWait:     10 * time.Second,
		Multiplier:  2,
		CallTimeout: 60 * time.Second,
	}
}

func (c RetryConfig) backoff(attempt int, err error) time.Duration {
	var rd retryDelayer
	if errors.As(err, &rd) && rd.RetryDelay() > 0 {
		return min(rd.RetryDelay(), c.MaxWait)
	}

	wait := float64(c.InitialWait) * math.Pow(c.Multiplier, float64(attempt))
	if c.MaxWait > 0 && wait > float64(c.MaxWait) {
		wait = float64(c.MaxWait)
	}
	// ±20% jitter
	wait += wait * 0.2 * (2*rand.Float64() - 1)
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}

func shouldRetry(ctx context.Context, err error, invalidRetried *bool) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	var bad *RatingError
	if errors.As(err, &bad) {
		if *invalidRetried {
			return false
		}
		*invalidRetried = true
		return true
	}
	// Per-call deadlines, rate limits, outages and network errors are transient.
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// rate calls the rater until it succeeds, the error is permanent, or the
// attempts run out. It returns the number of attempts made and the raw text
// of the last unusable response, if any.
func (e *Engine) rate(ctx context.Context, req RateRequest) (Rating, int, string, error) {
	var (
		lastErr        error
		lastRaw        string
		invalidRetried bool
	)
	attempts := 0
	for attempt := range max(1, e.retry.MaxAttempts) {
		attempts++
		rating, err := e.rateOnce(ctx, req)
		if err == nil {
			return rating, attempts, rating.Raw, nil
		}
		lastErr = err
		var bad *RatingError
		if errors.As(err, &bad) {
			lastRaw = bad.Raw
		}
		if !shouldRetry(ctx, err, &invalidRetried) || attempt == e.retry.MaxAttempts-1 {
			break
		}
		if err := e.sleep(ctx, e.retry.backoff(attempt, err)); err != nil {
			lastErr = err
			break
		}
	}
	return Rating{}, attempts, lastRaw, lastErr
}

func (e *Engine) rateOnce(ctx context.Context, req RateRequest) (Rating, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Rating{}, err
	}
	defer e.sem.Release(1)

	callCtx := ctx
	if e.retry.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.retry.CallTimeout)
		defer cancel()
	}
	return e.rater.Rate(callCtx, req)
}
