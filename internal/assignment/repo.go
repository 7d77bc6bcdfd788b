package assignment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/mdquiz/internal/kvstore"
	"github.com/pavelanni/mdquiz/internal/model"
)

const keyPrefix = "assignments"

// Key returns the storage key of an assignment.
func Key(token string) string {
	return keyPrefix + "/" + token
}

// Repo persists assignments and serializes every mutation of one token
// through the store's per-key lock.
type Repo struct {
	kv       kvstore.Store
	now      func() time.Time
	onSubmit func(a *model.Assignment)
}

// NewRepo creates a repository over kv.
func NewRepo(kv kvstore.Store) *Repo {
	return &Repo{kv: kv, now: time.Now}
}

// SetClock replaces the time source. Tests use it to move time forward.
func (r *Repo) SetClock(now func() time.Time) {
	r.now = now
}

// Now returns the repository's current time.
func (r *Repo) Now() time.Time {
	return r.now()
}

// OnSubmit registers fn to run after any transition into submitted has been
// persisted, including timeouts noticed while serving another operation.
func (r *Repo) OnSubmit(fn func(a *model.Assignment)) {
	r.onSubmit = fn
}

// Create stores a new assignment. The token must be unused.
func (r *Repo) Create(ctx context.Context, a *model.Assignment) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode assignment: %w", err)
	}
	err = r.kv.WithLock(ctx, Key(a.Token), func(cur []byte) ([]byte, error) {
		if cur != nil {
			return nil, fmt.Errorf("token %s already exists", a.Token)
		}
		return doc, nil
	})
	if err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

// Get reads an assignment without applying clock transitions.
func (r *Repo) Get(ctx context.Context, token string) (*model.Assignment, error) {
	if kvstore.ValidateKey(Key(token)) != nil {
		return nil, ErrNotFound
	}
	a, err := kvstore.GetJSON[model.Assignment](ctx, r.kv, Key(token))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return &a, nil
}

// List returns every stored token.
func (r *Repo) List(ctx context.Context) ([]string, error) {
	keys, err := r.kv.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	tokens := make([]string, 0, len(keys))
	for _, k := range keys {
		tokens = append(tokens, strings.TrimPrefix(k, keyPrefix+"/"))
	}
	return tokens, nil
}

// Mutation is a transition applied under the assignment's lock. It reports
// whether it changed the document. A change is persisted even when an error
// is returned alongside it.
type Mutation func(a *model.Assignment, now time.Time) (bool, error)

// Update applies clock transitions and then fn under the token's lock, and
// returns the resulting document.
func (r *Repo) Update(ctx context.Context, token string, fn Mutation) (*model.Assignment, error) {
	if kvstore.ValidateKey(Key(token)) != nil {
		return nil, ErrNotFound
	}
	var (
		out       *model.Assignment
		opErr     error
		submitted bool
	)
	err := r.kv.WithLock(ctx, Key(token), func(cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, ErrNotFound
		}
		var a model.Assignment
		if err := json.Unmarshal(cur, &a); err != nil {
			return nil, fmt.Errorf("%w: %v", kvstore.ErrStorageCorrupt, err)
		}
		now := r.now()
		before := a.Status

		changed := Tick(&a, now)
		if fn != nil {
			var ch bool
			ch, opErr = fn(&a, now)
			changed = changed || ch
		}
		out = &a
		if !changed {
			return nil, nil
		}
		a.UpdatedAt = now
		submitted = before.PreSubmit() && a.Status == model.StatusSubmitted
		return json.Marshal(&a)
	})
	if err != nil {
		return nil, err
	}
	if submitted {
		slog.Info("assignment submitted", "token", token, "exam_id", out.ExamID, "auto", out.Timing.AutoSubmitted)
		if r.onSubmit != nil {
			r.onSubmit(out)
		}
	}
	return out, opErr
}

// Verify records an identity check outcome.
func (r *Repo) Verify(ctx context.Context, token string, matched bool) (VerifyResult, *model.Assignment, error) {
	var res VerifyResult
	a, err := r.Update(ctx, token, func(a *model.Assignment, now time.Time) (bool, error) {
		var (
			changed bool
			err     error
		)
		res, changed, err = Verify(a, matched, now)
		return changed, err
	})
	if IsLocked(err) {
		slog.Warn("assignment locked", "token", token, "attempts", a.Verify.Attempts)
	}
	return res, a, err
}

// settled returns the stored document when it is already submitted or
// graded. Only grading changes such a document, and grading holds the lock
// for the whole rater run, so callers read it without waiting.
func (r *Repo) settled(ctx context.Context, token string) *model.Assignment {
	a, err := r.Get(ctx, token)
	if err != nil {
		return nil
	}
	if a.Status != model.StatusSubmitted && a.Status != model.StatusGraded {
		return nil
	}
	return a
}

// Begin starts the answering window on first exam fetch.
func (r *Repo) Begin(ctx context.Context, token string) (*model.Assignment, error) {
	if a := r.settled(ctx, token); a != nil {
		return a, nil
	}
	return r.Update(ctx, token, Begin)
}

// SaveAnswer writes one answer.
func (r *Repo) SaveAnswer(ctx context.Context, token, questionID string, ans model.Answer) (*model.Assignment, error) {
	return r.Update(ctx, token, func(a *model.Assignment, now time.Time) (bool, error) {
		return SaveAnswer(a, questionID, ans, now)
	})
}

// Submit closes the answering window. A repeat submit returns the stored
// document.
func (r *Repo) Submit(ctx context.Context, token string) (*model.Assignment, error) {
	if a := r.settled(ctx, token); a != nil {
		return a, nil
	}
	return r.Update(ctx, token, Submit)
}

// Tick applies clock-driven transitions only.
func (r *Repo) Tick(ctx context.Context, token string) (*model.Assignment, error) {
	return r.Update(ctx, token, nil)
}
