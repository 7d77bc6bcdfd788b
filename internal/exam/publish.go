package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/pavelanni/mdquiz/internal/kvstore"
	"github.com/pavelanni/mdquiz/internal/model"
	"github.com/pavelanni/mdquiz/internal/qml"
)

// head points at the current version of an exam.
type head struct {
	Version     int       `json:"version"`
	PublishedAt time.Time `json:"published_at"`
}

func headKey(id string) string { return "exams/" + id + "/current" }

func versionKey(id string, v int, doc string) string {
	return "exams/" + id + "/v" + strconv.Itoa(v) + "/" + doc
}

// PublishResult describes a published exam version.
type PublishResult struct {
	ExamID      string           `json:"exam_id"`
	Version     int              `json:"version"`
	Questions   int              `json:"questions"`
	Diagnostics []qml.Diagnostic `json:"diagnostics,omitempty"`
}

// PublishExam parses raw quiz text and stores it as the exam's next
// version along with its public projection. A parse failure is returned
// as *qml.ParseError and stores nothing.
func (s *Service) PublishExam(ctx context.Context, raw string) (*PublishResult, error) {
	spec, diags, err := qml.Parse(raw)
	if err != nil {
		return nil, err
	}
	id := spec.Meta.ID
	if err := kvstore.ValidateKey(headKey(id)); err != nil {
		return nil, fmt.Errorf("exam id %q: %w", id, err)
	}

	now := s.repo.Now()
	err = kvstore.UpdateJSON(ctx, s.kv, headKey(id), func(h *head, _ bool) error {
		h.Version++
		h.PublishedAt = now
		spec.Meta.Version = h.Version
		if err := kvstore.PutJSON(ctx, s.kv, versionKey(id, h.Version, "spec"), spec); err != nil {
			return err
		}
		return kvstore.PutJSON(ctx, s.kv, versionKey(id, h.Version, "public"), qml.Project(spec))
	})
	if err != nil {
		return nil, fmt.Errorf("publish exam %s: %w", id, err)
	}

	slog.Info("exam published", "exam_id", id, "version", spec.Meta.Version,
		"questions", len(spec.Questions), "diagnostics", len(diags))
	return &PublishResult{
		ExamID:      id,
		Version:     spec.Meta.Version,
		Questions:   len(spec.Questions),
		Diagnostics: diags,
	}, nil
}

// CurrentVersion returns the latest published version of an exam.
func (s *Service) CurrentVersion(ctx context.Context, id string) (int, error) {
	if kvstore.ValidateKey(headKey(id)) != nil {
		return 0, ErrExamNotFound
	}
	h, err := kvstore.GetJSON[head](ctx, s.kv, headKey(id))
	if errors.Is(err, kvstore.ErrNotFound) {
		return 0, ErrExamNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read exam head: %w", err)
	}
	return h.Version, nil
}

// GetExam returns the current full specification of an exam.
func (s *Service) GetExam(ctx context.Context, id string) (*model.ExamSpec, error) {
	v, err := s.CurrentVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.spec(ctx, id, v)
}

// spec loads one exam version. Versions are immutable, so they are cached.
func (s *Service) spec(ctx context.Context, id string, version int) (*model.ExamSpec, error) {
	key := versionKey(id, version, "spec")
	s.mu.RLock()
	cached := s.specs[key]
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	spec, err := kvstore.GetJSON[model.ExamSpec](ctx, s.kv, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s v%d", ErrExamNotFound, id, version)
	}
	if err != nil {
		return nil, fmt.Errorf("load exam %s v%d: %w", id, version, err)
	}
	s.mu.Lock()
	s.specs[key] = &spec
	s.mu.Unlock()
	return &spec, nil
}

func (s *Service) public(ctx context.Context, id string, version int) (*model.PublicSpec, error) {
	key := versionKey(id, version, "public")
	s.mu.RLock()
	cached := s.publics[key]
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	pub, err := kvstore.GetJSON[model.PublicSpec](ctx, s.kv, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s v%d", ErrExamNotFound, id, version)
	}
	if err != nil {
		return nil, fmt.Errorf("load public exam %s v%d: %w", id, version, err)
	}
	s.mu.Lock()
	s.publics[key] = &pub
	s.mu.Unlock()
	return &pub, nil
}
