// Package exam composes the parser, the assignment state machine and the
// grading engine into the operations the web layer and the CLI call.
//
// Exams are stored as immutable versions under exams/<id>/v<N>/ with a
// current pointer at exams/<id>/current. Assignments pin the version they
// were issued against.
package exam

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pavelanni/mdquiz/internal/assignment"
	"github.com/pavelanni/mdquiz/internal/grading"
	"github.com/pavelanni/mdquiz/internal/kvstore"
	"github.com/pavelanni/mdquiz/internal/model"
)

var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrUnknownCandidate = errors.New("unknown candidate")
	ErrUnknownQuestion  = errors.New("unknown question")
	ErrInvalidAnswer    = errors.New("invalid answer")
	ErrNotGraded        = errors.New("assignment not graded yet")
)

// Registry is the candidate identity collaborator. *store.Store
// implements it.
type Registry interface {
	CheckIdentity(ctx context.Context, ref, name, phone string) (bool, error)
	GetCandidate(ctx context.Context, ref string) (*model.Candidate, error)
	RecordResult(ctx context.Context, ref string, status model.Status, score *int) error
	SetShowScore(ctx context.Context, show bool) error
}

// Config holds issuance defaults and background work settings.
type Config struct {
	// DefaultDuration in seconds applies when an exam sets none. Zero
	// means unlimited.
	DefaultDuration int64
	// MinSubmitFloor is the least min-submit time, in seconds, of a timed
	// exam.
	MinSubmitFloor int64
	MaxAttempts    int
	ShowScore      bool
	Workers        int
	QueueSize      int
	SweepInterval  time.Duration
}

// DefaultConfig returns the settings used by the serve command.
func DefaultConfig() Config {
	return Config{
		DefaultDuration: assignment.DefaultDuration,
		MinSubmitFloor:  60,
		MaxAttempts:     assignment.DefaultMaxAttempts,
		Workers:         2,
		QueueSize:       256,
		SweepInterval:   15 * time.Second,
	}
}

// Service is the orchestrator. It is safe for concurrent use.
type Service struct {
	kv       kvstore.Store
	repo     *assignment.Repo
	engine   *grading.Engine
	registry Registry
	pool     *grading.Pool
	cfg      Config

	showScore atomic.Bool

	mu      sync.RWMutex
	specs   map[string]*model.ExamSpec
	publics map[string]*model.PublicSpec
}

// New wires a service. registry may be nil, in which case identity checks
// always fail and results are not recorded.
func New(kv kvstore.Store, registry Registry, engine *grading.Engine, cfg Config) *Service {
	s := &Service{
		kv:       kv,
		repo:     assignment.NewRepo(kv),
		engine:   engine,
		registry: registry,
		cfg:      cfg,
		specs:    map[string]*model.ExamSpec{},
		publics:  map[string]*model.PublicSpec{},
	}
	s.showScore.Store(cfg.ShowScore)
	s.pool = grading.NewPool(cfg.Workers, cfg.QueueSize, func(ctx context.Context, token string) error {
		// A started grading job runs to completion even during shutdown.
		return s.GradeNow(context.WithoutCancel(ctx), token)
	})
	s.repo.OnSubmit(func(a *model.Assignment) {
		s.schedule(a.Token)
	})
	return s
}

// Repo exposes the assignment repository, mainly for tests and the CLI.
func (s *Service) Repo() *assignment.Repo {
	return s.repo
}

// Now returns the service clock.
func (s *Service) Now() time.Time {
	return s.repo.Now()
}

// Start launches the grading workers and, when an interval is configured,
// the sweeper. Both stop when ctx is done.
func (s *Service) Start(ctx context.Context) {
	s.pool.Start(ctx)
	if s.cfg.SweepInterval > 0 {
		go s.RunSweeper(ctx, s.cfg.SweepInterval)
	}
}

// Stop waits for running grading jobs.
func (s *Service) Stop() {
	s.pool.Stop()
}

// ShowScore reports whether candidates may see their score.
func (s *Service) ShowScore() bool {
	return s.showScore.Load()
}

// SetShowScore changes and persists score visibility.
func (s *Service) SetShowScore(ctx context.Context, show bool) error {
	if s.registry != nil {
		if err := s.registry.SetShowScore(ctx, show); err != nil {
			return err
		}
	}
	s.showScore.Store(show)
	slog.Info("score visibility changed", "show_score", show)
	return nil
}

// schedule queues a grading job. A rejected job is retried by the sweeper.
func (s *Service) schedule(token string) bool {
	if s.pool.Enqueue(token) {
		slog.Debug("grading scheduled", "token", token)
		return true
	}
	return false
}
