package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-memory Store with the same locking semantics as
// FileStore. It backs tests and the lint command.
type MemStore struct {
	mu          sync.RWMutex
	docs        map[string][]byte
	locks       *lockTable
	lockTimeout time.Duration
}

// NewMemStore returns an empty MemStore.
func NewMemStore(opts ...Option) *MemStore {
	o := buildOptions(opts)
	return &MemStore{
		docs:        make(map[string][]byte),
		locks:       newLockTable(),
		lockTimeout: o.lockTimeout,
	}
}

func (s *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemStore) Put(ctx context.Context, key string, doc []byte) error {
	return s.WithLock(ctx, key, func([]byte) ([]byte, error) {
		return doc, nil
	})
}

func (s *MemStore) WithLock(ctx context.Context, key string, fn UpdateFunc) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	release, err := s.locks.acquire(ctx, key, s.lockTimeout)
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	defer release()

	s.mu.RLock()
	current, ok := s.docs[key]
	s.mu.RUnlock()
	if ok {
		current = append([]byte(nil), current...)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	if !json.Valid(next) {
		return fmt.Errorf("write %s: document is not valid JSON", key)
	}

	s.mu.Lock()
	s.docs[key] = append([]byte(nil), next...)
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Delete(ctx context.Context, key string) error {
	return s.WithLock(ctx, key, func([]byte) ([]byte, error) {
		s.mu.Lock()
		delete(s.docs, key)
		s.mu.Unlock()
		return nil, nil
	})
}

func (s *MemStore) List(_ context.Context, prefix string) ([]string, error) {
	prefix = strings.Trim(prefix, "/")
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.docs {
		if prefix == "" || k == prefix || strings.HasPrefix(k, prefix+"/") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
