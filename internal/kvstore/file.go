package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const docExt = ".json"

// FileStore keeps each document in its own file under a root directory.
// Writes go to a temp file in the same directory which is fsynced and then
// renamed over the target, so readers see either the old or the new document.
type FileStore struct {
	root        string
	locks       *lockTable
	lockTimeout time.Duration
}

// Option configures a FileStore or MemStore.
type Option func(*options)

type options struct {
	lockTimeout time.Duration
}

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{lockTimeout: DefaultLockTimeout}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// NewFileStore opens (creating if needed) a store rooted at dir.
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	o := buildOptions(opts)
	return &FileStore{root: abs, locks: newLockTable(), lockTimeout: o.lockTimeout}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key)+docExt)
}

// Get returns the document stored under key.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return s.read(key)
}

func (s *FileStore) read(key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if !json.Valid(data) {
		slog.Error("corrupt document", "key", key, "path", s.path(key))
		return nil, fmt.Errorf("%w: %s", ErrStorageCorrupt, key)
	}
	return data, nil
}

// Put replaces the document under key.
func (s *FileStore) Put(ctx context.Context, key string, doc []byte) error {
	return s.WithLock(ctx, key, func([]byte) ([]byte, error) {
		return doc, nil
	})
}

// WithLock runs fn with the current document under an exclusive key lock and
// atomically persists its result before releasing the lock.
func (s *FileStore) WithLock(ctx context.Context, key string, fn UpdateFunc) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	release, err := s.locks.acquire(ctx, key, s.lockTimeout)
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	defer release()

	current, err := s.read(key)
	if errors.Is(err, ErrNotFound) {
		current = nil
	} else if err != nil {
		return err
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
	return s.writeAtomic(key, next)
}

func (s *FileStore) writeAtomic(key string, data []byte) error {
	target := s.path(key)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp for %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp for %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", key, err)
	}
	syncDir(dir)
	return nil
}

// syncDir makes the rename durable. Some platforms refuse to fsync a
// directory; that is not fatal.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

// Delete removes the document under key. Deleting a missing key is not an error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	release, err := s.locks.acquire(ctx, key, s.lockTimeout)
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	defer release()

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// List walks the tree below prefix and returns document keys.
func (s *FileStore) List(_ context.Context, prefix string) ([]string, error) {
	prefix = strings.Trim(prefix, "/")
	start := s.root
	if prefix != "" {
		if err := ValidateKey(prefix); err != nil {
			return nil, err
		}
		start = filepath.Join(s.root, filepath.FromSlash(prefix))
	}

	var keys []string
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), docExt) || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, strings.TrimSuffix(filepath.ToSlash(rel), docExt))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}
