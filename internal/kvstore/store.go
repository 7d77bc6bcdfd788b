// Package kvstore is the persistence layer for exam and assignment documents.
//
// Documents are opaque JSON values addressed by slash-separated keys. Every
// read-modify-write goes through WithLock, which serializes writers per key
// while unrelated keys proceed in parallel.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNotFound is returned by Get when the key holds no document.
	ErrNotFound = errors.New("document not found")
	// ErrStorageBusy is returned when a key lock could not be acquired in time.
	ErrStorageBusy = errors.New("storage busy")
	// ErrStorageCorrupt is returned when a stored document is not valid JSON.
	ErrStorageCorrupt = errors.New("storage corrupt")
	// ErrInvalidKey is returned for keys outside the allowed alphabet.
	ErrInvalidKey = errors.New("invalid key")
)

// UpdateFunc receives the current document (nil if absent) and returns the
// document to persist. Returning nil bytes with a nil error leaves the stored
// document untouched; returning an error aborts without writing.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is the contract every persistence backend implements.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, doc []byte) error
	WithLock(ctx context.Context, key string, fn UpdateFunc) error
	Delete(ctx context.Context, key string) error
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

var keyRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]+(/[A-Za-z0-9_.-]+)*$`)

// ValidateKey rejects keys that could escape the store root.
func ValidateKey(key string) error {
	if !keyRegex.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// GetJSON reads key and decodes it into a value of type T.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, error) {
	var v T
	data, err := s.Get(ctx, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: decode %s: %v", ErrStorageCorrupt, key, err)
	}
	return v, nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

// UpdateJSON runs fn on the decoded document under the key lock and persists
// the result. exists reports whether the key held a document. fn may return
// ErrNoChange to skip the write.
func UpdateJSON[T any](ctx context.Context, s Store, key string, fn func(v *T, exists bool) error) error {
	return s.WithLock(ctx, key, func(current []byte) ([]byte, error) {
		var v T
		exists := current != nil
		if exists {
			if err := json.Unmarshal(current, &v); err != nil {
				return nil, fmt.Errorf("%w: decode %s: %v", ErrStorageCorrupt, key, err)
			}
		}
		if err := fn(&v, exists); err != nil {
			if errors.Is(err, ErrNoChange) {
				return nil, nil
			}
			return nil, err
		}
		data, err := json.Marshal(&v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		return data, nil
	})
}

// ErrNoChange lets an UpdateJSON callback succeed without writing.
var ErrNoChange = errors.New("no change")
