// Package jsonstore is the embedded flat-file backend: the whole dataset is
// one JSON document on disk.
//
// A mutex serialises access inside the process. Every read reloads the file
// so changes written by a cooperating process are seen; every write reloads,
// mutates, persists through a temp file and rename, and only then replaces
// the in-memory copy. Two processes writing the same file still race with
// last-writer-wins semantics, so this backend suits development and small
// single-writer deployments.
package jsonstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophid/internal/common"
	"github.com/dmitrijs2005/gophid/internal/logging"
)

// Store is the flat-file backend.
type Store struct {
	mu     sync.Mutex
	path   string
	db     *document
	closed bool
	now    func() time.Time
	logger logging.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open loads the file at path. A missing file is an empty database.
func Open(ctx context.Context, path string, logger logging.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Store{
		path:   path,
		now:    time.Now,
		logger: logger.With("module", "jsonstore"),
	}
	for _, o := range opts {
		o(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%w: create store dir: %v", common.ErrBackendUnavailable, err)
	}

	d, err := s.load()
	if err != nil {
		return nil, err
	}
	s.db = d
	s.logger.Debug(ctx, "json store opened", "path", path)
	return s, nil
}

// Close marks the store unusable. Nothing is flushed: every write was already
// persisted, and flushing here could clobber another process's changes.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// CloseAndRemove closes the store and deletes its file.
func (s *Store) CloseAndRemove(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %v", common.ErrBackendUnavailable, s.path, err)
	}
	return nil
}

// Snapshot returns the current file contents, for backups.
func (s *Store) Snapshot(ctx context.Context) ([]byte, error) {
	var out []byte
	err := s.read(ctx, func(d *document) error {
		b, err := json.Marshal(d)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

func (s *Store) load() (*document, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return newDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", common.ErrBackendUnavailable, s.path, err)
	}
	d := &document{}
	if err := json.Unmarshal(b, d); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", common.ErrBackendUnavailable, s.path, err)
	}
	d.normalize()
	return d, nil
}

func (s *Store) persist(d *document) error {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", common.ErrBackendUnavailable, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", common.ErrBackendUnavailable, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write: %v", common.ErrBackendUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync: %v", common.ErrBackendUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", common.ErrBackendUnavailable, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("%w: chmod: %v", common.ErrBackendUnavailable, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: rename: %v", common.ErrBackendUnavailable, err)
	}
	return nil
}

func (s *Store) ready(ctx context.Context) error {
	if s.closed {
		return fmt.Errorf("%w: json store is closed", common.ErrNotReady)
	}
	return ctx.Err()
}

// read runs fn against a freshly loaded document.
func (s *Store) read(ctx context.Context, fn func(d *document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(ctx); err != nil {
		return err
	}
	d, err := s.load()
	if err != nil {
		s.logger.Warn(ctx, "unexpected store failure", "error", err)
		return err
	}
	s.db = d
	return fn(d)
}

// write runs fn against a freshly loaded document and persists the result.
// When fn fails or the file cannot be written nothing changes.
func (s *Store) write(ctx context.Context, fn func(d *document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(ctx); err != nil {
		return err
	}
	d, err := s.load()
	if err != nil {
		s.logger.Warn(ctx, "unexpected store failure", "error", err)
		return err
	}
	if err := fn(d); err != nil {
		return err
	}
	if err := s.persist(d); err != nil {
		s.logger.Warn(ctx, "unexpected store failure", "error", err)
		return err
	}
	s.db = d
	return nil
}

func (s *Store) nowMillis() int64 {
	return s.now().UTC().UnixMilli()
}
