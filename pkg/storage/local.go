// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
)

const (
	runsSubdir   = "runs"
	lockFileName = ".lock"
	lockRetry    = 10 * time.Millisecond
)

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// LocalBackend stores one JSON file per run under <workspace>/runs.
// Writes hold an exclusive file lock so a CLI run and a server sharing a
// workspace do not interleave.
type LocalBackend struct {
	root   string
	dir    string
	mu     sync.Mutex
	lock   *flock.Flock
	closed atomic.Bool
	runs   *localRunStore
}

// NewLocalBackend creates a file-based backend. Call Initialize before use.
func NewLocalBackend(_ context.Context, cfg *Config) (*LocalBackend, error) {
	if cfg == nil {
		return nil, NewInvalidInputError("config", "storage config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dir := filepath.Join(cfg.WorkspaceRoot, runsSubdir)
	b := &LocalBackend{
		root: cfg.WorkspaceRoot,
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFileName)),
	}
	b.runs = &localRunStore{backend: b, now: time.Now}
	return b, nil
}

// Initialize creates the runs directory.
func (b *LocalBackend) Initialize(_ context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := os.MkdirAll(b.dir, 0o750); err != nil {
		return fmt.Errorf("create runs directory: %w", err)
	}
	return nil
}

// Runs returns the run store.
func (b *LocalBackend) Runs() RunStore { return b.runs }

// Root returns the workspace root.
func (b *LocalBackend) Root() string { return b.root }

// Close releases the backend. It is idempotent.
func (b *LocalBackend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lock.Close()
}

// withLock serializes access in-process and across processes.
func (b *LocalBackend) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = b.lock.TryLockContext(ctx, lockRetry)
	} else {
		ok, err = b.lock.TryRLockContext(ctx, lockRetry)
	}
	if err != nil {
		return fmt.Errorf("lock run store: %w", err)
	}
	if !ok {
		return fmt.Errorf("lock run store: not acquired")
	}
	defer func() { _ = b.lock.Unlock() }()

	return fn()
}

func (b *LocalBackend) path(id string) string {
	return filepath.Join(b.dir, id+".json")
}

type localRunStore struct {
	backend *LocalBackend
	now     func() time.Time
}

func validateID(id string) error {
	if !validID.MatchString(id) {
		return NewInvalidInputError("id", fmt.Sprintf("invalid run id %q", id))
	}
	return nil
}

func (s *localRunStore) Create(ctx context.Context, r *RunRecord) error {
	if r == nil {
		return NewInvalidInputError("run", "record is required")
	}
	if err := validateID(r.ID); err != nil {
		return err
	}
	if r.Target == "" {
		return NewInvalidInputError("target", "target is required")
	}
	if r.Status == "" {
		r.Status = RunPending
	}
	if !r.Status.IsValid() {
		return NewInvalidInputError("status", fmt.Sprintf("unknown status %q", r.Status))
	}

	now := s.now().UTC()
	if r.StartedAt.IsZero() {
		r.StartedAt = now
	}
	r.UpdatedAt = now

	return s.backend.withLock(ctx, true, func() error {
		path := s.backend.path(r.ID)
		if _, err := os.Stat(path); err == nil {
			return NewAlreadyExistsError("run", r.ID)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat run %s: %w", r.ID, err)
		}
		return writeRecord(path, r)
	})
}

func (s *localRunStore) Update(ctx context.Context, id string, fn UpdateFunc) (*RunRecord, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	var out *RunRecord
	err := s.backend.withLock(ctx, true, func() error {
		path := s.backend.path(id)
		r, err := readRecord(path, id)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
		if r.ID != id {
			return NewInvalidInputError("id", "run id cannot change")
		}
		if !r.Status.IsValid() {
			return NewInvalidInputError("status", fmt.Sprintf("unknown status %q", r.Status))
		}
		r.UpdatedAt = s.now().UTC()
		if err := writeRecord(path, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func (s *localRunStore) Get(ctx context.Context, id string) (*RunRecord, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	var out *RunRecord
	err := s.backend.withLock(ctx, false, func() error {
		r, err := readRecord(s.backend.path(id), id)
		out = r
		return err
	})
	return out, err
}

func (s *localRunStore) List(ctx context.Context, filter RunFilter) (*ListResult, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, NewInvalidInputError("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	if filter.Limit < 0 || filter.Limit > MaxListLimit {
		return nil, NewInvalidInputError("limit", fmt.Sprintf("must be between 0 and %d", MaxListLimit))
	}
	limit := filter.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}
	cursor, err := DecodeCursor(filter.Cursor)
	if err != nil {
		return nil, NewInvalidInputError("cursor", err.Error())
	}

	var all []RunRecord
	err = s.backend.withLock(ctx, false, func() error {
		entries, err := os.ReadDir(s.backend.dir)
		if err != nil {
			return fmt.Errorf("read runs directory: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			id := strings.TrimSuffix(e.Name(), ".json")
			r, err := readRecord(filepath.Join(s.backend.dir, e.Name()), id)
			if err != nil {
				log.Warn().Err(err).Str("file", e.Name()).Msg("Skipping unreadable run record")
				continue
			}
			if filter.Status != "" && r.Status != filter.Status {
				continue
			}
			if filter.Target != "" && r.Target != filter.Target {
				continue
			}
			all = append(all, *r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].StartedAt.Equal(all[j].StartedAt) {
			return all[i].StartedAt.After(all[j].StartedAt)
		}
		return all[i].ID < all[j].ID
	})

	start := 0
	if cursor != nil {
		start = len(all)
		for i, r := range all {
			ts := r.StartedAt.UnixNano()
			if ts < cursor.LastTime || (ts == cursor.LastTime && r.ID > cursor.LastRunID) {
				start = i
				break
			}
		}
	}

	end := start + limit
	if end > len(all) {
		end = len(all)
	}

	res := &ListResult{Runs: all[start:end], Total: len(all)}
	if end < len(all) && end > start {
		last := all[end-1]
		res.NextCursor = EncodeCursor(&Cursor{LastRunID: last.ID, LastTime: last.StartedAt.UnixNano()})
	}
	return res, nil
}

func readRecord(path, id string) (*RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewNotFoundError("run", id)
		}
		return nil, fmt.Errorf("read run %s: %w", id, err)
	}
	var r RunRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &r, nil
}

// writeRecord replaces the file atomically via a temp file and rename.
func writeRecord(path string, r *RunRecord) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run %s: %w", r.ID, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+r.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write run %s: %w", r.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close run %s: %w", r.ID, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename run %s: %w", r.ID, err)
	}
	return nil
}
