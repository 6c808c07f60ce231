/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package registry persists the device registry as a single document.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/kentakayama/zeus-over-http/internal/domain"
	"github.com/kentakayama/zeus-over-http/internal/domain/model"
	"github.com/kentakayama/zeus-over-http/internal/util"
)

const (
	backupSuffix = ".old"
	lockSuffix   = ".lock"
	lockRetry    = 20 * time.Millisecond
)

// ErrLockFailed reports that the registry lock could not be taken.
var ErrLockFailed = errors.New("registry lock failed")

// Store reads and writes the registry file as one unit.
//
// Load and Save do not lock by themselves. The delivery path reads through
// View; the importer holds Lock for the whole read-modify-write. Both also
// take an advisory lock on a sidecar file, so an import run from another
// process excludes the server the same way.
type Store struct {
	path  string
	codec Codec
	mu    sync.RWMutex

	file    *flock.Flock
	shared  sync.Mutex // guards readers and the shared file lock
	readers int
}

// NewStore creates a Store for the registry file at path.
func NewStore(path string) *Store {
	return &Store{
		path:  path,
		codec: CodecFor(path),
		file:  flock.New(path + lockSuffix),
	}
}

func (s *Store) Path() string { return s.path }

// Lock takes the registry exclusively, in this process and on disk. The
// registry directory is created if needed so the lock file has a home.
func (s *Store) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrLockFailed, err)
	}
	s.mu.Lock()
	ok, err := s.file.TryLockContext(ctx, lockRetry)
	if err != nil || !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrLockFailed, s.file.Path(), lockErr(ctx, err))
	}
	return nil
}

// Unlock releases what Lock took.
func (s *Store) Unlock() error {
	defer s.mu.Unlock()
	if err := s.file.Unlock(); err != nil {
		return fmt.Errorf("%w: release %s: %w", ErrLockFailed, s.file.Path(), err)
	}
	return nil
}

// rlock takes the registry for reading. Readers in this process share one
// file lock: the first one takes it and the last one releases it.
func (s *Store) rlock(ctx context.Context) error {
	s.mu.RLock()
	s.shared.Lock()
	defer s.shared.Unlock()
	if s.readers == 0 {
		ok, err := s.file.TryRLockContext(ctx, lockRetry)
		if err != nil || !ok {
			s.mu.RUnlock()
			return fmt.Errorf("%w: %s: %w", ErrLockFailed, s.file.Path(), lockErr(ctx, err))
		}
	}
	s.readers++
	return nil
}

func (s *Store) runlock() {
	s.shared.Lock()
	s.readers--
	if s.readers == 0 {
		// nothing to report to a reader that already has its answer
		_ = s.file.Unlock()
	}
	s.shared.Unlock()
	s.mu.RUnlock()
}

func lockErr(ctx context.Context, err error) error {
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.New("not acquired")
}

// View loads the registry under the read lock and hands it to fn.
// The lock is held until fn returns. A registry whose directory does not
// exist yet is reported like a missing file.
func (s *Store) View(ctx context.Context, fn func(model.Registry) error) error {
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRegistryUnreadable, err)
	}
	if err := s.rlock(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRegistryUnreadable, err)
	}
	defer s.runlock()

	reg, err := s.Load(ctx)
	if err != nil {
		return err
	}
	return fn(reg)
}

// Load reads and decodes the whole registry file.
// A missing file is reported as ErrRegistryUnreadable wrapping fs.ErrNotExist.
func (s *Store) Load(ctx context.Context) (model.Registry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRegistryUnreadable, err)
	}
	reg, err := s.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrRegistryUnreadable, s.path, err)
	}
	if reg == nil {
		reg = model.Registry{}
	}
	for name, rec := range reg {
		if rec == nil {
			return nil, fmt.Errorf("%w: device %q has no record", domain.ErrRegistryUnreadable, name)
		}
		for v, p := range rec.Payloads {
			if err := p.Validate(); err != nil {
				return nil, fmt.Errorf("%w: device %q version %s: %v", domain.ErrRegistryUnreadable, name, v, err)
			}
		}
	}
	return reg, nil
}

// Save replaces the registry file. The new content goes to a temporary
// file in the same directory which is then renamed over the live file, so
// a failure leaves the previous registry in place.
func (s *Store) Save(ctx context.Context, reg model.Registry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := s.codec.Encode(reg)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", domain.ErrRegistryWriteFailed, err)
	}

	dir, base := filepath.Split(s.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRegistryWriteFailed, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w", domain.ErrRegistryWriteFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w", domain.ErrRegistryWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRegistryWriteFailed, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRegistryWriteFailed, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRegistryWriteFailed, err)
	}
	committed = true
	return nil
}

// Backup is a copy of the registry file taken before a write.
type Backup struct {
	live    string
	path    string
	existed bool
}

// Backup copies the live registry file next to it. When there is no live
// file yet, restoring the backup removes whatever was written since.
func (s *Store) Backup() (*Backup, error) {
	b := &Backup{live: s.path, path: s.path + backupSuffix}
	err := util.CopyFile(s.path, b.path, 0o644)
	switch {
	case err == nil:
		b.existed = true
	case errors.Is(err, fs.ErrNotExist):
		if err := os.Remove(b.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove stale backup: %w", err)
		}
	default:
		return nil, fmt.Errorf("backup registry: %w", err)
	}
	return b, nil
}

// Restore puts the backed-up registry back in place.
func (b *Backup) Restore() error {
	if !b.existed {
		if err := os.Remove(b.live); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove registry: %w", err)
		}
		return nil
	}
	if err := util.CopyFile(b.path, b.live, 0o644); err != nil {
		return fmt.Errorf("restore registry: %w", err)
	}
	return nil
}

// Discard removes the backup copy after a successful write.
func (b *Backup) Discard() error {
	if !b.existed {
		return nil
	}
	if err := os.Remove(b.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
