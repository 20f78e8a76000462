package blob

import (
	"context"
	"errors"
	"io/fs"

	"github.com/spf13/afero"

	"github.com/aretw0/pocket/pkg/core"
)

// Cleanup rebuilds the container set so it holds exactly the live blobs.
// Payloads are loaded up front, a fresh set is written into TmpDir, and then
// swapped in place of the old containers.
func (s *Store) Cleanup(ctx context.Context, live []*core.Blob) error {
	entries := make([]entry, 0, len(live))
	seen := make(map[string]bool, len(live))
	for _, b := range live {
		data, err := b.Bytes()
		if errors.Is(err, core.ErrBlobNotFound) {
			// Empty payloads are never written.
			continue
		}
		if err != nil {
			return &core.PersistenceError{Op: "cleanup blobs", Path: b.Key(), Err: err}
		}
		if len(data) == 0 || seen[b.Key()] {
			continue
		}
		seen[b.Key()] = true
		entries = append(entries, entry{key: b.Key(), data: data})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.RemoveAll(TmpDir); err != nil {
		return &core.PersistenceError{Op: "cleanup blobs", Path: TmpDir, Err: err}
	}
	if err := s.fs.MkdirAll(TmpDir, 0755); err != nil {
		return &core.PersistenceError{Op: "cleanup blobs", Path: TmpDir, Err: err}
	}
	defer s.fs.RemoveAll(TmpDir)

	fresh, err := NewStore(Config{
		Fs:               afero.NewBasePathFs(s.fs, TmpDir),
		MaxContainerSize: s.config.MaxContainerSize,
		Logger:           s.config.Logger,
	})
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		err = fresh.writeLocked(ctx, entries)
		fresh.closeReaders()
		if err != nil {
			return err
		}
	}

	s.closeReaders()
	s.reset()

	old, err := listContainers(s.fs)
	if err != nil {
		return err
	}
	var errs []error
	for _, name := range old {
		if err := s.fs.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return &core.PersistenceError{Op: "cleanup blobs", Err: err}
	}

	moved, err := listContainers(fresh.fs)
	if err != nil {
		return err
	}
	for _, name := range moved {
		if err := s.fs.Rename(TmpDir+"/"+name, name); err != nil {
			return &core.PersistenceError{Op: "cleanup blobs", Path: name, Err: err}
		}
	}

	if s.config.Logger != nil {
		s.config.Logger.Info("blob containers compacted",
			"removed", len(old), "written", len(moved), "blobs", len(entries))
	}
	for _, b := range live {
		b.MarkClean()
		b.Attach(s)
	}
	return s.ensureIndex()
}
