package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

const (
	// BackupDir holds the zip archives of previous bundles.
	BackupDir = "_backups"

	backupLayout = "2006_01_02_15_04_05"
	backupSuffix = ".zip"
)

// scheduleBackup snapshots the files of idx synchronously and archives them
// in the background. Must be called with s.mu held.
func (s *Store) scheduleBackup(ctx context.Context, idx *index) {
	snapshot := make(map[string][]byte)
	names := []string{IndexFile}
	for file := range idx.files() {
		names = append(names, file)
	}
	for _, name := range names {
		data, err := afero.ReadFile(s.fs, name)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) && s.config.Logger != nil {
				s.config.Logger.Warn("backup skipped unreadable file", "file", name, "error", err)
			}
			continue
		}
		snapshot[name] = data
	}
	if len(snapshot) == 0 {
		return
	}

	now := time.Now()
	s.backups.Add(1)
	lifecycle.Go(context.WithoutCancel(ctx), func(ctx context.Context) error {
		defer s.backups.Done()
		if err := s.writeBackup(snapshot, now); err != nil {
			if s.config.Logger != nil {
				s.config.Logger.Error("backup failed", "error", err)
			}
			return err
		}
		return nil
	}, lifecycle.WithErrorHandler(func(err error) {
		if s.config.Logger != nil {
			s.config.Logger.Error("backup panic", "error", err)
		}
	}))
}

// writeBackup zips files into _backups/<timestamp>.zip and prunes old archives.
func (s *Store) writeBackup(files map[string][]byte, now time.Time) error {
	s.backupMu.Lock()
	defer s.backupMu.Unlock()

	if err := s.fs.MkdirAll(BackupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup dir: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, BackupDir, TempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer s.fs.Remove(tmp.Name())

	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	zw := zip.NewWriter(tmp)
	for _, name := range names {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     filepath.ToSlash(name),
			Method:   zip.Deflate,
			Modified: now,
		})
		if err != nil {
			tmp.Close()
			return fmt.Errorf("failed to add %s to backup: %w", name, err)
		}
		if _, err := w.Write(files[name]); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to add %s to backup: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to finish backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close backup: %w", err)
	}

	target := filepath.Join(BackupDir, now.Format(backupLayout)+backupSuffix)
	if err := s.fs.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to move backup into place: %w", err)
	}

	s.mu.Lock()
	s.lastBackup = &now
	s.mu.Unlock()

	if s.config.Logger != nil {
		s.config.Logger.Debug("backup written", "archive", target, "files", len(names))
	}
	return s.pruneBackups()
}

// pruneBackups deletes the oldest archives while the directory exceeds
// MaxBackupSize. The newest archive is always kept.
func (s *Store) pruneBackups() error {
	archives, total, err := s.listBackups()
	if err != nil {
		return err
	}

	var errs []error
	for len(archives) > 1 && total > s.config.MaxBackupSize {
		oldest := archives[0]
		archives = archives[1:]
		if err := s.fs.Remove(filepath.Join(BackupDir, oldest.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		total -= oldest.Size()
		if s.config.Logger != nil {
			s.config.Logger.Debug("old backup pruned", "archive", oldest.Name())
		}
	}
	return errors.Join(errs...)
}

// listBackups returns the archives oldest first and their total size.
func (s *Store) listBackups() ([]fs.FileInfo, int64, error) {
	entries, err := afero.ReadDir(s.fs, BackupDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list backups: %w", err)
	}

	var archives []fs.FileInfo
	var total int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), backupSuffix) {
			continue
		}
		archives = append(archives, e)
		total += e.Size()
	}
	// Timestamped names sort chronologically.
	sort.Slice(archives, func(i, j int) bool { return archives[i].Name() < archives[j].Name() })
	return archives, total, nil
}

// WaitBackups blocks until every scheduled backup has finished.
func (s *Store) WaitBackups() {
	s.backups.Wait()
}
