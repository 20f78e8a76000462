package fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/aretw0/lifecycle"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// Watch starts watching the index for edits made outside this store.
// It requires a directory-backed store and stops when ctx is done or the
// store is closed.
func (s *Store) Watch(ctx context.Context) error {
	if s.config.Root == "" {
		return errors.New("watching requires a directory-backed store")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.config.Root); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.config.Root, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancelWatch != nil {
		s.cancelWatch()
	}
	s.cancelWatch = cancel
	s.watcherActive = true
	s.mu.Unlock()

	lifecycle.Go(runCtx, func(ctx context.Context) error {
		return s.watchLoop(ctx, watcher)
	}, lifecycle.WithErrorHandler(func(err error) {
		if s.config.Logger != nil {
			s.config.Logger.Error("watcher panic", "error", err)
		}
	}))
	return nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) error {
	defer s.setWatcherActive(false)
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Base(event.Name) != IndexFile {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
				continue
			}
			s.checkIndex()

		case err, ok := <-watcher.Errors:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			if s.config.Logger != nil {
				s.config.Logger.Error("fsnotify error", "error", err)
			}
		}
	}
}

// checkIndex compares the index on disk with the last content this store
// read or wrote. Holding the read lock keeps our own writes from showing up
// as external edits.
func (s *Store) checkIndex() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := afero.ReadFile(s.fs, IndexFile)
	if err != nil {
		data = nil
	}
	if bytes.Equal(data, s.lastIndex) {
		return
	}
	if !s.modified.Swap(true) && s.config.Logger != nil {
		s.config.Logger.Info("index changed outside this process", "path", s.Source())
	}
}

func (s *Store) setWatcherActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watcherActive = active
}
