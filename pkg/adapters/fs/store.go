// Package fs implements the object file store: one JSON array bundle per
// logical filename, plus a hidden index (.op_index) mapping type names to the
// bundles that hold them.
//
// The store works on any afero.Fs. Directory-backed stores use a BasePathFs
// over the OS filesystem; in-memory stores use a MemMapFs.
package fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/afero"

	"github.com/aretw0/pocket/pkg/codec"
	"github.com/aretw0/pocket/pkg/core"
)

// DefaultMaxBackupSize bounds the total size of the backup directory.
const DefaultMaxBackupSize int64 = 250 * units.MB

// Config holds the store settings.
type Config struct {
	// Fs is the filesystem rooted at the store directory.
	Fs afero.Fs
	// Root is the OS directory behind Fs. Empty for in-memory stores.
	Root   string
	Logger *slog.Logger

	// Backup archives the previous bundles before every write.
	Backup        bool
	MaxBackupSize int64

	// Watch notices edits of the index made by other processes.
	Watch bool
}

// Store is the afero-backed object store.
type Store struct {
	fs     afero.Fs
	config Config

	mu        sync.RWMutex
	index     *index
	loaded    bool
	lastIndex []byte

	modified      atomic.Bool
	watcherActive bool
	cancelWatch   context.CancelFunc

	backupMu   sync.Mutex
	backups    sync.WaitGroup
	lastBackup *time.Time
}

var _ core.ObjectStore = (*Store)(nil)
var _ core.ChangeTracker = (*Store)(nil)

// NewStore creates the store directory if needed and starts the index
// watcher when configured.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Fs == nil {
		return nil, errors.New("fs store requires a filesystem")
	}
	if cfg.MaxBackupSize <= 0 {
		cfg.MaxBackupSize = DefaultMaxBackupSize
	}
	if err := cfg.Fs.MkdirAll(".", 0755); err != nil {
		return nil, &core.PersistenceError{Op: "create", Path: cfg.Root, Err: err}
	}

	s := &Store{
		fs:     cfg.Fs,
		config: cfg,
		index:  newIndex(),
	}

	if cfg.Watch {
		if err := s.Watch(context.Background()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Source returns the store directory, or "memory".
func (s *Store) Source() string {
	if s.config.Root == "" {
		return "memory"
	}
	return s.config.Root
}

// Exists reports whether the index file is present.
func (s *Store) Exists() bool {
	ok, err := afero.Exists(s.fs, IndexFile)
	return err == nil && ok
}

// ExternallyModified reports whether another process rewrote the index since
// this store last read or wrote it.
func (s *Store) ExternallyModified() bool {
	return s.modified.Load()
}

// Types re-reads the index and returns its type names.
func (s *Store) Types(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, raw, err := readIndex(s.fs)
	if err != nil {
		return nil, &core.PersistenceError{Op: "read", Path: IndexFile, Err: err}
	}
	s.index, s.lastIndex, s.loaded = idx, raw, true
	s.modified.Store(false)

	return idx.typeNames(), nil
}

// Read returns every member tagged typeName in the files indexed for it.
func (s *Store) Read(ctx context.Context, typeName string) ([]core.Record, error) {
	files, err := s.filesFor(typeName)
	if err != nil {
		return nil, err
	}

	var records []core.Record
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := afero.ReadFile(s.fs, file)
		if errors.Is(err, fs.ErrNotExist) {
			if s.config.Logger != nil {
				s.config.Logger.Warn("indexed file missing, skipping", "file", file, "type", typeName)
			}
			continue
		}
		if err != nil {
			return nil, &core.PersistenceError{Op: "read", Path: file, Err: err}
		}

		members, err := codec.SplitBundle(data)
		if err != nil {
			return nil, &core.PersistenceError{Op: "decode", Path: file, Err: err}
		}

		filename := strings.TrimSuffix(file, JSONSuffix)
		for _, m := range members {
			class, err := codec.ClassOf(m)
			if err != nil {
				return nil, &core.PersistenceError{Op: "decode", Path: file, Err: err}
			}
			if class == typeName {
				records = append(records, core.Record{Filename: filename, Data: m})
			}
		}
	}
	return records, nil
}

func (s *Store) filesFor(typeName string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		idx, raw, err := readIndex(s.fs)
		if err != nil {
			return nil, &core.PersistenceError{Op: "read", Path: IndexFile, Err: err}
		}
		s.index, s.lastIndex, s.loaded = idx, raw, true
	}
	return append([]string(nil), s.index.Types[typeName]...), nil
}

// Write replaces the stored bundles. The index is rebuilt from scratch; files
// listed in the previous index but absent from bundles are deleted.
func (s *Store) Write(ctx context.Context, bundles core.Bundles) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.index
	if !s.loaded {
		idx, _, err := readIndex(s.fs)
		if err != nil {
			return &core.PersistenceError{Op: "read", Path: IndexFile, Err: err}
		}
		previous = idx
	}

	if s.config.Backup {
		s.scheduleBackup(ctx, previous)
	}

	next := newIndex()
	filenames := make([]string, 0, len(bundles))
	for name := range bundles {
		filenames = append(filenames, name)
	}
	sort.Strings(filenames)

	for _, name := range filenames {
		if err := ctx.Err(); err != nil {
			return err
		}
		file := name + JSONSuffix
		if dir := filepath.Dir(file); dir != "." {
			if err := s.fs.MkdirAll(dir, 0755); err != nil {
				return &core.PersistenceError{Op: "write", Path: dir, Err: err}
			}
		}
		if err := writeFileAtomic(s.fs, file, bundleBytes(bundles[name]), 0644); err != nil {
			return &core.PersistenceError{Op: "write", Path: file, Err: err}
		}
		for typeName := range bundles[name] {
			next.add(typeName, file)
		}
	}

	current := next.files()
	for file := range previous.files() {
		if current[file] {
			continue
		}
		if err := s.fs.Remove(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &core.PersistenceError{Op: "delete", Path: file, Err: err}
		}
		if s.config.Logger != nil {
			s.config.Logger.Debug("orphaned bundle removed", "file", file)
		}
	}

	raw, err := writeIndex(s.fs, next)
	if err != nil {
		return &core.PersistenceError{Op: "write", Path: IndexFile, Err: err}
	}
	s.index, s.lastIndex, s.loaded = next, raw, true

	if s.config.Logger != nil {
		s.config.Logger.Debug("bundles written", "files", len(filenames), "types", len(next.Types))
	}
	return nil
}

// bundleBytes wraps the members of one file in a JSON array, grouped by type.
func bundleBytes(byType map[string][][]byte) []byte {
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	var buf bytes.Buffer
	buf.WriteString("[")
	first := true
	for _, t := range types {
		for _, m := range byType[t] {
			if !first {
				buf.WriteString(",")
			}
			buf.WriteString("\n")
			buf.Write(m)
			first = false
		}
	}
	buf.WriteString("\n]\n")
	return buf.Bytes()
}

// Close stops the watcher and waits for pending backups.
func (s *Store) Close() error {
	s.mu.Lock()
	cancel := s.cancelWatch
	s.cancelWatch = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.backups.Wait()
	return nil
}

func (s *Store) String() string {
	return fmt.Sprintf("fs.Store(%s)", s.Source())
}
