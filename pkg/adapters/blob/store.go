// Package blob implements the blob container store. Payloads are packed into
// numbered zip archives (binary.0, binary.1, ...) next to the object bundles.
// A new container is started once appending a payload would push the current
// one past the size cap; a single payload larger than the cap still goes into
// one container.
//
// The key to container mapping is not persisted: it is rebuilt by scanning the
// containers on first use.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"

	"github.com/aretw0/pocket/pkg/core"
)

const (
	// ContainerPrefix names containers "<prefix>.<n>".
	ContainerPrefix = "binary"
	// TmpDir receives the fresh container set during Cleanup.
	TmpDir = ".tmp"
	// DefaultMaxContainerSize is the size cap of a single container.
	DefaultMaxContainerSize int64 = 51200000
)

// Config holds the store settings.
type Config struct {
	// Fs is rooted at the directory holding the containers.
	Fs               afero.Fs
	MaxContainerSize int64
	Logger           *slog.Logger
}

// Store is the zip container blob store.
type Store struct {
	fs     afero.Fs
	config Config

	mu          sync.Mutex
	index       map[string]string // blob key -> container name
	indexed     bool
	last        int // highest container number, -1 when none
	current     string
	currentSize int64
	readers     map[string]*container
}

var _ core.BlobStore = (*Store)(nil)

type entry struct {
	key  string
	data []byte
}

// NewStore creates a store; containers are scanned lazily.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Fs == nil {
		return nil, errors.New("blob store requires a filesystem")
	}
	if cfg.MaxContainerSize <= 0 {
		cfg.MaxContainerSize = DefaultMaxContainerSize
	}
	return &Store{
		fs:      cfg.Fs,
		config:  cfg,
		index:   make(map[string]string),
		last:    -1,
		readers: make(map[string]*container),
	}, nil
}

// Write stores the payload of every blob under its key. Keys already present
// are updated inside the container that holds them. Blobs with an empty
// payload are skipped.
func (s *Store) Write(ctx context.Context, blobs []*core.Blob) error {
	entries := make([]entry, 0, len(blobs))
	for _, b := range blobs {
		data, err := b.Bytes()
		if err != nil {
			return &core.PersistenceError{Op: "write blob", Path: b.Key(), Err: err}
		}
		if len(data) == 0 {
			continue
		}
		entries = append(entries, entry{key: b.Key(), data: data})
	}
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	err := s.writeLocked(ctx, entries)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	for _, b := range blobs {
		b.MarkClean()
		b.Attach(s)
	}
	return nil
}

func (s *Store) writeLocked(ctx context.Context, entries []entry) error {
	if err := s.ensureIndex(); err != nil {
		return err
	}

	pending := make(map[string]map[string][]byte)
	var order []string
	stage := func(name, key string, data []byte) {
		if pending[name] == nil {
			pending[name] = make(map[string][]byte)
			order = append(order, name)
		}
		pending[name][key] = data
	}

	for _, e := range entries {
		if name, ok := s.index[e.key]; ok {
			stage(name, e.key, e.data)
			continue
		}
		size := int64(len(e.data))
		if s.current == "" || (s.currentSize > 0 && s.currentSize+size > s.config.MaxContainerSize) {
			s.last++
			s.current = containerName(s.last)
			s.currentSize = 0
		}
		stage(s.current, e.key, e.data)
		s.index[e.key] = s.current
		s.currentSize += size
	}

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			s.indexed = false
			return err
		}
		if err := s.rewrite(name, pending[name]); err != nil {
			// The in-memory index may now point at entries that never landed.
			s.indexed = false
			return &core.PersistenceError{Op: "write blob", Path: name, Err: err}
		}
		if s.config.Logger != nil {
			s.config.Logger.Debug("blob container written", "container", name, "entries", len(pending[name]))
		}
	}
	return nil
}

// Read returns the payload stored under path.
func (s *Store) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path = strings.ReplaceAll(path, "\\", "/")

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureIndex(); err != nil {
		return nil, err
	}
	name, ok := s.index[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrBlobNotFound, path)
	}
	c, err := s.open(name)
	if err != nil {
		return nil, &core.PersistenceError{Op: "read blob", Path: name, Err: err}
	}
	data, err := c.read(path)
	if err != nil {
		return nil, &core.PersistenceError{Op: "read blob", Path: name + ":" + path, Err: err}
	}
	return data, nil
}

// Paths lists the stored keys matching a doublestar pattern ("**" for all),
// sorted.
func (s *Store) Paths(pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureIndex(); err != nil {
		return nil, err
	}
	var paths []string
	for key := range s.index {
		if ok, _ := doublestar.Match(pattern, key); ok {
			paths = append(paths, key)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Len returns the number of stored payloads.
func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureIndex(); err != nil {
		return 0, err
	}
	return len(s.index), nil
}

// Containers returns the container names, in numeric order.
func (s *Store) Containers() ([]string, error) {
	return listContainers(s.fs)
}

// Delete removes every container and clears the index.
func (s *Store) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeReaders()
	names, err := listContainers(s.fs)
	if err != nil {
		return err
	}
	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.fs.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, &core.PersistenceError{Op: "delete blob", Path: name, Err: err})
		}
	}
	s.reset()
	return errors.Join(errs...)
}

// Close releases cached container handles.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReaders()
}

// ensureIndex scans the containers once. Must be called with s.mu held.
func (s *Store) ensureIndex() error {
	if s.indexed {
		return nil
	}
	s.closeReaders()
	s.reset()

	names, err := listContainers(s.fs)
	if err != nil {
		return err
	}
	for _, name := range names {
		c, err := s.open(name)
		if err != nil {
			return &core.PersistenceError{Op: "scan blob container", Path: name, Err: err}
		}
		for key := range c.entries {
			s.index[key] = name
		}
		n, _ := containerNumber(name)
		s.last = n
		s.current = name
		s.currentSize = c.size
	}
	s.indexed = true

	if s.config.Logger != nil && len(names) > 0 {
		s.config.Logger.Debug("blob index rebuilt", "containers", len(names), "blobs", len(s.index))
	}
	return nil
}

func (s *Store) reset() {
	s.index = make(map[string]string)
	s.indexed = false
	s.last = -1
	s.current = ""
	s.currentSize = 0
}

func containerName(n int) string {
	return ContainerPrefix + "." + strconv.Itoa(n)
}

func containerNumber(name string) (int, bool) {
	suffix, ok := strings.CutPrefix(name, ContainerPrefix+".")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// listContainers returns the container files of fsys in numeric order.
func listContainers(fsys afero.Fs) ([]string, error) {
	infos, err := afero.ReadDir(fsys, ".")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &core.PersistenceError{Op: "list blob containers", Err: err}
	}

	type numbered struct {
		name string
		n    int
	}
	var found []numbered
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		if n, ok := containerNumber(info.Name()); ok {
			found = append(found, numbered{info.Name(), n})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	names := make([]string, len(found))
	for i, f := range found {
		names[i] = f.name
	}
	return names, nil
}

func readAll(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
