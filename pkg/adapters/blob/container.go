package blob

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

// container is an open zip archive with its entries keyed by name.
type container struct {
	file    afero.File
	zr      *zip.Reader
	entries map[string]*zip.File
	size    int64
}

func (c *container) read(key string) ([]byte, error) {
	f, ok := c.entries[key]
	if !ok {
		return nil, fmt.Errorf("entry %s missing", key)
	}
	return readAll(f)
}

// open returns the cached reader for name, opening it on first use.
func (s *Store) open(name string) (*container, error) {
	if c, ok := s.readers[name]; ok {
		return c, nil
	}
	f, err := s.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("invalid container: %w", err)
	}
	c := &container{
		file:    f,
		zr:      zr,
		entries: make(map[string]*zip.File, len(zr.File)),
		size:    info.Size(),
	}
	for _, zf := range zr.File {
		c.entries[zf.Name] = zf
	}
	s.readers[name] = c
	return c, nil
}

func (s *Store) drop(name string) error {
	c, ok := s.readers[name]
	if !ok {
		return nil
	}
	delete(s.readers, name)
	return c.file.Close()
}

func (s *Store) closeReaders() error {
	var errs []error
	for name := range s.readers {
		errs = append(errs, s.drop(name))
	}
	return errors.Join(errs...)
}

// rewrite produces a new version of the named container holding its current
// entries with changes applied, then swaps it in with a rename.
func (s *Store) rewrite(name string, changes map[string][]byte) (err error) {
	var existing *container
	if ok, _ := afero.Exists(s.fs, name); ok {
		if existing, err = s.open(name); err != nil {
			return err
		}
	}

	tmp, err := afero.TempFile(s.fs, ".", name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp container: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			s.fs.Remove(tmpName)
		}
	}()

	zw := zip.NewWriter(tmp)
	if existing != nil {
		for _, zf := range existing.zr.File {
			if _, replaced := changes[zf.Name]; replaced {
				continue
			}
			if err = zw.Copy(zf); err != nil {
				return fmt.Errorf("failed to copy entry %s: %w", zf.Name, err)
			}
		}
	}

	keys := make([]string, 0, len(changes))
	for key := range changes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	now := time.Now()
	for _, key := range keys {
		w, cerr := zw.CreateHeader(&zip.FileHeader{Name: key, Method: zip.Deflate, Modified: now})
		if cerr != nil {
			err = fmt.Errorf("failed to add entry %s: %w", key, cerr)
			return err
		}
		if _, err = w.Write(changes[key]); err != nil {
			return fmt.Errorf("failed to write entry %s: %w", key, err)
		}
	}

	if err = zw.Close(); err != nil {
		return fmt.Errorf("failed to finish container: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp container: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp container: %w", err)
	}

	// The old handle must be released before the rename on some platforms.
	if err = s.drop(name); err != nil {
		return fmt.Errorf("failed to release container: %w", err)
	}
	if err = s.fs.Rename(tmpName, name); err != nil {
		return fmt.Errorf("failed to rename temp container: %w", err)
	}
	return nil
}
