package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/aretw0/pocket"
	"github.com/aretw0/pocket/pkg/adapters/blob"
	"github.com/aretw0/pocket/pkg/adapters/fs"
)

// resolveDir returns the --dir flag, or the nearest pocket above the
// working directory, or the working directory itself.
func resolveDir() (string, error) {
	if dir != "" {
		return filepath.Abs(dir)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if root, err := pocket.FindRoot(wd); err == nil {
		return root, nil
	}
	return wd, nil
}

// openStores opens both stores of an existing pocket directory.
func openStores() (*fs.Store, *blob.Store, error) {
	root, err := resolveDir()
	if err != nil {
		return nil, nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, err
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("%s is not a directory", root)
	}

	fsys := afero.NewBasePathFs(afero.NewOsFs(), root)
	objects, err := fs.NewStore(fs.Config{Fs: fsys, Root: root, Logger: slog.Default()})
	if err != nil {
		return nil, nil, err
	}
	blobs, err := blob.NewStore(blob.Config{Fs: fsys, Logger: slog.Default()})
	if err != nil {
		objects.Close()
		return nil, nil, err
	}
	return objects, blobs, nil
}
