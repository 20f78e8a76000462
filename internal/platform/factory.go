package platform

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/aretw0/pocket/pkg/adapters/blob"
	"github.com/aretw0/pocket/pkg/adapters/fs"
	"github.com/aretw0/pocket/pkg/core"
	"github.com/aretw0/pocket/pkg/git"
	"github.com/aretw0/pocket/pkg/pocket"
)

// memoryRoot is the base path of in-memory filesystems.
const memoryRoot = "/pocket"

// New opens a pocket stored in the directory at path, creating it if needed.
//
//	p, err := pocket.Open("./data", pocket.WithBackup(false))
func New(path string, opts ...Option) (*pocket.Pocket, error) {
	o := parseOptions(opts)

	if o.fs != nil {
		if (o.watch || o.versioning) && o.logger != nil {
			o.logger.Warn("watching and versioning need an OS directory, disabled for custom filesystem")
		}
		o.watch, o.versioning = false, false
		return build(o, o.fs, path, true)
	}

	devSafety := boolOr(o.devSafety, true)
	useTemp := o.forceTemp || (IsDevRun() && devSafety)
	resolved := ResolvePath(path, useTemp)
	if o.logger != nil {
		if useTemp {
			o.logger.Warn("running in SAFE MODE (Dev/Test)", "original_path", path, "resolved_path", resolved)
		} else if IsDevRun() {
			o.logger.Warn("running in UNSAFE mode (bypassing dev sandbox)", "path", resolved)
		}
	}

	abs, err := filepath.Abs(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", resolved, err)
	}
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(abs, 0755); err != nil {
		return nil, &core.PersistenceError{Op: "create directory", Path: abs, Err: err}
	}
	return build(o, afero.NewBasePathFs(osFs, abs), abs, true)
}

// NewMemory opens a pocket that lives in memory only.
func NewMemory(opts ...Option) (*pocket.Pocket, error) {
	o := parseOptions(opts)
	o.watch, o.versioning = false, false
	fsys := afero.NewBasePathFs(afero.NewMemMapFs(), memoryRoot)
	return build(o, fsys, "", false)
}

// build wires both stores over fsys into a pocket. root is empty for
// in-memory pockets.
func build(o *options, fsys afero.Fs, root string, backupDefault bool) (*pocket.Pocket, error) {
	fc, err := loadConfig(o, fsys)
	if err != nil {
		return nil, err
	}
	if fc != nil {
		if err := fc.apply(o); err != nil {
			return nil, err
		}
	}

	objects, err := fs.NewStore(fs.Config{
		Fs:            fsys,
		Root:          root,
		Logger:        o.logger,
		Backup:        boolOr(o.backup, backupDefault),
		MaxBackupSize: int64Or(o.maxBackupSize, fs.DefaultMaxBackupSize),
		Watch:         o.watch,
	})
	if err != nil {
		return nil, err
	}
	blobs, err := blob.NewStore(blob.Config{
		Fs:               fsys,
		MaxContainerSize: int64Or(o.maxContainerSize, blob.DefaultMaxContainerSize),
		Logger:           o.logger,
	})
	if err != nil {
		objects.Close()
		return nil, err
	}

	cfg := pocket.Config{
		Registry:       o.registry,
		Objects:        objects,
		Blobs:          blobs,
		Logger:         o.logger,
		Pretty:         boolOr(o.pretty, true),
		SerializeNulls: boolOr(o.serializeNulls, false),
		Filenames:      o.filenames,
		DecodeWorkers:  o.decodeWorkers,
	}

	if o.versioning {
		client := git.NewClient(root, o.logger)
		if err := client.Init(); err != nil {
			closeAll(objects, blobs)
			return nil, fmt.Errorf("failed to init versioning: %w", err)
		}
		cfg.Versioner = client
	}

	if o.metrics != nil {
		m, err := pocket.NewMetrics(o.metrics)
		if err != nil {
			closeAll(objects, blobs)
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		cfg.Metrics = m
	}

	p, err := pocket.New(cfg)
	if err != nil {
		closeAll(objects, blobs)
		return nil, err
	}
	if o.logger != nil {
		o.logger.Debug("pocket opened", "source", objects.Source(), "pretty", cfg.Pretty, "versioning", o.versioning)
	}
	return p, nil
}

// closeAll closes every store opened by a build that failed halfway.
func closeAll(closers ...io.Closer) error {
	var errs []error
	for _, c := range closers {
		if c != nil {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
